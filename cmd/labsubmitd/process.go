package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/labsubmitd/internal/submission"
)

var (
	processKeepIndex bool
	processNoStore   bool
)

var processCmd = &cobra.Command{
	Use:   "process <file>...",
	Short: "Extract submission metadata from one or more documents",
	Long: `Process runs the extraction pipeline on each document and prints the
results as JSON. Multiple documents are processed concurrently; one
document failing never aborts the others.

Examples:
  labsubmitd process submission.txt
  labsubmitd process --keep-index a.md b.md c.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().BoolVar(&processKeepIndex, "keep-index", false, "keep documents indexed after processing for later queries")
	processCmd.Flags().BoolVar(&processNoStore, "no-store", false, "do not persist results to the store")
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	docs, err := loadDocuments(ctx, args)
	if err != nil {
		return err
	}

	specs := submission.DefaultFieldSpecs()
	results := a.orchestrator.ProcessBatch(ctx, docs, specs, a.cfg.Pipeline.BatchConcurrency)

	failed := 0
	for _, result := range results {
		if result.Status == submission.StatusFailed {
			failed++
		}
		if !processNoStore {
			if _, _, err := a.store.Save(ctx, result); err != nil {
				a.logger.Error("storing result", zap.String("document_id", result.DocumentID), zap.Error(err))
			}
		}
		if !processKeepIndex {
			if _, err := a.orchestrator.Delete(ctx, result.DocumentID); err != nil {
				a.logger.Warn("removing document index", zap.String("document_id", result.DocumentID), zap.Error(err))
			}
		}
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	fmt.Println(string(out))

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(results))
	}
	return nil
}

// loadDocuments reads each file and extracts its text. The document ID
// is derived from the file name plus a short random suffix so repeated
// runs over the same file do not collide in the index.
func loadDocuments(ctx context.Context, paths []string) ([]submission.Document, error) {
	extractor := submission.NewPlainTextExtractor()
	docs := make([]submission.Document, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "text/plain"
		}
		text, pages, err := extractor.Extract(ctx, data, mimeType)
		if err != nil {
			return nil, fmt.Errorf("extracting text from %s: %w", path, err)
		}

		base := filepath.Base(path)
		docs = append(docs, submission.Document{
			ID:    fmt.Sprintf("%s-%s", base, uuid.NewString()[:8]),
			Text:  text,
			Pages: pages,
		})
	}
	return docs, nil
}
