package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var queryK int

var queryCmd = &cobra.Command{
	Use:   "query <document-id> <question>",
	Short: "Ask a question about an indexed document",
	Long: `Query retrieves the most relevant passages of a previously indexed
document and answers the question with the configured LLM backends.
The document must have been processed with --keep-index.

Example:
  labsubmitd query submission.txt-1a2b3c4d "who submitted these samples?"`,
	Args: cobra.ExactArgs(2),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&queryK, "k", 0, "number of passages to retrieve (default from config)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	answer, err := a.orchestrator.Query(ctx, args[0], args[1], queryK)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}
