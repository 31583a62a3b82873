package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>...",
	Short: "Remove indexed documents from the vector store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	for _, documentID := range args {
		removed, err := a.orchestrator.Delete(ctx, documentID)
		if err != nil {
			return fmt.Errorf("deleting %s: %w", documentID, err)
		}
		fmt.Printf("%s: %d entries removed\n", documentID, removed)
	}
	return nil
}
