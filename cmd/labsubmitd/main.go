// Package main implements the labsubmitd CLI: it extracts structured
// laboratory submission metadata from documents through the retrieval
// pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the optional YAML config file.
	configPath string
	// version information, set at build time.
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "labsubmitd",
	Short: "Extract laboratory submission metadata from documents",
	Long: `labsubmitd chunks submission documents, indexes them in an embedded
vector store, retrieves the most relevant passages per metadata field,
and extracts structured values with an LLM backend chain.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
}
