// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/evidence-engine/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Inspect and export stored extraction results",
	Long: `Results reads the results database written by run. Use subcommands to
list processed documents, show one document's record and audit trail, or
export the whole database.`,
}

// --- list subcommand ---

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List processed documents with their review status",
	RunE:  runResultsList,
}

func runResultsList(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	summaries, err := st.List(context.Background())
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	if len(summaries) == 0 {
		fmt.Println("No documents stored.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-12s  %-18s  %-7s  %-8s  %-8s  %s\n",
		"ID", "Category", "Review", "Warnings", "Disputed", "Processed")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 80))
	for _, s := range summaries {
		review := "no"
		if s.NeedsReview {
			review = "YES"
		}
		fmt.Fprintf(os.Stdout, "%-12s  %-18s  %-7s  %-8d  %-8d  %s\n",
			s.ID, s.Category, review, s.Warnings, s.Disputed,
			s.ProcessedAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(os.Stdout, "\n%d documents\n", len(summaries))
	return nil
}

// --- show subcommand ---

var resultsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one document's record, warnings, and audit trail",
	RunE:  runResultsShow,
}

func runResultsShow(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("provide exactly one document ID")
	}

	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := st.Get(context.Background(), args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// --- export subcommand ---

var resultsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the results database to YAML or JSON",
	RunE:  runResultsExport,
}

func runResultsExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	storeDir, _ := cmd.Flags().GetString("store-dir")

	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	switch format {
	case "yaml", "":
		if err := st.ExportYAML(context.Background()); err != nil {
			return err
		}
		fmt.Printf("Exported to %s/export.yaml\n", storeDir)
	case "json":
		if err := st.ExportJSON(context.Background()); err != nil {
			return err
		}
		fmt.Printf("Exported to %s/export.json\n", storeDir)
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}
	return nil
}

// --- shared helpers ---

func openStore(cmd *cobra.Command) (*store.Store, error) {
	storeDir, _ := cmd.Flags().GetString("store-dir")
	if storeDir == "" {
		storeDir = "results"
	}
	return store.NewStore(storeDir)
}

func init() {
	resultsCmd.PersistentFlags().String("store-dir", "results", "directory holding the results database")

	resultsListCmd.Flags().Bool("json", false, "output summaries as JSON")
	resultsExportCmd.Flags().String("format", "yaml", "export format: yaml or json")

	resultsCmd.AddCommand(resultsListCmd)
	resultsCmd.AddCommand(resultsShowCmd)
	resultsCmd.AddCommand(resultsExportCmd)

	rootCmd.AddCommand(resultsCmd)
}
