// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/evidence-engine/internal/convert"
	"github.com/pdiddy/evidence-engine/internal/extract"
	"github.com/pdiddy/evidence-engine/internal/lookup"
	"github.com/pdiddy/evidence-engine/internal/pipeline"
	"github.com/pdiddy/evidence-engine/internal/verify"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

const (
	defaultDriverModel   = "gpt-5.2"
	defaultVerifierModel = "gemini-3-pro-preview"
	defaultTimeout       = 120 * time.Second
	defaultUserAgent     = "evidence-engine/0.1"
)

var runCmd = &cobra.Command{
	Use:   "run [pdfs...]",
	Short: "Extract, verify, and reconcile study facts from PDFs",
	Long: `Run processes a batch of clinical study PDFs: each PDF is converted to
text, the driver model proposes field values with evidence, the verifier
model reviews every claim, and the merge ledger reconciles the two.
Finalized records are written to the extraction workbook, the results
database, and the Markdown review log.

Documents that fail are reported and skipped; the batch continues.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().String("model", "", "driver model for extraction (default "+defaultDriverModel+")")
	runCmd.Flags().String("verifier-model", "", "verifier model for review (default "+defaultVerifierModel+")")
	runCmd.Flags().String("template", "", "extraction sheet template workbook (optional)")
	runCmd.Flags().String("out", "", "filled workbook output path (default extraction.xlsx)")
	runCmd.Flags().String("report", "", "Markdown human-review log path (default review.md)")
	runCmd.Flags().String("store-dir", "", "directory for the results database and exports (default results)")
	runCmd.Flags().Int("max-view-chars", 0, "document view size limit sent to the models (default 60000)")
	runCmd.Flags().Int("chunk-size", 0, "decisions per verification chunk (default 24)")
	runCmd.Flags().Int("concurrency", 0, "documents processed in parallel (default 2)")
	runCmd.Flags().Int("rpm", 0, "model requests per minute across the batch (default 30)")
	runCmd.Flags().Bool("lookup", false, "resolve missing PMIDs through NCBI E-utilities")
	runCmd.Flags().String("email", "", "contact email for NCBI requests")
	runCmd.Flags().Duration("timeout", 0, "model API request timeout (default 120s)")

	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("provide one or more PDF paths")
	}

	cfg := pipelineConfigFromFlags(cmd)

	openaiKey := secretDefault("openai-api-key", viper.GetString("extraction.api_key"))
	if openaiKey == "" {
		return fmt.Errorf("no OpenAI API key: add .secrets/openai-api-key or set extraction.api_key")
	}
	geminiKey := secretDefault("gemini-api-key", viper.GetString("verification.api_key"))
	if geminiKey == "" {
		return fmt.Errorf("no Gemini API key: add .secrets/gemini-api-key or set verification.api_key")
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout == 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	driver := extract.NewOpenAIDriver(openaiKey, cfg.Extraction.Model)
	reviewer := &verify.GeminiReviewer{
		APIKey: geminiKey,
		Model:  cfg.Verification.Model,
		Client: httpClient,
	}

	var lk pipeline.IdentifierLookup
	if cfg.Lookup.Enabled {
		lk = &lookup.Client{
			HTTP:  &http.Client{Timeout: cfg.Lookup.Timeout},
			Email: cfg.Lookup.Email,
		}
	}

	sink, err := pipeline.NewOutputSink(cfg.Output)
	if err != nil {
		return err
	}

	p := pipeline.New(convert.NewPdftotextConverter(), driver, reviewer, lk, cfg)
	summary, err := p.Run(context.Background(), args, sink, os.Stdout)
	if closeErr := sink.Close(context.Background()); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if summary.HasFailures() {
		return fmt.Errorf("%d document(s) failed processing", summary.Failed)
	}
	return nil
}

// pipelineConfigFromFlags merges flag values over the config file, with
// built-in defaults last.
func pipelineConfigFromFlags(cmd *cobra.Command) types.PipelineConfig {
	stringOpt := func(flag, key, fallback string) string {
		v, _ := cmd.Flags().GetString(flag)
		if v == "" {
			v = viper.GetString(key)
		}
		if v == "" {
			v = fallback
		}
		return v
	}
	intOpt := func(flag, key string) int {
		v, _ := cmd.Flags().GetInt(flag)
		if v == 0 {
			v = viper.GetInt(key)
		}
		return v
	}

	var cfg types.PipelineConfig

	cfg.Extraction.Model = stringOpt("model", "extraction.model", defaultDriverModel)
	cfg.Extraction.MaxRetries = viper.GetInt("extraction.max_retries")
	cfg.Extraction.MaxViewChars = intOpt("max-view-chars", "extraction.max_view_chars")

	cfg.Verification.Model = stringOpt("verifier-model", "verification.model", defaultVerifierModel)
	cfg.Verification.MaxRetries = viper.GetInt("verification.max_retries")
	cfg.Verification.ChunkSize = intOpt("chunk-size", "verification.chunk_size")
	cfg.Verification.ChunkEvidenceBytes = viper.GetInt("verification.chunk_evidence_bytes")

	enabled, _ := cmd.Flags().GetBool("lookup")
	cfg.Lookup.Enabled = enabled || viper.GetBool("lookup.enabled")
	cfg.Lookup.Email = stringOpt("email", "lookup.email", secretDefault("ncbi-email", ""))
	cfg.Lookup.Timeout = 30 * time.Second
	cfg.Lookup.UserAgent = defaultUserAgent

	cfg.Output.TemplateXLSX = stringOpt("template", "output.template_xlsx", "")
	cfg.Output.OutXLSX = stringOpt("out", "output.out_xlsx", "extraction.xlsx")
	cfg.Output.ReportPath = stringOpt("report", "output.report_path", "review.md")
	cfg.Output.StoreDir = stringOpt("store-dir", "output.store_dir", "results")

	cfg.MaxConcurrentDocuments = intOpt("concurrency", "max_concurrent_documents")
	cfg.ModelRequestsPerMinute = intOpt("rpm", "model_requests_per_minute")

	return cfg
}
