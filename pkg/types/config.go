// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "evidence-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// AIConfig holds shared settings for stages that call a generative model API.
type AIConfig struct {
	// Model is the model identifier.
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxRetries is the number of retry attempts for failed API calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// ExtractionConfig holds settings for the driver extraction stage.
// Per prd006-extraction R4.1-R4.4.
type ExtractionConfig struct {
	AIConfig `yaml:",inline"`

	// MaxViewChars bounds the document view sent to the model (default 60000).
	MaxViewChars int `json:"max_view_chars" yaml:"max_view_chars"`
}

// VerificationConfig holds settings for the verification stage.
// Per prd003-verification R2.2-R2.4, R4.1.
type VerificationConfig struct {
	AIConfig `yaml:",inline"`

	// ChunkSize is the maximum number of Decisions per review chunk (default 24).
	ChunkSize int `json:"chunk_size" yaml:"chunk_size"`

	// ChunkEvidenceBytes bounds the combined evidence length of one chunk
	// (default 16384). Whichever bound trips first closes the chunk.
	ChunkEvidenceBytes int `json:"chunk_evidence_bytes" yaml:"chunk_evidence_bytes"`
}

// LookupConfig holds settings for the external identifier lookup stage.
type LookupConfig struct {
	HTTPConfig `yaml:",inline"`

	// Email is sent to the NCBI E-utilities API as required by its usage policy.
	Email string `json:"email,omitempty" yaml:"email,omitempty"`

	// Enabled controls whether documents without an extracted identifier
	// are looked up externally.
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// OutputConfig holds settings for the serialization stage.
type OutputConfig struct {
	// TemplateXLSX is the extraction sheet template workbook.
	TemplateXLSX string `json:"template_xlsx" yaml:"template_xlsx"`

	// OutXLSX is the filled workbook path.
	OutXLSX string `json:"out_xlsx" yaml:"out_xlsx"`

	// ReportPath is the Markdown human-review log path.
	ReportPath string `json:"report_path" yaml:"report_path"`

	// StoreDir is the directory holding the results database and exports.
	StoreDir string `json:"store_dir" yaml:"store_dir"`
}

// PipelineConfig groups all stage configurations.
type PipelineConfig struct {
	Extraction   ExtractionConfig   `json:"extraction" yaml:"extraction"`
	Verification VerificationConfig `json:"verification" yaml:"verification"`
	Lookup       LookupConfig       `json:"lookup" yaml:"lookup"`
	Output       OutputConfig       `json:"output" yaml:"output"`

	// MaxConcurrentDocuments bounds cross-document parallelism (default 2).
	MaxConcurrentDocuments int `json:"max_concurrent_documents" yaml:"max_concurrent_documents"`

	// ModelRequestsPerMinute is the process-wide rate limit shared by all
	// model calls, extraction and verification alike (default 30).
	ModelRequestsPerMinute int `json:"model_requests_per_minute" yaml:"model_requests_per_minute"`
}
