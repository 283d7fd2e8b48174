// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert implements PDF-to-text conversion with pluggable backends.
// Implements: prd006-extraction (R1.1); docs/ARCHITECTURE § Conversion.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Converter transforms a PDF file into plain text. Different backends
// (pdftotext, GROBID) implement this interface.
type Converter interface {
	Convert(ctx context.Context, pdfPath string) (string, error)
}

// Runner executes an external command, capturing stdout. Injected so
// tests can fake the pdftotext binary.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdout io.Writer) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %s: %w", name, msg, err)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// PdftotextConverter shells out to the pdftotext binary (poppler-utils).
type PdftotextConverter struct {
	Binary string // defaults to "pdftotext"
	runner Runner
}

// NewPdftotextConverter creates a converter using the system pdftotext.
func NewPdftotextConverter() *PdftotextConverter {
	return &PdftotextConverter{runner: execRunner{}}
}

// NewPdftotextConverterWithRunner injects a Runner, for tests.
func NewPdftotextConverterWithRunner(r Runner) *PdftotextConverter {
	return &PdftotextConverter{runner: r}
}

// Convert runs pdftotext on pdfPath and returns the extracted text.
func (p *PdftotextConverter) Convert(ctx context.Context, pdfPath string) (string, error) {
	bin := p.Binary
	if bin == "" {
		bin = "pdftotext"
	}

	var out bytes.Buffer
	args := []string{"-layout", "-enc", "UTF-8", pdfPath, "-"}
	if err := p.runner.Run(ctx, bin, args, &out); err != nil {
		return "", fmt.Errorf("converting %s: %w", pdfPath, err)
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", fmt.Errorf("pdftotext produced empty output for %s", pdfPath)
	}
	return out.String(), nil
}

// Text returns the full text for a PDF, converting once and caching the
// result as a .txt file under cacheDir. A cached file short-circuits the
// conversion so re-runs over a batch are cheap.
func Text(ctx context.Context, c Converter, pdfPath, cacheDir string, w io.Writer) (string, error) {
	base := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	cachePath := filepath.Join(cacheDir, base+".txt")

	if cacheDir != "" {
		if data, err := os.ReadFile(cachePath); err == nil {
			fmt.Fprintf(w, "convert: cached %s\n", base)
			return string(data), nil
		}
	}

	text, err := c.Convert(ctx, pdfPath)
	if err != nil {
		return "", err
	}

	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return "", fmt.Errorf("creating text cache directory: %w", err)
		}
		if err := os.WriteFile(cachePath, []byte(text), 0o644); err != nil {
			return "", fmt.Errorf("caching text for %s: %w", base, err)
		}
	}

	fmt.Fprintf(w, "convert: extracted %s (%d chars)\n", base, len(text))
	return text, nil
}
