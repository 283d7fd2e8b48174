// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"

	"github.com/pdiddy/evidence-engine/internal/sheet"
	"github.com/pdiddy/evidence-engine/internal/store"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// OutputSink fans each finalized result out to the results database,
// the extraction workbook, and the Markdown review log. Any of the
// three may be disabled by leaving its path empty.
type OutputSink struct {
	cfg      types.OutputConfig
	store    *store.Store
	workbook *sheet.Workbook
}

// NewOutputSink opens the configured output destinations.
func NewOutputSink(cfg types.OutputConfig) (*OutputSink, error) {
	s := &OutputSink{cfg: cfg}

	if cfg.StoreDir != "" {
		st, err := store.NewStore(cfg.StoreDir)
		if err != nil {
			return nil, err
		}
		s.store = st
	}

	if cfg.OutXLSX != "" {
		wb, err := sheet.OpenWorkbook(cfg.TemplateXLSX)
		if err != nil {
			s.closePartial()
			return nil, err
		}
		s.workbook = wb
	}

	return s, nil
}

// Emit writes one finalized result to every open destination.
func (s *OutputSink) Emit(ctx context.Context, result *types.DocumentResult) error {
	if s.store != nil {
		if err := s.store.Save(ctx, result); err != nil {
			return fmt.Errorf("storing %s: %w", result.ID, err)
		}
	}
	if s.workbook != nil {
		if err := s.workbook.Apply(result); err != nil {
			return fmt.Errorf("rendering %s into workbook: %w", result.ID, err)
		}
	}
	if s.cfg.ReportPath != "" {
		if err := sheet.AppendReport(s.cfg.ReportPath, result); err != nil {
			return fmt.Errorf("appending review log for %s: %w", result.ID, err)
		}
	}
	return nil
}

// Close saves the workbook, writes the store exports, and releases the
// database.
func (s *OutputSink) Close(ctx context.Context) error {
	var firstErr error

	if s.workbook != nil {
		if err := s.workbook.SaveAs(s.cfg.OutXLSX); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.workbook.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.store != nil {
		if err := s.store.ExportYAML(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.store.ExportJSON(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (s *OutputSink) closePartial() {
	if s.store != nil {
		s.store.Close()
	}
}
