// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"fmt"
	"os"
	"strings"

	"github.com/netSkope/splist-mirror/internal/metrics"
	"github.com/netSkope/splist-mirror/internal/record"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	delimiter  = ","
	lineEnding = "\n"
)

var newlineStripper = strings.NewReplacer("\r", "", "\n", "")

// Exporter writes list snapshots as CSV files.
type Exporter struct {
	fs      afero.Fs
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewExporter creates a new CSV exporter.
func NewExporter(fs afero.Fs, logger *zap.Logger, m *metrics.Collector) *Exporter {
	return &Exporter{
		fs:      fs,
		logger:  logger,
		metrics: m,
	}
}

// Export writes store to path and reports whether a file was written.
// Nothing is touched when the store is empty or path already exists, so an
// existing export is never overwritten. Each line is handed to the file in
// a single write, a crash leaves only complete lines behind.
func (e *Exporter) Export(store *record.Store, includeHeader bool, path string) (bool, error) {
	if store == nil || store.Empty() {
		e.logger.Debug("Skipping CSV export of empty list", zap.String("path", path))
		e.metrics.CSVExport(false)
		return false, nil
	}

	exists, err := afero.Exists(e.fs, path)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", path, err)
	}
	if exists {
		e.logger.Debug("CSV already exists, not overwriting", zap.String("path", path))
		e.metrics.CSVExport(false)
		return false, nil
	}

	if err := e.write(store, includeHeader, path); err != nil {
		if os.IsExist(err) {
			e.metrics.CSVExport(false)
			return false, nil
		}
		return false, err
	}

	e.metrics.CSVExport(true)
	return true, nil
}

// write creates path exclusively and writes the rows. A partially written
// file is removed so that the next run exports the list again.
func (e *Exporter) write(store *record.Store, includeHeader bool, path string) (err error) {
	file, err := e.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return err
		}
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close CSV file: %w", cerr)
		}
		if err != nil {
			_ = e.fs.Remove(path)
		}
	}()

	if includeHeader {
		first, _ := store.First()
		if _, err := file.WriteString(headerLine(first)); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}

	for i, row := range store.Records() {
		if _, err := file.WriteString(rowLine(row)); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i+1, err)
		}
	}
	return nil
}

// Quote renders a single CSV cell: newlines are dropped, embedded double
// quotes are doubled and the result is wrapped in double quotes.
func Quote(s string) string {
	return `"` + strings.ReplaceAll(newlineStripper.Replace(s), `"`, `""`) + `"`
}

func headerLine(r record.Record) string {
	cells := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		cells[i] = Quote(f.Name)
	}
	return strings.Join(cells, delimiter) + lineEnding
}

func rowLine(r record.Record) string {
	cells := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		if f.Null {
			cells[i] = `""`
			continue
		}
		cells[i] = Quote(f.Value)
	}
	return strings.Join(cells, delimiter) + lineEnding
}
