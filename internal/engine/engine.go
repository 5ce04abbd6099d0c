// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/netSkope/splist-mirror/internal/exporter"
	"github.com/netSkope/splist-mirror/internal/metrics"
	"github.com/netSkope/splist-mirror/internal/mirror"
	"github.com/netSkope/splist-mirror/internal/pathmap"
	"github.com/netSkope/splist-mirror/internal/record"
	"github.com/netSkope/splist-mirror/internal/walker"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Remote is everything the engine needs from the content repository.
type Remote interface {
	Lists(ctx context.Context) ([]record.List, error)
	walker.PageSource
	mirror.FileSource
}

// Archiver copies produced files to secondary storage.
type Archiver interface {
	mirror.Archiver
	KeyFor(localPath string) (string, error)
}

// Ledger keeps an audit trail of a run.
type Ledger interface {
	mirror.Observer
	RecordExport(ctx context.Context, list record.List, csvPath string, items int, exported bool)
}

// Options configures an Engine. Archiver, Ledger and Metrics are optional.
type Options struct {
	Remote        Remote
	Fs            afero.Fs
	LocalRoot     string
	IncludeHeader bool
	MaxPages      int
	Archiver      Archiver
	Ledger        Ledger
	Metrics       *metrics.Collector
	Logger        *zap.Logger
}

// Summary describes what a run did.
type Summary struct {
	Lists      int
	Records    int
	CSVFiles   []exporter.CSVFile
	CSVSkipped int
	CSVErrors  int // CSVs that could not be archived
	Files      mirror.Stats
}

// Failures returns the number of isolated failures of the run.
func (s Summary) Failures() int {
	return s.CSVErrors + s.Files.Errors
}

// Engine mirrors all lists of a site, one list at a time.
type Engine struct {
	remote        Remote
	fs            afero.Fs
	mapper        *pathmap.Mapper
	walker        *walker.Walker
	exporter      *exporter.Exporter
	selector      *mirror.Selector
	archiver      Archiver
	ledger        Ledger
	includeHeader bool
	logger        *zap.Logger
}

// New wires an engine from opts.
func New(opts Options) *Engine {
	selectorOpts := []mirror.Option{mirror.WithMetrics(opts.Metrics)}
	if opts.Archiver != nil {
		selectorOpts = append(selectorOpts, mirror.WithArchiver(opts.Archiver))
	}
	if opts.Ledger != nil {
		selectorOpts = append(selectorOpts, mirror.WithObserver(opts.Ledger))
	}

	return &Engine{
		remote:        opts.Remote,
		fs:            opts.Fs,
		mapper:        pathmap.New(opts.Fs, opts.LocalRoot),
		walker:        walker.New(opts.Remote, opts.MaxPages, opts.Logger, opts.Metrics),
		exporter:      exporter.NewExporter(opts.Fs, opts.Logger, opts.Metrics),
		selector:      mirror.NewSelector(opts.Fs, opts.Remote, opts.Logger, selectorOpts...),
		archiver:      opts.Archiver,
		ledger:        opts.Ledger,
		includeHeader: opts.IncludeHeader,
		logger:        opts.Logger,
	}
}

// Run processes every list of the site. Remote failures abort the run.
// Documents that fail to download and files that fail to archive do not
// stop the run, but are reported as mirror.ErrIncomplete once all lists
// are done.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	lists, err := e.remote.Lists(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to enumerate lists: %w", err)
	}
	e.logger.Info("Found lists", zap.Int("count", len(lists)))

	for _, list := range lists {
		if err := e.ProcessList(ctx, list, &summary); err != nil {
			return summary, err
		}
	}

	if n := summary.Failures(); n > 0 {
		return summary, fmt.Errorf("%w: %d failed", mirror.ErrIncomplete, n)
	}
	return summary, nil
}

// ProcessList reads one list, snapshots it to CSV and, for document
// libraries, mirrors its files. Results are added to summary.
func (e *Engine) ProcessList(ctx context.Context, list record.List, summary *Summary) error {
	e.logger.Info("Processing list",
		zap.String("list", list.Title),
		zap.Stringer("kind", list.Kind))

	store, err := e.walker.Synchronize(ctx, list)
	if err != nil {
		return err
	}
	summary.Lists++
	summary.Records += store.Len()
	e.logger.Info("Downloaded list data",
		zap.String("list", list.Title),
		zap.Int("items", store.Len()))

	dir, err := e.mapper.Map(list.ParentWebURL, false)
	if err != nil {
		return fmt.Errorf("failed to prepare directory for %q: %w", list.Title, err)
	}
	csvPath := filepath.Join(dir, csvFileName(list.Title))

	written, err := e.exporter.Export(store, e.includeHeader, csvPath)
	if err != nil {
		return fmt.Errorf("failed to export %q: %w", list.Title, err)
	}
	if written {
		e.logger.Info("Saved CSV", zap.String("path", csvPath))
		csvFile, err := e.archiveCSV(ctx, list, csvPath, store.Len())
		if err != nil {
			summary.CSVErrors++
			e.logger.Error("Failed to archive CSV",
				zap.String("list", list.Title),
				zap.String("path", csvPath),
				zap.Error(err))
		}
		summary.CSVFiles = append(summary.CSVFiles, csvFile)
	} else {
		summary.CSVSkipped++
		e.logger.Info("Skipped CSV",
			zap.String("path", csvPath),
			zap.Int("items", store.Len()))
		if err := e.ensureCSVArchived(ctx, csvPath); err != nil {
			summary.CSVErrors++
			e.logger.Error("Failed to archive CSV",
				zap.String("list", list.Title),
				zap.String("path", csvPath),
				zap.Error(err))
		}
	}
	if e.ledger != nil {
		e.ledger.RecordExport(ctx, list, csvPath, store.Len(), written)
	}

	switch list.Kind {
	case record.DocumentLibrary:
		e.logger.Info("Downloading doclib items", zap.String("list", list.Title))
		stats, err := e.selector.Mirror(ctx, list, store, e.mapper)
		summary.Files.Add(stats)
		if err != nil {
			return fmt.Errorf("mirror of %q interrupted: %w", list.Title, err)
		}
		e.logger.Info("Downloading doclib items done",
			zap.String("list", list.Title),
			zap.Int("downloaded", stats.Downloaded),
			zap.Int("existing", stats.Existing),
			zap.Int("ignored", stats.Ignored),
			zap.Int("errors", stats.Errors))
	case record.PlainList:
	}

	return nil
}

func (e *Engine) archiveCSV(ctx context.Context, list record.List, csvPath string, rows int) (exporter.CSVFile, error) {
	csvFile := exporter.CSVFile{
		FilePath:  csvPath,
		ListTitle: list.Title,
		RowCount:  rows,
	}
	if e.archiver == nil {
		return csvFile, nil
	}

	key, err := e.archiver.KeyFor(csvPath)
	if err != nil {
		return csvFile, err
	}
	if err := e.archiver.Archive(ctx, csvPath); err != nil {
		return csvFile, err
	}
	csvFile.S3Key = key
	return csvFile, nil
}

// ensureCSVArchived archives a CSV left by an earlier run if the archive
// does not have it yet. Lists without a CSV are skipped.
func (e *Engine) ensureCSVArchived(ctx context.Context, csvPath string) error {
	if e.archiver == nil {
		return nil
	}
	exists, err := afero.Exists(e.fs, csvPath)
	if err != nil || !exists {
		return err
	}
	uploaded, err := e.archiver.EnsureArchived(ctx, csvPath)
	if err != nil {
		return err
	}
	if uploaded {
		e.logger.Info("Archived existing CSV", zap.String("path", csvPath))
	}
	return nil
}

var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_")

// csvFileName returns "<title>.csv" with path separators neutralized.
func csvFileName(title string) string {
	return fileNameReplacer.Replace(title) + ".csv"
}
