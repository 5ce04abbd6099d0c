// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/netSkope/splist-mirror/internal/metrics"
	"github.com/netSkope/splist-mirror/internal/pathmap"
	"github.com/netSkope/splist-mirror/internal/record"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Fields that identify a document library item.
const (
	FieldFileName    = "FileLeafRef"
	FieldFilePath    = "FileRef"
	FieldContentType = "ContentTypeId"

	// DocumentContentTypePrefix is the content type id prefix of documents.
	// Folders and other content types do not carry it.
	DocumentContentTypePrefix = "0x0101"
)

// ErrIncomplete reports that at least one document could not be mirrored.
var ErrIncomplete = errors.New("one or more documents failed to download")

// FileSource streams the content of a remote file.
type FileSource interface {
	Download(ctx context.Context, serverPath string, w io.Writer) error
}

// Archiver copies local files to secondary storage. Archive always uploads,
// EnsureArchived only uploads files the storage does not have yet and
// reports whether it did.
type Archiver interface {
	Archive(ctx context.Context, localPath string) error
	EnsureArchived(ctx context.Context, localPath string) (bool, error)
}

// Observer is told about every document the selector looked at.
type Observer interface {
	FileMirrored(ctx context.Context, list record.List, res FileResult)
}

// FileResult is the outcome for one document library item.
type FileResult struct {
	ServerPath string
	LocalPath  string
	Outcome    string
	Err        error
}

// Stats holds the statistics of a mirror pass.
type Stats struct {
	Downloaded int // Files fetched from the server
	Existing   int // Files already present locally
	Ignored    int // Items that are not documents
	Errors     int // Files that failed to download
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Downloaded += other.Downloaded
	s.Existing += other.Existing
	s.Ignored += other.Ignored
	s.Errors += other.Errors
}

// Selector decides which document library items need to be fetched and
// fetches them.
type Selector struct {
	fs       afero.Fs
	source   FileSource
	archiver Archiver
	observer Observer
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// Option configures a Selector.
type Option func(*Selector)

// WithArchiver archives every downloaded file.
func WithArchiver(a Archiver) Option {
	return func(s *Selector) { s.archiver = a }
}

// WithObserver reports every decision to o.
func WithObserver(o Observer) Option {
	return func(s *Selector) { s.observer = o }
}

// WithMetrics counts outcomes in m.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Selector) { s.metrics = m }
}

// NewSelector creates a selector writing to fs.
func NewSelector(fs afero.Fs, source FileSource, logger *zap.Logger, opts ...Option) *Selector {
	s := &Selector{
		fs:     fs,
		source: source,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mirror downloads every document of store that is not yet present below
// the mapper's root. Whether the list carries documents at all is decided
// from the first record only. A failing file is logged and counted in
// Stats.Errors, the remaining files are still processed. The returned error
// is only set when ctx is done.
func (s *Selector) Mirror(ctx context.Context, list record.List, store *record.Store, mapper *pathmap.Mapper) (Stats, error) {
	var stats Stats

	first, ok := store.First()
	if !ok {
		return stats, nil
	}
	if !first.Has(FieldFileName) || !first.Has(FieldFilePath) {
		s.logger.Info("List has no document fields, skipping files",
			zap.String("list", list.Title))
		return stats, nil
	}

	for _, rec := range store.Records() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		res := s.mirrorRecord(ctx, rec, mapper)
		switch res.Outcome {
		case metrics.OutcomeDownloaded:
			stats.Downloaded++
		case metrics.OutcomeExisting:
			stats.Existing++
		case metrics.OutcomeIgnored:
			stats.Ignored++
		case metrics.OutcomeFailed:
			stats.Errors++
			s.logger.Error("Failed to download document",
				zap.String("list", list.Title),
				zap.String("server_path", res.ServerPath),
				zap.Error(res.Err))
		}

		s.metrics.File(res.Outcome)
		if s.observer != nil {
			s.observer.FileMirrored(ctx, list, res)
		}
	}

	return stats, nil
}

func (s *Selector) mirrorRecord(ctx context.Context, rec record.Record, mapper *pathmap.Mapper) FileResult {
	name, _ := rec.Get(FieldFileName)
	serverPath, _ := rec.Get(FieldFilePath)
	res := FileResult{ServerPath: serverPath, Outcome: metrics.OutcomeIgnored}

	if name == "" || serverPath == "" {
		return res
	}
	if contentType, _ := rec.Get(FieldContentType); !strings.HasPrefix(contentType, DocumentContentTypePrefix) {
		return res
	}

	s.logger.Info("Downloading", zap.String("file", name))

	local, err := mapper.Map(serverPath, true)
	if err != nil {
		res.Outcome, res.Err = metrics.OutcomeFailed, err
		return res
	}
	res.LocalPath = local

	exists, err := afero.Exists(s.fs, local)
	if err != nil {
		res.Outcome, res.Err = metrics.OutcomeFailed, err
		return res
	}
	if exists {
		s.logger.Info("Already existed", zap.String("path", local))
		if s.archiver != nil {
			if _, err := s.archiver.EnsureArchived(ctx, local); err != nil {
				res.Outcome, res.Err = metrics.OutcomeFailed, fmt.Errorf("failed to archive: %w", err)
				return res
			}
		}
		res.Outcome = metrics.OutcomeExisting
		return res
	}

	if err := s.fetch(ctx, serverPath, local); err != nil {
		res.Outcome, res.Err = metrics.OutcomeFailed, err
		return res
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, local); err != nil {
			res.Outcome, res.Err = metrics.OutcomeFailed, fmt.Errorf("failed to archive: %w", err)
			return res
		}
	}

	s.logger.Info("Completed", zap.String("path", local))
	res.Outcome = metrics.OutcomeDownloaded
	return res
}

// fetch creates local exclusively and streams the remote file into it. A
// partially written file is removed so that the next run retries it.
func (s *Selector) fetch(ctx context.Context, serverPath, local string) (err error) {
	file, err := s.fs.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", local, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", local, cerr)
		}
		if err != nil {
			_ = s.fs.Remove(local)
		}
	}()

	return s.source.Download(ctx, serverPath, file)
}
