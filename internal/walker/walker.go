// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package walker

import (
	"context"
	"errors"
	"fmt"

	"github.com/netSkope/splist-mirror/internal/metrics"
	"github.com/netSkope/splist-mirror/internal/record"
	"go.uber.org/zap"
)

// DefaultMaxPages bounds the number of pages fetched for a single list.
const DefaultMaxPages = 10000

// ErrPageLimit is returned when a list keeps returning continuation cursors
// past the configured page limit.
var ErrPageLimit = errors.New("page limit reached before end of list")

// Page is one batch of items plus the cursor for the next batch. An empty
// Cursor marks the last page.
type Page struct {
	Records []record.Record
	Cursor  string
}

// PageSource returns the page of list items that starts at cursor. An empty
// cursor requests the first page.
type PageSource interface {
	Items(ctx context.Context, list record.List, cursor string) (Page, error)
}

// Walker enumerates every item of a remote list.
type Walker struct {
	source   PageSource
	maxPages int
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// New creates a walker. maxPages <= 0 disables the page limit.
func New(source PageSource, maxPages int, logger *zap.Logger, m *metrics.Collector) *Walker {
	return &Walker{
		source:   source,
		maxPages: maxPages,
		logger:   logger,
		metrics:  m,
	}
}

// Synchronize reads all pages of list into a fresh store, in server order.
func (w *Walker) Synchronize(ctx context.Context, list record.List) (*record.Store, error) {
	store := record.NewStore(list.Title)
	cursor := ""

	for pageNum := 0; ; pageNum++ {
		if w.maxPages > 0 && pageNum >= w.maxPages {
			w.logger.Warn("List hit maximum page limit",
				zap.String("list", list.Title),
				zap.Int("max_pages", w.maxPages),
				zap.Int("items", store.Len()))
			return nil, fmt.Errorf("list %q: %w (%d pages)", list.Title, ErrPageLimit, w.maxPages)
		}

		page, err := w.source.Items(ctx, list, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page %d of list %q: %w", pageNum+1, list.Title, err)
		}

		store.Append(page.Records...)
		w.metrics.PageFetched(len(page.Records))

		w.logger.Debug("Fetched list page",
			zap.String("list", list.Title),
			zap.Int("page", pageNum+1),
			zap.Int("items", len(page.Records)),
			zap.Int("total_items", store.Len()),
			zap.Bool("has_more", page.Cursor != ""))

		if page.Cursor == "" {
			return store, nil
		}
		cursor = page.Cursor
	}
}
