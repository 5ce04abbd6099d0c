// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"fmt"

	"github.com/netSkope/splist-mirror/internal/metrics"
	"github.com/netSkope/splist-mirror/internal/mirror"
	"github.com/netSkope/splist-mirror/internal/record"
	"go.uber.org/zap"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS list_exports (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		run_id CHAR(36) NOT NULL,
		list_title VARCHAR(255) NOT NULL,
		list_kind VARCHAR(32) NOT NULL,
		csv_path TEXT NOT NULL,
		item_count INT NOT NULL,
		exported BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_list_exports_run (run_id)
	)`,
	`CREATE TABLE IF NOT EXISTS file_mirrors (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		run_id CHAR(36) NOT NULL,
		list_title VARCHAR(255) NOT NULL,
		server_path TEXT NOT NULL,
		local_path TEXT NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		error TEXT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_file_mirrors_run (run_id)
	)`,
}

// Ledger writes an audit trail of a run. It is write-only: nothing in a
// run is decided from its content. Write failures are logged, not returned.
type Ledger struct {
	client *SQLClient
	runID  string
	logger *zap.Logger
}

// NewLedger creates the ledger tables if needed.
func NewLedger(ctx context.Context, client *SQLClient, runID string, logger *zap.Logger) (*Ledger, error) {
	for _, stmt := range schema {
		if err := client.exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create ledger schema: %w", err)
		}
	}
	return &Ledger{client: client, runID: runID, logger: logger}, nil
}

// RecordExport stores the export result of a list.
func (l *Ledger) RecordExport(ctx context.Context, list record.List, csvPath string, items int, exported bool) {
	err := l.client.exec(ctx,
		`INSERT INTO list_exports (run_id, list_title, list_kind, csv_path, item_count, exported) VALUES (?, ?, ?, ?, ?, ?)`,
		l.runID, list.Title, list.Kind.String(), csvPath, items, exported)
	if err != nil {
		l.logger.Warn("Failed to write ledger entry",
			zap.String("list", list.Title),
			zap.Error(err))
	}
}

// FileMirrored stores the mirror outcome of a document. Ignored items are
// not recorded.
func (l *Ledger) FileMirrored(ctx context.Context, list record.List, res mirror.FileResult) {
	if res.Outcome == metrics.OutcomeIgnored {
		return
	}
	var errText interface{}
	if res.Err != nil {
		errText = res.Err.Error()
	}
	err := l.client.exec(ctx,
		`INSERT INTO file_mirrors (run_id, list_title, server_path, local_path, outcome, error) VALUES (?, ?, ?, ?, ?, ?)`,
		l.runID, list.Title, res.ServerPath, res.LocalPath, res.Outcome, errText)
	if err != nil {
		l.logger.Warn("Failed to write ledger entry",
			zap.String("list", list.Title),
			zap.String("server_path", res.ServerPath),
			zap.Error(err))
	}
}
