// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

// CSVFile represents a CSV snapshot written for a list.
type CSVFile struct {
	FilePath  string
	ListTitle string
	RowCount  int
	S3Key     string // Empty unless archived
}
