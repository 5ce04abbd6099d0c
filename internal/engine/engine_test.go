// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/netSkope/splist-mirror/internal/mirror"
	"github.com/netSkope/splist-mirror/internal/record"
	"github.com/netSkope/splist-mirror/internal/walker"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const docType = "0x0101009189AB5D3D2647B580F011DA2F356FB2"

// fakeRemote serves in-memory lists in pages of two items.
type fakeRemote struct {
	lists      []record.List
	items      map[string][]record.Record
	files      map[string]string
	listsErr   error
	downloads  []string
	failedPath string
}

func (f *fakeRemote) Lists(context.Context) ([]record.List, error) {
	return f.lists, f.listsErr
}

func (f *fakeRemote) Items(_ context.Context, list record.List, cursor string) (walker.Page, error) {
	all := f.items[list.ID]
	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	end := start + 2
	if end > len(all) {
		end = len(all)
	}
	page := walker.Page{Records: all[start:end]}
	if end < len(all) {
		page.Cursor = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeRemote) Download(_ context.Context, serverPath string, w io.Writer) error {
	f.downloads = append(f.downloads, serverPath)
	if serverPath == f.failedPath {
		return errors.New("500 internal server error")
	}
	body, ok := f.files[serverPath]
	if !ok {
		return fmt.Errorf("404: %s", serverPath)
	}
	_, err := io.WriteString(w, body)
	return err
}

type fakeLedger struct {
	exports []string
	files   []mirror.FileResult
}

func (l *fakeLedger) RecordExport(_ context.Context, list record.List, csvPath string, items int, exported bool) {
	l.exports = append(l.exports, fmt.Sprintf("%s:%d:%t", list.Title, items, exported))
}

func (l *fakeLedger) FileMirrored(_ context.Context, _ record.List, res mirror.FileResult) {
	l.files = append(l.files, res)
}

// fakeArchiver records uploads and fails every call while down is set.
type fakeArchiver struct {
	down     bool
	archived []string
}

func (a *fakeArchiver) KeyFor(localPath string) (string, error) { return "archive" + localPath, nil }

func (a *fakeArchiver) Archive(_ context.Context, localPath string) error {
	if a.down {
		return errors.New("s3 down")
	}
	a.archived = append(a.archived, localPath)
	return nil
}

func (a *fakeArchiver) EnsureArchived(ctx context.Context, localPath string) (bool, error) {
	if a.down {
		return false, errors.New("s3 down")
	}
	for _, p := range a.archived {
		if p == localPath {
			return false, nil
		}
	}
	return true, a.Archive(ctx, localPath)
}

func docRecord(id, name, path, contentType string) record.Record {
	return record.NewRecord([]record.Field{
		{Name: "ID", Value: id},
		{Name: "FileLeafRef", Value: name},
		{Name: "FileRef", Value: path},
		{Name: "ContentTypeId", Value: contentType},
	})
}

func newRemote() *fakeRemote {
	return &fakeRemote{
		lists: []record.List{
			{ID: "L1", Title: "Tasks", Kind: record.PlainList, ParentWebURL: "/sites/x"},
			{ID: "L2", Title: "Shared Documents", Kind: record.DocumentLibrary, ParentWebURL: "/sites/x"},
			{ID: "L3", Title: "Empty", Kind: record.PlainList, ParentWebURL: "/sites/x"},
		},
		items: map[string][]record.Record{
			"L1": {
				record.NewRecord([]record.Field{{Name: "ID", Value: "1"}, {Name: "Title", Value: "first"}}),
				record.NewRecord([]record.Field{{Name: "ID", Value: "2"}, {Name: "Title", Value: "second"}}),
				record.NewRecord([]record.Field{{Name: "ID", Value: "3"}, {Name: "Title", Value: "third"}}),
			},
			"L2": {
				docRecord("1", "a", "/sites/x/Shared Documents/a", "0x012000ABCDEF"),
				docRecord("2", "b.txt", "/sites/x/Shared Documents/a/b.txt", docType),
				docRecord("3", "c.txt", "/sites/x/Shared Documents/c.txt", docType),
			},
		},
		files: map[string]string{
			"/sites/x/Shared Documents/a/b.txt": "bee",
			"/sites/x/Shared Documents/c.txt":   "sea",
		},
	}
}

func newEngine(t *testing.T, remote *fakeRemote, fs afero.Fs, opts ...func(*Options)) *Engine {
	t.Helper()
	o := Options{
		Remote:        remote,
		Fs:            fs,
		LocalRoot:     "/mirror",
		IncludeHeader: true,
		MaxPages:      walker.DefaultMaxPages,
		Logger:        zaptest.NewLogger(t),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(o)
}

func TestRun_MirrorsSite(t *testing.T) {
	fs := afero.NewMemMapFs()
	remote := newRemote()
	ledger := &fakeLedger{}
	archiver := &fakeArchiver{}
	e := newEngine(t, remote, fs, func(o *Options) {
		o.Ledger = ledger
		o.Archiver = archiver
	})

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Lists)
	assert.Equal(t, 6, summary.Records)
	require.Len(t, summary.CSVFiles, 2)
	assert.Equal(t, 1, summary.CSVSkipped)
	assert.Equal(t, "archive/mirror/sites/x/Tasks.csv", summary.CSVFiles[0].S3Key)
	assert.Equal(t, mirror.Stats{Downloaded: 2, Ignored: 1}, summary.Files)

	tasks, err := afero.ReadFile(fs, "/mirror/sites/x/Tasks.csv")
	require.NoError(t, err)
	assert.Equal(t, "\"ID\",\"Title\"\n\"1\",\"first\"\n\"2\",\"second\"\n\"3\",\"third\"\n", string(tasks))

	exists, err := afero.Exists(fs, "/mirror/sites/x/Empty.csv")
	require.NoError(t, err)
	assert.False(t, exists)

	body, err := afero.ReadFile(fs, "/mirror/sites/x/Shared Documents/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "bee", string(body))

	assert.Equal(t, []string{"Tasks:3:true", "Shared Documents:3:true", "Empty:0:false"}, ledger.exports)
	assert.Len(t, ledger.files, 3)
	assert.Len(t, archiver.archived, 4)
}

func TestRun_SecondRunDoesNotRewrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	remote := newRemote()

	_, err := newEngine(t, remote, fs).Run(context.Background())
	require.NoError(t, err)

	remote.files["/sites/x/Shared Documents/c.txt"] = "changed"
	remote.downloads = nil

	summary, err := newEngine(t, remote, fs).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.CSVFiles)
	assert.Equal(t, 3, summary.CSVSkipped)
	assert.Equal(t, mirror.Stats{Existing: 2, Ignored: 1}, summary.Files)
	assert.Empty(t, remote.downloads)

	body, err := afero.ReadFile(fs, "/mirror/sites/x/Shared Documents/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "sea", string(body))
}

func TestRun_FileFailureIsReportedAfterAllLists(t *testing.T) {
	fs := afero.NewMemMapFs()
	remote := newRemote()
	remote.failedPath = "/sites/x/Shared Documents/a/b.txt"
	remote.lists = append(remote.lists, record.List{ID: "L4", Title: "Later", ParentWebURL: "/sites/x"})
	remote.items["L4"] = []record.Record{record.NewRecord([]record.Field{{Name: "ID", Value: "1"}})}

	summary, err := newEngine(t, remote, fs).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, mirror.ErrIncomplete)
	assert.Equal(t, mirror.Stats{Downloaded: 1, Ignored: 1, Errors: 1}, summary.Files)
	assert.Equal(t, 4, summary.Lists)

	exists, err := afero.Exists(fs, "/mirror/sites/x/Later.csv")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRun_ArchiveFailureIsRetriedOnNextRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	remote := newRemote()
	archiver := &fakeArchiver{down: true}
	withArchiver := func(o *Options) { o.Archiver = archiver }

	summary, err := newEngine(t, remote, fs, withArchiver).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, mirror.ErrIncomplete)
	assert.Equal(t, 3, summary.Lists)
	assert.Equal(t, 2, summary.CSVErrors)
	assert.Equal(t, mirror.Stats{Ignored: 1, Errors: 2}, summary.Files)
	assert.Empty(t, summary.CSVFiles[0].S3Key)

	archiver.down = false
	remote.downloads = nil

	summary, err = newEngine(t, remote, fs, withArchiver).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Failures())
	assert.Equal(t, mirror.Stats{Existing: 2, Ignored: 1}, summary.Files)
	assert.Empty(t, remote.downloads)
	assert.ElementsMatch(t, []string{
		"/mirror/sites/x/Tasks.csv",
		"/mirror/sites/x/Shared Documents.csv",
		"/mirror/sites/x/Shared Documents/a/b.txt",
		"/mirror/sites/x/Shared Documents/c.txt",
	}, archiver.archived)

	// Everything is archived now, nothing is uploaded again.
	_, err = newEngine(t, remote, fs, withArchiver).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, archiver.archived, 4)
}

func TestRun_ListsErrorAborts(t *testing.T) {
	remote := newRemote()
	remote.listsErr = errors.New("401 unauthorized")

	_, err := newEngine(t, remote, afero.NewMemMapFs()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401 unauthorized")
}

func TestRun_PlainListNeverMirrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	remote := newRemote()
	remote.lists = []record.List{{ID: "L2", Title: "Looks Like Docs", Kind: record.PlainList, ParentWebURL: "/sites/x"}}

	summary, err := newEngine(t, remote, fs).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mirror.Stats{}, summary.Files)
	assert.Empty(t, remote.downloads)
}

func TestCSVFileName(t *testing.T) {
	assert.Equal(t, "Tasks.csv", csvFileName("Tasks"))
	assert.Equal(t, "Q1_Q2 plan.csv", csvFileName("Q1/Q2 plan"))
}
