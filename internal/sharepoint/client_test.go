// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package sharepoint

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/netSkope/splist-mirror/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sitePath = "/sites/x"

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{
		SiteURL:  srv.URL + sitePath + "/",
		Username: "alice",
		Password: "secret",
		PageSize: 2,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return srv, c
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient(Options{SiteURL: "ftp://example.com"}, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = NewClient(Options{SiteURL: "://"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestLists(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, sitePath+"/_api/web/lists", r.URL.Path)
		assert.Equal(t, "Id,Title,BaseType,ParentWebUrl", r.URL.Query().Get("$select"))
		assert.Equal(t, acceptJSON, r.Header.Get("Accept"))
		fmt.Fprint(w, `{"value":[
			{"Id":"L1","Title":"Tasks","BaseType":0,"ParentWebUrl":"/sites/x"},
			{"Id":"L2","Title":"Shared Documents","BaseType":1,"ParentWebUrl":"/sites/x"}
		]}`)
	})

	lists, err := c.Lists(context.Background())
	require.NoError(t, err)
	require.Len(t, lists, 2)
	assert.Equal(t, record.List{ID: "L1", Title: "Tasks", Kind: record.PlainList, ParentWebURL: "/sites/x"}, lists[0])
	assert.Equal(t, record.DocumentLibrary, lists[1].Kind)
}

func TestLists_ServiceError(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"odata.error":{"code":"-2147024891","message":{"lang":"en-US","value":"Access denied."}}}`)
	})

	_, err := c.Lists(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Access denied.")
}

func TestLists_InvalidJSON(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>login</html>`)
	})

	_, err := c.Lists(context.Background())
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestItems_FollowsNextLinkAndKeepsFieldOrder(t *testing.T) {
	var srvURL string
	srv, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, sitePath+"/_api/web/lists(guid'L1')/items", r.URL.Path)
		q := r.URL.Query()
		if q.Get("$skiptoken") == "" {
			assert.Equal(t, "2", q.Get("$top"))
			assert.Equal(t, "FieldValuesAsText", q.Get("$expand"))
			fmt.Fprintf(w, `{"value":[
				{"FieldValuesAsText":{"Title":"b","ID":"1","Body":null}},
				{"FieldValuesAsText":{"Title":"a","ID":"2","Body":"x"}}
			],"odata.nextLink":"%s%s/_api/web/lists(guid'L1')/items?%%24skiptoken=Paged%%3dTRUE%%26p_ID%%3d2&%%24top=2"}`,
				srvURL, sitePath)
			return
		}
		assert.Equal(t, "Paged=TRUE&p_ID=2", q.Get("$skiptoken"))
		fmt.Fprint(w, `{"value":[{"FieldValuesAsText":{"Title":"c","ID":"3","Body":7}}]}`)
	})
	srvURL = srv.URL

	list := record.List{ID: "L1", Title: "Tasks"}
	page, err := c.Items(context.Background(), list, "")
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.NotEmpty(t, page.Cursor)

	first := page.Records[0]
	assert.Equal(t, []string{"Title", "ID", "Body"}, first.Names())
	assert.True(t, first.Fields[2].Null)

	page, err = c.Items(context.Background(), list, page.Cursor)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Empty(t, page.Cursor)
	body, _ := page.Records[0].Get("Body")
	assert.Equal(t, "7", body)
}

func TestItems_SkipsAnnotations(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[{"FieldValuesAsText":{"odata.type":"SP.FieldStringValues","Title":"a"}}]}`)
	})

	page, err := c.Items(context.Background(), record.List{ID: "L1"}, "")
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, []string{"Title"}, page.Records[0].Names())
}

func TestDownload(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		want := sitePath + "/_api/web/GetFileByServerRelativeUrl('/sites/x/Shared Documents/it''s.txt')/$value"
		if r.URL.Path != want {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "file body")
	})

	var buf bytes.Buffer
	require.NoError(t, c.Download(context.Background(), "/sites/x/Shared Documents/it's.txt", &buf))
	assert.Equal(t, "file body", buf.String())

	buf.Reset()
	err := c.Download(context.Background(), "/sites/x/Shared Documents/missing.txt", &buf)
	require.Error(t, err)
	assert.Zero(t, buf.Len())
}

func TestBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer srv.Close()

	c, err := NewClient(Options{SiteURL: srv.URL, AccessToken: "tok"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	lists, err := c.Lists(context.Background())
	require.NoError(t, err)
	assert.Empty(t, lists)
}

func TestServiceError_Message(t *testing.T) {
	assert.Equal(t, "boom", ServiceError{"error": map[string]interface{}{"message": "boom"}}.Message())
	assert.True(t, strings.Contains(ServiceError{"x": 1.0}.Message(), "x"))
}
