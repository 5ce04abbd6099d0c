// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package sharepoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/netSkope/splist-mirror/internal/record"
	"github.com/netSkope/splist-mirror/internal/walker"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	// DefaultPageSize is the number of items requested per page.
	DefaultPageSize = 100

	acceptJSON = "application/json;odata=nometadata"

	// baseTypeDocumentLibrary is the BaseType value of document libraries.
	baseTypeDocumentLibrary = 1
)

// ErrInvalidResponse is returned when the server answers with something
// that is not JSON.
var ErrInvalidResponse = errors.New("invalid json response")

// ServiceError is the error body returned by the REST API.
type ServiceError map[string]interface{}

// Options configures a Client.
type Options struct {
	SiteURL     string
	Username    string
	Password    string
	AccessToken string // Used instead of basic auth when set
	PageSize    int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client talks to the REST API of a single site.
type Client struct {
	siteURL    string
	opts       Options
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client for opts.SiteURL.
func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(opts.SiteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid site url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid site url %q: scheme must be http or https", opts.SiteURL)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		siteURL:    strings.TrimRight(opts.SiteURL, "/"),
		opts:       opts,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// request returns a builder for rawURL with auth and headers applied.
func (c *Client) request(rawURL, accept string) *requests.Builder {
	b := requests.
		URL(rawURL).
		Client(c.httpClient).
		Accept(accept)
	if c.opts.AccessToken != "" {
		return b.Bearer(c.opts.AccessToken)
	}
	return b.BasicAuth(c.opts.Username, c.opts.Password)
}

func (c *Client) fetchJSON(ctx context.Context, b *requests.Builder) (gjson.Result, error) {
	serviceErr := ServiceError{}
	var body string
	err := b.
		ToString(&body).
		ErrorJSON(&serviceErr).
		Fetch(ctx)
	if err != nil {
		if len(serviceErr) > 0 {
			c.logger.Debug("SharePoint service error", zap.Any("error", serviceErr))
			return gjson.Result{}, fmt.Errorf("%w: %s", err, serviceErr.Message())
		}
		return gjson.Result{}, err
	}
	if !gjson.Valid(body) {
		return gjson.Result{}, ErrInvalidResponse
	}
	return gjson.Parse(body), nil
}

// Message extracts the human readable message of a service error.
func (e ServiceError) Message() string {
	for _, key := range []string{"odata.error", "error"} {
		if inner, ok := e[key].(map[string]interface{}); ok {
			switch msg := inner["message"].(type) {
			case string:
				return msg
			case map[string]interface{}:
				if v, ok := msg["value"].(string); ok {
					return v
				}
			}
		}
	}
	return fmt.Sprintf("%v", map[string]interface{}(e))
}

// Lists returns all lists of the site.
func (c *Client) Lists(ctx context.Context) ([]record.List, error) {
	res, err := c.fetchJSON(ctx, c.request(c.siteURL+"/_api/web/lists", acceptJSON).
		Param("$select", "Id,Title,BaseType,ParentWebUrl"))
	if err != nil {
		return nil, fmt.Errorf("failed to query lists: %w", err)
	}

	var lists []record.List
	res.Get("value").ForEach(func(_, item gjson.Result) bool {
		lists = append(lists, record.List{
			ID:           item.Get("Id").String(),
			Title:        item.Get("Title").String(),
			Kind:         listKind(item.Get("BaseType")),
			ParentWebURL: item.Get("ParentWebUrl").String(),
		})
		return true
	})
	return lists, nil
}

func listKind(baseType gjson.Result) record.ListKind {
	switch baseType.Type {
	case gjson.Number:
		if baseType.Int() == baseTypeDocumentLibrary {
			return record.DocumentLibrary
		}
	case gjson.String:
		if baseType.Str == "DocumentLibrary" || baseType.Str == strconv.Itoa(baseTypeDocumentLibrary) {
			return record.DocumentLibrary
		}
	}
	return record.PlainList
}

// Items returns one page of list items with all fields rendered as text.
// cursor is the next link returned with the previous page.
func (c *Client) Items(ctx context.Context, list record.List, cursor string) (walker.Page, error) {
	var b *requests.Builder
	if cursor == "" {
		b = c.request(fmt.Sprintf("%s/_api/web/lists(guid'%s')/items", c.siteURL, list.ID), acceptJSON).
			Param("$top", strconv.Itoa(c.opts.PageSize)).
			Param("$select", "FieldValuesAsText").
			Param("$expand", "FieldValuesAsText")
	} else {
		b = c.request(cursor, acceptJSON)
	}

	res, err := c.fetchJSON(ctx, b)
	if err != nil {
		return walker.Page{}, fmt.Errorf("failed to query items of %q: %w", list.Title, err)
	}

	var page walker.Page
	res.Get("value").ForEach(func(_, item gjson.Result) bool {
		page.Records = append(page.Records, parseFields(item.Get("FieldValuesAsText")))
		return true
	})
	page.Cursor = nextLink(res)
	return page, nil
}

func parseFields(values gjson.Result) record.Record {
	var fields []record.Field
	values.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if isAnnotation(name) {
			return true
		}
		f := record.Field{Name: name}
		switch value.Type {
		case gjson.Null:
			f.Null = true
		case gjson.String:
			f.Value = value.Str
		default:
			f.Value = value.Raw
		}
		fields = append(fields, f)
		return true
	})
	return record.Record{Fields: fields}
}

// isAnnotation reports protocol metadata keys that are not list fields.
func isAnnotation(name string) bool {
	return name == "__metadata" || strings.HasPrefix(name, "odata.") || strings.HasPrefix(name, "@odata.")
}

func nextLink(res gjson.Result) string {
	for _, path := range []string{`odata\.nextLink`, `@odata\.nextLink`, `d.__next`} {
		if next := res.Get(path).String(); next != "" {
			return next
		}
	}
	return ""
}

// Download streams the file at serverPath into w.
func (c *Client) Download(ctx context.Context, serverPath string, w io.Writer) error {
	literal := url.PathEscape(strings.ReplaceAll(serverPath, "'", "''"))
	rawURL := fmt.Sprintf("%s/_api/web/GetFileByServerRelativeUrl('%s')/$value", c.siteURL, literal)

	err := c.request(rawURL, "*/*").
		ToWriter(w).
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", serverPath, err)
	}
	return nil
}
