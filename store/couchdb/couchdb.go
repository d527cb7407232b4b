// Package couchdb drives a CouchDB server through its HTTP API.
package couchdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/weiihann/crudbench/bench"
	"github.com/weiihann/crudbench/dataset"
	"github.com/weiihann/crudbench/store"
)

// Config holds connection settings for a CouchDB server.
type Config struct {
	URL       string
	Username  string
	Password  string
	ScanLimit int
	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

// Client is a session against one CouchDB server.
type Client struct {
	base      *url.URL
	username  string
	password  string
	scanLimit int
	http      *http.Client
}

var (
	_ store.Backend = (*Client)(nil)

	errNoRows = errors.New("no rows")
)

// New creates a Client. It does not contact the server.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse couchdb url %q: %w", cfg.URL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	scanLimit := cfg.ScanLimit
	if scanLimit <= 0 {
		scanLimit = 300
	}

	return &Client{
		base:      base,
		username:  cfg.Username,
		password:  cfg.Password,
		scanLimit: scanLimit,
		http:      httpClient,
	}, nil
}

// Name implements store.Store.
func (c *Client) Name() string { return "CouchDB" }

// Bind implements store.Store. Every operation re-reads the first
// document of db so the adapters carry no state between invocations.
func (c *Client) Bind(ctx context.Context, db string) (store.Operations, error) {
	if _, err := c.firstDoc(ctx, db); err != nil {
		if errors.Is(err, errNoRows) {
			return store.Operations{}, fmt.Errorf("%s: %w", db, store.ErrEmptyDataset)
		}

		return store.Operations{}, err
	}

	return store.Operations{
		Read: func(ctx context.Context) error {
			_, err := c.allDocs(ctx, db, 1)
			return err
		},
		Scan: func(ctx context.Context) error {
			_, err := c.allDocs(ctx, db, c.scanLimit)
			return err
		},
		Insert: func(ctx context.Context) error {
			return c.insertClone(ctx, db)
		},
		Update: func(ctx context.Context) error {
			return c.bump(ctx, db, "__bench_update")
		},
	}, nil
}

// AddToCart implements store.Store.
func (c *Client) AddToCart(ctx context.Context) (bench.Operation, error) {
	for _, db := range []string{"products", "orders"} {
		if _, err := c.firstDoc(ctx, db); err != nil {
			if errors.Is(err, errNoRows) {
				err = store.ErrEmptyDataset
			}

			return nil, fmt.Errorf("prepare add-to-cart %s: %w", db, err)
		}
	}

	return func(ctx context.Context) error {
		if _, err := c.firstDoc(ctx, "products"); err != nil {
			return err
		}

		return c.bump(ctx, "orders", "cart_items")
	}, nil
}

// Close implements store.Store.
func (c *Client) Close(context.Context) error {
	c.http.CloseIdleConnections()

	return nil
}

type document map[string]any

type allDocsResponse struct {
	TotalRows int `json:"total_rows"`
	Rows      []struct {
		ID  string   `json:"id"`
		Doc document `json:"doc"`
	} `json:"rows"`
}

func (c *Client) allDocs(
	ctx context.Context,
	db string,
	limit int,
) (*allDocsResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("include_docs", "true")

	var resp allDocsResponse
	if err := c.do(ctx, http.MethodGet, db+"/_all_docs", q, nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) firstDoc(ctx context.Context, db string) (document, error) {
	resp, err := c.allDocs(ctx, db, 1)
	if err != nil {
		return nil, err
	}

	if len(resp.Rows) == 0 || resp.Rows[0].Doc == nil {
		return nil, fmt.Errorf("%s: %w", db, errNoRows)
	}

	return resp.Rows[0].Doc, nil
}

func (c *Client) insertClone(ctx context.Context, db string) error {
	doc, err := c.firstDoc(ctx, db)
	if err != nil {
		return err
	}

	delete(doc, "_id")
	delete(doc, "_rev")

	return c.do(ctx, http.MethodPost, db, nil, doc, nil)
}

// bump increments a numeric field on the first document of db.
func (c *Client) bump(ctx context.Context, db, field string) error {
	doc, err := c.firstDoc(ctx, db)
	if err != nil {
		return err
	}

	id, _ := doc["_id"].(string)
	if id == "" {
		return fmt.Errorf("%s: first document has no _id", db)
	}

	n, _ := doc[field].(float64)
	doc[field] = n + 1

	return c.do(ctx, http.MethodPut, db+"/"+url.PathEscape(id), nil, doc, nil)
}

// do sends a JSON request and decodes a JSON response into out when out
// is not nil. Any status outside 2xx is an error.
func (c *Client) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	body, out any,
) error {
	u := c.base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}

		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(msg)),
		}
	}

	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)

		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}

	return nil
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Load implements store.Loader. It creates db when missing, writes the
// records through _bulk_docs and indexes the key field.
func (c *Client) Load(
	ctx context.Context,
	spec dataset.Spec,
	records []dataset.Record,
	opts store.LoadOptions,
) (int, error) {
	if err := c.ensureDB(ctx, spec.Name); err != nil {
		return 0, err
	}

	written := 0

	err := store.Batches(ctx, records, opts,
		func(_ int, batch []dataset.Record) error {
			docs := make([]document, 0, len(batch))
			for _, rec := range batch {
				key, ok := rec.Key(spec.KeyField)
				if !ok {
					return fmt.Errorf("missing key field %q", spec.KeyField)
				}

				doc := make(document, len(rec)+1)
				for k, v := range rec {
					doc[k] = v
				}
				doc["_id"] = key
				docs = append(docs, doc)
			}

			payload := map[string]any{"docs": docs}
			if err := c.do(ctx, http.MethodPost, spec.Name+"/_bulk_docs", nil, payload, nil); err != nil {
				return err
			}

			written += len(batch)

			return nil
		})
	if err != nil {
		return written, fmt.Errorf("load %s: %w", spec.Name, err)
	}

	if err := c.createIndex(ctx, spec.Name, spec.KeyField); err != nil {
		return written, err
	}

	return written, nil
}

func (c *Client) ensureDB(ctx context.Context, db string) error {
	err := c.do(ctx, http.MethodGet, db, nil, nil, nil)
	if err == nil {
		return nil
	}

	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		return fmt.Errorf("check database %s: %w", db, err)
	}

	if err := c.do(ctx, http.MethodPut, db, nil, nil, nil); err != nil {
		return fmt.Errorf("create database %s: %w", db, err)
	}

	return nil
}

func (c *Client) createIndex(ctx context.Context, db, field string) error {
	payload := map[string]any{
		"index": map[string]any{"fields": []string{field}},
		"name":  "idx_" + field,
		"type":  "json",
	}

	if err := c.do(ctx, http.MethodPost, db+"/_index", nil, payload, nil); err != nil {
		return fmt.Errorf("create index on %s(%s): %w", db, field, err)
	}

	return nil
}
