package couchdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/crudbench/dataset"
	"github.com/weiihann/crudbench/store"
)

// fakeCouch is an in-memory stand-in for the subset of the CouchDB API
// the adapter uses.
type fakeCouch struct {
	mu      sync.Mutex
	dbs     map[string]map[string]document
	nextID  int
	indexes []string
	bulk    int
}

func newFakeCouch() *fakeCouch {
	return &fakeCouch{dbs: make(map[string]map[string]document)}
}

func (f *fakeCouch) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{db}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if _, ok := f.dbs[r.PathValue("db")]; !ok {
			http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{}`)
	})

	mux.HandleFunc("PUT /{db}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.dbs[r.PathValue("db")] = make(map[string]document)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"ok":true}`)
	})

	mux.HandleFunc("GET /{db}/_all_docs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		docs, ok := f.dbs[r.PathValue("db")]
		if !ok {
			http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		ids := make([]string, 0, len(docs))
		for id := range docs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if limit > 0 && len(ids) > limit {
			ids = ids[:limit]
		}

		type row struct {
			ID  string   `json:"id"`
			Doc document `json:"doc"`
		}
		rows := make([]row, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, row{ID: id, Doc: docs[id]})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total_rows": len(docs), "rows": rows,
		})
	})

	mux.HandleFunc("POST /{db}", func(w http.ResponseWriter, r *http.Request) {
		var doc document
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&doc))

		f.mu.Lock()
		defer f.mu.Unlock()

		_, hasID := doc["_id"]
		_, hasRev := doc["_rev"]
		assert.False(t, hasID || hasRev, "clone must drop _id and _rev")

		f.nextID++
		id := fmt.Sprintf("gen-%04d", f.nextID)
		doc["_id"] = id
		f.dbs[r.PathValue("db")][id] = doc
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"ok":true,"id":%q}`, id)
	})

	mux.HandleFunc("PUT /{db}/{id}", func(w http.ResponseWriter, r *http.Request) {
		var doc document
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&doc))

		f.mu.Lock()
		defer f.mu.Unlock()

		f.dbs[r.PathValue("db")][r.PathValue("id")] = doc
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"ok":true}`)
	})

	mux.HandleFunc("POST /{db}/_bulk_docs", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Docs []document `json:"docs"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		f.mu.Lock()
		defer f.mu.Unlock()

		f.bulk++
		for _, doc := range payload.Docs {
			f.dbs[r.PathValue("db")][doc["_id"].(string)] = doc
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `[]`)
	})

	mux.HandleFunc("POST /{db}/_index", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Name string `json:"name"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		f.mu.Lock()
		defer f.mu.Unlock()

		f.indexes = append(f.indexes, r.PathValue("db")+"/"+payload.Name)
		fmt.Fprint(w, `{"result":"created"}`)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "bench" || pass != "secret" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func newTestClient(t *testing.T, f *fakeCouch) *Client {
	t.Helper()

	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c, err := New(Config{
		URL:       srv.URL + "/",
		Username:  "bench",
		Password:  "secret",
		ScanLimit: 2,
	})
	require.NoError(t, err)

	return c
}

func seed(f *fakeCouch, db string, docs ...document) {
	f.dbs[db] = make(map[string]document)
	for _, d := range docs {
		f.dbs[db][d["_id"].(string)] = d
	}
}

func TestBindOperations(t *testing.T) {
	f := newFakeCouch()
	seed(f, "products",
		document{"_id": "1", "_rev": "1-a", "name": "shirt"},
		document{"_id": "2", "_rev": "1-b", "name": "jeans"},
		document{"_id": "3", "_rev": "1-c", "name": "socks"},
	)

	c := newTestClient(t, f)
	ctx := context.Background()

	ops, err := c.Bind(ctx, "products")
	require.NoError(t, err)

	require.NoError(t, ops.Read(ctx))
	require.NoError(t, ops.Scan(ctx))

	require.NoError(t, ops.Insert(ctx))
	assert.Len(t, f.dbs["products"], 4)
	assert.Equal(t, "shirt", f.dbs["products"]["gen-0001"]["name"])

	require.NoError(t, ops.Update(ctx))
	require.NoError(t, ops.Update(ctx))
	assert.Equal(t, 2.0, f.dbs["products"]["1"]["__bench_update"])
}

func TestBindEmptyDataset(t *testing.T) {
	f := newFakeCouch()
	seed(f, "sellers")

	_, err := newTestClient(t, f).Bind(context.Background(), "sellers")
	require.ErrorIs(t, err, store.ErrEmptyDataset)
}

func TestBindMissingDatabase(t *testing.T) {
	_, err := newTestClient(t, newFakeCouch()).Bind(context.Background(), "nope")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestBadCredentials(t *testing.T) {
	f := newFakeCouch()
	seed(f, "orders", document{"_id": "o1"})

	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, Username: "bench", Password: "wrong"})
	require.NoError(t, err)

	_, err = c.Bind(context.Background(), "orders")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
}

func TestAddToCart(t *testing.T) {
	f := newFakeCouch()
	seed(f, "products", document{"_id": "p1", "name": "shirt"})
	seed(f, "orders", document{"_id": "o1", "cart_items": 4.0})

	c := newTestClient(t, f)
	ctx := context.Background()

	op, err := c.AddToCart(ctx)
	require.NoError(t, err)

	require.NoError(t, op(ctx))
	assert.Equal(t, 5.0, f.dbs["orders"]["o1"]["cart_items"])
}

func TestAddToCartNeedsBothDatabases(t *testing.T) {
	f := newFakeCouch()
	seed(f, "orders", document{"_id": "o1"})

	_, err := newTestClient(t, f).AddToCart(context.Background())
	require.Error(t, err)
}

func TestAddToCartEmptyProducts(t *testing.T) {
	f := newFakeCouch()
	f.dbs["products"] = make(map[string]document)
	seed(f, "orders", document{"_id": "o1"})

	_, err := newTestClient(t, f).AddToCart(context.Background())
	require.ErrorIs(t, err, store.ErrEmptyDataset)
}

func TestLoad(t *testing.T) {
	f := newFakeCouch()
	c := newTestClient(t, f)

	spec, ok := dataset.Lookup("sellers")
	require.True(t, ok)

	recs := []dataset.Record{
		{"seller_id": "s1", "city": "campinas"},
		{"seller_id": "s2", "city": "rio"},
		{"seller_id": "s3", "city": nil},
	}

	n, err := c.Load(context.Background(), spec, recs, store.LoadOptions{BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	assert.Equal(t, 2, f.bulk)
	assert.Len(t, f.dbs["sellers"], 3)
	assert.Equal(t, "rio", f.dbs["sellers"]["s2"]["city"])
	assert.Equal(t, []string{"sellers/idx_seller_id"}, f.indexes)
}

func TestLoadExistingDatabase(t *testing.T) {
	f := newFakeCouch()
	seed(f, "products", document{"_id": "old"})
	c := newTestClient(t, f)

	spec, _ := dataset.Lookup("products")
	n, err := c.Load(context.Background(), spec,
		[]dataset.Record{{"id": int64(7)}}, store.LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Len(t, f.dbs["products"], 2)
	assert.Contains(t, f.dbs["products"], "7")
}
