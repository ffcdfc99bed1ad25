// Package webstoretest provides catalog and package server fixtures for tests.
package webstoretest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
)

// Row builds a positional catalog row with the given id and user count display string
func Row(id, users string) []interface{} {
	row := make([]interface{}, 24)
	row[0] = id
	row[1] = "Extension " + id
	row[2] = "dev-" + id
	row[6] = "Description of " + id
	row[9] = "productivity"
	row[10] = "tools"
	row[11] = "https://chrome.google.com/webstore/detail/" + id
	row[12] = 4.5
	row[22] = 128
	row[23] = users
	return row
}

// PageBody renders rows and cursor in the catalog wire format, prefix included
func PageBody(rows []interface{}, token string) []byte {
	listing := []interface{}{"getitemsresponse", rows, nil, nil, token}
	root := []interface{}{[]interface{}{"wrapper", listing}}
	data, err := json.Marshal(root)
	if err != nil {
		panic(err)
	}
	return append([]byte(")]}'\n"), data...)
}

// CatalogServer serves pages keyed by the request's token parameter ("" for the first page)
type CatalogServer struct {
	*httptest.Server

	mu       sync.Mutex
	pages    map[string][]byte
	requests []string
}

// NewCatalogServer starts a server answering POSTs with the registered pages
func NewCatalogServer() *CatalogServer {
	cs := &CatalogServer{pages: make(map[string][]byte)}
	cs.Server = httptest.NewServer(http.HandlerFunc(cs.handle))
	return cs
}

// SetPage registers the body returned for token
func (cs *CatalogServer) SetPage(token string, body []byte) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.pages[token] = body
}

// Requests returns the tokens requested so far, in order
func (cs *CatalogServer) Requests() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]string(nil), cs.requests...)
}

func (cs *CatalogServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := r.URL.Query().Get("token")

	cs.mu.Lock()
	cs.requests = append(cs.requests, token)
	body, ok := cs.pages[token]
	cs.mu.Unlock()

	if !ok {
		http.Error(w, "unknown token", http.StatusNotFound)
		return
	}
	_, _ = w.Write(body)
}

// ArchiveServer serves package bytes keyed by extension id and counts hits
type ArchiveServer struct {
	*httptest.Server

	mu       sync.Mutex
	archives map[string][]byte
	status   map[string]int
	hits     atomic.Int64
}

// NewArchiveServer starts a server answering download requests
func NewArchiveServer() *ArchiveServer {
	as := &ArchiveServer{
		archives: make(map[string][]byte),
		status:   make(map[string]int),
	}
	as.Server = httptest.NewServer(http.HandlerFunc(as.handle))
	return as
}

// SetArchive registers the bytes returned for id
func (as *ArchiveServer) SetArchive(id string, data []byte) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.archives[id] = data
}

// SetStatus forces id to be answered with the given status code
func (as *ArchiveServer) SetStatus(id string, code int) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.status[id] = code
}

// Hits returns the number of download requests served
func (as *ArchiveServer) Hits() int {
	return int(as.hits.Load())
}

func (as *ArchiveServer) handle(w http.ResponseWriter, r *http.Request) {
	as.hits.Add(1)

	x := r.URL.Query().Get("x")
	if !strings.HasPrefix(x, "id=") || !strings.HasSuffix(x, "&uc") {
		http.Error(w, "bad x parameter", http.StatusBadRequest)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(x, "id="), "&uc")

	as.mu.Lock()
	code, forced := as.status[id]
	data, ok := as.archives[id]
	as.mu.Unlock()

	switch {
	case forced:
		http.Error(w, http.StatusText(code), code)
	case !ok:
		http.NotFound(w, r)
	default:
		w.Header().Set("Content-Type", "application/x-chrome-extension")
		_, _ = w.Write(data)
	}
}
