// Package lookuptest provides an in-process stand-in for the search service.
package lookuptest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Request is what the server saw for one search call
type Request struct {
	Method          string
	Path            string
	ContentEncoding string
	Authorization   string
	Body            map[string]interface{}
}

// Server answers match queries on one index/field from a fixed set of hits
type Server struct {
	*httptest.Server

	Index string
	Field string

	mu       sync.Mutex
	hits     map[string]map[string]interface{}
	failures []int
	requests []Request
}

// NewServer starts a server. hits maps a field value to the _source returned for it.
func NewServer(index, field string, hits map[string]map[string]interface{}) *Server {
	s := &Server{
		Index: index,
		Field: field,
		hits:  hits,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// FailNext makes the next len(statuses) requests answer with the given statuses
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// Requests returns the requests received so far
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// QueriedValues returns the match value of every request, in arrival order
func (s *Server) QueriedValues() []string {
	var values []string
	for _, r := range s.Requests() {
		values = append(values, fmt.Sprint(matchValue(r.Body, s.Field)))
	}
	return values
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	req, err := readRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	var status int
	if len(s.failures) > 0 {
		status, s.failures = s.failures[0], s.failures[1:]
	}
	s.mu.Unlock()

	if status != 0 {
		writeError(w, status, "test_failure", http.StatusText(status))
		return
	}

	if r.Method != http.MethodPost || r.URL.Path != "/"+s.Index+"/_search" {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+r.URL.Path+"]")
		return
	}

	hits := []interface{}{}
	if source, ok := s.hits[fmt.Sprint(matchValue(req.Body, s.Field))]; ok {
		hits = append(hits, map[string]interface{}{
			"_index":  s.Index,
			"_id":     "1",
			"_score":  1.0,
			"_source": source,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"took":      1,
		"timed_out": false,
		"hits": map[string]interface{}{
			"total": map[string]interface{}{"value": len(hits), "relation": "eq"},
			"hits":  hits,
		},
	})
}

func readRequest(r *http.Request) (Request, error) {
	req := Request{
		Method:          r.Method,
		Path:            r.URL.Path,
		ContentEncoding: r.Header.Get("Content-Encoding"),
		Authorization:   r.Header.Get("Authorization"),
	}

	var body io.Reader = r.Body
	if req.ContentEncoding == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return req, err
		}
		defer zr.Close()
		body = zr
	}
	if err := json.NewDecoder(body).Decode(&req.Body); err != nil {
		return req, err
	}
	return req, nil
}

func matchValue(body map[string]interface{}, field string) interface{} {
	query, _ := body["query"].(map[string]interface{})
	match, _ := query["match"].(map[string]interface{})
	return match[field]
}

func writeError(w http.ResponseWriter, status int, errType, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  map[string]interface{}{"type": errType, "reason": reason},
		"status": status,
	})
}
