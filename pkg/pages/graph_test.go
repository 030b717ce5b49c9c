package pages

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"shopbot/pkg/errkind"
)

func TestLookupFound(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		if r.URL.Path != "/123_456" || r.URL.Query().Get("fields") != "id" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"123_456"}`))
	}))
	defer srv.Close()

	g := NewGraphLookup(Options{BaseURL: srv.URL, AccessToken: "tok", PageIDs: []string{"123"}})
	id, err := g.Lookup(context.Background(), "123_456")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if id != "123_456" {
		t.Fatalf("id = %q", id)
	}
	if got, _ := auth.Load().(string); got != "Bearer tok" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestLookupUnknownPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Unsupported get request.","type":"GraphMethodException","code":100}}`))
	}))
	defer srv.Close()

	g := NewGraphLookup(Options{BaseURL: srv.URL, AccessToken: "tok"})
	if _, err := g.Lookup(context.Background(), "123_456"); !errkind.Is(err, errkind.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestLookupServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGraphLookup(Options{BaseURL: srv.URL, AccessToken: "tok"})
	if _, err := g.Lookup(context.Background(), "123_456"); !errkind.Is(err, errkind.TransientIO) {
		t.Fatalf("expected TransientIO, got %v", err)
	}
}

func TestLookupForeignPageSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	g := NewGraphLookup(Options{BaseURL: srv.URL, AccessToken: "tok", PageIDs: []string{"999"}})
	if _, err := g.Lookup(context.Background(), "123_456"); !errkind.Is(err, errkind.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := g.Lookup(context.Background(), "nounderscore"); !errkind.Is(err, errkind.NotFound) {
		t.Fatalf("malformed id should be NotFound, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("no request expected, got %d", calls.Load())
	}
}

func TestLookupOffline(t *testing.T) {
	g := NewGraphLookup(Options{BaseURL: "http://127.0.0.1:1", PageIDs: []string{"123"}})
	id, err := g.Lookup(context.Background(), "123_456")
	if err != nil || id != "123_456" {
		t.Fatalf("offline lookup = %q, %v", id, err)
	}
}
