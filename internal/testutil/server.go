// Package testutil serves deterministic fixtures for transfer tests.
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// Payload returns n deterministic bytes.
func Payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i*31 + i/251) % 251)
	}
	return b
}

type Upload struct {
	Fields map[string]string
	Files  map[string][]byte
}

// Fixture is an HTTP server over one payload:
//
//	/file      ranged GET and HEAD
//	/nolength  HEAD without Content-Length
//	/norange   ignores Range and answers 200 with everything
//	/broken    answers 500 to every range except the first
//	/short     truncates every range by one byte
//	/slow      sends one chunk per range, then holds the connection open
//	/missing   404
//	/upload    multipart sink
//	/binary    raw body sink answering "<length> <content type> <X-Filename>"
type Fixture struct {
	*httptest.Server
	Data []byte

	mu      sync.Mutex
	ranges  []string
	uploads []Upload

	gets      atomic.Int32
	heads     atomic.Int32
	slowOpen  chan struct{}
	slowCount atomic.Int32
}

func NewFixture(t testing.TB, data []byte) *Fixture {
	f := &Fixture{Data: data, slowOpen: make(chan struct{}, 64)}
	r := chi.NewRouter()
	r.Use(f.count)
	r.Get("/file", f.serveFile)
	r.Head("/file", f.serveFile)
	r.Get("/nolength", f.serveFile)
	r.Head("/nolength", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/norange", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
		w.Write(f.Data)
	})
	r.Head("/norange", f.head)
	r.Get("/broken", func(w http.ResponseWriter, r *http.Request) {
		if rng := r.Header.Get("Range"); rng != "" && !strings.HasPrefix(rng, "bytes=0-") {
			http.Error(w, "fragment unavailable", http.StatusInternalServerError)
			return
		}
		f.serveFile(w, r)
	})
	r.Head("/broken", f.head)
	r.Get("/short", func(w http.ResponseWriter, r *http.Request) {
		start, end, ok := parseRange(r.Header.Get("Range"), len(f.Data))
		if !ok {
			f.serveFile(w, r)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(f.Data)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(f.Data[start:end])
	})
	r.Head("/short", f.head)
	r.Get("/slow", func(w http.ResponseWriter, r *http.Request) {
		start, end, ok := parseRange(r.Header.Get("Range"), len(f.Data))
		if !ok {
			start, end = 0, len(f.Data)-1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(f.Data)))
		w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(f.Data[start : start+1])
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		f.slowCount.Add(1)
		f.slowOpen <- struct{}{}
		select {
		case <-r.Context().Done():
		case <-time.After(30 * time.Second):
		}
	})
	r.Head("/slow", f.head)
	r.Head("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	r.Post("/upload", f.upload)
	r.Post("/binary", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, "%d %s %s", len(body), r.Header.Get("Content-Type"), r.Header.Get("X-Filename"))
	})

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

func (f *Fixture) URL(path string) string {
	return f.Server.URL + path
}

func (f *Fixture) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			f.gets.Add(1)
			if rng := r.Header.Get("Range"); rng != "" {
				f.mu.Lock()
				f.ranges = append(f.ranges, rng)
				f.mu.Unlock()
			}
		case http.MethodHead:
			f.heads.Add(1)
		}
		next.ServeHTTP(w, r)
	})
}

func (f *Fixture) head(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusOK)
}

func (f *Fixture) serveFile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("ETag", `"fixture"`)
	http.ServeContent(w, r, "payload.bin", time.Time{}, bytes.NewReader(f.Data))
}

func (f *Fixture) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	up := Upload{Fields: map[string]string{}, Files: map[string][]byte{}}
	for k, v := range r.MultipartForm.Value {
		up.Fields[k] = v[0]
	}
	for name, headers := range r.MultipartForm.File {
		file, err := headers[0].Open()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		file.Close()
		up.Files[name] = data
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, up)
	f.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte("stored"))
}

// Ranges returns every Range header received, in arrival order.
func (f *Fixture) Ranges() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ranges...)
}

func (f *Fixture) Uploads() []Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Upload(nil), f.uploads...)
}

func (f *Fixture) Gets() int  { return int(f.gets.Load()) }
func (f *Fixture) Heads() int { return int(f.heads.Load()) }

// WaitSlow blocks until n /slow requests have sent their first byte.
func (f *Fixture) WaitSlow(t testing.TB, n int) {
	t.Helper()
	for range n {
		select {
		case <-f.slowOpen:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d slow requests arrived", f.slowCount.Load())
		}
	}
}

func parseRange(header string, size int) (start, end int, ok bool) {
	if header == "" {
		return 0, 0, false
	}
	var s, e int
	if n, _ := fmt.Sscanf(header, "bytes=%d-%d", &s, &e); n != 2 {
		return 0, 0, false
	}
	if e >= size {
		e = size - 1
	}
	return s, e, true
}
