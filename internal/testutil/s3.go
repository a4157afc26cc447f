package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
)

// S3Fixture is a path-style S3 endpoint serving GetObject and HeadObject
// from memory. Keys are "bucket/key".
type S3Fixture struct {
	*httptest.Server
	Client *s3.Client
}

func NewS3Fixture(t testing.TB, objects map[string][]byte) *S3Fixture {
	r := chi.NewRouter()
	serve := func(w http.ResponseWriter, r *http.Request) {
		data, ok := objects[chi.URLParam(r, "bucket")+"/"+chi.URLParam(r, "*")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"etag-1"`)
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}
	r.Get("/{bucket}/*", serve)
	r.Head("/{bucket}/*", serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &S3Fixture{
		Server: srv,
		Client: s3.New(s3.Options{
			Region:       "us-east-1",
			BaseEndpoint: aws.String(srv.URL),
			UsePathStyle: true,
			Credentials:  aws.AnonymousCredentials{},
		}),
	}
}
