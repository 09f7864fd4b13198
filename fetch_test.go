/*
Copyright © 2020 the PopCount authors.
This file is part of PopCount.

PopCount is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

PopCount is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with PopCount.  If not, see <http://www.gnu.org/licenses/>.*/

package popcount

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testServer(hits *int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt64(hits, 1)
		}
		switch r.URL.Path {
		case "/data":
			w.Header().Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
			w.Write([]byte("raster bytes"))
		case "/nodate":
			w.Write([]byte("raster bytes"))
		case "/missing":
			http.NotFound(w, r)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
}

func TestHTTPFetcherFetch(t *testing.T) {
	srv := testServer(nil)
	defer srv.Close()
	f := &HTTPFetcher{Client: srv.Client()}
	ctx := context.Background()

	r, err := f.Fetch(ctx, srv.URL+"/data")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "raster bytes" {
		t.Errorf("got body %q", b)
	}
}

func TestHTTPFetcherNotFound(t *testing.T) {
	srv := testServer(nil)
	defer srv.Close()
	f := &HTTPFetcher{Client: srv.Client()}

	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	if !errors.Is(err, ErrDatasetNotFound) {
		t.Errorf("want ErrDatasetNotFound; got %v", err)
	}
}

func TestHTTPFetcherTransportError(t *testing.T) {
	srv := testServer(nil)
	defer srv.Close()
	f := &HTTPFetcher{Client: srv.Client()}

	_, err := f.Fetch(context.Background(), srv.URL+"/error")
	var transErr *TransportError
	if !errors.As(err, &transErr) {
		t.Fatalf("want *TransportError; got %v", err)
	}
	if transErr.Status == "" {
		t.Error("transport error is missing the HTTP status")
	}

	// A server that cannot be reached at all.
	unreachable := &HTTPFetcher{}
	_, err = unreachable.Fetch(context.Background(), "http://127.0.0.1:1/raster.tif")
	if !errors.As(err, &transErr) {
		t.Errorf("want *TransportError; got %v", err)
	}
}

func TestHTTPFetcherLastModified(t *testing.T) {
	srv := testServer(nil)
	defer srv.Close()
	f := &HTTPFetcher{Client: srv.Client()}
	ctx := context.Background()

	got, err := f.LastModified(ctx, srv.URL+"/data")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2015, 10, 21, 7, 28, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// A missing header is not an error, just an unknown timestamp.
	got, err = f.LastModified(ctx, srv.URL+"/nodate")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("got %v, want zero time", got)
	}
}

func TestProbeLastModifiedDegrades(t *testing.T) {
	srv := testServer(nil)
	defer srv.Close()
	f := &HTTPFetcher{Client: srv.Client()}
	ctx := context.Background()

	if _, ok := ProbeLastModified(ctx, f, srv.URL+"/error"); ok {
		t.Error("probe of a failing URL must degrade, not succeed")
	}
	if _, ok := ProbeLastModified(ctx, f, srv.URL+"/nodate"); ok {
		t.Error("probe without a Last-Modified header must degrade")
	}
	if _, ok := ProbeLastModified(ctx, f, srv.URL+"/data"); !ok {
		t.Error("probe of a dated URL failed")
	}
}

func TestCachingFetcher(t *testing.T) {
	var hits int64
	srv := testServer(&hits)
	defer srv.Close()
	c := NewCachingFetcher(&HTTPFetcher{Client: srv.Client()}, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r, err := c.Fetch(ctx, srv.URL+"/data")
		if err != nil {
			t.Fatal(err)
		}
		b, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != "raster bytes" {
			t.Errorf("fetch %d: got body %q", i, b)
		}
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
}
