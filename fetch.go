/*
Copyright © 2019 the PopCount authors.
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
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ctessum/requestcache"
)

func init() {
	// Fetched resources pass through the disk cache as raw bytes.
	gob.Register([]byte{})
}

// A Fetcher retrieves remote resources. It is the only capability the
// pipeline has for reaching the network, so the rest of the system can
// be tested with canned in-memory datasets.
type Fetcher interface {
	// Fetch retrieves the resource at url. The caller must close the
	// returned reader.
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)

	// LastModified reports the resource's last-modification time,
	// if the transport exposes one.
	LastModified(ctx context.Context, url string) (time.Time, error)
}

// HTTPFetcher retrieves resources over HTTP(S): GET for bulk data and
// HEAD for timestamp probes.
type HTTPFetcher struct {
	// Client is the HTTP client to use. If nil, http.DefaultClient
	// is used.
	Client *http.Client

	// ProbeTimeout bounds timestamp probes (HEAD requests). Bulk
	// fetches are not subject to it. The default is 10 seconds.
	ProbeTimeout time.Duration
}

func (f *HTTPFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// Fetch implements Fetcher. A 404 or 410 response is reported as
// ErrDatasetNotFound; other non-2xx responses and transport failures
// are *TransportError.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, fmt.Errorf("popcount: %s: %w", url, ErrDatasetNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, &TransportError{URL: url, Status: resp.Status}
	}
	return resp.Body, nil
}

// LastModified implements Fetcher using a HEAD request with a short
// deadline.
func (f *HTTPFetcher) LastModified(ctx context.Context, url string) (time.Time, error) {
	timeout := f.ProbeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return time.Time{}, &TransportError{URL: url, Err: err}
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return time.Time{}, &TransportError{URL: url, Err: err}
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return time.Time{}, &TransportError{URL: url, Status: resp.Status}
	}
	lm := resp.Header.Get("Last-Modified")
	if lm == "" {
		return time.Time{}, nil
	}
	t, err := http.ParseTime(lm)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

// CachingFetcher wraps another Fetcher, de-duplicating concurrent
// requests and caching results in memory and on disk so that repeated
// runs against the same country do not re-download the raster.
type CachingFetcher struct {
	fetcher Fetcher
	cache   *requestcache.Cache
}

// NewCachingFetcher wraps f with a cache. If dir is non-empty, fetched
// resources are also cached on disk in that directory.
func NewCachingFetcher(f Fetcher, dir string) *CachingFetcher {
	process := func(ctx context.Context, payload interface{}) (interface{}, error) {
		url := payload.(string)
		r, err := f.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	cachefuncs := []requestcache.CacheFunc{requestcache.Deduplicate(), requestcache.Memory(1)}
	if dir != "" {
		cachefuncs = append(cachefuncs,
			requestcache.Disk(dir, requestcache.MarshalGob, requestcache.UnmarshalGob))
	}
	return &CachingFetcher{
		fetcher: f,
		cache:   requestcache.NewCache(process, 1, cachefuncs...),
	}
}

// Fetch implements Fetcher.
func (c *CachingFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	r := c.cache.NewRequest(ctx, url, cacheKey(url))
	result, err := r.Result()
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(result.([]byte))), nil
}

// LastModified implements Fetcher. Timestamp probes are cheap and
// their results time-varying, so they are never cached.
func (c *CachingFetcher) LastModified(ctx context.Context, url string) (time.Time, error) {
	return c.fetcher.LastModified(ctx, url)
}

// cacheKey converts a URL to a key that is safe to use as a file name.
func cacheKey(url string) string {
	b := []byte(url)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '-', c == '_':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
