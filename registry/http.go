// Copyright 2023 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package registry implements one HTTP client per ecosystem (PyPI, Conda,
npm, Maven, YUM, APT, APK, OCI), each implementing resolve.Client plus
Candidates and FetchBlob over a shared, connection-pooled, per-host
rate-limited HTTP layer.
*/
package registry

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	// MetadataTimeout bounds a single metadata request.
	MetadataTimeout = 30 * time.Second
	// BlobTimeout bounds a single blob download.
	BlobTimeout = 300 * time.Second

	userAgent = "offlinedeps-aggregator/1.0"

	connectionsPerHost = 16
)

// HTTPClient is the shared transport every ecosystem client is built on:
// one connection pool (capped per host) and one token-bucket rate
// limiter per host, so a slow or unfriendly registry can't starve
// requests to others.
type HTTPClient struct {
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// RequestsPerSecond is the default per-host rate; zero disables
	// limiting.
	RequestsPerSecond float64
}

// NewHTTPClient creates an HTTPClient pooling up to connectionsPerHost
// connections per host and rate limiting at rps requests/second/host
// (0 disables limiting).
func NewHTTPClient(rps float64) *HTTPClient {
	transport := &http.Transport{
		MaxConnsPerHost:     connectionsPerHost,
		MaxIdleConnsPerHost: connectionsPerHost,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
	}
	return &HTTPClient{
		client:            &http.Client{Transport: transport},
		limiters:          make(map[string]*rate.Limiter),
		RequestsPerSecond: rps,
	}
}

func (c *HTTPClient) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		burst := int(c.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), burst)
		c.limiters[host] = l
	}
	return l
}

// Do issues req, honoring the given timeout and the per-host rate limiter,
// after setting the shared User-Agent header.
func (c *HTTPClient) Do(ctx context.Context, req *http.Request, timeout time.Duration) (*http.Response, error) {
	if c.RequestsPerSecond > 0 {
		if err := c.limiter(req.URL.Host).Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter")
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "http request")
	}
	// The caller's Close of resp.Body releases cancel via the wrapped
	// context; wrap Body so cancel always fires once consumed.
	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// GetMetadata issues a GET to url with the metadata timeout and returns
// the response, which the caller must close.
func (c *HTTPClient) GetMetadata(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req, MetadataTimeout)
}

// GetBlob issues a GET to url with the blob timeout and returns the
// response, which the caller must close.
func (c *HTTPClient) GetBlob(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req, BlobTimeout)
}

type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
