// Copyright 2025 Google LLC
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
Package scheduler downloads a batch of artifacts under a bounded
concurrency cap, verifying each against its declared checksum and
retrying transient failures with jittered backoff, the way deps.dev's
own artifact-backfill tooling streams and checksums blobs one worker at
a time.
*/
package scheduler

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/offlinedeps/aggregator/artifact"
	"github.com/offlinedeps/aggregator/engineerr"
)

// Checksum is an alias for artifact.Checksum, so callers can pass an
// engine-selected Artifact's checksum straight through to an Item.
type Checksum = artifact.Checksum

func (c Checksum) newHash() (hash.Hash, error) {
	switch c.Algo {
	case "", "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "md5":
		return md5.New(), nil
	default:
		return nil, errors.Errorf("unsupported checksum algorithm %q", c.Algo)
	}
}

// Item is a single artifact to fetch.
type Item struct {
	ID       string // correlation id surfaced on ProgressEvent and in results
	URL      string
	Filename string // written under the batch's output directory
	Checksum Checksum
	HasSum   bool
}

// ProgressEvent reports a single item's transfer state, emitted no more
// often than every 300ms per item.
type ProgressEvent struct {
	ItemID          string
	DownloadedBytes int64
	TotalBytes      int64
	Percent         float64
	BytesPerSecond  float64
}

// ProgressSink receives ProgressEvent callbacks from concurrent download
// streams; implementations must be safe for concurrent use.
type ProgressSink interface {
	OnProgress(ProgressEvent)
}

// NopSink discards progress events.
type NopSink struct{}

// OnProgress implements ProgressSink.
func (NopSink) OnProgress(ProgressEvent) {}

// Success records a completed, verified download.
type Success struct {
	ItemID    string
	FilePath  string
	SizeBytes int64
}

// Failure records a terminal per-item failure.
type Failure struct {
	ItemID string
	Kind   engineerr.Kind
	Err    error
}

// Result is the outcome of a Download call.
type Result struct {
	Success    []Success
	Failed     []Failure
	TotalBytes int64
}

const (
	maxRetries     = 3
	retryBaseDelay = 500 * time.Millisecond
	retryCapDelay  = 8 * time.Second
	progressPeriod = 300 * time.Millisecond
)

// Scheduler downloads artifact batches under a bounded concurrency cap.
type Scheduler struct {
	HTTP        *http.Client
	Concurrency int
	Log         logrus.FieldLogger
}

// New creates a Scheduler with the given concurrency cap (default 6 if
// concurrency <= 0).
func New(httpClient *http.Client, concurrency int, log logrus.FieldLogger) *Scheduler {
	if concurrency <= 0 {
		concurrency = 6
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{HTTP: httpClient, Concurrency: concurrency, Log: log}
}

// Download fetches every item into outputDir, never aborting the whole
// batch on a single item's failure; it returns partial results plus the
// full failure list.
func (s *Scheduler) Download(ctx context.Context, items []Item, outputDir string, sink ProgressSink) Result {
	if sink == nil {
		sink = NopSink{}
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		res := Result{}
		for _, it := range items {
			res.Failed = append(res.Failed, Failure{ItemID: it.ID, Kind: engineerr.ConfigError, Err: err})
		}
		return res
	}

	sem := semaphore.NewWeighted(int64(s.Concurrency))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var totalBytes int64
	result := Result{}

	for _, it := range items {
		it := it
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Failed = append(result.Failed, Failure{ItemID: it.ID, Kind: engineerr.Cancelled, Err: err})
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			sz, err := s.downloadOne(ctx, it, outputDir, sink)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				kind, _ := engineerr.KindOf(err)
				result.Failed = append(result.Failed, Failure{ItemID: it.ID, Kind: kind, Err: err})
				return
			}
			atomic.AddInt64(&totalBytes, sz)
			result.Success = append(result.Success, Success{ItemID: it.ID, FilePath: filepath.Join(outputDir, it.Filename), SizeBytes: sz})
		}()
	}
	wg.Wait()
	result.TotalBytes = totalBytes
	return result
}

// downloadOne streams a single item to disk with retry/backoff, reporting
// progress and verifying its checksum.
func (s *Scheduler) downloadOne(ctx context.Context, it Item, outputDir string, sink ProgressSink) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			s.Log.WithField("itemId", it.ID).WithField("attempt", attempt).Debug("retrying download")
			select {
			case <-ctx.Done():
				return 0, engineerr.New(engineerr.Cancelled, "download", it.ID, ctx.Err())
			case <-time.After(delay):
			}
		}
		sz, err := s.attempt(ctx, it, outputDir, sink)
		if err == nil {
			return sz, nil
		}
		lastErr = err
		kind, _ := engineerr.KindOf(err)
		if kind != engineerr.Transient {
			return 0, err
		}
	}
	return 0, engineerr.Newf(engineerr.NetworkFailure, "download", it.ID, "exhausted %d retries: %v", maxRetries, lastErr)
}

// backoffDelay computes exponential backoff with a cap and full jitter.
func backoffDelay(attempt int) time.Duration {
	exp := retryBaseDelay << uint(attempt-1)
	if exp > retryCapDelay {
		exp = retryCapDelay
	}
	return time.Duration(rand.Int63n(int64(exp) + 1))
}

func (s *Scheduler) attempt(ctx context.Context, it Item, outputDir string, sink ProgressSink) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, it.URL, nil)
	if err != nil {
		return 0, engineerr.New(engineerr.ConfigError, "download", it.ID, err)
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, engineerr.New(engineerr.Cancelled, "download", it.ID, ctx.Err())
		}
		return 0, engineerr.New(engineerr.Transient, "download", it.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return 0, engineerr.Newf(engineerr.Transient, "download", it.ID, "server error: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return 0, engineerr.Newf(engineerr.ProtocolError, "download", it.ID, "fetch failed: %s", resp.Status)
	}

	total := resp.ContentLength

	dest := filepath.Join(outputDir, it.Filename)
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, engineerr.New(engineerr.ConfigError, "download", it.ID, err)
	}
	removeTmp := true
	defer func() {
		f.Close()
		if removeTmp {
			os.Remove(tmp)
		}
	}()

	var h hash.Hash
	if it.HasSum {
		h, err = it.Checksum.newHash()
		if err != nil {
			return 0, engineerr.New(engineerr.ConfigError, "download", it.ID, err)
		}
	}

	var written int64
	var lastReport time.Time
	lastReportBytes := int64(0)
	reportStart := time.Now()
	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return 0, engineerr.New(engineerr.Cancelled, "download", it.ID, ctx.Err())
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return 0, engineerr.New(engineerr.Transient, "download", it.ID, werr)
			}
			if h != nil {
				h.Write(buf[:n])
			}
			written += int64(n)
			if now := time.Now(); now.Sub(lastReport) >= progressPeriod {
				elapsed := now.Sub(reportStart).Seconds()
				bps := float64(0)
				if elapsed > 0 {
					bps = float64(written-lastReportBytes) / now.Sub(lastReport).Seconds()
				}
				pct := float64(0)
				if total > 0 {
					pct = float64(written) / float64(total) * 100
				}
				sink.OnProgress(ProgressEvent{
					ItemID:          it.ID,
					DownloadedBytes: written,
					TotalBytes:      total,
					Percent:         pct,
					BytesPerSecond:  bps,
				})
				lastReport = now
				lastReportBytes = written
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return 0, engineerr.New(engineerr.Transient, "download", it.ID, rerr)
		}
	}
	sink.OnProgress(ProgressEvent{ItemID: it.ID, DownloadedBytes: written, TotalBytes: total, Percent: 100, BytesPerSecond: 0})

	if h != nil {
		got := hex.EncodeToString(h.Sum(nil))
		if got != it.Checksum.Hex {
			return 0, engineerr.Newf(engineerr.ChecksumMismatch, "download", it.ID, "checksum mismatch: want %s got %s", it.Checksum.Hex, got)
		}
	}
	if err := f.Close(); err != nil {
		return 0, engineerr.New(engineerr.Transient, "download", it.ID, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return 0, engineerr.New(engineerr.ConfigError, "download", it.ID, err)
	}
	removeTmp = false
	return written, nil
}
