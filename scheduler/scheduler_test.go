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

package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinedeps/aggregator/engineerr"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestDownloadVerifiesChecksum(t *testing.T) {
	body := []byte("offline dependency transfer payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	outDir := t.TempDir()
	sched := New(srv.Client(), 2, nil)
	items := []Item{{
		ID:       "pkg-1.0.0",
		URL:      srv.URL,
		Filename: "pkg-1.0.0.tar.gz",
		Checksum: Checksum{Algo: "sha256", Hex: sha256Hex(body)},
		HasSum:   true,
	}}

	res := sched.Download(context.Background(), items, outDir, nil)
	require.Empty(t, res.Failed)
	require.Len(t, res.Success, 1)
	assert.Equal(t, int64(len(body)), res.Success[0].SizeBytes)

	got, err := os.ReadFile(filepath.Join(outDir, "pkg-1.0.0.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, body, got)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no .part temp file should remain after a clean download")
}

func TestDownloadChecksumMismatchRemovesTempFile(t *testing.T) {
	body := []byte("offline dependency transfer payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	outDir := t.TempDir()
	sched := New(srv.Client(), 1, nil)
	items := []Item{{
		ID:       "pkg-1.0.0",
		URL:      srv.URL,
		Filename: "pkg-1.0.0.tar.gz",
		Checksum: Checksum{Algo: "sha256", Hex: sha256Hex([]byte("a different payload entirely"))},
		HasSum:   true,
	}}

	res := sched.Download(context.Background(), items, outDir, nil)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, engineerr.ChecksumMismatch, res.Failed[0].Kind)
	assert.Empty(t, res.Success)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the mismatched temp file must be removed, not left as a .part")
}

// flakyHandler fails with a 503 on the first failCount requests to an
// item's URL, then serves body, letting a test pin the exact retry count
// the scheduler needs to survive.
func flakyHandler(t *testing.T, body []byte, failCount int) (*httptest.Server, *int32) {
	t.Helper()
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if int(n) <= failCount {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(body)
	}))
	return srv, &attempts
}

func TestDownloadRetriesTransientFailuresWithinBudget(t *testing.T) {
	body := []byte("payload after three 503s")
	srv, attempts := flakyHandler(t, body, 3)
	defer srv.Close()

	sched := New(srv.Client(), 1, nil)
	outDir := t.TempDir()
	items := []Item{{ID: "pkg", URL: srv.URL, Filename: "pkg.tar.gz"}}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res := sched.Download(ctx, items, outDir, nil)

	require.Empty(t, res.Failed)
	require.Len(t, res.Success, 1)
	assert.EqualValues(t, 4, atomic.LoadInt32(attempts), "3 failures + 1 success == maxRetries exhausted exactly at the budget")
}

func TestDownloadExhaustsRetryBudgetAsNetworkFailure(t *testing.T) {
	srv, attempts := flakyHandler(t, []byte("unreachable"), 4)
	defer srv.Close()

	sched := New(srv.Client(), 1, nil)
	outDir := t.TempDir()
	items := []Item{{ID: "pkg", URL: srv.URL, Filename: "pkg.tar.gz"}}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res := sched.Download(ctx, items, outDir, nil)

	require.Len(t, res.Failed, 1)
	assert.Equal(t, engineerr.NetworkFailure, res.Failed[0].Kind)
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(attempts)), maxRetries+1)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadCancellationLeavesNoTempFile(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		w.Write([]byte{0, 1, 2, 3})
		if flusher != nil {
			flusher.Flush()
		}
		<-block // hold the connection open until the test cancels ctx
	}))
	defer srv.Close()
	defer close(block)

	outDir := t.TempDir()
	sched := New(srv.Client(), 1, nil)
	items := []Item{{ID: "pkg", URL: srv.URL, Filename: "pkg.tar.gz"}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res := sched.Download(ctx, items, outDir, nil)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, engineerr.Cancelled, res.Failed[0].Kind)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "a cancelled download must leave no .part file behind")
}

type recordingSink struct {
	events []ProgressEvent
}

func (r *recordingSink) OnProgress(e ProgressEvent) {
	r.events = append(r.events, e)
}

func TestDownloadReportsFinalProgressEvent(t *testing.T) {
	body := make([]byte, 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	outDir := t.TempDir()
	sched := New(srv.Client(), 1, nil)
	items := []Item{{ID: "pkg", URL: srv.URL, Filename: "pkg.bin"}}
	sink := &recordingSink{}

	res := sched.Download(context.Background(), items, outDir, sink)
	require.Empty(t, res.Failed)
	require.NotEmpty(t, sink.events)
	last := sink.events[len(sink.events)-1]
	assert.Equal(t, float64(100), last.Percent)
	assert.EqualValues(t, len(body), last.DownloadedBytes)
}
