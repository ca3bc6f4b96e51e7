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
	"os"
	"sync"

	"github.com/cheggaaa/pb/v3"
)

// ConsoleSink renders one progress bar per item, lazily created on an
// item's first progress event, the way the teacher's benchmark tooling
// drives a single pb.ProgressBar per unit of work.
type ConsoleSink struct {
	mu   sync.Mutex
	bars map[string]*pb.ProgressBar
}

// NewConsoleSink creates a ConsoleSink writing to stderr.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{bars: make(map[string]*pb.ProgressBar)}
}

// OnProgress implements ProgressSink.
func (s *ConsoleSink) OnProgress(e ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bar, ok := s.bars[e.ItemID]
	if !ok {
		bar = pb.New64(e.TotalBytes)
		bar.Set(pb.Bytes, true)
		bar.SetWriter(os.Stderr)
		bar.Start()
		s.bars[e.ItemID] = bar
	}
	bar.SetCurrent(e.DownloadedBytes)
	if e.Percent >= 100 {
		bar.Finish()
	}
}
