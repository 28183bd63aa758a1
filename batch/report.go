// Copyright 2026 The HiDock Next Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package batch

import (
	"os"
	"time"

	"github.com/samber/lo"
	"github.com/sgeraldes/hidock-next-sub003"
)

// Outcome is how one file settled.
type Outcome string

const (
	OutcomeDownloaded Outcome = "downloaded"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// FileResult is the per-file record of a run.
type FileResult struct {
	Err           error
	Name          string
	Outcome       Outcome
	Status        jensen.TransferStatus
	Length        int64
	BytesReceived int64
	Elapsed       time.Duration
	Attempts      int
}

// Mismatch is a listed file whose local copy is missing or the wrong size.
type Mismatch struct {
	Name     string
	Expected int64
	Actual   int64
	Missing  bool
}

// Report summarizes a batch run.
type Report struct {
	Files        []FileResult
	Mismatches   []Mismatch
	Listed       int
	Elapsed      time.Duration
	ListComplete bool
}

// Downloaded returns the files fetched in this run.
func (r *Report) Downloaded() []FileResult {
	return r.byOutcome(OutcomeDownloaded)
}

// Skipped returns the files already present.
func (r *Report) Skipped() []FileResult {
	return r.byOutcome(OutcomeSkipped)
}

// Failed returns the files that could not be downloaded.
func (r *Report) Failed() []FileResult {
	return r.byOutcome(OutcomeFailed)
}

func (r *Report) byOutcome(o Outcome) []FileResult {
	return lo.Filter(r.Files, func(f FileResult, _ int) bool { return f.Outcome == o })
}

// BytesDownloaded sums the lengths of downloaded files.
func (r *Report) BytesDownloaded() int64 {
	return lo.SumBy(r.Downloaded(), func(f FileResult) int64 { return f.Length })
}

// OK is true when every listed file was handled and verified.
func (r *Report) OK() bool {
	return len(r.Failed()) == 0 && len(r.Mismatches) == 0 && len(r.Files) == r.Listed
}

// Verify compares each listed file against its copy in dir.
func Verify(dir string, files []jensen.FileInfo) []Mismatch {
	var out []Mismatch
	for _, f := range files {
		path, err := localPath(dir, f.Name)
		if err != nil {
			out = append(out, Mismatch{Name: f.Name, Expected: f.Length, Missing: true})
			continue
		}
		info, err := os.Stat(path)
		switch {
		case err != nil:
			out = append(out, Mismatch{Name: f.Name, Expected: f.Length, Missing: true})
		case info.Size() != f.Length:
			out = append(out, Mismatch{Name: f.Name, Expected: f.Length, Actual: info.Size()})
		}
	}
	return out
}
