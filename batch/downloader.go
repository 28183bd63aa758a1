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

// Package batch downloads every recording on a HiDock into a directory,
// retrying individual files and verifying the result against the device's
// file list.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sgeraldes/hidock-next-sub003"
)

// FailureLogName is written to the output directory when any file fails.
const FailureLogName = "failed_downloads.log"

// ProgressFunc reports per-file progress.
type ProgressFunc func(name string, received, total int64)

// Config controls a batch run.
type Config struct {
	// Progress, if set, receives per-file byte progress.
	Progress ProgressFunc
	// OnFile, if set, is called after each file settles.
	OnFile func(FileResult)
	// OutputDir receives one file per recording; it is created if missing.
	OutputDir string
	// Policy is the per-file retry policy.
	Policy jensen.DownloadPolicy
	// ListTimeout bounds ListFiles; zero uses the device default.
	ListTimeout time.Duration
	// SkipExisting skips files already present with the device-reported size.
	SkipExisting bool
}

// DefaultConfig downloads into dir with the default retry policy.
func DefaultConfig(dir string) Config {
	return Config{
		OutputDir: dir,
		Policy:    jensen.DefaultDownloadPolicy(),
	}
}

// Device is the subset of *jensen.Device a batch run needs.
type Device interface {
	ListFiles(ctx context.Context, timeout time.Duration) (*jensen.FileList, error)
	Fetcher
}

// Fetcher streams one file with retries.
type Fetcher interface {
	DownloadWithRetry(ctx context.Context, req jensen.DownloadRequest, policy jensen.DownloadPolicy) (*jensen.StreamResult, error)
}

// deviceAdapter binds jensen.DownloadWithRetry to a device.
type deviceAdapter struct {
	*jensen.Device
}

func (a deviceAdapter) DownloadWithRetry(
	ctx context.Context, req jensen.DownloadRequest, policy jensen.DownloadPolicy,
) (*jensen.StreamResult, error) {
	return jensen.DownloadWithRetry(ctx, a.Device, req, policy)
}

// Downloader performs batch downloads.
type Downloader struct {
	device Device
	config Config
}

// New creates a downloader over a connected device.
func New(device *jensen.Device, config Config) *Downloader {
	return NewWithDevice(deviceAdapter{device}, config)
}

// NewWithDevice creates a downloader over any Device implementation.
func NewWithDevice(device Device, config Config) *Downloader {
	if config.OutputDir == "" {
		config.OutputDir = "."
	}
	return &Downloader{device: device, config: config}
}

// Run lists the device, downloads every file, writes the failure log and
// verifies the directory. A listing error aborts the run; per-file failures
// are recorded in the report and the run continues. Cancellation stops the
// run after the current file and returns the partial report with ctx.Err().
func (r *Downloader) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	if err := os.MkdirAll(r.config.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	list, err := r.device.ListFiles(ctx, r.config.ListTimeout)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	if !list.Complete {
		jensen.Log().Warn().
			Int("received", len(list.Files)).
			Int("announced", list.TotalFiles).
			Msg("file list incomplete")
	}

	files := lo.UniqBy(list.Files, func(f jensen.FileInfo) string { return f.Name })
	report := &Report{Listed: len(files), ListComplete: list.Complete}

	var runErr error
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		jensen.Debugf("[%d/%d] %s (%d bytes)", i+1, len(files), file.Name, file.Length)
		res := r.downloadOne(ctx, file)
		report.Files = append(report.Files, res)
		if r.config.OnFile != nil {
			r.config.OnFile(res)
		}
	}

	if err := writeFailureLog(r.config.OutputDir, report.Failed()); err != nil {
		jensen.Debugf("failure log: %v", err)
	}
	report.Mismatches = Verify(r.config.OutputDir, files)
	report.Elapsed = time.Since(start)

	jensen.Log().Info().
		Int("downloaded", len(report.Downloaded())).
		Int("skipped", len(report.Skipped())).
		Int("failed", len(report.Failed())).
		Int("mismatched", len(report.Mismatches)).
		Int64("bytes", report.BytesDownloaded()).
		Dur("elapsed", report.Elapsed).
		Msg("batch finished")
	return report, runErr
}

func (r *Downloader) downloadOne(ctx context.Context, file jensen.FileInfo) FileResult {
	res := FileResult{Name: file.Name, Length: file.Length}
	path, err := localPath(r.config.OutputDir, file.Name)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}

	if r.config.SkipExisting && existsWithSize(path, file.Length) {
		res.Outcome = OutcomeSkipped
		return res
	}

	req := jensen.DownloadRequest{
		Name:   file.Name,
		Length: file.Length,
		Open: func() (io.Writer, error) {
			sink, err := jensen.NewFileSink(path)
			if err != nil {
				return nil, err
			}
			return sink, nil
		},
	}
	if r.config.Progress != nil {
		req.Progress = func(received, total int64) {
			r.config.Progress(file.Name, received, total)
		}
	}

	result, err := r.device.DownloadWithRetry(ctx, req, r.config.Policy)
	if result != nil {
		res.Status = result.Status
		res.Attempts = result.Attempts
		res.Elapsed = result.Elapsed
		res.BytesReceived = result.BytesReceived
		if err == nil {
			err = result.Err
		}
	}
	if err == nil && result.OK() {
		res.Outcome = OutcomeDownloaded
		return res
	}
	if err == nil {
		err = errors.New("download did not complete")
	}
	res.Outcome, res.Err = OutcomeFailed, err
	jensen.Log().Warn().Str("file", file.Name).Str("status", string(res.Status)).Err(err).Msg("download failed")
	return res
}

// localPath maps a device file name into dir, rejecting names that would
// escape it.
func localPath(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == ".." || name == "." {
		return "", fmt.Errorf("unsafe file name %q: %w", name, jensen.ErrInvalidParameter)
	}
	return filepath.Join(dir, name), nil
}

func existsWithSize(path string, size int64) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() == size
}

// writeFailureLog records one line per failed file. A clean run removes a
// stale log from an earlier run.
func writeFailureLog(dir string, failed []FileResult) error {
	path := filepath.Join(dir, FailureLogName)
	if len(failed) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale failure log: %w", err)
		}
		return nil
	}

	var b strings.Builder
	for _, f := range failed {
		_, _ = fmt.Fprintf(&b, "%s\t%d\t%s\t%v\n", f.Name, f.Length, f.Status, f.Err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write failure log: %w", err)
	}
	return nil
}
