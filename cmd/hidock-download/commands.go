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

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sgeraldes/hidock-next-sub003"
	"github.com/sgeraldes/hidock-next-sub003/batch"
	"github.com/spf13/cobra"
)

func runDownload(ctx context.Context, out io.Writer, opts *options) error {
	if opts.retryCount < 0 {
		return fmt.Errorf("--retry-count must not be negative")
	}
	device, err := connect(ctx, out, opts)
	if err != nil {
		return err
	}
	defer func() { _ = device.Close() }()

	cfg := batch.DefaultConfig(opts.outputDir)
	cfg.SkipExisting = opts.skipExisting
	cfg.Policy.MaxRetries = opts.retryCount
	cfg.OnFile = func(r batch.FileResult) {
		switch r.Outcome {
		case batch.OutcomeDownloaded:
			_, _ = fmt.Fprintf(out, "  ok    %s (%s)\n", r.Name, formatSize(r.Length))
		case batch.OutcomeSkipped:
			_, _ = fmt.Fprintf(out, "  skip  %s\n", r.Name)
		case batch.OutcomeFailed:
			_, _ = fmt.Fprintf(out, "  FAIL  %s: %v\n", r.Name, r.Err)
		}
	}

	report, err := batch.New(device, cfg).Run(ctx)
	if report != nil {
		printSummary(out, opts.outputDir, report)
	}
	if err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%w: %d failed, %d mismatched", errIncomplete, len(report.Failed()), len(report.Mismatches))
	}
	return nil
}

func printSummary(out io.Writer, dir string, r *batch.Report) {
	_, _ = fmt.Fprintf(out, "\n%d listed, %d downloaded (%s), %d skipped, %d failed in %s\n",
		r.Listed, len(r.Downloaded()), formatSize(r.BytesDownloaded()), len(r.Skipped()),
		len(r.Failed()), r.Elapsed.Round(time.Millisecond))
	if !r.ListComplete {
		_, _ = fmt.Fprintln(out, "warning: the device listing was incomplete")
	}
	for _, m := range r.Mismatches {
		if m.Missing {
			_, _ = fmt.Fprintf(out, "missing: %s\n", m.Name)
			continue
		}
		_, _ = fmt.Fprintf(out, "size mismatch: %s (expected %d, got %d)\n", m.Name, m.Expected, m.Actual)
	}
	if len(r.Failed()) > 0 {
		_, _ = fmt.Fprintf(out, "failed files listed in %s/%s\n", dir, batch.FailureLogName)
	}
}

func newListCmd(out io.Writer, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recordings on the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			device, err := connect(cmd.Context(), out, opts)
			if err != nil {
				return err
			}
			defer func() { _ = device.Close() }()

			list, err := device.ListFiles(cmd.Context(), 0)
			if err != nil {
				return fmt.Errorf("list files: %w", err)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tSIZE\tDURATION\tCREATED")
			for _, f := range list.Files {
				created := "-"
				if !f.CreatedAt.IsZero() {
					created = f.CreatedAt.Format("2006-01-02 15:04:05")
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					f.Name, formatSize(f.Length), f.Duration.Round(time.Second), created)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "%d files, %s\n", len(list.Files), formatSize(list.TotalSize))
			if !list.Complete {
				_, _ = fmt.Fprintf(out, "warning: listing incomplete (%d announced)\n", list.TotalFiles)
			}
			return nil
		},
	}
}

func newInfoCmd(out io.Writer, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show device identity, clock and storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			device, err := connect(ctx, out, opts)
			if err != nil {
				return err
			}
			defer func() { _ = device.Close() }()

			info := device.DeviceInfo()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "Model:\t%s\n", info.Model)
			_, _ = fmt.Fprintf(w, "Serial:\t%s\n", info.SerialNumber)
			_, _ = fmt.Fprintf(w, "Firmware:\t%s\n", info.VersionNumber)

			if clock, err := device.GetDeviceTime(ctx); err == nil {
				shown := "not set"
				if !clock.IsZero() {
					shown = clock.Format(time.DateTime)
				}
				_, _ = fmt.Fprintf(w, "Clock:\t%s\n", shown)
			} else {
				jensen.Debugf("device time: %v", err)
			}

			storage, err := device.GetStorageInfo(ctx)
			if err != nil {
				return fmt.Errorf("storage info: %w", err)
			}
			_, _ = fmt.Fprintf(w, "Storage:\t%d MiB used of %d MiB (%d MiB free)\n",
				storage.UsedMiB, storage.CapacityMiB, storage.FreeMiB())

			if count, err := device.GetFileCount(ctx); err == nil {
				_, _ = fmt.Fprintf(w, "Recordings:\t%d\n", count)
			}
			return w.Flush()
		},
	}
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
