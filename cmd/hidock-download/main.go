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

// Command hidock-download copies every recording off an attached HiDock.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sgeraldes/hidock-next-sub003"
	"github.com/spf13/cobra"
)

type options struct {
	outputDir    string
	logFile      string
	vid          string
	pid          string
	retryCount   int
	skipExisting bool
	debug        bool
}

// errIncomplete marks a run that finished with failed or mismatched files.
var errIncomplete = errors.New("download incomplete")

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "hidock-download",
		Short: "Download all recordings from a HiDock over USB",
		Long: `Connects to the first attached HiDock, downloads every recording into the
output directory and verifies each file's size against the device listing.
Failed files are retried, then listed in failed_downloads.log.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return setupLogging(out, opts)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = jensen.CloseSessionLog()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDownload(cmd.Context(), out, opts)
		},
	}

	flags := root.Flags()
	flags.StringVarP(&opts.outputDir, "output-dir", "o", "hidock_downloads", "directory to store recordings")
	flags.IntVar(&opts.retryCount, "retry-count", jensen.DownloadMaxRetries, "retries per file after a failed transfer")
	flags.BoolVar(&opts.skipExisting, "skip-existing", false, "skip files already downloaded with the right size")

	pflags := root.PersistentFlags()
	pflags.BoolVar(&opts.debug, "debug", false, "enable debug output")
	pflags.StringVar(&opts.vid, "vid", fmt.Sprintf("%04x", jensen.DefaultConnectParams().VendorID), "USB vendor id (hex)")
	pflags.StringVar(&opts.pid, "pid", "", "USB product id (hex); empty accepts any HiDock")
	pflags.StringVar(&opts.logFile, "log-file", "", "write a timestamped session log to this path")

	root.AddCommand(newListCmd(out, opts), newInfoCmd(out, opts))
	return root
}

func setupLogging(out io.Writer, opts *options) error {
	jensen.SetDebugEnabled(opts.debug)
	if opts.logFile == "" {
		return nil
	}
	path, err := jensen.InitSessionLog(opts.logFile)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Session log: %s\n", path)
	return nil
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:], os.Stdout, os.Stderr))
}

func mainWithExitCode(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			_, _ = fmt.Fprintln(stderr, "Interrupted.")
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
