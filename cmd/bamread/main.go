// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The bamread command queries indexed BAM files held locally, behind an
// HTTP server or in Google Cloud Storage, and serves them over htsget.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/biogo/bamread/bam"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the state shared by the subcommands.
type app struct {
	logLevel  string
	logFormat string
	mmap      bool

	logger log.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: log.NewNopLogger()}
	root := &cobra.Command{
		Use:   "bamread",
		Short: "Query indexed BAM files",
		Long: `bamread reads alignments from indexed BAM files.

FILE may be a local path, an http or https URL or a gs://bucket/object
location. The index is read from FILE.bai or FILE.csi unless one is
named with --index.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), a.logLevel, a.logFormat)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error or none)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "logfmt", "log format (logfmt or json)")
	root.PersistentFlags().BoolVar(&a.mmap, "mmap", false, "memory map local BAM files")

	root.AddCommand(
		a.viewCmd(),
		a.headerCmd(),
		a.countCmd(),
		a.covCmd(),
		a.serveCmd(),
	)
	return root
}

// newLogger returns a logger writing to w in the given format that
// passes log lines at or above the given level.
func newLogger(w io.Writer, lvl, format string) (log.Logger, error) {
	var logger log.Logger
	switch strings.ToLower(format) {
	case "logfmt":
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	case "json":
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	var allow level.Option
	switch strings.ToLower(lvl) {
	case "debug":
		allow = level.AllowDebug()
	case "info":
		allow = level.AllowInfo()
	case "warn":
		allow = level.AllowWarn()
	case "error":
		allow = level.AllowError()
	case "none":
		allow = level.AllowNone()
	default:
		return nil, fmt.Errorf("unknown log level %q", lvl)
	}
	logger = level.NewFilter(logger, allow)
	return log.With(logger, "ts", log.DefaultTimestampUTC), nil
}

// open opens the BAM file at loc with the index at idx, or the default
// index when idx is empty.
func (a *app) open(ctx context.Context, loc, idx string, opts ...bam.Option) (*bam.File, error) {
	opts = append([]bam.Option{bam.WithLogger(a.logger)}, opts...)
	f, err := bam.OpenLocation(ctx, loc, idx, a.mmap, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", loc, err)
	}
	return f, nil
}

// closeFile closes f, logging any error.
func (a *app) closeFile(f *bam.File) {
	if err := f.Close(); err != nil {
		level.Warn(a.logger).Log("msg", "failed to close file", "err", err)
	}
}
