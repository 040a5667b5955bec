// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/biogo/bamread/bam"
	"github.com/biogo/bamread/bgzf/cache"
	"github.com/biogo/bamread/htsget"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	dir        string
	addr       string
	baseURL    string
	cacheSize  int
	blockCache int
	policy     string
}

func (a *app) serveCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the BAM files of a directory over htsget",
		Long: `Serve the indexed BAM files of a directory with the htsget protocol.

The ID of DIR/NAME.bam is NAME and its index is read from NAME.bam.bai or
NAME.bam.csi. Prometheus metrics are served at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fi, err := os.Stat(opts.dir)
			if err != nil {
				return err
			}
			if !fi.IsDir() {
				return fmt.Errorf("%s is not a directory", opts.dir)
			}
			if _, err := newBlockCache(opts.policy, 1); err != nil {
				return err
			}
			return a.serve(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.dir, "dir", ".", "directory holding BAM files")
	f.StringVar(&opts.addr, "addr", ":8080", "listen address")
	f.StringVar(&opts.baseURL, "base-url", "", "scheme and host used in ticket URLs (default from request)")
	f.IntVar(&opts.cacheSize, "cache-size", bam.DefaultCacheSize, "decoded chunks held per file")
	f.IntVar(&opts.blockCache, "block-cache", 256, "decompressed BGZF blocks held per file")
	f.StringVar(&opts.policy, "block-cache-policy", "lru", "block cache eviction policy (lru, fifo)")
	return cmd
}

func (a *app) serve(ctx context.Context, opts serveOptions) error {
	if a.logLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := bam.NewMetrics(reg)

	fileOpts := []bam.Option{
		bam.WithLogger(a.logger),
		bam.WithMetrics(metrics),
		bam.WithCacheSize(opts.cacheSize),
	}
	if opts.blockCache > 0 {
		// Each file gets its own block cache since
		// blocks are keyed by file offset.
		fileOpts = append(fileOpts, func(f *bam.File) {
			c, _ := newBlockCache(opts.policy, opts.blockCache)
			bam.WithBlockCache(c)(f)
		})
	}
	dir := htsget.NewDir(opts.dir, a.mmap, fileOpts...)
	defer dir.Close()

	s := htsget.NewServer(dir, a.logger)
	s.BaseURL = opts.baseURL
	router := s.Handler()
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		level.Info(a.logger).Log("msg", "starting htsget server", "addr", opts.addr, "dir", opts.dir)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	level.Info(a.logger).Log("msg", "shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(sctx)
	if lerr := <-errc; !errors.Is(lerr, http.ErrServerClosed) && err == nil {
		err = lerr
	}
	return err
}

func newBlockCache(policy string, n int) (cache.Cache, error) {
	switch policy {
	case "lru":
		return cache.NewLRU(n), nil
	case "fifo":
		return cache.NewFIFO(n), nil
	default:
		return nil, fmt.Errorf("unknown block cache policy %q", policy)
	}
}
