// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/biogo/bamread/bam"
	"github.com/biogo/bamread/htsget"
)

type viewOptions struct {
	index     string
	htsget    string
	pairs     bool
	acrossChr bool
	maxInsert int
	count     bool
	strictCG  bool
}

func (a *app) viewCmd() *cobra.Command {
	var opts viewOptions
	cmd := &cobra.Command{
		Use:   "view FILE REGION",
		Short: "Print the records overlapping a region",
		Long: `Print a tab separated summary of the records overlapping a region.

REGION is chr, chr:beg or chr:beg-end with one-based closed coordinates.
When --htsget is given FILE is the ID of a track served by that endpoint.

Examples:
  bamread view volvox-sorted.bam ctgA:1-1000
  bamread view --pairs volvox-sorted.bam ctgA:1-1000
  bamread view --count gs://bucket/sample.bam chr1:1,000,000-2,000,000
  bamread view --htsget https://htsget.example.org volvox ctgA:1-1000`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRegion(args[1])
			if err != nil {
				return err
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			if opts.htsget != "" {
				err = a.viewHtsget(cmd.Context(), w, args[0], r, opts)
			} else {
				err = a.view(cmd.Context(), w, args[0], r, opts)
			}
			if err != nil {
				return err
			}
			return w.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.index, "index", "", "index location (default FILE.bai then FILE.csi)")
	f.StringVar(&opts.htsget, "htsget", "", "htsget endpoint serving FILE")
	f.BoolVar(&opts.pairs, "pairs", false, "also print mates of records in the region")
	f.BoolVar(&opts.acrossChr, "across-chr", false, "look up mates on other references")
	f.IntVar(&opts.maxInsert, "max-insert", bam.DefaultMaxInsertSize, "largest distance to a mate that is looked up")
	f.BoolVar(&opts.count, "count", false, "print only the number of records")
	f.BoolVar(&opts.strictCG, "strict-cg", false, "fail on malformed CG tag placeholder CIGARs")
	return cmd
}

func (a *app) view(ctx context.Context, w io.Writer, loc string, r region, opts viewOptions) error {
	f, err := a.open(ctx, loc, opts.index, bam.WithStrictCG(opts.strictCG))
	if err != nil {
		return err
	}
	defer a.closeFile(f)

	refs, err := f.Refs(ctx)
	if err != nil {
		return err
	}
	r, err = r.resolve(refs)
	if err != nil {
		return err
	}
	q := bam.QueryOptions{
		ViewAsPairs:   opts.pairs,
		PairAcrossChr: opts.acrossChr,
		MaxInsertSize: opts.maxInsert,
	}
	var n int
	err = f.StreamRecordsForRange(ctx, r.Ref, r.Start, r.End, q, func(recs []*bam.Record) error {
		n += len(recs)
		if opts.count {
			return nil
		}
		return a.print(w, recs)
	})
	if err != nil {
		return err
	}
	level.Debug(a.logger).Log("msg", "query complete", "region", r, "records", n)
	if opts.count {
		_, err = fmt.Fprintln(w, n)
	}
	return err
}

func (a *app) viewHtsget(ctx context.Context, w io.Writer, id string, r region, opts viewOptions) error {
	f := htsget.NewFile(opts.htsget, id, nil,
		htsget.WithLogger(a.logger),
		htsget.WithStrictCG(opts.strictCG),
	)
	h, err := f.Header(ctx)
	if err != nil {
		return err
	}
	r, err = r.resolve(h.Refs())
	if err != nil {
		return err
	}
	recs, err := f.RecordsForRange(ctx, r.Ref, r.Start, r.End)
	if err != nil {
		return err
	}
	if opts.count {
		_, err = fmt.Fprintln(w, len(recs))
		return err
	}
	return a.print(w, recs)
}

func (a *app) print(w io.Writer, recs []*bam.Record) error {
	for _, r := range recs {
		_, err := fmt.Fprintln(w, r)
		if err != nil {
			return err
		}
		if err := r.Err(); err != nil {
			level.Warn(a.logger).Log("msg", "malformed record", "name", r.Name(), "err", err)
		}
	}
	return nil
}
