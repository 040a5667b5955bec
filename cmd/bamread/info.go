// Copyright ©2021 The bíogo Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) headerCmd() *cobra.Command {
	var (
		index string
		refs  bool
	)
	cmd := &cobra.Command{
		Use:   "header FILE",
		Short: "Print the header text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := a.open(ctx, args[0], index)
			if err != nil {
				return err
			}
			defer a.closeFile(f)

			h, err := f.Header(ctx)
			if err != nil {
				return err
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			if refs {
				for _, r := range h.Refs() {
					fmt.Fprintln(w, r)
				}
				return w.Flush()
			}
			w.WriteString(h.Text)
			if h.Text != "" && !strings.HasSuffix(h.Text, "\n") {
				w.WriteByte('\n')
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&index, "index", "", "index location (default FILE.bai then FILE.csi)")
	cmd.Flags().BoolVar(&refs, "refs", false, "print the binary reference dictionary as @SQ lines")
	return cmd
}

func (a *app) countCmd() *cobra.Command {
	var index string
	cmd := &cobra.Command{
		Use:   "count FILE CHR",
		Short: "Print the number of mapped records on a reference held by the index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := a.open(ctx, args[0], index)
			if err != nil {
				return err
			}
			defer a.closeFile(f)

			n, err := f.LineCount(ctx, args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
			return err
		},
	}
	cmd.Flags().StringVar(&index, "index", "", "index location (default FILE.bai then FILE.csi)")
	return cmd
}

func (a *app) covCmd() *cobra.Command {
	var index string
	cmd := &cobra.Command{
		Use:   "cov FILE CHR [BEG END]",
		Short: "Print the coverage estimated from the linear index",
		Long: `Print the coverage estimated from the linear index of a BAI as
tab separated reference, zero-based start, end and depth lines.

BEG and END are one-based closed coordinates. Without them the whole
reference is covered.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 && len(args) != 4 {
				return fmt.Errorf("accepts 2 or 4 arg(s), received %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var beg, end int
			if len(args) == 4 {
				var err error
				beg, err = strconv.Atoi(args[2])
				if err != nil || beg < 1 {
					return fmt.Errorf("invalid start %q", args[2])
				}
				end, err = strconv.Atoi(args[3])
				if err != nil || end < beg {
					return fmt.Errorf("invalid end %q", args[3])
				}
				beg--
			}

			f, err := a.open(ctx, args[0], index)
			if err != nil {
				return err
			}
			defer a.closeFile(f)

			depths, err := f.IndexCov(ctx, args[1], beg, end)
			if err != nil {
				return err
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			for _, d := range depths {
				fmt.Fprintf(w, "%s\t%d\t%d\t%g\n", args[1], d.Start, d.End, d.Score)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&index, "index", "", "index location (default FILE.bai then FILE.csi)")
	return cmd
}
