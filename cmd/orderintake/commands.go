package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"orderintake/internal"
	"orderintake/internal/listener"
	"orderintake/internal/pipeline"
)

func (a *app) ingestCmd() *cobra.Command {
	var (
		vendor string
		strict bool
		xlsx   bool
	)
	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Ingest one order spreadsheet and write its JSON record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			res := svc.Process(args[0], processOptions(vendor, strict, xlsx))
			if res.Err != nil {
				return res.Err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.OutputPath)
			if res.XLSXPath != "" {
				fmt.Fprintln(out, res.XLSXPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&vendor, "vendor", "", "format type or vendor name; skips detection")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail unless every sheet is the same known format")
	cmd.Flags().BoolVar(&xlsx, "xlsx", false, "also write an .xlsx rendition")
	return cmd
}

func (a *app) batchCmd() *cobra.Command {
	var (
		vendor  string
		strict  bool
		xlsx    bool
		workers int
	)
	cmd := &cobra.Command{
		Use:   "batch FILE...",
		Short: "Ingest several order spreadsheets in parallel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = a.cfg.Workers
			}
			results := svc.ProcessBatch(cmd.Context(), args, processOptions(vendor, strict, xlsx), workers)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			failed := 0
			for _, res := range results {
				if res.Err != nil {
					failed++
					fmt.Fprintf(w, "FAILED\t%s\t%v\n", res.SourceFile, res.Err)
					continue
				}
				fmt.Fprintf(w, "OK\t%s\t%d items\t%s\n", res.SourceFile, len(res.Order.Items), res.OutputPath)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&vendor, "vendor", "", "format type or vendor name applied to every file")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail a file unless every sheet is the same known format")
	cmd.Flags().BoolVar(&xlsx, "xlsx", false, "also write .xlsx renditions")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel files (default WORKERS)")
	return cmd
}

func (a *app) inspectCmd() *cobra.Command {
	var vendor string
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show detected format and resolved layout per sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := a.engine.Inspect(args[0], processOptions(vendor, false, false).Options)
			if err != nil {
				return err
			}

			type view struct {
				Sheet      string                    `json:"sheet"`
				Descriptor internal.FormatDescriptor `json:"descriptor"`
				Candidates any                       `json:"quantity_candidates,omitempty"`
				Error      string                    `json:"error,omitempty"`
			}
			out := make([]view, 0, len(reports))
			for _, r := range reports {
				v := view{Sheet: r.Sheet, Descriptor: r.Descriptor}
				if len(r.Candidates) > 0 {
					v.Candidates = r.Candidates
				}
				if r.Err != nil {
					v.Error = r.Err.Error()
				}
				out = append(out, v)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&vendor, "vendor", "", "format type or vendor name; skips detection")
	return cmd
}

func (a *app) formatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List registered vendor formats in detection priority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tTYPE\tVENDOR\tKEYWORDS")
			for i, f := range a.reg.Formats() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, f.Type, f.Vendor, strings.Join(f.Keywords, ", "))
			}
			return w.Flush()
		},
	}
}

func (a *app) runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent ingestion runs from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openLedger()
			if err != nil {
				return err
			}
			if db == nil {
				return fmt.Errorf("run ledger is disabled (LEDGER_ENABLED=false)")
			}
			runs, err := db.ListRuns(limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tRUN\tSTATUS\tFORMAT\tITEMS\tSOURCE\tDETAIL")
			for _, r := range runs {
				detail := r.OutputPath
				if r.Status != "success" {
					detail = r.FailedStage + ": " + r.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", r.CreatedAt, r.RunID, r.Status, r.FormatType, r.ItemCount, r.SourceFile, detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	var (
		vendor string
		strict bool
		xlsx   bool
		once   bool
	)
	cmd := &cobra.Command{
		Use:   "watch [DIR]",
		Short: "Poll an inbox directory and ingest every spreadsheet dropped into it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			inbox := a.cfg.InboxDir
			if len(args) == 1 {
				inbox = args[0]
			}
			w := listener.NewService(svc, inbox, a.cfg.WatchInterval, a.cfg.Workers, processOptions(vendor, strict, xlsx), a.log)
			if once {
				res, err := w.RunCycle(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seen=%d processed=%d failed=%d\n", res.Seen, res.Processed, res.Failed)
				return nil
			}
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&vendor, "vendor", "", "format type or vendor name applied to every file")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail a file unless every sheet is the same known format")
	cmd.Flags().BoolVar(&xlsx, "xlsx", false, "also write .xlsx renditions")
	cmd.Flags().BoolVar(&once, "once", false, "process the inbox once and exit")
	return cmd
}

func processOptions(vendor string, strict, xlsx bool) pipeline.ProcessOptions {
	return pipeline.ProcessOptions{
		Options:    pipeline.Options{VendorHint: strings.TrimSpace(vendor), Strict: strict},
		ExportXLSX: xlsx,
	}
}
