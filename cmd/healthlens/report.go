package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/claude/healthlens/internal/mcp"
	"github.com/claude/healthlens/internal/models"
	"github.com/claude/healthlens/internal/report"
)

var (
	reportStart    string
	reportEnd      string
	reportFormat   string
	reportNoColor  bool
	reportMinLevel string
	reportMetric   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print analytics in the terminal.",
}

func reportRange() (mcp.Range, error) {
	var r mcp.Range
	parse := func(flag, v string) (*time.Time, error) {
		if v == "" {
			return nil, nil
		}
		d, err := models.ParseDate(v)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", flag, err)
		}
		return &d, nil
	}
	var err error
	if r.Start, err = parse("start", reportStart); err != nil {
		return r, err
	}
	r.End, err = parse("end", reportEnd)
	return r, err
}

// runReport resolves flags and a data source, then hands both to render.
func runReport(render func(cmd *cobra.Command, ds mcp.DataSource, r mcp.Range, opts report.Options) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		switch reportFormat {
		case report.FormatTable, report.FormatJSON, report.FormatCSV:
		default:
			return fmt.Errorf("--format must be table, json, or csv, got %q", reportFormat)
		}
		r, err := reportRange()
		if err != nil {
			return err
		}

		log := newLogger(os.Stderr)
		ctx, stop := signalContext()
		defer stop()
		cmd.SetContext(ctx)

		ds, cleanup, err := dataSource(ctx, log)
		if err != nil {
			return err
		}
		defer cleanup()

		return render(cmd, ds, r, report.Options{Format: reportFormat, UseColors: !reportNoColor})
	}
}

var reportScoresCmd = &cobra.Command{
	Use:   "scores",
	Short: "Daily recovery and strain scores.",
	RunE: runReport(func(cmd *cobra.Command, ds mcp.DataSource, r mcp.Range, opts report.Options) error {
		resp, err := ds.Scores(cmd.Context(), r)
		if err != nil {
			return err
		}
		return report.WriteScores(cmd.OutOrStdout(), resp, opts)
	}),
}

var reportTimelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Readiness timeline with annotations.",
	RunE: runReport(func(cmd *cobra.Command, ds mcp.DataSource, r mcp.Range, opts report.Options) error {
		resp, err := ds.ReadinessTimeline(cmd.Context(), r)
		if err != nil {
			return err
		}
		return report.WriteTimeline(cmd.OutOrStdout(), resp, opts)
	}),
}

var reportAnomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "Days outside the personal baseline.",
	RunE: runReport(func(cmd *cobra.Command, ds mcp.DataSource, r mcp.Range, opts report.Options) error {
		resp, err := ds.Anomalies(cmd.Context(), r, reportMinLevel, reportMetric)
		if err != nil {
			return err
		}
		return report.WriteAnomalies(cmd.OutOrStdout(), resp, opts)
	}),
}

var reportOverviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Latest value, baseline delta and trend per metric.",
	RunE: runReport(func(cmd *cobra.Command, ds mcp.DataSource, r mcp.Range, opts report.Options) error {
		resp, err := ds.Overview(cmd.Context(), r.End)
		if err != nil {
			return err
		}
		return report.WriteOverview(cmd.OutOrStdout(), resp, opts)
	}),
}

func init() {
	pf := reportCmd.PersistentFlags()
	pf.StringVar(&reportStart, "start", "", "first day (YYYY-MM-DD); defaults to 30 days before --end")
	pf.StringVar(&reportEnd, "end", "", "last day (YYYY-MM-DD); defaults to the latest day with data")
	pf.StringVarP(&reportFormat, "format", "f", report.FormatTable, "output format: table, json, csv")
	pf.BoolVar(&reportNoColor, "no-color", false, "disable colored output")
	reportAnomaliesCmd.Flags().StringVar(&reportMinLevel, "min-level", "", "lowest level to include: none, mild, strong")
	reportAnomaliesCmd.Flags().StringVar(&reportMetric, "metric", "", "restrict to one metric key")

	reportCmd.AddCommand(reportScoresCmd, reportTimelineCmd, reportAnomaliesCmd, reportOverviewCmd)
	rootCmd.AddCommand(reportCmd)
}
