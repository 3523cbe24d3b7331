package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"persona-sim-api/pkg/export"
	"persona-sim-api/pkg/logging"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render result tables and charts",
		Long: `Render a table or chart description (JSON) into a shareable format.

Available subcommands:
  markdown - Markdown table, optionally copied to the clipboard
  xlsx     - Excel workbook with one sheet
  chart    - bar chart as PNG

Table JSON: {"title": "...", "headers": [...], "rows": [[...] or {"<header>": ...}, ...]}
Chart JSON: {"title": "...", "labels": [...], "series": [{"name": "...", "values": [...]}]}
Use "-" to read from stdin.`,
	}
	cmd.AddCommand(
		newExportMarkdownCmd(opts),
		newExportXLSXCmd(),
		newExportChartCmd(),
	)
	return cmd
}

func newExportMarkdownCmd(opts *rootOptions) *cobra.Command {
	var copyToClipboard bool

	cmd := &cobra.Command{
		Use:   "markdown <table.json>",
		Short: "Print a result table as Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var table export.Table
			if err := readJSON(cmd.InOrStdin(), args[0], &table); err != nil {
				return err
			}
			md, err := export.MarkdownTable(table)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), md)

			if copyToClipboard {
				if err := clipboard.WriteAll(md); err != nil {
					logging.OrNop(opts.logger).Debug("クリップボードへのコピーに失敗", zap.Error(err))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&copyToClipboard, "copy", false, "also copy the Markdown to the clipboard")
	return cmd
}

func newExportXLSXCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "xlsx <table.json>",
		Short: "Write a result table as an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var table export.Table
			if err := readJSON(cmd.InOrStdin(), args[0], &table); err != nil {
				return err
			}
			data, err := export.Workbook(table)
			if err != nil {
				return err
			}
			return writeOutput(cmd, output, data)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "results.xlsx", `output file ("-" for stdout)`)
	return cmd
}

func newExportChartCmd() *cobra.Command {
	var (
		output string
		width  int
		height int
	)

	cmd := &cobra.Command{
		Use:   "chart <chart.json>",
		Short: "Write a bar chart as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var chart export.Chart
			if err := readJSON(cmd.InOrStdin(), args[0], &chart); err != nil {
				return err
			}
			if width > 0 {
				chart.Width = width
			}
			if height > 0 {
				chart.Height = height
			}
			data, err := export.BarChartPNG(chart)
			if err != nil {
				return err
			}
			return writeOutput(cmd, output, data)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "chart.png", `output file ("-" for stdout)`)
	cmd.Flags().IntVar(&width, "width", 0, "image width in pixels")
	cmd.Flags().IntVar(&height, "height", 0, "image height in pixels")
	return cmd
}

func readJSON(stdin io.Reader, path string, v interface{}) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", path, len(data))
	return nil
}
