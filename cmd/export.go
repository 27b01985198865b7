package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/classroom-attendance/internal/attendance"
	"github.com/kozaktomas/classroom-attendance/internal/config"
	"github.com/kozaktomas/classroom-attendance/internal/report"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a week or month of attendance as CSV",
	Long: `Write the attendance of a staff member's cohort for the week (Monday to
Sunday) or calendar month containing --date. Every slot gets a present and an
absent column; cells that could not be read hold "Error".

Examples:
  attendance export --staff teacher@school.edu
  attendance export --staff teacher@school.edu --range month --date 2024-03-01 -o march.csv`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("staff", "", "Staff email whose cohort is exported (required)")
	exportCmd.Flags().String("range", "week", "Export range: week or month")
	exportCmd.Flags().String("date", "", "Any date inside the range, YYYY-MM-DD (defaults to today)")
	exportCmd.Flags().StringP("output", "o", "", "Output file (defaults to the export's own file name, - for stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	rng, err := report.ParseRange(mustGetString(cmd, "range"))
	if err != nil {
		return err
	}
	anchor := time.Now()
	if d := mustGetString(cmd, "date"); d != "" {
		if anchor, err = attendance.ParseDate(d); err != nil {
			return err
		}
	}

	ctx := context.Background()
	a, err := newApp(ctx, config.Load(), false)
	if err != nil {
		return err
	}
	defer closeStore()

	staff, err := a.staffContext(ctx, mustGetString(cmd, "staff"))
	if err != nil {
		return err
	}
	export, err := a.reports.Export(ctx, staff, anchor, rng)
	if err != nil {
		return fmt.Errorf("building export: %w", err)
	}

	output := mustGetString(cmd, "output")
	if output == "" {
		output = export.Filename()
	}
	var w io.Writer = os.Stdout
	if output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}
	if err := export.WriteCSV(w); err != nil {
		return fmt.Errorf("writing CSV: %w", err)
	}
	if output != "-" {
		fmt.Printf("Exported %d days for %s to %s\n", len(export.Rows), staff.Email, output)
	}
	return nil
}
