package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kozaktomas/classroom-attendance/internal/attendance"
)

// ErrorMarker replaces a cell whose fetch failed.
const ErrorMarker = "Error"

// Range selects the dates of an export.
type Range string

const (
	RangeWeek  Range = "week"
	RangeMonth Range = "month"
)

// ParseRange validates a range name.
func ParseRange(s string) (Range, error) {
	switch Range(strings.ToLower(strings.TrimSpace(s))) {
	case RangeWeek:
		return RangeWeek, nil
	case RangeMonth:
		return RangeMonth, nil
	}
	return "", fmt.Errorf("unknown range %q: use week or month", s)
}

// Cell is the present and absent rolls of one slot on one date.
type Cell struct {
	Present []string `json:"present"`
	Absent  []string `json:"absent"`
	Failed  bool     `json:"failed,omitempty"`
}

// Row is one date of an export.
type Row struct {
	Date  string `json:"date"`
	Cells []Cell `json:"cells"` // one per attendance.Slots entry
}

// Export is a range of dates with every slot filled in.
type Export struct {
	Range  Range  `json:"range"`
	Anchor string `json:"anchor"`
	Rows   []Row  `json:"rows"`
}

// WeekDates returns the Monday-starting week containing anchor.
func WeekDates(anchor time.Time) []time.Time {
	day := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, anchor.Location())
	monday := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	dates := make([]time.Time, 7)
	for i := range dates {
		dates[i] = monday.AddDate(0, 0, i)
	}
	return dates
}

// MonthDates returns every calendar day of anchor's month.
func MonthDates(anchor time.Time) []time.Time {
	first := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, anchor.Location())
	var dates []time.Time
	for d := first; d.Month() == first.Month(); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// Export fetches every slot of every date in the range, one date after the
// other. A failed fetch marks its cell and the export carries on.
func (a *Aggregator) Export(ctx context.Context, staff *attendance.StaffContext, anchor time.Time, r Range) (*Export, error) {
	var dates []time.Time
	switch r {
	case RangeWeek:
		dates = WeekDates(anchor)
	case RangeMonth:
		dates = MonthDates(anchor)
	default:
		return nil, fmt.Errorf("unknown range %q", r)
	}

	roster, members, err := a.cohortRoster(ctx, staff)
	if err != nil {
		return nil, err
	}

	out := &Export{Range: r, Anchor: attendance.FormatDate(anchor), Rows: make([]Row, 0, len(dates))}
	failed := 0
	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		date := attendance.FormatDate(d)
		row := Row{Date: date, Cells: make([]Cell, 0, len(attendance.Slots))}
		for _, slot := range attendance.Slots {
			view, err := a.ledger.QueryRoster(ctx, date, slot, roster)
			if err != nil {
				failed++
				a.logger.Warn("export cell failed", "date", date, "slot", slot, "error", err)
				row.Cells = append(row.Cells, Cell{Failed: true})
				continue
			}
			f := filter(view, members)
			row.Cells = append(row.Cells, Cell{Present: f.Present, Absent: f.Absent})
		}
		out.Rows = append(out.Rows, row)
	}

	a.logger.Info("export built", "range", r, "anchor", out.Anchor, "dates", len(dates), "failed_cells", failed)
	return out, nil
}

// Header returns the CSV header: Date, then a present and absent column per slot.
func Header() []string {
	header := []string{"Date"}
	for _, slot := range attendance.Slots {
		header = append(header, slot+" Present", slot+" Absent")
	}
	return header
}

// WriteCSV writes the export with comma-joined rolls per cell.
func (e *Export) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, row := range e.Rows {
		record := []string{row.Date}
		for _, c := range row.Cells {
			if c.Failed {
				record = append(record, ErrorMarker, ErrorMarker)
				continue
			}
			record = append(record, strings.Join(c.Present, ","), strings.Join(c.Absent, ","))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Filename is the download name of the export.
func (e *Export) Filename() string {
	anchor, err := attendance.ParseDate(e.Anchor)
	if err != nil {
		return "attendance.csv"
	}
	if e.Range == RangeMonth {
		return fmt.Sprintf("attendance_month_of_%s.csv", anchor.Format("2006-01"))
	}
	return fmt.Sprintf("attendance_week_of_%s.csv", attendance.FormatDate(WeekDates(anchor)[0]))
}
