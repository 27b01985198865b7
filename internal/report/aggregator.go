// Package report builds staff-scoped attendance views and range exports.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/classroom-attendance/internal/attendance"
	"github.com/kozaktomas/classroom-attendance/internal/database"
)

// ErrNoStaff is returned when a view is requested without a staff identity.
var ErrNoStaff = errors.New("staff identity required")

// SlotQuerier splits a roster into present and absent for one slot.
type SlotQuerier interface {
	QueryRoster(ctx context.Context, date, slot string, roster []database.Student) (*attendance.SlotAttendance, error)
}

// DayView holds every slot of one date.
type DayView struct {
	Date  string                      `json:"date"`
	Slots []attendance.SlotAttendance `json:"slots"`
}

// Aggregator filters ledger views down to the requesting staff's cohort.
type Aggregator struct {
	ledger SlotQuerier
	roster database.StudentReader
	logger *slog.Logger
}

// New creates an aggregator.
func New(ledger SlotQuerier, roster database.StudentReader, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{ledger: ledger, roster: roster, logger: logger.With("component", "report")}
}

// cohortRoster loads the roster and the staff's cohort membership from it.
func (a *Aggregator) cohortRoster(ctx context.Context, staff *attendance.StaffContext) ([]database.Student, map[string]struct{}, error) {
	if staff == nil {
		return nil, nil, ErrNoStaff
	}
	roster, err := a.roster.ListStudents(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list roster: %w", err)
	}
	return roster, staff.CohortMembers(roster), nil
}

// filter keeps only cohort members in both lists.
func filter(view *attendance.SlotAttendance, members map[string]struct{}) attendance.SlotAttendance {
	out := attendance.SlotAttendance{Date: view.Date, Slot: view.Slot, Present: []string{}, Absent: []string{}}
	for _, roll := range view.Present {
		if _, ok := members[roll]; ok {
			out.Present = append(out.Present, roll)
		}
	}
	for _, roll := range view.Absent {
		if _, ok := members[roll]; ok {
			out.Absent = append(out.Absent, roll)
		}
	}
	return out
}

// SlotView returns one date and slot limited to the staff's cohort. Students
// outside the cohort are neither present nor absent in the result.
func (a *Aggregator) SlotView(ctx context.Context, staff *attendance.StaffContext, date, slot string) (*attendance.SlotAttendance, error) {
	roster, members, err := a.cohortRoster(ctx, staff)
	if err != nil {
		return nil, err
	}
	view, err := a.ledger.QueryRoster(ctx, date, slot, roster)
	if err != nil {
		return nil, err
	}
	out := filter(view, members)
	return &out, nil
}

// DayView fetches all slots of date concurrently and filters them once every
// fetch has returned.
func (a *Aggregator) DayView(ctx context.Context, staff *attendance.StaffContext, date string) (*DayView, error) {
	if _, err := attendance.ParseDate(date); err != nil {
		return nil, err
	}
	roster, members, err := a.cohortRoster(ctx, staff)
	if err != nil {
		return nil, err
	}

	views := make([]*attendance.SlotAttendance, len(attendance.Slots))
	g, gctx := errgroup.WithContext(ctx)
	for i, slot := range attendance.Slots {
		g.Go(func() error {
			v, err := a.ledger.QueryRoster(gctx, date, slot, roster)
			if err != nil {
				return err
			}
			views[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &DayView{Date: date, Slots: make([]attendance.SlotAttendance, 0, len(views))}
	for _, v := range views {
		out.Slots = append(out.Slots, filter(v, members))
	}
	return out, nil
}
