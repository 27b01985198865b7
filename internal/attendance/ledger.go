package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/kozaktomas/classroom-attendance/internal/database"
)

// Ledger records one presence decision per (roll, date, slot).
type Ledger struct {
	records database.AttendanceWriter
	roster  database.StudentReader
	logger  *slog.Logger
	now     func() time.Time
}

// MarkOptions describes where a presence decision came from.
type MarkOptions struct {
	Confidence float64
	Source     database.Source
	At         time.Time // zero means now
}

// SlotAttendance is the present/absent split of the roster for one slot.
// Both lists are sorted by roll and never share an entry.
type SlotAttendance struct {
	Date    string   `json:"date"`
	Slot    string   `json:"slot"`
	Present []string `json:"present"`
	Absent  []string `json:"absent"`
}

// NewLedger creates a ledger over the given stores.
func NewLedger(records database.AttendanceWriter, roster database.StudentReader, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		records: records,
		roster:  roster,
		logger:  logger.With("component", "ledger"),
		now:     time.Now,
	}
}

// Mark records roll as present in the given date and slot. Marking an existing
// key is a no-op that returns the stored record and false.
func (l *Ledger) Mark(ctx context.Context, roll, date, slot string, opts MarkOptions) (database.AttendanceRecord, bool, error) {
	roll = strings.TrimSpace(roll)
	if roll == "" {
		return database.AttendanceRecord{}, false, errEmptyRoll
	}
	if err := ValidateSlot(slot); err != nil {
		return database.AttendanceRecord{}, false, err
	}
	if _, err := ParseDate(date); err != nil {
		return database.AttendanceRecord{}, false, err
	}

	at := opts.At
	if at.IsZero() {
		at = l.now()
	}
	source := opts.Source
	if source == "" {
		source = database.SourceManual
	}

	rec := database.AttendanceRecord{
		Roll:       roll,
		Date:       date,
		Slot:       slot,
		Status:     database.StatusPresent,
		Confidence: opts.Confidence,
		Source:     source,
		MarkedAt:   at,
	}
	created, err := l.records.InsertRecord(ctx, &rec)
	if err != nil {
		return database.AttendanceRecord{}, false, fmt.Errorf("mark %s %s %s: %w", roll, date, slot, err)
	}
	if created {
		l.logger.Info("attendance marked", "roll", roll, "date", date, "slot", slot,
			"source", source, "confidence", opts.Confidence)
	} else {
		l.logger.Debug("attendance already marked", "roll", roll, "date", date, "slot", slot)
	}
	return rec, created, nil
}

// MarkAt resolves date and slot from opts.At (or now) and marks roll present.
func (l *Ledger) MarkAt(ctx context.Context, roll string, opts MarkOptions) (database.AttendanceRecord, bool, error) {
	if opts.At.IsZero() {
		opts.At = l.now()
	}
	slot, err := SlotAt(opts.At)
	if err != nil {
		return database.AttendanceRecord{}, false, err
	}
	return l.Mark(ctx, roll, FormatDate(opts.At), slot, opts)
}

// Query splits the current roster into present and absent for one slot.
func (l *Ledger) Query(ctx context.Context, date, slot string) (*SlotAttendance, error) {
	roster, err := l.roster.ListStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	return l.QueryRoster(ctx, date, slot, roster)
}

// QueryRoster is Query against a roster snapshot the caller already holds.
// Present rolls that are not in the roster are skipped with a warning.
func (l *Ledger) QueryRoster(ctx context.Context, date, slot string, roster []database.Student) (*SlotAttendance, error) {
	if err := ValidateSlot(slot); err != nil {
		return nil, err
	}
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}

	records, err := l.records.ListRecords(ctx, date, slot)
	if err != nil {
		return nil, fmt.Errorf("list records %s %s: %w", date, slot, err)
	}

	marked := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.Status == database.StatusPresent {
			marked[rec.Roll] = struct{}{}
		}
	}

	out := &SlotAttendance{Date: date, Slot: slot, Present: []string{}, Absent: []string{}}
	enrolled := make(map[string]struct{}, len(roster))
	for _, st := range roster {
		if _, dup := enrolled[st.Roll]; dup {
			continue
		}
		enrolled[st.Roll] = struct{}{}
		if _, ok := marked[st.Roll]; ok {
			out.Present = append(out.Present, st.Roll)
		} else {
			out.Absent = append(out.Absent, st.Roll)
		}
	}
	for roll := range marked {
		if _, ok := enrolled[roll]; !ok {
			l.logger.Warn("present roll not in roster, skipping", "roll", roll, "date", date, "slot", slot)
		}
	}

	slices.Sort(out.Present)
	slices.Sort(out.Absent)
	return out, nil
}

// ClearSlot deletes every record of a date and slot. Only administrative
// tooling calls this; the pipeline never removes records.
func (l *Ledger) ClearSlot(ctx context.Context, date, slot string) (int64, error) {
	if err := ValidateSlot(slot); err != nil {
		return 0, err
	}
	if _, err := ParseDate(date); err != nil {
		return 0, err
	}
	n, err := l.records.DeleteSlot(ctx, date, slot)
	if err != nil {
		return 0, fmt.Errorf("clear %s %s: %w", date, slot, err)
	}
	l.logger.Warn("attendance slot cleared", "date", date, "slot", slot, "deleted", n)
	return n, nil
}
