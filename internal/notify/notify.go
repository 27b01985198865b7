// Package notify delivers attendance messages through shoutrrr services.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/kozaktomas/classroom-attendance/internal/database"
)

// Message is one notification.
type Message struct {
	Title string
	Body  string
}

// Sender delivers a message. Implemented by the shoutrrr router and test fakes.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier formats attendance events and hands them to a Sender.
// A nil *Notifier is valid and sends nothing.
type Notifier struct {
	sender Sender
	logger *slog.Logger
}

// New creates a notifier. A nil sender disables delivery.
func New(sender Sender, logger *slog.Logger) *Notifier {
	if sender == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sender: sender, logger: logger.With("component", "notify")}
}

// PresentMessage formats the message sent when a student is first marked present.
func PresentMessage(name string, rec database.AttendanceRecord) Message {
	return Message{
		Title: "Attendance: present",
		Body: fmt.Sprintf("%s (%s) was marked present for the %s class on %s.",
			displayName(name, rec.Roll), rec.Roll, rec.Slot, rec.Date),
	}
}

// AbsentMessage formats the message for a student missing from a slot.
func AbsentMessage(name, roll, date, slot string) Message {
	return Message{
		Title: "Attendance: absent",
		Body: fmt.Sprintf("%s (%s) was absent for the %s class on %s.",
			displayName(name, roll), roll, slot, date),
	}
}

func displayName(name, roll string) string {
	if strings.TrimSpace(name) == "" {
		return roll
	}
	return name
}

// Present sends the present message. Delivery errors are logged, not returned.
func (n *Notifier) Present(ctx context.Context, name string, rec database.AttendanceRecord) {
	if n == nil {
		return
	}
	if err := n.sender.Send(ctx, PresentMessage(name, rec)); err != nil {
		n.logger.Warn("present notification failed", "roll", rec.Roll, "error", err)
	}
}

// Summary sends one message per present and absent student and returns how
// many were delivered.
func (n *Notifier) Summary(ctx context.Context, date, slot string, present, absent []database.Student) (int, error) {
	if n == nil {
		return 0, nil
	}
	var errs []error
	sent := 0
	for _, st := range present {
		msg := PresentMessage(st.Name, database.AttendanceRecord{Roll: st.Roll, Date: date, Slot: slot})
		if err := n.sender.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.Roll, err))
			continue
		}
		sent++
	}
	for _, st := range absent {
		if err := n.sender.Send(ctx, AbsentMessage(st.Name, st.Roll, date, slot)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.Roll, err))
			continue
		}
		sent++
	}
	if len(errs) > 0 {
		n.logger.Warn("summary notifications failed", "date", date, "slot", slot, "failed", len(errs), "sent", sent)
	}
	return sent, errors.Join(errs...)
}

// ShoutrrrSender sends through every configured shoutrrr service URL.
type ShoutrrrSender struct {
	router *router.ServiceRouter
}

// NewShoutrrrSender builds a router for urls. Returns nil, nil when urls is empty.
func NewShoutrrrSender(urls []string, timeout time.Duration) (*ShoutrrrSender, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("create shoutrrr sender: %w", err)
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrSender{router: sender}, nil
}

// Send delivers msg and returns the first service error.
func (s *ShoutrrrSender) Send(_ context.Context, msg Message) error {
	params := stypes.Params{}
	if msg.Title != "" {
		params.SetTitle(msg.Title)
	}
	for _, err := range s.router.Send(msg.Body, &params) {
		if err != nil {
			return err
		}
	}
	return nil
}
