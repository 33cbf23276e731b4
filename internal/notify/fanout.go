package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/model"
)

// Job is one message addressed to one user. Jobs are what travels over the
// broker when notifications are dispatched out of process.
type Job struct {
	RecipientID string  `json:"recipientId"`
	Message     Message `json:"message"`
}

// Sink accepts jobs for delivery.
type Sink interface {
	Deliver(ctx context.Context, job Job) error
}

// Directory lists users holding a role.
type Directory interface {
	ListByRole(ctx context.Context, role model.Role) ([]model.User, error)
}

// DirectSink delivers jobs in-process through a Dispatcher.
type DirectSink struct{ Dispatcher *Dispatcher }

func (s DirectSink) Deliver(ctx context.Context, job Job) error {
	s.Dispatcher.Send(ctx, job.RecipientID, job.Message)
	return nil
}

// Fanout turns a committed visitor change into per-recipient jobs.
type Fanout struct {
	dir    Directory
	sink   Sink
	logger *zap.Logger
}

func NewFanout(dir Directory, sink Sink, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{dir: dir, sink: sink, logger: logger}
}

// Notify hands every job for change to the sink. A failing role lookup or
// sink call does not stop the remaining jobs; the collected errors are
// returned for logging.
func (f *Fanout) Notify(ctx context.Context, change model.VisitorChange) error {
	var errs []error
	var staff []model.User
	if role, ok := staffRole(change.Event); ok {
		users, err := f.dir.ListByRole(ctx, role)
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s users: %w", role, err))
		}
		staff = users
	}
	for _, job := range Jobs(change, staff) {
		if err := f.sink.Deliver(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("deliver to %s: %w", job.RecipientID, err))
		}
	}
	if len(errs) > 0 {
		f.logger.Warn("notification fan-out incomplete",
			zap.String("event", string(change.Event)),
			zap.String("visitor", change.Visitor.ID),
			zap.Int("errors", len(errs)))
	}
	return errors.Join(errs...)
}

// staffRole names the role broadcast for event, if any.
func staffRole(event model.EventType) (model.Role, bool) {
	switch event {
	case model.EventApproval:
		return model.RoleGuard, true
	case model.EventVisitorCreated:
		return model.RoleAdmin, true
	}
	return "", false
}

// Jobs plans the notifications for change. staff holds the users of the
// role broadcast for the event (guards on approval, admins on creation).
// Each recipient receives at most one job.
func Jobs(change model.VisitorChange, staff []model.User) []Job {
	v := change.Visitor
	data := func(kind string) map[string]string {
		return map[string]string{"type": kind, "visitorId": v.ID, "visitorName": v.Name}
	}

	var jobs []Job
	seen := make(map[string]bool)
	add := func(recipient string, msg Message) {
		if recipient == "" || seen[recipient] {
			return
		}
		seen[recipient] = true
		jobs = append(jobs, Job{RecipientID: recipient, Message: msg})
	}

	switch change.Event {
	case model.EventApproval:
		add(v.CreatedBy, Message{
			Title: "Visitor Approved",
			Body:  fmt.Sprintf("Your visitor %s has been approved.", v.Name),
			Data:  data("approval"),
		})
		for _, u := range staff {
			add(u.ID, Message{
				Title: "New Approved Visitor",
				Body:  fmt.Sprintf("%s (%s) is approved and ready for check-in.", v.Name, v.Household()),
				Data:  data("ready_for_checkin"),
			})
		}
	case model.EventDenial:
		reason := model.DefaultDenialReason
		if v.DenialReason != nil && *v.DenialReason != "" {
			reason = *v.DenialReason
		}
		d := data("denial")
		d["reason"] = reason
		add(v.CreatedBy, Message{
			Title: "Visitor Denied",
			Body:  fmt.Sprintf("Your visitor %s was denied. Reason: %s", v.Name, reason),
			Data:  d,
		})
	case model.EventCheckIn:
		add(v.CreatedBy, Message{
			Title: "Visitor Checked In",
			Body:  fmt.Sprintf("%s has arrived and checked in at the gate.", v.Name),
			Data:  data("checkin"),
		})
	case model.EventVisitorCreated:
		add(v.CreatedBy, Message{
			Title: "Visitor Request Created",
			Body:  fmt.Sprintf("Your request for %s has been created and is pending approval.", v.Name),
			Data:  data("visitor_created"),
		})
		for _, u := range staff {
			add(u.ID, Message{
				Title: "New Visitor Request",
				Body:  fmt.Sprintf("%s (%s) is awaiting approval.", v.Name, v.Household()),
				Data:  map[string]string{"type": "new_pending_visitor", "visitorId": v.ID},
			})
		}
	}
	return jobs
}
