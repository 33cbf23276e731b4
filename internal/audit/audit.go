// Package audit records the append-only history of visitor and user events.
//
// Each event type carries its own payload variant; Append refuses a payload
// whose variant does not belong to the declared type, so the stored JSON
// shape is fixed per type.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/apperr"
	"github.com/iliyamo/community-gate/internal/model"
)

const (
	DefaultPageSize = 15
	MaxPageSize     = 100
)

// Store is the persistence boundary of the log.
type Store interface {
	Insert(ctx context.Context, e model.AuditRecord) error
	Recent(ctx context.Context, limit int) ([]model.AuditRecord, error)
}

// Payload is one type-specific audit payload variant.
type Payload interface {
	EventType() model.EventType
}

// VisitorPayload is recorded for approval, checkin, checkout and
// visitor_created events.
type VisitorPayload struct {
	Kind        model.EventType `json:"-"`
	VisitorID   string          `json:"visitorId"`
	VisitorName string          `json:"visitorName"`
	HouseholdID string          `json:"householdId"`
}

func (p VisitorPayload) EventType() model.EventType { return p.Kind }

// DenialPayload is recorded for denial events.
type DenialPayload struct {
	VisitorID   string `json:"visitorId"`
	VisitorName string `json:"visitorName"`
	HouseholdID string `json:"householdId"`
	Reason      string `json:"reason"`
}

func (DenialPayload) EventType() model.EventType { return model.EventDenial }

// UserCreatedPayload is recorded when an admin provisions an account.
type UserCreatedPayload struct {
	UserID      string     `json:"newUserId"`
	Email       string     `json:"newUserEmail"`
	Role        model.Role `json:"newUserRole"`
	HouseholdID string     `json:"householdId,omitempty"`
}

func (UserCreatedPayload) EventType() model.EventType { return model.EventUserCreated }

// ForVisitor builds the normalized payload for a visitor event.
func ForVisitor(event model.EventType, v model.Visitor) Payload {
	if event == model.EventDenial {
		reason := model.DefaultDenialReason
		if v.DenialReason != nil {
			reason = *v.DenialReason
		}
		return DenialPayload{VisitorID: v.ID, VisitorName: v.Name, HouseholdID: v.Household(), Reason: reason}
	}
	return VisitorPayload{Kind: event, VisitorID: v.ID, VisitorName: v.Name, HouseholdID: v.Household()}
}

// Log appends and reads audit events.
type Log struct {
	store    Store
	clock    func() time.Time
	newID    func() string
	pageSize int
	logger   *zap.Logger
}

// Option customises a Log.
type Option func(*Log)

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option { return func(l *Log) { l.clock = clock } }

// WithIDGenerator overrides event id generation.
func WithIDGenerator(newID func() string) Option { return func(l *Log) { l.newID = newID } }

// WithPageSize sets the default page size used when Recent gets limit <= 0.
func WithPageSize(n int) Option { return func(l *Log) { l.pageSize = n } }

// New constructs a Log over store.
func New(store Store, logger *zap.Logger, opts ...Option) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{
		store:    store,
		clock:    time.Now,
		newID:    timeOrderedID,
		pageSize: DefaultPageSize,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.pageSize <= 0 || l.pageSize > MaxPageSize {
		l.pageSize = DefaultPageSize
	}
	return l
}

// timeOrderedID returns a UUIDv7. Ids from one process increase
// monotonically, so they order events sharing a millisecond timestamp.
func timeOrderedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Append records one event authored by actorID. The timestamp is assigned
// here, never by the caller.
func (l *Log) Append(ctx context.Context, actorID string, p Payload) (model.AuditRecord, error) {
	if p == nil {
		return model.AuditRecord{}, apperr.Validation("audit payload is required")
	}
	typ := p.EventType()
	if !typ.Valid() {
		return model.AuditRecord{}, apperr.Newf(apperr.CodeValidation, "unknown audit event type %q", typ)
	}
	if vp, ok := p.(VisitorPayload); ok && (typ == model.EventDenial || typ == model.EventUserCreated) {
		return model.AuditRecord{}, apperr.Newf(apperr.CodeValidation, "visitor payload cannot describe %q", vp.Kind)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return model.AuditRecord{}, apperr.Internal("encode audit payload", err)
	}
	rec := model.AuditRecord{
		ID:         l.newID(),
		Type:       typ,
		ActorID:    actorID,
		Payload:    body,
		OccurredAt: l.clock().UTC(),
	}
	if err := l.store.Insert(ctx, rec); err != nil {
		return model.AuditRecord{}, apperr.Wrap(apperr.CodeDependency, "append audit event", err)
	}
	l.logger.Debug("audit event appended",
		zap.String("type", string(typ)),
		zap.String("actor", actorID),
		zap.String("id", rec.ID))
	return rec, nil
}

// Recent returns the newest events first. A non-positive limit selects the
// default page; larger limits are capped at MaxPageSize.
func (l *Log) Recent(ctx context.Context, limit int) ([]model.AuditRecord, error) {
	switch {
	case limit <= 0:
		limit = l.pageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	events, err := l.store.Recent(ctx, limit)
	if err != nil {
		return nil, apperr.Internal("load audit events", err)
	}
	return events, nil
}
