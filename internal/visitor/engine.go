// Package visitor implements the visitor pass lifecycle:
//
//	pending -> approved -> checked_in -> checked_out
//	pending -> denied
//
// Every transition is role-gated, applied with a conditional write on the
// stored status, and followed by exactly one audit event and a best-effort
// notification fan-out. Side-effect failures are logged and never change the
// outcome returned to the caller.
package visitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/apperr"
	"github.com/iliyamo/community-gate/internal/audit"
	"github.com/iliyamo/community-gate/internal/model"
	"github.com/iliyamo/community-gate/internal/repository"
)

// Store is the visitor persistence boundary. TransitionStatus must only
// apply t while the stored status equals t.From, returning
// repository.ErrStatusMismatch otherwise and repository.ErrNotFound for an
// unknown id.
type Store interface {
	Create(ctx context.Context, v model.Visitor) error
	GetByID(ctx context.Context, id string) (model.Visitor, error)
	List(ctx context.Context, f model.VisitorFilter) ([]model.Visitor, error)
	TransitionStatus(ctx context.Context, id string, t model.Transition) error
}

// Auditor appends audit events.
type Auditor interface {
	Append(ctx context.Context, actorID string, p audit.Payload) (model.AuditRecord, error)
}

// Notifier fans a committed change out to its recipients.
type Notifier interface {
	Notify(ctx context.Context, change model.VisitorChange) error
}

// Engine runs lifecycle operations. It holds no per-visitor state; the
// store's conditional write is the only concurrency guard.
type Engine struct {
	store    Store
	auditor  Auditor
	notifier Notifier

	clock             func() time.Time
	newID             func() string
	storeTimeout      time.Duration
	sideEffectTimeout time.Duration
	logger            *zap.Logger
	tracer            trace.Tracer

	pending sync.WaitGroup
}

// Option customises an Engine.
type Option func(*Engine)

func WithClock(clock func() time.Time) Option    { return func(e *Engine) { e.clock = clock } }
func WithIDGenerator(newID func() string) Option { return func(e *Engine) { e.newID = newID } }
func WithLogger(logger *zap.Logger) Option       { return func(e *Engine) { e.logger = logger } }
func WithTracer(tracer trace.Tracer) Option      { return func(e *Engine) { e.tracer = tracer } }
func WithStoreTimeout(d time.Duration) Option    { return func(e *Engine) { e.storeTimeout = d } }
func WithSideEffectTimeout(d time.Duration) Option {
	return func(e *Engine) { e.sideEffectTimeout = d }
}

// NewEngine wires the engine. notifier may be nil, which disables fan-out.
func NewEngine(store Store, auditor Auditor, notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		store:             store,
		auditor:           auditor,
		notifier:          notifier,
		clock:             time.Now,
		newID:             uuid.NewString,
		storeTimeout:      5 * time.Second,
		sideEffectTimeout: 10 * time.Second,
		logger:            zap.NewNop(),
		tracer:            otel.Tracer("github.com/iliyamo/community-gate/internal/visitor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wait blocks until every background notification started so far has
// finished. It is called during shutdown.
func (e *Engine) Wait() { e.pending.Wait() }

// rule is one edge of the state machine.
type rule struct {
	op    string
	from  model.Status
	to    model.Status
	event model.EventType
	roles []model.Role
	deny  string // Forbidden message
}

var (
	approveRule = rule{
		op: "approve", from: model.StatusPending, to: model.StatusApproved, event: model.EventApproval,
		roles: []model.Role{model.RoleAdmin}, deny: "only admins can approve visitors",
	}
	denyRule = rule{
		op: "deny", from: model.StatusPending, to: model.StatusDenied, event: model.EventDenial,
		roles: []model.Role{model.RoleAdmin}, deny: "only admins can deny visitors",
	}
	checkInRule = rule{
		op: "check in", from: model.StatusApproved, to: model.StatusCheckedIn, event: model.EventCheckIn,
		roles: []model.Role{model.RoleGuard, model.RoleAdmin}, deny: "only guards or admins can check visitors in",
	}
	checkOutRule = rule{
		op: "check out", from: model.StatusCheckedIn, to: model.StatusCheckedOut, event: model.EventCheckOut,
		roles: []model.Role{model.RoleGuard, model.RoleAdmin}, deny: "only guards or admins can check visitors out",
	}
)

// Approve moves a pending visitor to approved.
func (e *Engine) Approve(ctx context.Context, caller model.Identity, visitorID string) (model.Visitor, error) {
	return e.transition(ctx, caller, visitorID, approveRule, "")
}

// Deny moves a pending visitor to denied. An empty reason is replaced by
// model.DefaultDenialReason.
func (e *Engine) Deny(ctx context.Context, caller model.Identity, visitorID, reason string) (model.Visitor, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = model.DefaultDenialReason
	}
	return e.transition(ctx, caller, visitorID, denyRule, reason)
}

// CheckIn moves an approved visitor to checked_in.
func (e *Engine) CheckIn(ctx context.Context, caller model.Identity, visitorID string) (model.Visitor, error) {
	return e.transition(ctx, caller, visitorID, checkInRule, "")
}

// CheckOut moves a checked-in visitor to checked_out.
func (e *Engine) CheckOut(ctx context.Context, caller model.Identity, visitorID string) (model.Visitor, error) {
	return e.transition(ctx, caller, visitorID, checkOutRule, "")
}

func (e *Engine) transition(ctx context.Context, caller model.Identity, visitorID string, r rule, reason string) (v model.Visitor, err error) {
	ctx, span := e.tracer.Start(ctx, "visitor."+strings.ReplaceAll(r.op, " ", ""),
		trace.WithAttributes(attribute.String("visitor.id", visitorID), attribute.String("caller.role", string(caller.Role))))
	defer func() { endSpan(span, err) }()

	if caller.UserID == "" {
		return model.Visitor{}, apperr.Unauthorized("authentication required")
	}
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return model.Visitor{}, apperr.Validation("visitorId is required")
	}
	if !caller.HasRole(r.roles...) {
		return model.Visitor{}, apperr.Forbidden(r.deny)
	}

	v, err = e.load(ctx, visitorID)
	if err != nil {
		return model.Visitor{}, err
	}
	if v.Status != r.from {
		return model.Visitor{}, invalidTransition(r, v.Status)
	}

	t := model.Transition{
		From:    r.from,
		To:      r.to,
		ActorID: caller.UserID,
		At:      e.now(),
		Reason:  reason,
	}
	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	err = e.store.TransitionStatus(sctx, visitorID, t)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrStatusMismatch):
		return model.Visitor{}, invalidTransition(r, e.currentStatus(ctx, visitorID))
	case errors.Is(err, repository.ErrNotFound):
		return model.Visitor{}, apperr.NotFound("visitor not found")
	default:
		return model.Visitor{}, apperr.Internal("failed to update visitor", err)
	}

	v.Apply(t)
	e.logger.Info("visitor transition",
		zap.String("op", r.op),
		zap.String("visitor", v.ID),
		zap.String("actor", caller.UserID),
		zap.String("status", string(v.Status)))
	e.afterCommit(ctx, model.VisitorChange{Event: r.event, Visitor: v, ActorID: caller.UserID})
	return v, nil
}

// NewVisitor is the input of Create. Phone and Purpose are optional.
type NewVisitor struct {
	Name    string
	Phone   string
	Purpose string
}

// Create files a pending visitor for the caller's household. Only residents
// may create visitors.
func (e *Engine) Create(ctx context.Context, caller model.Identity, in NewVisitor) (v model.Visitor, err error) {
	ctx, span := e.tracer.Start(ctx, "visitor.create")
	defer func() { endSpan(span, err) }()

	if caller.UserID == "" {
		return model.Visitor{}, apperr.Unauthorized("authentication required")
	}
	if !caller.HasRole(model.RoleResident) {
		return model.Visitor{}, apperr.Forbidden("only residents can create visitors")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.Visitor{}, apperr.Validation("name is required")
	}
	v = model.Visitor{
		ID:        e.newID(),
		Name:      name,
		Phone:     orDefault(in.Phone, model.DefaultPhone),
		Purpose:   orDefault(in.Purpose, model.DefaultPurpose),
		Status:    model.StatusPending,
		CreatedBy: caller.UserID,
		CreatedAt: e.now(),
	}
	if caller.HouseholdID != "" {
		household := caller.HouseholdID
		v.HouseholdID = &household
	}
	span.SetAttributes(attribute.String("visitor.id", v.ID))

	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	err = e.store.Create(sctx, v)
	cancel()
	if err != nil {
		return model.Visitor{}, apperr.Internal("failed to create visitor", err)
	}
	e.logger.Info("visitor created", zap.String("visitor", v.ID), zap.String("actor", caller.UserID))
	e.afterCommit(ctx, model.VisitorChange{Event: model.EventVisitorCreated, Visitor: v, ActorID: caller.UserID})
	return v, nil
}

// List returns the visitors visible to caller, newest first. status may be
// empty or "all" for every status. Residents only see their household's
// visitors, or their own when they have no household.
func (e *Engine) List(ctx context.Context, caller model.Identity, status string) ([]model.Visitor, error) {
	if caller.UserID == "" {
		return nil, apperr.Unauthorized("authentication required")
	}
	var f model.VisitorFilter
	switch s := strings.ToLower(strings.TrimSpace(status)); s {
	case "", model.StatusAll:
	default:
		if !model.Status(s).Valid() {
			return nil, apperr.Newf(apperr.CodeValidation, "unknown status %q", status)
		}
		f.Status = model.Status(s)
	}
	if caller.Role == model.RoleResident {
		scope := caller.UserID
		if caller.HouseholdID != "" {
			scope = caller.HouseholdID
			f.HouseholdID = &scope
		} else {
			f.CreatedBy = &scope
		}
	}
	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	out, err := e.store.List(sctx, f)
	if err != nil {
		return nil, apperr.Internal("failed to list visitors", err)
	}
	return out, nil
}

// Get returns one visitor. A visitor outside a resident's scope is reported
// as not found.
func (e *Engine) Get(ctx context.Context, caller model.Identity, visitorID string) (model.Visitor, error) {
	if caller.UserID == "" {
		return model.Visitor{}, apperr.Unauthorized("authentication required")
	}
	v, err := e.load(ctx, strings.TrimSpace(visitorID))
	if err != nil {
		return model.Visitor{}, err
	}
	if caller.Role == model.RoleResident && !visibleTo(caller, v) {
		return model.Visitor{}, apperr.NotFound("visitor not found")
	}
	return v, nil
}

func visibleTo(caller model.Identity, v model.Visitor) bool {
	if v.CreatedBy == caller.UserID {
		return true
	}
	return caller.HouseholdID != "" && v.HouseholdID != nil && *v.HouseholdID == caller.HouseholdID
}

func (e *Engine) load(ctx context.Context, visitorID string) (model.Visitor, error) {
	if visitorID == "" {
		return model.Visitor{}, apperr.Validation("visitorId is required")
	}
	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	v, err := e.store.GetByID(sctx, visitorID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Visitor{}, apperr.NotFound("visitor not found")
	}
	if err != nil {
		return model.Visitor{}, apperr.Internal("failed to load visitor", err)
	}
	return v, nil
}

// currentStatus re-reads the status after a lost conditional write, for the
// error message only.
func (e *Engine) currentStatus(ctx context.Context, visitorID string) model.Status {
	v, err := e.load(ctx, visitorID)
	if err != nil {
		return "unknown"
	}
	return v.Status
}

// afterCommit appends the audit event, then starts the notification fan-out
// in the background. Both run on a context detached from the caller's
// cancellation and bounded by the side-effect timeout.
func (e *Engine) afterCommit(ctx context.Context, change model.VisitorChange) {
	base := context.WithoutCancel(ctx)

	actx, cancel := context.WithTimeout(base, e.sideEffectTimeout)
	_, err := e.auditor.Append(actx, change.ActorID, audit.ForVisitor(change.Event, change.Visitor))
	cancel()
	if err != nil {
		e.logger.Error("audit append failed after committed change",
			zap.String("event", string(change.Event)),
			zap.String("visitor", change.Visitor.ID),
			zap.Error(err))
	}

	if e.notifier == nil {
		return
	}
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		nctx, cancel := context.WithTimeout(base, e.sideEffectTimeout)
		defer cancel()
		if err := e.notifier.Notify(nctx, change); err != nil {
			e.logger.Warn("notification fan-out failed",
				zap.String("event", string(change.Event)),
				zap.String("visitor", change.Visitor.ID),
				zap.Error(err))
		}
	}()
}

// now returns the clock truncated to the stored millisecond precision.
func (e *Engine) now() time.Time { return e.clock().UTC().Truncate(time.Millisecond) }

func invalidTransition(r rule, current model.Status) error {
	return apperr.Newf(apperr.CodeInvalidTransition,
		"cannot %s visitor: current status is %s, expected %s", r.op, current, r.from)
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
	}
	span.End()
}
