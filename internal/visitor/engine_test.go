package visitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iliyamo/community-gate/internal/apperr"
	"github.com/iliyamo/community-gate/internal/audit"
	"github.com/iliyamo/community-gate/internal/model"
	"github.com/iliyamo/community-gate/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memStore is an in-memory Store with a compare-and-swap status write.
type memStore struct {
	mu       sync.Mutex
	visitors map[string]model.Visitor
	writes   int
	// staleReads makes GetByID return the record as first created, which
	// simulates a reader that loses the race to a concurrent writer.
	staleReads bool
	initial    map[string]model.Visitor
}

func newMemStore(vs ...model.Visitor) *memStore {
	s := &memStore{visitors: map[string]model.Visitor{}, initial: map[string]model.Visitor{}}
	for _, v := range vs {
		s.visitors[v.ID] = v
		s.initial[v.ID] = v
	}
	return s
}

func (s *memStore) Create(_ context.Context, v model.Visitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visitors[v.ID] = v
	s.initial[v.ID] = v
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (model.Visitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.visitors
	if s.staleReads {
		src = s.initial
	}
	v, ok := src[id]
	if !ok {
		return model.Visitor{}, repository.ErrNotFound
	}
	return v, nil
}

func (s *memStore) List(_ context.Context, f model.VisitorFilter) ([]model.Visitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Visitor{}
	for _, v := range s.visitors {
		if f.HouseholdID != nil && (v.HouseholdID == nil || *v.HouseholdID != *f.HouseholdID) {
			continue
		}
		if f.CreatedBy != nil && v.CreatedBy != *f.CreatedBy {
			continue
		}
		if f.Status != "" && v.Status != f.Status {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *memStore) TransitionStatus(_ context.Context, id string, t model.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visitors[id]
	if !ok {
		return repository.ErrNotFound
	}
	if v.Status != t.From {
		return repository.ErrStatusMismatch
	}
	v.Apply(t)
	s.visitors[id] = v
	s.writes++
	return nil
}

func (s *memStore) get(id string) model.Visitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visitors[id]
}

type memAuditor struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

type recordedEvent struct {
	actor   string
	payload audit.Payload
}

func (a *memAuditor) Append(_ context.Context, actorID string, p audit.Payload) (model.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return model.AuditRecord{}, a.err
	}
	a.events = append(a.events, recordedEvent{actor: actorID, payload: p})
	return model.AuditRecord{Type: p.EventType(), ActorID: actorID}, nil
}

func (a *memAuditor) types() []model.EventType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []model.EventType{}
	for _, e := range a.events {
		out = append(out, e.payload.EventType())
	}
	return out
}

type memNotifier struct {
	mu      sync.Mutex
	changes []model.VisitorChange
	err     error
}

func (n *memNotifier) Notify(_ context.Context, change model.VisitorChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
	return n.err
}

var (
	admin    = model.Identity{UserID: "admin-1", Role: model.RoleAdmin}
	guard    = model.Identity{UserID: "guard-1", Role: model.RoleGuard}
	resident = model.Identity{UserID: "res-1", Role: model.RoleResident, HouseholdID: "A-101"}
	now      = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
)

func visitorAt(status model.Status) model.Visitor {
	household := "A-101"
	return model.Visitor{
		ID: "V1", Name: "Jordan", Phone: "555", Purpose: "Dinner",
		Status: status, HouseholdID: &household, CreatedBy: "res-1", CreatedAt: now.Add(-time.Hour),
	}
}

type fixture struct {
	store    *memStore
	auditor  *memAuditor
	notifier *memNotifier
	engine   *Engine
}

func newFixture(vs ...model.Visitor) fixture {
	f := fixture{store: newMemStore(vs...), auditor: &memAuditor{}, notifier: &memNotifier{}}
	f.engine = NewEngine(f.store, f.auditor, f.notifier,
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return "V-new" }))
	return f
}

func TestApproveScenario(t *testing.T) {
	f := newFixture(visitorAt(model.StatusPending))

	v, err := f.engine.Approve(context.Background(), admin, "V1")
	require.NoError(t, err)
	f.engine.Wait()

	assert.Equal(t, model.StatusApproved, v.Status)
	stored := f.store.get("V1")
	assert.Equal(t, model.StatusApproved, stored.Status)
	require.NotNil(t, stored.ApprovedBy)
	assert.Equal(t, "admin-1", *stored.ApprovedBy)
	assert.Equal(t, now, *stored.ApprovedAt)

	require.Len(t, f.auditor.events, 1)
	ev := f.auditor.events[0]
	assert.Equal(t, "admin-1", ev.actor)
	assert.Equal(t, audit.VisitorPayload{Kind: model.EventApproval, VisitorID: "V1", VisitorName: "Jordan", HouseholdID: "A-101"}, ev.payload)

	require.Len(t, f.notifier.changes, 1)
	assert.Equal(t, model.EventApproval, f.notifier.changes[0].Event)
	assert.Equal(t, "res-1", f.notifier.changes[0].Visitor.CreatedBy)
}

func TestLifecycleHappyPath(t *testing.T) {
	f := newFixture(visitorAt(model.StatusPending))
	ctx := context.Background()

	_, err := f.engine.Approve(ctx, admin, "V1")
	require.NoError(t, err)
	_, err = f.engine.CheckIn(ctx, guard, "V1")
	require.NoError(t, err)
	v, err := f.engine.CheckOut(ctx, guard, "V1")
	require.NoError(t, err)
	f.engine.Wait()

	assert.Equal(t, model.StatusCheckedOut, v.Status)
	assert.Equal(t, []model.EventType{model.EventApproval, model.EventCheckIn, model.EventCheckOut}, f.auditor.types())
	stored := f.store.get("V1")
	assert.Equal(t, "guard-1", *stored.CheckedInBy)
	assert.Equal(t, "guard-1", *stored.CheckedOutBy)
}

func TestAdminMayCheckInAndOut(t *testing.T) {
	f := newFixture(visitorAt(model.StatusApproved))
	_, err := f.engine.CheckIn(context.Background(), admin, "V1")
	require.NoError(t, err)
	_, err = f.engine.CheckOut(context.Background(), admin, "V1")
	require.NoError(t, err)
	f.engine.Wait()
}

func TestRoleGate(t *testing.T) {
	cases := []struct {
		name   string
		status model.Status
		call   func(e *Engine) error
	}{
		{"guard approve", model.StatusPending, func(e *Engine) error { _, err := e.Approve(context.Background(), guard, "V1"); return err }},
		{"resident approve", model.StatusPending, func(e *Engine) error { _, err := e.Approve(context.Background(), resident, "V1"); return err }},
		{"guard deny", model.StatusPending, func(e *Engine) error { _, err := e.Deny(context.Background(), guard, "V1", "x"); return err }},
		{"resident deny", model.StatusPending, func(e *Engine) error { _, err := e.Deny(context.Background(), resident, "V1", ""); return err }},
		{"resident checkin", model.StatusApproved, func(e *Engine) error { _, err := e.CheckIn(context.Background(), resident, "V1"); return err }},
		{"resident checkout", model.StatusCheckedIn, func(e *Engine) error { _, err := e.CheckOut(context.Background(), resident, "V1"); return err }},
		{"forbidden wins over unknown id", model.StatusPending, func(e *Engine) error { _, err := e.Approve(context.Background(), guard, "nope"); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := visitorAt(tc.status)
			f := newFixture(before)
			err := tc.call(f.engine)
			f.engine.Wait()
			assert.ErrorIs(t, err, apperr.ErrForbidden)
			assert.Equal(t, before, f.store.get("V1"))
			assert.Zero(t, f.store.writes)
			assert.Empty(t, f.auditor.events)
			assert.Empty(t, f.notifier.changes)
		})
	}
}

func TestDeniedIsTerminal(t *testing.T) {
	f := newFixture(visitorAt(model.StatusDenied))
	ctx := context.Background()

	_, err := f.engine.Approve(ctx, admin, "V1")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = f.engine.CheckIn(ctx, guard, "V1")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = f.engine.CheckOut(ctx, guard, "V1")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = f.engine.Deny(ctx, admin, "V1", "again")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	f.engine.Wait()
	assert.Equal(t, model.StatusDenied, f.store.get("V1").Status)
	assert.Empty(t, f.auditor.events)
}

func TestCheckoutBeforeCheckinScenario(t *testing.T) {
	f := newFixture(visitorAt(model.StatusApproved))

	_, err := f.engine.CheckOut(context.Background(), guard, "V1")
	f.engine.Wait()

	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "current status is approved")
	assert.Equal(t, model.StatusApproved, f.store.get("V1").Status)
	assert.Empty(t, f.auditor.events)
	assert.Empty(t, f.notifier.changes)
}

func TestOnlyForwardEdges(t *testing.T) {
	type op func(e *Engine) (model.Visitor, error)
	ops := map[string]op{
		"approve":  func(e *Engine) (model.Visitor, error) { return e.Approve(context.Background(), admin, "V1") },
		"deny":     func(e *Engine) (model.Visitor, error) { return e.Deny(context.Background(), admin, "V1", "") },
		"checkin":  func(e *Engine) (model.Visitor, error) { return e.CheckIn(context.Background(), admin, "V1") },
		"checkout": func(e *Engine) (model.Visitor, error) { return e.CheckOut(context.Background(), admin, "V1") },
	}
	allowed := map[model.Status]map[string]model.Status{
		model.StatusPending:    {"approve": model.StatusApproved, "deny": model.StatusDenied},
		model.StatusApproved:   {"checkin": model.StatusCheckedIn},
		model.StatusCheckedIn:  {"checkout": model.StatusCheckedOut},
		model.StatusDenied:     {},
		model.StatusCheckedOut: {},
	}
	for from, edges := range allowed {
		for name, call := range ops {
			f := newFixture(visitorAt(from))
			v, err := call(f.engine)
			f.engine.Wait()
			if to, ok := edges[name]; ok {
				require.NoError(t, err, "%s from %s", name, from)
				assert.Equal(t, to, v.Status)
				assert.Len(t, f.auditor.events, 1)
			} else {
				assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "%s from %s", name, from)
				assert.Equal(t, from, f.store.get("V1").Status)
				assert.Empty(t, f.auditor.events)
			}
		}
	}
}

func TestDenyScenario(t *testing.T) {
	f := newFixture(visitorAt(model.StatusPending))

	v, err := f.engine.Deny(context.Background(), admin, "V1", "duplicate")
	require.NoError(t, err)
	f.engine.Wait()

	assert.Equal(t, model.StatusDenied, v.Status)
	stored := f.store.get("V1")
	require.NotNil(t, stored.DenialReason)
	assert.Equal(t, "duplicate", *stored.DenialReason)
	assert.Equal(t, "admin-1", *stored.DeniedBy)

	require.Len(t, f.auditor.events, 1)
	assert.Equal(t, audit.DenialPayload{VisitorID: "V1", VisitorName: "Jordan", HouseholdID: "A-101", Reason: "duplicate"}, f.auditor.events[0].payload)
	require.Len(t, f.notifier.changes, 1)
	assert.Equal(t, "duplicate", *f.notifier.changes[0].Visitor.DenialReason)
}

func TestDenyDefaultsReason(t *testing.T) {
	f := newFixture(visitorAt(model.StatusPending))
	v, err := f.engine.Deny(context.Background(), admin, "V1", "   ")
	require.NoError(t, err)
	f.engine.Wait()
	assert.Equal(t, model.DefaultDenialReason, *v.DenialReason)
}

func TestValidationAndNotFound(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.engine.Approve(ctx, admin, " ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.engine.Approve(ctx, admin, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.engine.Approve(ctx, model.Identity{}, "V1")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestSideEffectFailuresDoNotFailTransition(t *testing.T) {
	f := newFixture(visitorAt(model.StatusPending))
	f.auditor.err = errors.New("audit store down")
	f.notifier.err = errors.New("push provider down")

	v, err := f.engine.Approve(context.Background(), admin, "V1")
	require.NoError(t, err)
	f.engine.Wait()

	assert.Equal(t, model.StatusApproved, v.Status)
	assert.Equal(t, model.StatusApproved, f.store.get("V1").Status)
	assert.Len(t, f.notifier.changes, 1)
}

func TestSideEffectsSurviveCallerCancellation(t *testing.T) {
	f := newFixture(visitorAt(model.StatusPending))
	ctx, cancel := context.WithCancel(context.Background())

	_, err := f.engine.Approve(ctx, admin, "V1")
	require.NoError(t, err)
	cancel()
	f.engine.Wait()

	assert.Len(t, f.auditor.events, 1)
	assert.Len(t, f.notifier.changes, 1)
}

func TestConcurrentApproveOneWinner(t *testing.T) {
	f := newFixture(visitorAt(model.StatusPending))

	const callers = 10
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Approve(context.Background(), admin, "V1")
		}(i)
	}
	wg.Wait()
	f.engine.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, f.store.writes)
	assert.Len(t, f.auditor.events, 1)
}

func TestLostConditionalWriteReportsCurrentStatus(t *testing.T) {
	f := newFixture(visitorAt(model.StatusPending))
	ctx := context.Background()

	_, err := f.engine.Approve(ctx, admin, "V1")
	require.NoError(t, err)

	// A second admin read the record before the first write landed.
	f.store.staleReads = true
	_, err = f.engine.Deny(ctx, model.Identity{UserID: "admin-2", Role: model.RoleAdmin}, "V1", "late")
	f.engine.Wait()

	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Equal(t, model.StatusApproved, f.store.get("V1").Status)
	assert.Equal(t, 1, f.store.writes)
	assert.Len(t, f.auditor.events, 1)
}

func TestCreate(t *testing.T) {
	f := newFixture()

	v, err := f.engine.Create(context.Background(), resident, NewVisitor{Name: "  Alex  "})
	require.NoError(t, err)
	f.engine.Wait()

	assert.Equal(t, "V-new", v.ID)
	assert.Equal(t, "Alex", v.Name)
	assert.Equal(t, model.DefaultPhone, v.Phone)
	assert.Equal(t, model.DefaultPurpose, v.Purpose)
	assert.Equal(t, model.StatusPending, v.Status)
	assert.Equal(t, "A-101", v.Household())
	assert.Equal(t, "res-1", v.CreatedBy)
	assert.Equal(t, now, v.CreatedAt)
	assert.Equal(t, v, f.store.get("V-new"))

	require.Len(t, f.auditor.events, 1)
	assert.Equal(t, "res-1", f.auditor.events[0].actor)
	assert.Equal(t, model.EventVisitorCreated, f.auditor.events[0].payload.EventType())
	require.Len(t, f.notifier.changes, 1)
	assert.Equal(t, model.EventVisitorCreated, f.notifier.changes[0].Event)
}

func TestCreateRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.engine.Create(ctx, admin, NewVisitor{Name: "x"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.engine.Create(ctx, resident, NewVisitor{Name: " "})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	noHousehold := model.Identity{UserID: "res-2", Role: model.RoleResident}
	v, err := f.engine.Create(ctx, noHousehold, NewVisitor{Name: "Sky", Phone: "123", Purpose: "Delivery"})
	require.NoError(t, err)
	f.engine.Wait()
	assert.Nil(t, v.HouseholdID)
	assert.Equal(t, "123", v.Phone)
	assert.Equal(t, "Delivery", v.Purpose)
}

func TestListScoping(t *testing.T) {
	a := visitorAt(model.StatusPending)
	b := visitorAt(model.StatusApproved)
	b.ID = "V2"
	other := "B-202"
	b.HouseholdID = &other
	b.CreatedBy = "res-9"
	f := newFixture(a, b)
	ctx := context.Background()

	all, err := f.engine.List(ctx, guard, "all")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	approved, err := f.engine.List(ctx, admin, "approved")
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "V2", approved[0].ID)

	mine, err := f.engine.List(ctx, resident, "")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "V1", mine[0].ID)

	lone, err := f.engine.List(ctx, model.Identity{UserID: "res-9", Role: model.RoleResident}, "all")
	require.NoError(t, err)
	require.Len(t, lone, 1)
	assert.Equal(t, "V2", lone[0].ID)

	_, err = f.engine.List(ctx, admin, "teleported")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.engine.List(ctx, model.Identity{}, "all")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(visitorAt(model.StatusPending))
	ctx := context.Background()

	v, err := f.engine.Get(ctx, resident, "V1")
	require.NoError(t, err)
	assert.Equal(t, "Jordan", v.Name)

	_, err = f.engine.Get(ctx, model.Identity{UserID: "res-7", Role: model.RoleResident, HouseholdID: "Z-9"}, "V1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.engine.Get(ctx, guard, "V1")
	require.NoError(t, err)
}
