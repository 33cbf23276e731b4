package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/community-gate/internal/database"
	"github.com/iliyamo/community-gate/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

func strPtr(s string) *string { return &s }

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func pendingVisitor(id, household string, at time.Time) model.Visitor {
	v := model.Visitor{
		ID:        id,
		Name:      "Visitor " + id,
		Phone:     model.DefaultPhone,
		Purpose:   model.DefaultPurpose,
		Status:    model.StatusPending,
		CreatedBy: "res-1",
		CreatedAt: at,
	}
	if household != "" {
		v.HouseholdID = strPtr(household)
	}
	return v
}

func TestVisitorRepo_CreateAndGet(t *testing.T) {
	repo := NewVisitorRepo(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, pendingVisitor("v1", "A-101", baseTime)))

	got, err := repo.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, "A-101", got.Household())
	assert.True(t, got.CreatedAt.Equal(baseTime))
	assert.Nil(t, got.ApprovedBy)
	assert.Nil(t, got.CheckedOutAt)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVisitorRepo_ListFiltersAndOrders(t *testing.T) {
	repo := NewVisitorRepo(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, pendingVisitor("v1", "A-101", baseTime)))
	require.NoError(t, repo.Create(ctx, pendingVisitor("v2", "B-202", baseTime.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, pendingVisitor("v3", "A-101", baseTime.Add(2*time.Minute))))
	require.NoError(t, repo.TransitionStatus(ctx, "v3", model.Transition{
		From: model.StatusPending, To: model.StatusApproved, ActorID: "adm", At: baseTime.Add(3 * time.Minute),
	}))

	all, err := repo.List(ctx, model.VisitorFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"v3", "v2", "v1"}, []string{all[0].ID, all[1].ID, all[2].ID})

	household, err := repo.List(ctx, model.VisitorFilter{HouseholdID: strPtr("A-101")})
	require.NoError(t, err)
	assert.Len(t, household, 2)

	pending, err := repo.List(ctx, model.VisitorFilter{HouseholdID: strPtr("A-101"), Status: model.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "v1", pending[0].ID)

	mine, err := repo.List(ctx, model.VisitorFilter{CreatedBy: strPtr("res-1"), Status: model.StatusApproved})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "v3", mine[0].ID)

	none, err := repo.List(ctx, model.VisitorFilter{Status: model.StatusCheckedOut})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestVisitorRepo_TransitionStampsAndPreconditions(t *testing.T) {
	repo := NewVisitorRepo(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pendingVisitor("v1", "", baseTime)))

	deniedAt := baseTime.Add(time.Hour)
	require.NoError(t, repo.TransitionStatus(ctx, "v1", model.Transition{
		From: model.StatusPending, To: model.StatusDenied, ActorID: "adm", At: deniedAt, Reason: "unknown guest",
	}))

	got, err := repo.GetByID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDenied, got.Status)
	require.NotNil(t, got.DeniedBy)
	assert.Equal(t, "adm", *got.DeniedBy)
	require.NotNil(t, got.DenialReason)
	assert.Equal(t, "unknown guest", *got.DenialReason)
	assert.True(t, got.DeniedAt.Equal(deniedAt))
	assert.Nil(t, got.ApprovedAt)

	err = repo.TransitionStatus(ctx, "v1", model.Transition{
		From: model.StatusPending, To: model.StatusApproved, ActorID: "adm", At: deniedAt,
	})
	assert.ErrorIs(t, err, ErrStatusMismatch)

	err = repo.TransitionStatus(ctx, "nope", model.Transition{
		From: model.StatusPending, To: model.StatusApproved, ActorID: "adm", At: deniedAt,
	})
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.TransitionStatus(ctx, "v1", model.Transition{From: model.StatusDenied, To: model.StatusPending})
	assert.Error(t, err)
}

func TestVisitorRepo_ConcurrentApproveHasOneWinner(t *testing.T) {
	repo := NewVisitorRepo(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pendingVisitor("v1", "", baseTime)))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.TransitionStatus(ctx, "v1", model.Transition{
				From: model.StatusPending, To: model.StatusApproved,
				ActorID: fmt.Sprintf("adm-%d", i), At: baseTime,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case err == ErrStatusMismatch:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
}

func TestUserRepo_CreateLookupAndHousehold(t *testing.T) {
	repo := NewUserRepo(openTestDB(t))
	ctx := context.Background()

	u := model.User{
		ID: "u1", Email: "  Resident@Example.com ", PasswordHash: "hash",
		Role: model.RoleResident, HouseholdID: strPtr("A-101"), CreatedAt: baseTime,
	}
	require.NoError(t, repo.Create(ctx, u))

	got, err := repo.GetByEmail(ctx, "resident@example.COM")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "resident@example.com", got.Email)
	assert.Equal(t, model.RoleResident, got.Role)
	require.NotNil(t, got.HouseholdID)
	assert.Equal(t, "A-101", *got.HouseholdID)

	dup := u
	dup.ID = "u2"
	assert.ErrorIs(t, repo.Create(ctx, dup), ErrEmailExists)

	second := model.User{
		ID: "u3", Email: "other@example.com", PasswordHash: "hash",
		Role: model.RoleResident, HouseholdID: strPtr("A-101"), CreatedAt: baseTime,
	}
	require.NoError(t, repo.Create(ctx, second))

	h, err := repo.Household(ctx, "A-101")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u3"}, h.Members)

	_, err = repo.GetByID(ctx, "u2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepo_ListByRoleAndDelete(t *testing.T) {
	repo := NewUserRepo(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, model.User{ID: "g1", Email: "g1@x.io", PasswordHash: "h", Role: model.RoleGuard, CreatedAt: baseTime}))
	require.NoError(t, repo.Create(ctx, model.User{ID: "g2", Email: "g2@x.io", PasswordHash: "h", Role: model.RoleGuard, CreatedAt: baseTime.Add(time.Second)}))
	require.NoError(t, repo.Create(ctx, model.User{ID: "a1", Email: "a1@x.io", PasswordHash: "h", Role: model.RoleAdmin, CreatedAt: baseTime}))
	require.NoError(t, repo.Create(ctx, model.User{ID: "r1", Email: "r1@x.io", PasswordHash: "h", Role: model.RoleResident, HouseholdID: strPtr("C-3"), CreatedAt: baseTime}))

	guards, err := repo.ListByRole(ctx, model.RoleGuard)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, []string{guards[0].ID, guards[1].ID})

	require.NoError(t, repo.Delete(ctx, "r1"))
	assert.ErrorIs(t, repo.Delete(ctx, "r1"), ErrNotFound)

	h, err := repo.Household(ctx, "C-3")
	require.NoError(t, err)
	assert.Empty(t, h.Members)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTokenRepo_ClearOnlyMatchingToken(t *testing.T) {
	db := openTestDB(t)
	users := NewUserRepo(db)
	tokens := NewTokenRepo(db)
	ctx := context.Background()
	require.NoError(t, users.Create(ctx, model.User{ID: "u1", Email: "u1@x.io", PasswordHash: "h", Role: model.RoleGuard, CreatedAt: baseTime}))

	tok, err := tokens.PushToken(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, tokens.SetPushToken(ctx, "u1", "old"))
	require.NoError(t, tokens.SetPushToken(ctx, "u1", "new"))

	cleared, err := tokens.ClearPushToken(ctx, "u1", "old")
	require.NoError(t, err)
	assert.False(t, cleared)

	tok, err = tokens.PushToken(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "new", tok)

	cleared, err = tokens.ClearPushToken(ctx, "u1", "new")
	require.NoError(t, err)
	assert.True(t, cleared)

	cleared, err = tokens.ClearPushToken(ctx, "u1", "new")
	require.NoError(t, err)
	assert.False(t, cleared)

	assert.ErrorIs(t, tokens.SetPushToken(ctx, "ghost", "x"), ErrNotFound)
	tok, err = tokens.PushToken(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestAuditRepo_RecentNewestFirst(t *testing.T) {
	repo := NewAuditRepo(openTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(ctx, model.AuditRecord{
			ID:         fmt.Sprintf("e%d", i),
			Type:       model.EventCheckIn,
			ActorID:    "g1",
			Payload:    []byte(`{"visitorId":"v1"}`),
			OccurredAt: baseTime.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := repo.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "e4", got[0].ID)
	assert.Equal(t, "e2", got[2].ID)
	assert.JSONEq(t, `{"visitorId":"v1"}`, string(got[0].Payload))
	assert.Equal(t, model.EventCheckIn, got[0].Type)
}
