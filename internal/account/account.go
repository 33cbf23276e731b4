// Package account provisions and authenticates community accounts. Only
// admins create or remove users; residents join the household named by
// their household number.
package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/apperr"
	"github.com/iliyamo/community-gate/internal/audit"
	"github.com/iliyamo/community-gate/internal/model"
	"github.com/iliyamo/community-gate/internal/repository"
	"github.com/iliyamo/community-gate/internal/utils"
)

const (
	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 6
	// SystemActor authors audit events of accounts provisioned from the CLI.
	SystemActor = "system"
)

// Store is the user persistence boundary.
type Store interface {
	Create(ctx context.Context, u model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
	List(ctx context.Context) ([]model.User, error)
	Delete(ctx context.Context, id string) error
}

// Auditor appends audit events.
type Auditor interface {
	Append(ctx context.Context, actorID string, p audit.Payload) (model.AuditRecord, error)
}

// NewUser is the admin create-user input.
type NewUser struct {
	Email           string     `json:"email"`
	Password        string     `json:"password"`
	Role            model.Role `json:"role"`
	HouseholdNumber string     `json:"householdNumber"`
}

// Service implements account operations.
type Service struct {
	users      Store
	auditor    Auditor
	bcryptCost int
	clock      func() time.Time
	newID      func() string
	logger     *zap.Logger
}

// NewService wires a Service. A nil auditor disables user_created events.
func NewService(users Store, auditor Auditor, bcryptCost int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:      users,
		auditor:    auditor,
		bcryptCost: bcryptCost,
		clock:      time.Now,
		newID:      uuid.NewString,
		logger:     logger,
	}
}

// Authenticate checks an email/password pair. Unknown emails and wrong
// passwords yield the same error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return model.User{}, apperr.Validation("email and password are required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperr.Unauthorized("invalid credentials")
	}
	if err != nil {
		return model.User{}, apperr.Internal("failed to load user", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return model.User{}, apperr.Unauthorized("invalid credentials")
	}
	return u, nil
}

// CreateUser provisions an account on behalf of an admin.
func (s *Service) CreateUser(ctx context.Context, caller model.Identity, in NewUser) (model.User, error) {
	if caller.UserID == "" {
		return model.User{}, apperr.Unauthorized("authentication required")
	}
	if !caller.HasRole(model.RoleAdmin) {
		return model.User{}, apperr.Forbidden("only admins can create users")
	}
	return s.create(ctx, caller.UserID, in)
}

// Provision creates an account without a calling admin. The operator CLI
// uses it to bootstrap the first admin and to load seed data.
func (s *Service) Provision(ctx context.Context, in NewUser) (model.User, error) {
	return s.create(ctx, SystemActor, in)
}

func (s *Service) create(ctx context.Context, actorID string, in NewUser) (model.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	household := strings.TrimSpace(in.HouseholdNumber)
	switch {
	case email == "" || !strings.Contains(email, "@"):
		return model.User{}, apperr.Validation("a valid email is required")
	case len(in.Password) < MinPasswordLength:
		return model.User{}, apperr.Newf(apperr.CodeValidation, "password must be at least %d characters", MinPasswordLength)
	case len(in.Password) > utils.MaxPasswordBytes:
		return model.User{}, apperr.Newf(apperr.CodeValidation, "password must be at most %d bytes", utils.MaxPasswordBytes)
	case !in.Role.Valid():
		return model.User{}, apperr.Newf(apperr.CodeValidation, "unknown role %q", in.Role)
	case in.Role == model.RoleResident && household == "":
		return model.User{}, apperr.Validation("householdNumber is required for residents")
	}

	hash, err := utils.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return model.User{}, apperr.Internal("failed to hash password", err)
	}
	u := model.User{
		ID:           s.newID(),
		Email:        email,
		PasswordHash: hash,
		Role:         in.Role,
		CreatedAt:    s.clock().UTC().Truncate(time.Millisecond),
	}
	if in.Role == model.RoleResident {
		u.HouseholdID = &household
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return model.User{}, apperr.New(apperr.CodeConflict, "email already in use")
		}
		return model.User{}, apperr.Internal("failed to create user", err)
	}
	s.logger.Info("user created",
		zap.String("user", u.ID),
		zap.String("role", string(u.Role)),
		zap.String("actor", actorID))

	if s.auditor != nil {
		p := audit.UserCreatedPayload{UserID: u.ID, Email: u.Email, Role: u.Role}
		if u.HouseholdID != nil {
			p.HouseholdID = *u.HouseholdID
		}
		if _, err := s.auditor.Append(context.WithoutCancel(ctx), actorID, p); err != nil {
			s.logger.Warn("audit append failed", zap.String("user", u.ID), zap.Error(err))
		}
	}
	return u, nil
}

// List returns every account, newest first.
func (s *Service) List(ctx context.Context, caller model.Identity) ([]model.User, error) {
	if !caller.HasRole(model.RoleAdmin) {
		return nil, apperr.Forbidden("only admins can list users")
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, apperr.Internal("failed to list users", err)
	}
	return users, nil
}

// Remove deletes an account. Admins cannot remove themselves.
func (s *Service) Remove(ctx context.Context, caller model.Identity, userID string) error {
	if !caller.HasRole(model.RoleAdmin) {
		return apperr.Forbidden("only admins can remove users")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperr.Validation("userId is required")
	}
	if userID == caller.UserID {
		return apperr.Validation("you cannot remove your own account")
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("user not found")
		}
		return apperr.Internal("failed to remove user", err)
	}
	s.logger.Info("user removed", zap.String("user", userID), zap.String("actor", caller.UserID))
	return nil
}

// Lookup finds an account by email.
func (s *Service) Lookup(ctx context.Context, email string) (model.User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperr.Newf(apperr.CodeNotFound, "no user with email %q", strings.TrimSpace(email))
	}
	if err != nil {
		return model.User{}, apperr.Internal("failed to load user", err)
	}
	return u, nil
}

// Me returns the caller's own account.
func (s *Service) Me(ctx context.Context, caller model.Identity) (model.User, error) {
	if caller.UserID == "" {
		return model.User{}, apperr.Unauthorized("authentication required")
	}
	u, err := s.users.GetByID(ctx, caller.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return model.User{}, apperr.Internal("failed to load user", err)
	}
	return u, nil
}
