// Package provision creates password accounts on the self-hosted identity
// backend together with the profile documents sign-in routes on.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"uolems/internal/docstore"
	"uolems/internal/model"
)

var ErrInvalidRequest = errors.New("invalid provisioning request")

const minPasswordLength = 6

// Registrar is the account side of provisioning, implemented by
// local.Provider.
type Registrar interface {
	Register(ctx context.Context, email, password, displayName string) (model.Identity, error)
	VerifyEmail(ctx context.Context, uid string) error
}

type Request struct {
	Email      string
	Password   string
	FullName   string
	Role       model.Role
	Department string
	// Status defaults to approved for admins and guards, pending for students.
	Status   model.Status
	Verified bool
}

type Service struct {
	accounts Registrar
	store    docstore.Store
	now      func() time.Time
	logger   *slog.Logger
}

func New(accounts Registrar, store docstore.Store, logger *slog.Logger) *Service {
	return &Service{
		accounts: accounts,
		store:    store,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "provision")),
	}
}

// Provision registers the account, optionally confirms its address, then
// writes users/<uid> and, for admins, admin/<uid>.
func (s *Service) Provision(ctx context.Context, req Request) (model.Identity, error) {
	req, err := req.normalize()
	if err != nil {
		return model.Identity{}, err
	}

	id, err := s.accounts.Register(ctx, req.Email, req.Password, req.FullName)
	if err != nil {
		return model.Identity{}, fmt.Errorf("register %s: %w", req.Email, err)
	}
	if req.Verified {
		if err := s.accounts.VerifyEmail(ctx, id.UID); err != nil {
			return model.Identity{}, fmt.Errorf("verify %s: %w", req.Email, err)
		}
		id.EmailVerified = true
	}

	now := s.now()
	if err := s.store.Set(ctx, model.CollectionUsers, id.UID, profileDocument(id, req, now)); err != nil {
		return model.Identity{}, fmt.Errorf("write profile %s: %w", id.UID, err)
	}
	if req.Role == model.RoleAdmin {
		err := s.store.Set(ctx, model.CollectionAdmin, id.UID, map[string]any{
			model.FieldUID:       id.UID,
			model.FieldCreatedAt: now,
		})
		if err != nil {
			return model.Identity{}, fmt.Errorf("write admin record %s: %w", id.UID, err)
		}
	}

	s.logger.Info("account provisioned",
		slog.String("uid", id.UID),
		slog.String("role", string(req.Role)),
		slog.String("status", string(req.Status)),
		slog.Bool("verified", id.EmailVerified),
	)
	return id, nil
}

func (r Request) normalize() (Request, error) {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.FullName = strings.TrimSpace(r.FullName)
	r.Department = strings.TrimSpace(r.Department)
	if r.Email == "" || !strings.Contains(r.Email, "@") {
		return r, fmt.Errorf("%w: email %q", ErrInvalidRequest, r.Email)
	}
	if len(r.Password) < minPasswordLength {
		return r, fmt.Errorf("%w: password shorter than %d characters", ErrInvalidRequest, minPasswordLength)
	}

	if r.Role == "" {
		r.Role = model.RoleStudent
	}
	switch r.Role {
	case model.RoleStudent, model.RoleAdmin, model.RoleGuard:
	default:
		return r, fmt.Errorf("%w: role %q", ErrInvalidRequest, r.Role)
	}

	if r.Status == "" {
		r.Status = model.StatusApproved
		if r.Role == model.RoleStudent {
			r.Status = model.StatusPending
		}
	}
	switch r.Status {
	case model.StatusPending, model.StatusApproved, model.StatusOnboarding:
	default:
		return r, fmt.Errorf("%w: status %q", ErrInvalidRequest, r.Status)
	}

	if r.FullName == "" {
		r.FullName = strings.SplitN(r.Email, "@", 2)[0]
	}
	return r, nil
}

func profileDocument(id model.Identity, req Request, now time.Time) map[string]any {
	return map[string]any{
		model.FieldUID:        id.UID,
		model.FieldEmail:      id.Email,
		model.FieldFullName:   req.FullName,
		model.FieldRole:       string(req.Role),
		model.FieldDepartment: req.Department,
		model.FieldStatus:     string(req.Status),
		model.FieldIsManager:  false,
		model.FieldCreatedAt:  now,
	}
}
