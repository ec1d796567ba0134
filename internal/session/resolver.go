// Package session resolves an authenticated identity to a role and a
// destination screen, and runs the login flows that lead there.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"uolems/internal/docstore"
	"uolems/internal/identity"
	"uolems/internal/metrics"
	"uolems/internal/model"
)

type State string

const (
	StateSuperAdmin        State = "super_admin"
	StateAdmin             State = "admin"
	StateStudentActive     State = "student_active"
	StateStudentOnboarding State = "student_onboarding"
	StateBlockedUnverified State = "blocked_unverified"
	StateZombieNoRecord    State = "zombie_no_record"
)

type Route string

const (
	RouteAdminDashboard   Route = "admin_dashboard"
	RouteStudentDashboard Route = "student_dashboard"
	RouteOnboarding       Route = "onboarding"
)

// Outcome is a successful resolution: the user is routed somewhere.
type Outcome struct {
	State       State
	Route       Route
	Role        model.Role
	Message     string
	Severity    Severity
	Identity    model.Identity
	Preferences model.Preferences
	AccessToken string
	SessionID   string
}

type Resolver struct {
	store       docstore.Store
	provider    identity.Provider
	superAdmins map[string]struct{}
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewResolver(store docstore.Store, provider identity.Provider, superAdminEmails []string, logger *slog.Logger) *Resolver {
	superAdmins := make(map[string]struct{}, len(superAdminEmails))
	for _, email := range superAdminEmails {
		if email = normalizeEmail(email); email != "" {
			superAdmins[email] = struct{}{}
		}
	}
	return &Resolver{
		store:       store,
		provider:    provider,
		superAdmins: superAdmins,
		logger:      logger.With("component", "session_resolver"),
		tracer:      otel.Tracer("uolems/session"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Resolve classifies id by probing, in order, the configured super-admin
// addresses, the admin collection and the users collection. The first match
// wins. Blocking states are returned as *Error with State set.
func (r *Resolver) Resolve(ctx context.Context, id model.Identity, federated bool) (outcome Outcome, err error) {
	ctx, span := r.tracer.Start(ctx, "session.resolve", trace.WithAttributes(
		attribute.String("uid", id.UID),
		attribute.Bool("federated", federated),
	))
	defer func() {
		state := string(outcome.State)
		var serr *Error
		if errors.As(err, &serr) {
			state = string(serr.State)
			if state == "" {
				state = serr.Code
			}
			span.SetStatus(codes.Error, serr.Code)
		}
		span.SetAttributes(attribute.String("state", state))
		span.End()
		metrics.SessionResolutions.WithLabelValues(state).Inc()
	}()

	if r.isSuperAdmin(id.Email) {
		return r.routed(id, StateSuperAdmin, model.Preferences{}), nil
	}

	adminDoc, err := r.probe(ctx, model.CollectionAdmin, id.UID)
	if ctx.Err() != nil {
		return Outcome{}, abandoned(ctx)
	}
	if err != nil {
		return Outcome{}, storeError(err)
	}
	if adminDoc != nil {
		admin := model.AdminFromDocument(adminDoc.ID, adminDoc.Data)
		return r.routed(id, StateAdmin, model.Preferences{DarkMode: admin.DarkMode}), nil
	}

	userDoc, err := r.probe(ctx, model.CollectionUsers, id.UID)
	if ctx.Err() != nil {
		return Outcome{}, abandoned(ctx)
	}
	if err != nil {
		return Outcome{}, storeError(err)
	}

	if userDoc == nil {
		if federated {
			return r.onboard(ctx, id)
		}
		r.signOut(ctx, id.UID)
		if ctx.Err() != nil {
			return Outcome{}, abandoned(ctx)
		}
		return Outcome{}, &Error{
			Kind:     KindDomain,
			Code:     CodeZombieAccount,
			Message:  "Account not found. Please Sign Up.",
			Severity: SeverityError,
			State:    StateZombieNoRecord,
		}
	}

	profile := model.ProfileFromDocument(userDoc.ID, userDoc.Data)
	prefs := model.Preferences{DarkMode: profile.DarkMode}
	if !federated && profile.Role != model.RoleAdmin && !id.EmailVerified {
		r.signOut(ctx, id.UID)
		if ctx.Err() != nil {
			return Outcome{}, abandoned(ctx)
		}
		return Outcome{}, &Error{
			Kind:     KindDomain,
			Code:     CodeEmailNotVerified,
			Message:  "Please verify your email address first.",
			Severity: SeverityWarning,
			State:    StateBlockedUnverified,
		}
	}
	if profile.Role == model.RoleAdmin {
		return r.routed(id, StateAdmin, prefs), nil
	}
	out := r.routed(id, StateStudentActive, prefs)
	out.Role = profile.Role
	return out, nil
}

// probe fetches collection/uid, returning nil when the document is absent.
func (r *Resolver) probe(ctx context.Context, collection, uid string) (*docstore.Document, error) {
	ctx, span := r.tracer.Start(ctx, "session.probe", trace.WithAttributes(attribute.String("collection", collection)))
	defer span.End()

	doc, err := r.store.Get(ctx, collection, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("found", true))
	return &doc, nil
}

func (r *Resolver) onboard(ctx context.Context, id model.Identity) (Outcome, error) {
	doc := model.OnboardingProfileDocument(id, r.now())
	err := r.store.Set(ctx, model.CollectionUsers, id.UID, doc)
	if ctx.Err() != nil {
		return Outcome{}, abandoned(ctx)
	}
	if err != nil {
		return Outcome{}, storeError(err)
	}
	r.logger.Info("onboarding profile created", slog.String("uid", id.UID))
	return Outcome{
		State:    StateStudentOnboarding,
		Route:    RouteOnboarding,
		Role:     model.RoleStudent,
		Identity: id,
	}, nil
}

func (r *Resolver) routed(id model.Identity, state State, prefs model.Preferences) Outcome {
	out := Outcome{State: state, Identity: id, Preferences: prefs, Severity: SeveritySuccess}
	switch state {
	case StateSuperAdmin, StateAdmin:
		out.Route = RouteAdminDashboard
		out.Role = model.RoleAdmin
		out.Message = "Welcome Admin!"
	default:
		out.Route = RouteStudentDashboard
		out.Role = model.RoleStudent
		out.Message = "Welcome!"
	}
	return out
}

func (r *Resolver) signOut(ctx context.Context, uid string) {
	if err := r.provider.SignOut(ctx, uid); err != nil {
		r.logger.Warn("sign out failed", slog.String("uid", uid), slog.String("error", err.Error()))
	}
}

func (r *Resolver) isSuperAdmin(email string) bool {
	_, ok := r.superAdmins[normalizeEmail(email)]
	return ok
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
