package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/educanvas/educanvas/internal/authz"
)

// RepositoryPort defines data access methods for memberships.
type RepositoryPort interface {
	Get(ctx context.Context, userID, tenantID string) (Membership, error)
	ListByTenant(ctx context.Context, tenantID string) ([]Membership, error)
	Upsert(ctx context.Context, m Membership) (Membership, error)
	UpdateRole(ctx context.Context, userID, tenantID, role string) error
	UpdateStatus(ctx context.Context, userID, tenantID, status string) error
	Delete(ctx context.Context, userID, tenantID string) error
}

// CacheInvalidator drops cached decisions for a principal. Mutations call it
// synchronously so a revoked role is never served from cache afterwards.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, principalID string) error
}

// Publisher fans the invalidation out to other instances.
type Publisher interface {
	Publish(ctx context.Context, principalID string) error
}

// Service handles membership business logic and feeds the decision engine.
type Service struct {
	logger      *slog.Logger
	repo        RepositoryPort
	invalidator CacheInvalidator
	publisher   Publisher
}

// NewService builds a Service instance. The publisher is optional; leave it
// nil for single-instance deployments.
func NewService(logger *slog.Logger, repo RepositoryPort, invalidator CacheInvalidator, publisher Publisher) *Service {
	return &Service{
		logger:      logger,
		repo:        repo,
		invalidator: invalidator,
		publisher:   publisher,
	}
}

// Get implements the decision engine's membership lookup.
func (s *Service) Get(ctx context.Context, userID, tenantID string) (authz.Membership, error) {
	m, err := s.repo.Get(ctx, userID, tenantID)
	if errors.Is(err, ErrNotFound) {
		return authz.Membership{}, authz.ErrMembershipNotFound
	}
	if err != nil {
		return authz.Membership{}, err
	}
	return authz.Membership{
		Role:   authz.Role(m.Role),
		Status: authz.MembershipStatus(m.Status),
	}, nil
}

// Describe returns the full membership record for admin surfaces.
func (s *Service) Describe(ctx context.Context, userID, tenantID string) (Membership, error) {
	return s.repo.Get(ctx, userID, tenantID)
}

// ListByTenant returns every membership within a tenant.
func (s *Service) ListByTenant(ctx context.Context, tenantID string) ([]Membership, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

// Assign creates or replaces a membership and invalidates the user's cached
// decisions.
func (s *Service) Assign(ctx context.Context, m Membership) (Membership, error) {
	if err := validateRole(m.Role); err != nil {
		return Membership{}, err
	}
	if err := validateStatus(m.Status); err != nil {
		return Membership{}, err
	}
	out, err := s.repo.Upsert(ctx, m)
	if err != nil {
		return Membership{}, err
	}
	s.invalidate(ctx, m.UserID)
	return out, nil
}

// ChangeRole updates a membership's role and invalidates the user's cached
// decisions before returning.
func (s *Service) ChangeRole(ctx context.Context, userID, tenantID, role string) error {
	if err := validateRole(role); err != nil {
		return err
	}
	if err := s.repo.UpdateRole(ctx, userID, tenantID, role); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// ChangeStatus updates a membership's status, covering suspension and
// reinstatement, and invalidates the user's cached decisions.
func (s *Service) ChangeStatus(ctx context.Context, userID, tenantID, status string) error {
	if err := validateStatus(status); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, userID, tenantID, status); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// Remove deletes a membership and invalidates the user's cached decisions.
func (s *Service) Remove(ctx context.Context, userID, tenantID string) error {
	if err := s.repo.Delete(ctx, userID, tenantID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// invalidate drops local cached decisions synchronously and then fans out.
// A fan-out failure is logged, not returned: the local invalidation already
// holds, and remote instances converge when their TTL expires.
func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, userID); err != nil {
			s.logger.Error("decision cache invalidation failed",
				slog.String("user", userID),
				slog.Any("error", err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, userID); err != nil {
			s.logger.Warn("invalidation fan-out failed",
				slog.String("user", userID),
				slog.Any("error", err))
		}
	}
}

// ErrInvalidInput reports a role or status outside the catalog.
var ErrInvalidInput = errors.New("membership: invalid input")

func validateRole(role string) error {
	if _, err := authz.ParseRole(role); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func validateStatus(status string) error {
	switch authz.MembershipStatus(status) {
	case authz.StatusActive, authz.StatusSuspended, authz.StatusRemoved:
		return nil
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
}
