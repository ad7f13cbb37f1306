package membership

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educanvas/educanvas/internal/authz"
)

type mockRepo struct {
	memberships map[string]Membership
	getErr      error
	updateErr   error
}

func repoKey(userID, tenantID string) string {
	return userID + "/" + tenantID
}

func newMockRepo() *mockRepo {
	return &mockRepo{memberships: make(map[string]Membership)}
}

func (m *mockRepo) Get(ctx context.Context, userID, tenantID string) (Membership, error) {
	if m.getErr != nil {
		return Membership{}, m.getErr
	}
	rec, ok := m.memberships[repoKey(userID, tenantID)]
	if !ok {
		return Membership{}, ErrNotFound
	}
	return rec, nil
}

func (m *mockRepo) ListByTenant(ctx context.Context, tenantID string) ([]Membership, error) {
	var out []Membership
	for _, rec := range m.memberships {
		if rec.TenantID == tenantID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockRepo) Upsert(ctx context.Context, rec Membership) (Membership, error) {
	if m.updateErr != nil {
		return Membership{}, m.updateErr
	}
	rec.UpdatedAt = time.Now()
	m.memberships[repoKey(rec.UserID, rec.TenantID)] = rec
	return rec, nil
}

func (m *mockRepo) UpdateRole(ctx context.Context, userID, tenantID, role string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	rec, ok := m.memberships[repoKey(userID, tenantID)]
	if !ok {
		return ErrNotFound
	}
	rec.Role = role
	m.memberships[repoKey(userID, tenantID)] = rec
	return nil
}

func (m *mockRepo) UpdateStatus(ctx context.Context, userID, tenantID, status string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	rec, ok := m.memberships[repoKey(userID, tenantID)]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	m.memberships[repoKey(userID, tenantID)] = rec
	return nil
}

func (m *mockRepo) Delete(ctx context.Context, userID, tenantID string) error {
	key := repoKey(userID, tenantID)
	if _, ok := m.memberships[key]; !ok {
		return ErrNotFound
	}
	delete(m.memberships, key)
	return nil
}

type recordingInvalidator struct {
	calls []string
	err   error
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, principalID string) error {
	r.calls = append(r.calls, principalID)
	return r.err
}

type recordingPublisher struct {
	calls []string
}

func (r *recordingPublisher) Publish(ctx context.Context, principalID string) error {
	r.calls = append(r.calls, principalID)
	return nil
}

func newTestService(repo RepositoryPort, inv CacheInvalidator, pub Publisher) *Service {
	return NewService(slog.Default(), repo, inv, pub)
}

func TestGetMapsToEngineMembership(t *testing.T) {
	repo := newMockRepo()
	repo.memberships[repoKey("u1", "t1")] = Membership{UserID: "u1", TenantID: "t1", Role: "staff", Status: "active"}
	svc := newTestService(repo, nil, nil)

	m, err := svc.Get(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, authz.RoleStaff, m.Role)
	assert.Equal(t, authz.StatusActive, m.Status)
}

func TestGetMissingMembership(t *testing.T) {
	svc := newTestService(newMockRepo(), nil, nil)

	_, err := svc.Get(context.Background(), "u1", "t1")
	assert.ErrorIs(t, err, authz.ErrMembershipNotFound)
}

func TestGetPropagatesInfrastructureErrors(t *testing.T) {
	repo := newMockRepo()
	repo.getErr = errors.New("connection refused")
	svc := newTestService(repo, nil, nil)

	_, err := svc.Get(context.Background(), "u1", "t1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, authz.ErrMembershipNotFound)
}

func TestAssignValidatesAndInvalidates(t *testing.T) {
	repo := newMockRepo()
	inv := &recordingInvalidator{}
	pub := &recordingPublisher{}
	svc := newTestService(repo, inv, pub)

	_, err := svc.Assign(context.Background(), Membership{UserID: "u1", TenantID: "t1", Role: "archmage", Status: "active"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, inv.calls)

	_, err = svc.Assign(context.Background(), Membership{UserID: "u1", TenantID: "t1", Role: "staff", Status: "dormant"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	out, err := svc.Assign(context.Background(), Membership{UserID: "u1", TenantID: "t1", Role: "staff", Status: "active"})
	require.NoError(t, err)
	assert.Equal(t, "staff", out.Role)
	assert.Equal(t, []string{"u1"}, inv.calls)
	assert.Equal(t, []string{"u1"}, pub.calls)
}

func TestChangeRoleInvalidatesSynchronously(t *testing.T) {
	repo := newMockRepo()
	repo.memberships[repoKey("u1", "t1")] = Membership{UserID: "u1", TenantID: "t1", Role: "staff", Status: "active"}
	inv := &recordingInvalidator{}
	svc := newTestService(repo, inv, nil)

	require.NoError(t, svc.ChangeRole(context.Background(), "u1", "t1", "tenant_admin"))
	assert.Equal(t, []string{"u1"}, inv.calls)
	assert.Equal(t, "tenant_admin", repo.memberships[repoKey("u1", "t1")].Role)
}

func TestChangeRoleDoesNotInvalidateOnFailure(t *testing.T) {
	repo := newMockRepo()
	repo.updateErr = errors.New("deadlock")
	repo.memberships[repoKey("u1", "t1")] = Membership{UserID: "u1", TenantID: "t1", Role: "staff", Status: "active"}
	inv := &recordingInvalidator{}
	svc := newTestService(repo, inv, nil)

	require.Error(t, svc.ChangeRole(context.Background(), "u1", "t1", "tenant_admin"))
	assert.Empty(t, inv.calls)
}

func TestChangeStatusSuspension(t *testing.T) {
	repo := newMockRepo()
	repo.memberships[repoKey("u1", "t1")] = Membership{UserID: "u1", TenantID: "t1", Role: "staff", Status: "active"}
	inv := &recordingInvalidator{}
	svc := newTestService(repo, inv, nil)

	require.NoError(t, svc.ChangeStatus(context.Background(), "u1", "t1", "suspended"))
	assert.Equal(t, []string{"u1"}, inv.calls)
	assert.Equal(t, "suspended", repo.memberships[repoKey("u1", "t1")].Status)
}

func TestRemoveInvalidates(t *testing.T) {
	repo := newMockRepo()
	repo.memberships[repoKey("u1", "t1")] = Membership{UserID: "u1", TenantID: "t1", Role: "staff", Status: "active"}
	inv := &recordingInvalidator{}
	svc := newTestService(repo, inv, nil)

	require.NoError(t, svc.Remove(context.Background(), "u1", "t1"))
	assert.Equal(t, []string{"u1"}, inv.calls)

	require.ErrorIs(t, svc.Remove(context.Background(), "u1", "t1"), ErrNotFound)
	assert.Len(t, inv.calls, 1)
}

func TestInvalidatorFailureDoesNotFailMutation(t *testing.T) {
	repo := newMockRepo()
	repo.memberships[repoKey("u1", "t1")] = Membership{UserID: "u1", TenantID: "t1", Role: "staff", Status: "active"}
	inv := &recordingInvalidator{err: errors.New("cache down")}
	svc := newTestService(repo, inv, nil)

	assert.NoError(t, svc.ChangeRole(context.Background(), "u1", "t1", "viewer"))
}
