package membership

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ErrNotFound reports a missing membership row.
var ErrNotFound = errors.New("membership: not found")

// Get returns the membership for a user within a tenant. An empty tenantID
// matches the user's sole membership, which covers single-tenant principals
// whose identity layer does not forward a tenant.
func (r *Repository) Get(ctx context.Context, userID, tenantID string) (Membership, error) {
	var (
		m   Membership
		row pgx.Row
	)
	if tenantID == "" {
		row = r.pool.QueryRow(ctx, `
			SELECT user_id, tenant_id, role, status, created_at, updated_at
			FROM tenant_memberships
			WHERE user_id = $1
			ORDER BY updated_at DESC
			LIMIT 1`, userID)
	} else {
		row = r.pool.QueryRow(ctx, `
			SELECT user_id, tenant_id, role, status, created_at, updated_at
			FROM tenant_memberships
			WHERE user_id = $1 AND tenant_id = $2`, userID, tenantID)
	}
	err := row.Scan(&m.UserID, &m.TenantID, &m.Role, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Membership{}, ErrNotFound
	}
	if err != nil {
		return Membership{}, err
	}
	return m, nil
}

// ListByTenant returns every membership within a tenant.
func (r *Repository) ListByTenant(ctx context.Context, tenantID string) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, tenant_id, role, status, created_at, updated_at
		FROM tenant_memberships
		WHERE tenant_id = $1
		ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.UserID, &m.TenantID, &m.Role, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return memberships, nil
}

// Upsert creates or replaces a membership.
func (r *Repository) Upsert(ctx context.Context, m Membership) (Membership, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tenant_memberships (user_id, tenant_id, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (user_id, tenant_id)
		DO UPDATE SET role = EXCLUDED.role, status = EXCLUDED.status, updated_at = now()
		RETURNING user_id, tenant_id, role, status, created_at, updated_at`,
		m.UserID, m.TenantID, m.Role, m.Status)
	var out Membership
	if err := row.Scan(&out.UserID, &out.TenantID, &out.Role, &out.Status, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return Membership{}, err
	}
	return out, nil
}

// UpdateRole changes one membership's role.
func (r *Repository) UpdateRole(ctx context.Context, userID, tenantID, role string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tenant_memberships
		SET role = $3, updated_at = now()
		WHERE user_id = $1 AND tenant_id = $2`, userID, tenantID, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus changes one membership's status.
func (r *Repository) UpdateStatus(ctx context.Context, userID, tenantID, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tenant_memberships
		SET status = $3, updated_at = now()
		WHERE user_id = $1 AND tenant_id = $2`, userID, tenantID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a membership.
func (r *Repository) Delete(ctx context.Context, userID, tenantID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM tenant_memberships
		WHERE user_id = $1 AND tenant_id = $2`, userID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
