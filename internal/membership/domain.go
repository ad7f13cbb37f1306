// Package membership stores and serves tenant membership records, the
// source of truth behind every authorization decision.
package membership

import "time"

// Membership is one user's standing within one tenant.
type Membership struct {
	UserID    string    `json:"userId"`
	TenantID  string    `json:"tenantId"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
