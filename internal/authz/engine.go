package authz

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/educanvas/educanvas/internal/audit"
	"github.com/educanvas/educanvas/internal/observability"
)

// Engine defaults.
const (
	DefaultCacheTTL      = 5 * time.Minute
	DefaultLookupTimeout = 800 * time.Millisecond
)

// EngineConfig groups the engine's collaborators.
type EngineConfig struct {
	Catalog *Catalog
	Cache   DecisionCache
	Lookup  MembershipLookup
	Sink    audit.Sink
	Metrics *observability.Metrics
	Logger  *slog.Logger

	// CacheTTL bounds decision staleness; DefaultCacheTTL when zero.
	CacheTTL time.Duration
	// LookupTimeout bounds each membership lookup; DefaultLookupTimeout
	// when zero. Lookups that exceed it deny with ServiceUnavailable.
	LookupTimeout time.Duration
}

// Engine composes the permission catalog, the role hierarchy, the decision
// cache and the membership lookup into a single decision function. It owns
// the cache exclusively and is safe for arbitrary concurrent use.
type Engine struct {
	catalog       *Catalog
	cache         DecisionCache
	lookup        MembershipLookup
	sink          audit.Sink
	metrics       *observability.Metrics
	logger        *slog.Logger
	cacheTTL      time.Duration
	lookupTimeout time.Duration

	lookups singleflight.Group
	clock   func() time.Time
}

// NewEngine constructs an Engine. The catalog is mandatory; a missing cache
// falls back to a bounded in-process one.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("authz: engine requires a catalog")
	}
	e := &Engine{
		catalog:       cfg.Catalog,
		cache:         cfg.Cache,
		lookup:        cfg.Lookup,
		sink:          cfg.Sink,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		cacheTTL:      cfg.CacheTTL,
		lookupTimeout: cfg.LookupTimeout,
		clock:         time.Now,
	}
	if e.cache == nil {
		e.cache = NewMemoryCache(0)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.cacheTTL <= 0 {
		e.cacheTTL = DefaultCacheTTL
	}
	if e.lookupTimeout <= 0 {
		e.lookupTimeout = DefaultLookupTimeout
	}
	return e, nil
}

// Catalog exposes the immutable permission table.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Check decides whether the request's principal may perform the action.
// Denial is a normal result; Check never returns an error and never panics
// for expected failure modes.
func (e *Engine) Check(ctx context.Context, req Request, action Action) Result {
	if req.Principal == nil || req.Principal.ID == "" {
		res := Result{Reason: ReasonInvalidPrincipal}
		e.finish(ctx, req, action, res)
		return res
	}

	key := CacheKey{PrincipalID: req.Principal.ID, Action: action, TargetTenantID: req.TargetTenantID}
	cached, gen, ok := e.cache.Get(ctx, key)
	if ok {
		e.metrics.ObserveCacheEvent("hit")
		e.finish(ctx, req, action, cached)
		return cached
	}
	e.metrics.ObserveCacheEvent("miss")

	principal := *req.Principal
	if principal.Role == "" || principal.Status == "" {
		membership, err := e.resolveMembership(ctx, principal.ID, principal.TenantID)
		switch {
		case err == nil:
			principal.Role = membership.Role
			principal.Status = membership.Status
		case errors.Is(err, ErrMembershipNotFound):
			res := Result{Reason: ReasonInvalidPrincipal}
			e.cache.Set(ctx, key, res, e.cacheTTL, gen)
			e.finish(ctx, req, action, res)
			return res
		default:
			// Fail closed. Degraded denials are not cached: the next check
			// should retry the lookup rather than pin the outage for a TTL.
			e.logger.Error("membership lookup failed",
				slog.String("principal", principal.ID),
				slog.String("tenant", principal.TenantID),
				slog.Any("error", err))
			res := Result{Reason: ReasonServiceUnavailable}
			e.finish(ctx, req, action, res)
			return res
		}
	}

	res := e.evaluate(principal, req.TargetTenantID, action)
	e.cache.Set(ctx, key, res, e.cacheTTL, gen)
	e.finish(ctx, req, action, res)
	return res
}

// evaluate runs the decision ladder on a fully resolved principal.
func (e *Engine) evaluate(p Principal, targetTenantID string, action Action) Result {
	if _, err := ParseRole(string(p.Role)); err != nil {
		return Result{Reason: ReasonInvalidPrincipal}
	}
	if p.Status != StatusActive {
		return Result{Reason: ReasonInvalidPrincipal, CurrentRole: p.Role}
	}
	if p.Role == RoleSystemAdmin {
		return Result{Granted: true, CurrentRole: p.Role}
	}
	if targetTenantID != "" && targetTenantID != p.TenantID {
		if !e.catalog.AllowsCrossTenant(p.Role, action) {
			return Result{Reason: ReasonTenantAccessDenied, CurrentRole: p.Role}
		}
	}
	if !e.catalog.HasPermission(p.Role, action) {
		res := Result{
			Reason:             ReasonInsufficientRolePermission,
			CurrentRole:        p.Role,
			MissingPermissions: []Action{action},
		}
		if min, ok := e.catalog.MinimumRoleFor(action); ok {
			res.RequiredRole = min
		}
		return res
	}
	return Result{Granted: true, CurrentRole: p.Role}
}

// CheckAny grants when any of the actions is granted, returning the first
// granting result. A full denial aggregates every action as missing.
func (e *Engine) CheckAny(ctx context.Context, req Request, actions []Action) Result {
	if len(actions) == 0 {
		return Result{Reason: ReasonInsufficientRolePermission}
	}
	results := make([]Result, 0, len(actions))
	for _, action := range actions {
		res := e.Check(ctx, req, action)
		if res.Granted {
			return res
		}
		results = append(results, res)
	}
	denial := Result{
		Reason:             ReasonInsufficientRolePermission,
		CurrentRole:        results[0].CurrentRole,
		MissingPermissions: append([]Action(nil), actions...),
	}
	if reason, ok := dominantReason(results); ok {
		denial.Reason = reason
	}
	return denial
}

// CheckAll grants only when every action is granted, aggregating the missing
// permissions of every failing check.
func (e *Engine) CheckAll(ctx context.Context, req Request, actions []Action) Result {
	if len(actions) == 0 {
		// Vacuously true, mirroring the middleware contract for empty
		// permission lists.
		return Result{Granted: true}
	}
	var (
		denials []Result
		missing []Action
		current Role
	)
	for _, action := range actions {
		res := e.Check(ctx, req, action)
		if res.CurrentRole != "" {
			current = res.CurrentRole
		}
		if res.Granted {
			continue
		}
		denials = append(denials, res)
		missing = appendMissing(missing, res.MissingPermissions, action)
	}
	if len(denials) == 0 {
		return Result{Granted: true, CurrentRole: current}
	}
	denial := Result{
		Reason:             ReasonInsufficientRolePermission,
		CurrentRole:        current,
		MissingPermissions: missing,
	}
	if reason, ok := dominantReason(denials); ok {
		denial.Reason = reason
	}
	return denial
}

// dominantReason surfaces ServiceUnavailable over everything else, then a
// reason shared by all denials.
func dominantReason(denials []Result) (Reason, bool) {
	if len(denials) == 0 {
		return "", false
	}
	shared := denials[0].Reason
	for _, d := range denials {
		if d.Reason == ReasonServiceUnavailable {
			return ReasonServiceUnavailable, true
		}
		if d.Reason != shared {
			shared = ""
		}
	}
	if shared != "" {
		return shared, true
	}
	return "", false
}

func appendMissing(missing []Action, fromResult []Action, fallback Action) []Action {
	add := fromResult
	if len(add) == 0 {
		add = []Action{fallback}
	}
	for _, a := range add {
		dup := false
		for _, m := range missing {
			if m == a {
				dup = true
				break
			}
		}
		if !dup {
			missing = append(missing, a)
		}
	}
	return missing
}

// HasRole reports direct membership in any of the given roles. Pure,
// uncached, no side effects.
func (e *Engine) HasRole(p *Principal, roles ...Role) bool {
	if p == nil || p.Role == "" {
		return false
	}
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	return false
}

// HasRoleOrHigher reports whether the principal's role is at least minRole
// in the hierarchy.
func (e *Engine) HasRoleOrHigher(p *Principal, minRole Role) bool {
	if p == nil || p.Role == "" {
		return false
	}
	return e.catalog.LevelOf(p.Role) >= e.catalog.LevelOf(minRole)
}

// CanAccessTenant reports whether the principal may touch the tenant at all:
// system_admin everywhere, everyone else only at home.
func (e *Engine) CanAccessTenant(p *Principal, tenantID string) bool {
	if p == nil {
		return false
	}
	if p.Role == RoleSystemAdmin {
		return true
	}
	return p.TenantID == tenantID
}

// IsResourceOwner reports whether the principal owns the resource.
func (e *Engine) IsResourceOwner(p *Principal, resourceOwnerID string) bool {
	return p != nil && p.ID != "" && p.ID == resourceOwnerID
}

// Invalidate drops cached decisions for one principal, or all of them when
// principalID is empty. Membership mutations must call this synchronously.
func (e *Engine) Invalidate(ctx context.Context, principalID string) error {
	if err := e.cache.Invalidate(ctx, principalID); err != nil {
		return err
	}
	e.metrics.ObserveCacheEvent("invalidate")
	return nil
}

// CacheStats reports decision cache contents.
func (e *Engine) CacheStats(ctx context.Context) (CacheStats, error) {
	return e.cache.Stats(ctx)
}

// PermissionSummary describes what a principal can do, for trusted
// introspection surfaces.
type PermissionSummary struct {
	Role                Role     `json:"role"`
	Level               int      `json:"level"`
	Permissions         []Action `json:"permissions"`
	CanManageUsers      bool     `json:"canManageUsers"`
	CanAccessAllTenants bool     `json:"canAccessAllTenants"`
	TenantID            string   `json:"tenantId,omitempty"`
}

// Summarize returns the principal's effective permission surface.
func (e *Engine) Summarize(p Principal) PermissionSummary {
	return PermissionSummary{
		Role:                p.Role,
		Level:               e.catalog.LevelOf(p.Role),
		Permissions:         e.catalog.EffectivePermissions(p.Role),
		CanManageUsers:      e.catalog.HasPermission(p.Role, "user:manage"),
		CanAccessAllTenants: p.Role == RoleSystemAdmin,
		TenantID:            p.TenantID,
	}
}

// ResolvePrincipal fills in role and status from the membership store when
// the identity layer did not attach them.
func (e *Engine) ResolvePrincipal(ctx context.Context, p Principal) (Principal, error) {
	if p.Role != "" && p.Status != "" {
		return p, nil
	}
	membership, err := e.resolveMembership(ctx, p.ID, p.TenantID)
	if err != nil {
		return p, err
	}
	p.Role = membership.Role
	p.Status = membership.Status
	return p, nil
}

// resolveMembership fetches role and status for the principal, collapsing
// concurrent lookups for the same user and bounding each flight with the
// configured timeout. The flight is detached from the caller's context so
// one cancelled request cannot fail the others sharing it.
func (e *Engine) resolveMembership(ctx context.Context, userID, tenantID string) (Membership, error) {
	if e.lookup == nil {
		return Membership{}, errors.New("authz: no membership lookup configured")
	}
	key := userID + ":" + tenantID
	ch := e.lookups.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.Background(), e.lookupTimeout)
		defer cancel()
		start := e.clock()
		m, err := e.lookup.Get(lctx, userID, tenantID)
		e.metrics.ObserveLookup(e.clock().Sub(start))
		return m, err
	})
	select {
	case <-ctx.Done():
		return Membership{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Membership{}, res.Err
		}
		return res.Val.(Membership), nil
	}
}

// finish records metrics and emits the audit event for one decision.
func (e *Engine) finish(ctx context.Context, req Request, action Action, res Result) {
	e.metrics.ObserveDecision(res.Granted, string(res.Reason))
	if e.sink == nil {
		return
	}
	principalID := "unknown"
	tenantID := req.TargetTenantID
	if req.Principal != nil {
		if req.Principal.ID != "" {
			principalID = req.Principal.ID
		}
		if tenantID == "" {
			tenantID = req.Principal.TenantID
		}
	}
	e.sink.Record(ctx, audit.Event{
		EventID:     uuid.NewString(),
		PrincipalID: principalID,
		Action:      string(action),
		TenantID:    tenantID,
		Granted:     res.Granted,
		Reason:      string(res.Reason),
		OccurredAt:  e.clock(),
	})
}
