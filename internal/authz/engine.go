package authz

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"pursuit/internal/domain"
)

// AccessDeniedError indicates the admin check failed. It is the one check
// that surfaces as an error instead of a decision value.
type AccessDeniedError struct {
	Permission string
}

func (e AccessDeniedError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// ErrUnauthorized indicates the principal could not be resolved to any
// permission set (unknown application caller).
var ErrUnauthorized = errors.New("unauthorized principal")

// Directory is what the engine needs from the persistence layer. The role
// and permission catalogs are fetched fresh per decision; callers cache at
// their own layer if they need to.
type Directory interface {
	Permissions(ctx context.Context) ([]domain.Permission, error)
	Roles(ctx context.Context) ([]domain.Role, error)
	UserProfileByUPN(ctx context.Context, upn string) (domain.UserProfile, error)
}

// Decision is the outcome of an access check.
type Decision struct {
	Granted bool
	Matched []string
}

// Engine answers access-control queries for the workflow and the API.
type Engine struct {
	Directory Directory
	ClientID  string
	Logger    *log.Logger
}

func New(dir Directory, clientID string) Engine {
	return Engine{Directory: dir, ClientID: clientID}
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// ResolvePrincipalPermissions computes the caller's effective permission set.
// A delegated user resolves through their profile's role display names; an
// application caller must present the configured client id and resolves
// through roles whose AD group matches "aud_"+audience.
func (e Engine) ResolvePrincipalPermissions(ctx context.Context, requestID string) ([]domain.Permission, error) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("request_id %s: no principal on context: %w", requestID, ErrUnauthorized)
	}
	roles, err := e.Directory.Roles(ctx)
	if err != nil {
		return nil, fmt.Errorf("request_id %s: fetch roles: %w", requestID, err)
	}
	if principal.IsDelegated() {
		profile, err := e.Directory.UserProfileByUPN(ctx, principal.PreferredUsername)
		if err != nil {
			return nil, fmt.Errorf("request_id %s: profile for %s: %w", requestID, principal.PreferredUsername, err)
		}
		return unionRolePermissions(roles, func(r domain.Role) bool {
			for _, name := range profile.RoleNames {
				if r.DisplayName == name {
					return true
				}
			}
			return false
		}), nil
	}
	if principal.AuthorizedParty != e.ClientID {
		return nil, fmt.Errorf("request_id %s: authorized party mismatch: %w", requestID, ErrUnauthorized)
	}
	wantGroup := "aud_" + principal.Audience
	return unionRolePermissions(roles, func(r domain.Role) bool {
		return strings.EqualFold(r.ADGroupName, wantGroup)
	}), nil
}

func unionRolePermissions(roles []domain.Role, match func(domain.Role) bool) []domain.Permission {
	seen := map[string]bool{}
	var perms []domain.Permission
	for _, role := range roles {
		if !match(role) {
			continue
		}
		for _, p := range role.Permissions {
			key := strings.ToLower(p.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			perms = append(perms, p)
		}
	}
	return perms
}

// CheckAdminAccess requires the Administrator permission and returns
// AccessDeniedError otherwise.
func (e Engine) CheckAdminAccess(ctx context.Context, requestID string) error {
	perms, err := e.ResolvePrincipalPermissions(ctx, requestID)
	if err != nil {
		return err
	}
	for _, p := range perms {
		if p.Name == PermissionAdministrator {
			return nil
		}
	}
	return AccessDeniedError{Permission: PermissionAdministrator}
}

// CheckAccess grants when the caller's permission set intersects the
// requested set, matching names case-insensitively.
func (e Engine) CheckAccess(ctx context.Context, requested []domain.Permission, requestID string) (Decision, error) {
	// TODO: requestID can never both be empty and start with "bot"; decide
	// whether bot callers should get this bypass or the branch should go.
	if strings.HasPrefix(requestID, "bot") && requestID == "" {
		return Decision{Granted: true}, nil
	}
	perms, err := e.ResolvePrincipalPermissions(ctx, requestID)
	if err != nil {
		return Decision{}, err
	}
	have := map[string]bool{}
	for _, p := range perms {
		have[strings.ToLower(p.Name)] = true
	}
	var matched []string
	for _, want := range requested {
		if have[strings.ToLower(want.Name)] {
			matched = append(matched, want.Name)
		}
	}
	return Decision{Granted: len(matched) > 0, Matched: matched}, nil
}

// CheckAccessForAction resolves the permission names an action needs from
// the catalog, filters the stored permission catalog to them, and delegates
// to CheckAccess.
func (e Engine) CheckAccessForAction(ctx context.Context, action Action, requestID string) (Decision, error) {
	names := RequiredPermissions(action)
	if len(names) == 0 {
		return Decision{}, fmt.Errorf("request_id %s: no permissions mapped for action %s", requestID, action)
	}
	all, err := e.Directory.Permissions(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("request_id %s: fetch permissions: %w", requestID, err)
	}
	var requested []domain.Permission
	for _, p := range all {
		for _, name := range names {
			if strings.EqualFold(p.Name, name) {
				requested = append(requested, p)
				break
			}
		}
	}
	return e.CheckAccess(ctx, requested, requestID)
}

// CheckAccessInOpportunity is the per-entity gate: the coarse role check for
// the action must pass and the delegated caller must appear among the
// opportunity's team members. The granular override on the context skips the
// membership half only. Fails closed: any error resolves to false.
func (e Engine) CheckAccessInOpportunity(ctx context.Context, opp domain.Opportunity, action Action, requestID string) bool {
	decision, err := e.CheckAccessForAction(ctx, action, requestID)
	if err != nil || !decision.Granted {
		if err != nil {
			e.logger().Printf("request_id %s: opportunity %s access check failed: %v", requestID, opp.ID, err)
		}
		return false
	}
	if e.GetGranularAccessOverride(ctx) {
		return true
	}
	principal, ok := PrincipalFromContext(ctx)
	if !ok || !principal.IsDelegated() {
		return false
	}
	_, member := opp.Content.TeamMemberByUPN(principal.PreferredUsername)
	return member
}

// SetGranularAccessOverride returns a context carrying the membership bypass.
// The flag lives on the returned context only; it is never process state.
func (e Engine) SetGranularAccessOverride(ctx context.Context, on bool) context.Context {
	return WithGranularAccessOverride(ctx, on)
}

// GetGranularAccessOverride reads the bypass for this call chain.
func (e Engine) GetGranularAccessOverride(ctx context.Context) bool {
	return GranularAccessOverride(ctx)
}
