// Package auth - roles.go defines the closed set of caller roles, the actions
// they may perform, and the single capability check used by the services.
package auth

import (
	"fmt"
	"strings"

	"github.com/apk-registry/apk-registry/internal/apperrors"
	"github.com/apk-registry/apk-registry/internal/db/models"
)

// Role is a caller role carried in the token
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
	RoleViewer    Role = "viewer"
)

// Roles returns every valid role
func Roles() []Role {
	return []Role{RoleAdmin, RoleDeveloper, RoleViewer}
}

// ParseRole normalises a role string. Unknown roles are rejected.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles() {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("invalid role: %q", s)
}

// Action is something a caller asks to do
type Action string

const (
	ActionRead                    Action = "read"
	ActionScan                    Action = "scan"
	ActionUpload                  Action = "upload"
	ActionPublishDevelopment      Action = "publish:development"
	ActionPublishReleaseCandidate Action = "publish:release_candidate"
	ActionPublishProduction       Action = "publish:production"
	ActionManageSettings          Action = "settings:manage"
)

// PublishAction returns the action guarding publication to env.
func PublishAction(env models.Environment) Action {
	return Action("publish:" + string(env))
}

// capabilities lists the roles allowed for each action. Actions absent from
// the map are allowed for nobody.
var capabilities = map[Action][]Role{
	ActionRead:                    {RoleAdmin, RoleDeveloper, RoleViewer},
	ActionScan:                    {RoleAdmin, RoleDeveloper, RoleViewer},
	ActionUpload:                  {RoleAdmin},
	ActionPublishDevelopment:      {RoleAdmin, RoleDeveloper, RoleViewer},
	ActionPublishReleaseCandidate: {RoleAdmin, RoleDeveloper, RoleViewer},
	ActionPublishProduction:       {RoleAdmin},
	ActionManageSettings:          {RoleAdmin},
}

// HasCapability reports whether role may perform action
func HasCapability(role Role, action Action) bool {
	for _, r := range capabilities[action] {
		if r == role {
			return true
		}
	}
	return false
}

// Identity is the verified caller
type Identity struct {
	UserID string
	Email  string
	Role   Role
}

// Authorize returns a forbidden error unless id may perform action.
func Authorize(id *Identity, action Action) error {
	if id == nil || id.UserID == "" {
		return apperrors.Forbidden("authentication required for %s", action)
	}
	if !HasCapability(id.Role, action) {
		return apperrors.Forbidden("role %q may not %s", id.Role, action)
	}
	return nil
}
