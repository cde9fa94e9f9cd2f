// Package permissions answers read-only questions about what the current
// operator role may see and do. It performs no authentication.
package permissions

import (
	"fmt"
	"strings"

	"github.com/potooio/cdcwatch/internal/types"
)

// Permission names a single capability.
type Permission string

const (
	ViewConnectionAlerts  Permission = "alerts:view:connection"
	ViewPipelineAlerts    Permission = "alerts:view:pipeline"
	ViewReplicationAlerts Permission = "alerts:view:replication"
	ManageAlerts          Permission = "alerts:manage"
	ManageSubscriptions   Permission = "subscriptions:manage"
	ControlPipelines      Permission = "pipelines:control"
	RetryConnection       Permission = "connection:retry"
)

// ViewAlerts returns the permission needed to see alerts from source.
func ViewAlerts(source types.AlertSource) Permission {
	return Permission("alerts:view:" + string(source))
}

// Evaluator decides whether a permission is granted.
type Evaluator interface {
	Allowed(p Permission) bool
}

// Role is an operator role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		ViewConnectionAlerts, ViewPipelineAlerts, ViewReplicationAlerts,
		ManageAlerts, ManageSubscriptions, ControlPipelines, RetryConnection,
	},
	RoleOperator: {
		ViewConnectionAlerts, ViewPipelineAlerts, ViewReplicationAlerts,
		ManageAlerts, ManageSubscriptions, ControlPipelines,
	},
	// Viewers do not see connection alerts; their details name database hosts.
	RoleViewer: {
		ViewPipelineAlerts, ViewReplicationAlerts, ManageSubscriptions,
	},
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := rolePermissions[r]; !ok {
		return "", fmt.Errorf("unknown role %q (want admin, operator or viewer)", s)
	}
	return r, nil
}

// RoleEvaluator grants the fixed permission set of a role.
type RoleEvaluator struct {
	role    Role
	granted map[Permission]struct{}
}

// NewRoleEvaluator returns an evaluator for role. Unknown roles grant nothing.
func NewRoleEvaluator(role Role) *RoleEvaluator {
	granted := make(map[Permission]struct{})
	for _, p := range rolePermissions[role] {
		granted[p] = struct{}{}
	}
	return &RoleEvaluator{role: role, granted: granted}
}

// Role returns the evaluated role.
func (e *RoleEvaluator) Role() Role { return e.role }

// Allowed implements Evaluator.
func (e *RoleEvaluator) Allowed(p Permission) bool {
	_, ok := e.granted[p]
	return ok
}

// AllowAll grants every permission.
type AllowAll struct{}

// Allowed implements Evaluator.
func (AllowAll) Allowed(Permission) bool { return true }
