package types

// Permission is an atomic capability, identified by a stable string key like "users.view"
type Permission struct {
	ID          string `json:"id" yaml:"id" mapstructure:"id"`
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Description string `json:"description,omitempty" yaml:"description" mapstructure:"description"`
}

// Registry is the immutable catalog of permissions of a deployment
type Registry interface {
	// ListPermissions returns all permissions in declaration order
	ListPermissions() []Permission

	// Exists tells if the permission id is registered
	Exists(id string) bool

	// Get returns the registered permission with the id
	Get(id string) (Permission, error)

	// Validate returns ErrUnknownPermission if id is not registered
	Validate(id string) error

	// Sorted returns the registered ids of set in declaration order
	Sorted(set map[string]struct{}) []string
}

// AssignmentReader answers questions about granted permissions
type AssignmentReader interface {
	// GetPermissions returns a copy of permission ids granted to role
	GetPermissions(role Role) (map[string]struct{}, error)

	// HasPermission tells if the permission is granted to role
	HasPermission(role Role, id string) (bool, error)
}

// AssignmentWriter changes granted permissions of roles
type AssignmentWriter interface {
	// Grant the permission to role, granting twice is not an error
	Grant(role Role, id string) error

	// Revoke the permission from role, revoking an absent one is not an error
	Revoke(role Role, id string) error

	// Toggle revokes the permission if granted, or grants it otherwise.
	// It returns whether the permission is granted after toggling.
	Toggle(role Role, id string) (bool, error)

	// ReplaceAll sets the permissions of role to exactly ids, all or nothing
	ReplaceAll(role Role, ids []string) error
}

// Assignment is the role to permissions mapping
type Assignment interface {
	AssignmentReader
	AssignmentWriter
}
