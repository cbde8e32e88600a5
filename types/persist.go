package types

import "context"

// AssignmentPersister persists role-permission polices to an external storage
type AssignmentPersister interface {
	// Insert a policy to the persister, ErrAlreadyExists if it is there
	Insert(ctx context.Context, role Role, id string) error

	// Remove a policy from the persister, ErrNotFound if it is absent
	Remove(ctx context.Context, role Role, id string) error

	// List all polices from the persister
	List(ctx context.Context) ([]AssignmentPolicy, error)

	// Watch any changes occurred about the polices in the persister
	Watch(ctx context.Context) (<-chan AssignmentPolicyChange, error)
}

// AssignmentPolicy grants a permission to a role
type AssignmentPolicy struct {
	Role         Role   `json:"role"`
	PermissionID string `json:"permission"`
}

// AssignmentPolicyChange denotes a changing event about an AssignmentPolicy
type AssignmentPolicyChange struct {
	AssignmentPolicy
	Method PersistMethod `json:"method"`
}

// PersistMethod defines what happened about the policies
type PersistMethod string

// possible changes could be happened about policies
const (
	PersistInsert PersistMethod = "insert"
	PersistDelete PersistMethod = "delete"
)

// SeedMarker is implemented by persisters remembering the seed policy was applied once,
// so an assignment emptied on purpose is never seeded again
type SeedMarker interface {
	// Seeded tells if MarkSeeded was ever called on the storage
	Seeded(ctx context.Context) (bool, error)

	// MarkSeeded records the seed policy was applied, calling it again is a noop
	MarkSeeded(ctx context.Context) error
}
