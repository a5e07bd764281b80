package domain

// PermissionLevel is an ordered access level on a resource.
type PermissionLevel int

const (
	PermissionNone PermissionLevel = iota
	PermissionRead
	PermissionExecute
	PermissionWrite
)

// String returns the lowercase name of the level.
func (l PermissionLevel) String() string {
	switch l {
	case PermissionRead:
		return "read"
	case PermissionExecute:
		return "execute"
	case PermissionWrite:
		return "write"
	default:
		return "none"
	}
}

// Resource types a permission can target.
const (
	ResourceStack  = "Stack"
	ResourceServer = "Server"
	ResourceRepo   = "Repo"
)

// User is a principal issuing commands. Admins bypass permission checks.
type User struct {
	ID       string `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
	Admin    bool   `json:"admin" db:"admin"`
}

// Permission grants a user a level on one resource.
type Permission struct {
	UserID       string          `json:"user_id" db:"user_id"`
	ResourceType string          `json:"resource_type" db:"resource_type"`
	ResourceID   string          `json:"resource_id" db:"resource_id"`
	Level        PermissionLevel `json:"level" db:"level"`
}

// CreateUserRequest is the request body for creating a user.
type CreateUserRequest struct {
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}
