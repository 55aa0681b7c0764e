package types

// HTTP Header Constants
const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderUID           = "uid"
	HeaderGroups        = "groups"
)

// Authentication Constants
const (
	BearerPrefix = "Bearer "
)

// UserCtxName is the fiber Locals key holding the requester's UserContext.
const UserCtxName = "user"

// Common Values
const (
	UserRole  = "user"
	AdminRole = "admin"
)

// UserContext carries the authenticated requester identity through a request.
// A zero UserContext represents an anonymous caller.
type UserContext struct {
	UserID      string   `json:"userId"`
	Groups      []string `json:"groups"`
	DisplayName string   `json:"displayName"`
	SystemRole  string   `json:"role"`
}

// IsAnonymous reports whether no authenticated user is attached.
func (u UserContext) IsAnonymous() bool {
	return u.UserID == "" && len(u.Groups) == 0
}
