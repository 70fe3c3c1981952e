package auth

// Authority tags understood by the authorization layer. The set is closed:
// roles expand to authorities through the table below, never through runtime
// lookup.
const (
	AuthorityUserRead   = "user:read"
	AuthorityUserCreate = "user:create"
	AuthorityUserUpdate = "user:update"
	AuthorityUserDelete = "user:delete"
)

type Role string

const (
	RoleUser       Role = "ROLE_USER"
	RoleHR         Role = "ROLE_HR"
	RoleManager    Role = "ROLE_MANAGER"
	RoleAdmin      Role = "ROLE_ADMIN"
	RoleSuperAdmin Role = "ROLE_SUPER_ADMIN"
)

var roleAuthorities = map[Role][]string{
	RoleUser:       {AuthorityUserRead},
	RoleHR:         {AuthorityUserRead, AuthorityUserUpdate},
	RoleManager:    {AuthorityUserRead, AuthorityUserUpdate},
	RoleAdmin:      {AuthorityUserRead, AuthorityUserCreate, AuthorityUserUpdate},
	RoleSuperAdmin: {AuthorityUserRead, AuthorityUserCreate, AuthorityUserUpdate, AuthorityUserDelete},
}

func (r Role) Valid() bool {
	_, ok := roleAuthorities[r]
	return ok
}

// Authorities returns a copy of the authority set granted by the role.
// Unknown roles grant nothing.
func (r Role) Authorities() []string {
	granted, ok := roleAuthorities[r]
	if !ok {
		return nil
	}

	out := make([]string, len(granted))
	copy(out, granted)
	return out
}

// Principal is the identity snapshot the credential store hands to the
// authentication gate. It is fetched fresh per login attempt and never
// cached across requests.
type Principal struct {
	Username     string   `json:"username"`
	PasswordHash string   `json:"-"`
	Role         Role     `json:"role"`
	Authorities  []string `json:"authorities"`
	Enabled      bool     `json:"enabled"`
	Locked       bool     `json:"locked"`
}

// Identity is the per-request security context established by the request
// authorizer from a validated token.
type Identity struct {
	Subject     string
	Authorities []string
}

func (id Identity) HasAuthority(authority string) bool {
	for _, granted := range id.Authorities {
		if granted == authority {
			return true
		}
	}
	return false
}
