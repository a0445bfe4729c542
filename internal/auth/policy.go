package auth

// Roles carried in token claims.
const (
	RoleAdmin    = "admin"
	RoleAgent    = "agent"
	RoleCustomer = "customer"
)

// Permissions gating API operations.
const (
	PermOrderCreate   = "orders:create"
	PermOrderRead     = "orders:read"
	PermOrderReadAll  = "orders:read_all"
	PermTicketRead    = "tickets:read"
	PermTicketVerify  = "tickets:verify"
	PermTicketCheckIn = "tickets:check_in"
)

// rolePermissions is the single authoritative mapping from role to what it
// may do. Authorization checks consult this table and nothing else.
var rolePermissions = map[string]map[string]bool{
	RoleAdmin: {
		PermOrderCreate:   true,
		PermOrderRead:     true,
		PermOrderReadAll:  true,
		PermTicketRead:    true,
		PermTicketVerify:  true,
		PermTicketCheckIn: true,
	},
	RoleAgent: {
		PermTicketRead:    true,
		PermTicketVerify:  true,
		PermTicketCheckIn: true,
	},
	RoleCustomer: {
		PermOrderCreate: true,
		PermOrderRead:   true,
		PermTicketRead:  true,
	},
}

// HasPermission reports whether a role grants a permission. Unknown roles
// grant nothing.
func HasPermission(role, permission string) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	return perms[permission]
}
