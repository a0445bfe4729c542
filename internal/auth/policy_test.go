package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRolePermissions(t *testing.T) {
	cases := []struct {
		role       string
		permission string
		want       bool
	}{
		{RoleAdmin, PermOrderCreate, true},
		{RoleAdmin, PermOrderReadAll, true},
		{RoleAdmin, PermTicketCheckIn, true},

		{RoleAgent, PermTicketVerify, true},
		{RoleAgent, PermTicketCheckIn, true},
		{RoleAgent, PermTicketRead, true},
		{RoleAgent, PermOrderCreate, false},
		{RoleAgent, PermOrderReadAll, false},

		{RoleCustomer, PermOrderCreate, true},
		{RoleCustomer, PermOrderRead, true},
		{RoleCustomer, PermTicketRead, true},
		{RoleCustomer, PermTicketVerify, false},
		{RoleCustomer, PermTicketCheckIn, false},
		{RoleCustomer, PermOrderReadAll, false},

		{"unknown-role", PermOrderRead, false},
		{"", PermTicketRead, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, HasPermission(tc.role, tc.permission),
			"role %q permission %q", tc.role, tc.permission)
	}
}
