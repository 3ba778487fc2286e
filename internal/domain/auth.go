package domain

// AdminRole is an opaque capability carried by an admin principal.
type AdminRole string

const (
	RoleSuperAdmin   AdminRole = "super_admin"
	RolePaymentAdmin AdminRole = "payment_admin"
	RoleProfileAdmin AdminRole = "profile_admin"
	RoleTCCAdmin     AdminRole = "tcc_admin"
)

// DimensionRole returns the role that reviews d.
func DimensionRole(d Dimension) AdminRole {
	return AdminRole(string(d) + "_admin")
}

// Principal is the authenticated admin calling a review operation.
type Principal struct {
	SubjectID string
	Email     string
	Roles     []AdminRole
}

// HasRole reports whether the principal carries role.
func (p *Principal) HasRole(role AdminRole) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
