package enums

// MemberRole is the storefront role carried in the access token.
type MemberRole string

const (
	MemberRoleCustomer MemberRole = "customer"
	MemberRoleAdmin    MemberRole = "admin"
)

var memberRoles = newSet("member role", MemberRoleCustomer, MemberRoleAdmin)

func (m MemberRole) String() string { return string(m) }

func (m MemberRole) IsValid() bool { return memberRoles.has(m) }

// ParseMemberRole treats empty input as a customer; tokens minted before roles existed carry none.
func ParseMemberRole(value string) (MemberRole, error) {
	if value == "" {
		return MemberRoleCustomer, nil
	}
	return memberRoles.parse(value)
}
