package appkit

// PrincipalIdentity adapts a Principal into the Identity interface for token generation.
type PrincipalIdentity struct {
	principal *Principal
}

// NewIdentityFromPrincipal returns an Identity adapter for the provided principal.
func NewIdentityFromPrincipal(principal *Principal) Identity {
	if principal == nil {
		return nil
	}
	return PrincipalIdentity{principal: principal}
}

// ID returns the principal's ID as a string.
func (p PrincipalIdentity) ID() string {
	if p.principal == nil {
		return ""
	}
	return p.principal.ID.String()
}

// Email returns the principal's email address.
func (p PrincipalIdentity) Email() string {
	if p.principal == nil {
		return ""
	}
	return p.principal.Email
}

// DisplayName returns the principal's display name.
func (p PrincipalIdentity) DisplayName() string {
	if p.principal == nil {
		return ""
	}
	return p.principal.DisplayName
}

// Plan returns the principal's subscription tier as a string.
func (p PrincipalIdentity) Plan() string {
	if p.principal == nil {
		return string(PlanFree)
	}
	plan := p.principal.Plan
	if plan == "" {
		plan = PlanFree
	}
	return string(plan)
}

// IsAdmin reports whether the principal has admin rights.
func (p PrincipalIdentity) IsAdmin() bool {
	if p.principal == nil {
		return false
	}
	return p.principal.Admin
}
