package recipe

// AllowEntry authorizes a host and, for the URL transport, a set of path
// patterns on that host.
type AllowEntry struct { // A
	Host  string   `json:"host"`
	Paths []string `json:"paths,omitempty"`
}

// AuthenticationRequirements is the policy shape shared by recipes and
// unsealing instructions.
type AuthenticationRequirements struct { // A
	Allow                          []AllowEntry `json:"allow,omitempty"`
	RequireAuthenticationHandshake bool         `json:"requireAuthenticationHandshake,omitempty"`
	UrlPrefixesAllowed             []string     `json:"urlPrefixesAllowed,omitempty"`
}

// HasAllow reports whether an allow list with at least one entry is set.
func (r AuthenticationRequirements) HasAllow() bool { // A
	return len(r.Allow) > 0
}

// HasUrlPrefixes reports whether at least one allowed URL prefix is set.
func (r AuthenticationRequirements) HasUrlPrefixes() bool { // A
	return len(r.UrlPrefixesAllowed) > 0
}

// IsEmpty reports whether the requirements would authorize nobody.
func (r AuthenticationRequirements) IsEmpty() bool { // A
	return !r.HasAllow() && !r.HasUrlPrefixes()
}
