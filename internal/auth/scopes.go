package auth

// Scopes understood by the progress API.
const (
	ScopeProgressRead  = "progress:read"
	ScopeProgressWrite = "progress:write"
)
