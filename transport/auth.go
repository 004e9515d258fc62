package transport

// AuthDelegate supplies the bearer token for new streams. AuthToken returns
// "" when no token is available yet.
type AuthDelegate interface {
	AuthToken() string
}

// StaticToken is an AuthDelegate with a fixed token.
type StaticToken string

// AuthToken returns the token.
func (t StaticToken) AuthToken() string { return string(t) }
