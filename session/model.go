package session

// Kind is the lifetime class of a session.
type Kind uint8

const (
	KindDefault Kind = iota
	KindPersistent
	KindAPI
)

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k <= KindAPI
}

// Session is the server-side record behind an issued session token. Its
// presence in Redis is what makes a token revocable.
type Session struct {
	SessionID  string
	UserID     string
	Kind       Kind
	MFAEnabled bool
	// AMR lists the second-factor methods satisfied at sign-in. Empty when
	// the user has no MFA or signed in before it was enabled.
	AMR []string

	CreatedAt int64
	ExpiresAt int64
}
