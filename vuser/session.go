package vuser

// SessionData is a type-erased, per-user scratch slot scenario handlers can
// stash arbitrary state in between transactions (auth tokens, IDs picked up
// from a previous response, etc). It intentionally holds only the boxed
// value, never a back-reference to the owning User: a session value that
// pointed back at its User created a reference cycle that broke cloning
// when a user was recreated after a disconnect (grounded on
// original_source/tests/clone_user_with_session_data.rs, which exists
// specifically to catch that regression).
type SessionData struct {
	value any
}

// Get returns the stored value, or nil if none was ever set.
func (s *SessionData) Get() any {
	return s.value
}

// Set replaces the stored value.
func (s *SessionData) Set(v any) {
	s.value = v
}

// Clone returns an independent SessionData. Because value is required to
// never reference the owning User, a shallow copy is always safe.
func (s SessionData) Clone() SessionData {
	return SessionData{value: s.value}
}
