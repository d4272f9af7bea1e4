package model

import "time"

// State is the client's view of the login session.
type State struct {
	Authenticated bool
	Username      string
}

// Unauthenticated is the zero state.
var Unauthenticated = State{}

// NewState builds a State that keeps the username empty whenever the
// session is not authenticated.
func NewState(authenticated bool, username string) State {
	if !authenticated {
		return Unauthenticated
	}
	return State{Authenticated: true, Username: username}
}

// Session is what the backend keeps in its cookie session store.
type Session struct {
	UserID   int
	Username string
	AuthTime time.Time
}
