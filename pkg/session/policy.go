package session

import "fmt"

// Mode is the multisession policy configured server-wide.
//
//	0: one session per account; a new login disconnects all prior ones.
//	1: many sessions, all sharing control of one puppet; output is
//	   broadcast to every session of the account.
//	2: many sessions, each with its own independent puppet.
//	3: like 2, but sessions may additionally co-puppet the same object.
//
// Regardless of mode, an object is never co-puppeted by sessions of two
// different accounts.
type Mode int

// Valid reports whether the mode is one of the recognized values.
func (m Mode) Valid() bool {
	return m >= 0 && m <= 3
}

// AllowsMultipleSessions reports whether an account may hold more than
// one linked session at a time.
func (m Mode) AllowsMultipleSessions() bool {
	return m != 0
}

// SharesPuppets reports whether several sessions of the same account may
// puppet one object simultaneously. When false, linking to an object
// already puppeted by a sibling session takes it over instead.
func (m Mode) SharesPuppets() bool {
	return m == 1 || m == 3
}

// IndependentPuppets reports whether each session may puppet a different
// object.
func (m Mode) IndependentPuppets() bool {
	return m == 2 || m == 3
}

func (m Mode) String() string {
	return fmt.Sprintf("multisession-%d", int(m))
}
