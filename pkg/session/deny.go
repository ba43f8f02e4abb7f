package session

// DenyReason classifies why a link request was refused. Denials are
// ordinary values, not errors or panics: validation returns a *Deny and
// the handler delivers its message to the requesting session.
type DenyReason int

const (
	DenyNotAuthenticated DenyReason = iota
	DenyAlreadyLinked
	DenyNoPermission
	DenyPuppetedByOther
)

// Deny carries a refusal reason and the exact user-visible message.
// Every reason maps to a distinct message; a denied action never
// surfaces as a generic failure.
type Deny struct {
	Reason  DenyReason
	Message string
}

func deny(reason DenyReason, msg string) *Deny {
	return &Deny{Reason: reason, Message: msg}
}
