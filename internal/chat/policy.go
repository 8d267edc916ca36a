package chat

import "time"

// Policy holds the timing rules of sessions and requests.
type Policy struct {
	// LivenessInterval is how long a session stays ACTIVE after a verification.
	LivenessInterval time.Duration
	// GraceWindow is how long a VERIFICATION_PENDING session survives.
	GraceWindow time.Duration
	// RequestTTL is how long a chat request can be accepted.
	RequestTTL time.Duration
}

// DefaultPolicy returns 30m liveness, 5m grace and 24h request expiry.
func DefaultPolicy() Policy {
	return Policy{
		LivenessInterval: 30 * time.Minute,
		GraceWindow:      5 * time.Minute,
		RequestTTL:       24 * time.Hour,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.LivenessInterval <= 0 {
		p.LivenessInterval = d.LivenessInterval
	}
	if p.GraceWindow <= 0 {
		p.GraceWindow = d.GraceWindow
	}
	if p.RequestTTL <= 0 {
		p.RequestTTL = d.RequestTTL
	}
	return p
}
