package verification

import (
	"fmt"
	"time"
)

// State of a verification session.
type State int

const (
	// StatePending - Session issued, no claim submitted yet.
	StatePending State = iota
	// StateClaimSubmitted - Claim received, awaiting identity resolution.
	StateClaimSubmitted
	// StateVerified - Terminal success. Further claims are no-op successes.
	StateVerified
	// StateRejected - Terminal failure for this claim. A corrected claim
	// moves the session back to ClaimSubmitted.
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateClaimSubmitted:
		return "claim_submitted"
	case StateVerified:
		return "verified"
	case StateRejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Reason a claim was rejected.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonMalformedClaim
	ReasonNotFound
	ReasonAlreadyBound
	ReasonSeasonUnknown
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonMalformedClaim:
		return "malformed_claim"
	case ReasonNotFound:
		return "not_found"
	case ReasonAlreadyBound:
		return "already_bound"
	case ReasonSeasonUnknown:
		return "season_unknown"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Message - What the member is told on rejection. Kept deliberately vague
// for AlreadyBound; the operator channel gets the detail.
func (r Reason) Message() string {
	switch r {
	case ReasonMalformedClaim:
		return "That does not look like a verification ID. Check the ID you were sent and try again."
	case ReasonNotFound:
		return "Could not find that ID in our records. Check your ID and try again."
	case ReasonAlreadyBound:
		return "This ID has already been used to verify another account."
	case ReasonSeasonUnknown:
		return "That season is not open for verification."
	}
	return ""
}

// Session - Ephemeral per-user verification state. Never persisted: a lost
// session just means the member restarts the flow.
type Session struct {
	PlatformUserID string
	ExternalID     string
	SeasonID       string
	State          State
	Reason         Reason
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

func (s *Session) terminal() bool {
	return s.State == StateVerified || s.State == StateRejected
}

func (s *Session) expired(now time.Time) bool {
	// Terminal states do not expire; expiry is garbage collection of
	// sessions still waiting on the member.
	return !s.terminal() && now.After(s.ExpiresAt)
}
