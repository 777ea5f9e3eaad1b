package verification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ksg-dk/gatekeeper/database"
	"github.com/ksg-dk/gatekeeper/seasons"
)

// DefaultSessionTTL - How long a session may sit in Pending/ClaimSubmitted
// before it is garbage collected.
const DefaultSessionTTL = time.Hour

// Result - Outcome of a submitted claim, handed back to the transport that
// delivered it.
type Result struct {
	State      State
	Reason     Reason
	User       database.UserRecord
	SeasonID   string
	Reverified bool
}

// Manager - Drives per-user verification sessions from a received identity
// claim to a terminal verified/rejected outcome. Sessions are independent
// keyed state; the identity store's bind slot is the only serialization
// point between concurrent claims.
type Manager struct {
	store  *database.IdentityStore
	config *seasons.Store

	SessionTTL time.Duration
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager - Manager over the given identity store and config store.
func NewManager(store *database.IdentityStore, config *seasons.Store) *Manager {
	return &Manager{
		store:      store,
		config:     config,
		SessionTTL: DefaultSessionTTL,
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
}

// Begin - Issue (or refresh) a pending session for a platform user. Called
// when the member is handed their verification link. Calling Begin for a
// user with a live session is a no-op. The returned Session is a copy; the
// manager keeps mutating its own record under the lock.
func (m *Manager) Begin(platformUserID, seasonHint string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess := m.lookup(platformUserID); sess != nil {
		return *sess
	}
	sess := m.beginLocked(platformUserID, seasonHint)
	log.Debug().Str("user", platformUserID).Msg("verification session started")
	return *sess
}

// Lookup - A copy of the user's current session; ok is false when there is
// none (or it expired and was collected).
func (m *Manager) Lookup(platformUserID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.lookup(platformUserID)
	if sess == nil {
		return Session{}, false
	}
	return *sess, true
}

// Drop - Remove a user's session regardless of state. The durable identity
// binding is untouched; a returning member starts a fresh session. Returns
// a copy of the dropped session.
func (m *Manager) Drop(platformUserID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[platformUserID]
	if !ok {
		return Session{}, false
	}
	delete(m.sessions, platformUserID)
	return *sess, true
}

// SubmitClaim - Feed an external identity claim into the user's session
// and drive it to a terminal state.
//
// Transitions follow a fixed table: Pending moves to ClaimSubmitted on any
// received claim; ClaimSubmitted resolves and binds, landing in Verified or
// Rejected; Verified swallows further claims as no-op successes and never
// re-triggers planning; Rejected accepts a corrected claim and retries.
func (m *Manager) SubmitClaim(_ context.Context, platformUserID, claim, seasonHint string) Result {
	m.mu.Lock()
	sess := m.lookup(platformUserID)
	if sess == nil {
		sess = m.beginLocked(platformUserID, seasonHint)
	}

	if sess.State == StateVerified {
		m.mu.Unlock()
		log.Debug().Str("user", platformUserID).Msg("already verified, claim is a no-op")
		return Result{State: StateVerified, SeasonID: sess.SeasonID, Reverified: true}
	}

	// Pending -> ClaimSubmitted on claim receipt; Rejected -> ClaimSubmitted
	// is the allowed retry with a corrected identity.
	sess.State = StateClaimSubmitted
	sess.Reason = ReasonNone
	sess.ExternalID = claim
	m.mu.Unlock()

	seasonID, rejectReason := m.resolveSeason(seasonHint)
	if rejectReason == ReasonNone {
		if _, err := uuid.Parse(claim); err != nil {
			rejectReason = ReasonMalformedClaim
		}
	}
	if rejectReason != ReasonNone {
		return m.reject(sess, rejectReason)
	}

	if _, err := m.store.Resolve(seasonID, claim); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return m.reject(sess, ReasonNotFound)
		}
		log.Error().Err(err).Str("user", platformUserID).Msg("identity resolution failed")
		return m.reject(sess, ReasonNotFound)
	}

	// The bind slot is the compare-and-set: exactly one concurrent claim
	// for the same identity wins it.
	if err := m.store.Bind(seasonID, claim, platformUserID); err != nil {
		if errors.Is(err, database.ErrAlreadyBound) {
			return m.reject(sess, ReasonAlreadyBound)
		}
		if errors.Is(err, database.ErrNotFound) {
			return m.reject(sess, ReasonNotFound)
		}
		log.Error().Err(err).Str("user", platformUserID).Msg("identity bind failed")
		return m.reject(sess, ReasonNotFound)
	}

	user, err := m.store.Resolve(seasonID, claim)
	if err != nil {
		log.Error().Err(err).Str("user", platformUserID).Msg("re-read after bind failed")
		return m.reject(sess, ReasonNotFound)
	}

	m.mu.Lock()
	sess.State = StateVerified
	sess.SeasonID = seasonID
	m.mu.Unlock()

	log.Info().
		Str("user", platformUserID).
		Str("name", user.DisplayName).
		Str("season", seasonID).
		Msg("user verified")
	return Result{State: StateVerified, User: user, SeasonID: seasonID}
}

// Sweep - Drop expired non-terminal sessions. Expiry is also applied lazily
// on every access, so calling this is optional housekeeping.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	dropped := 0
	for id, sess := range m.sessions {
		if sess.expired(now) {
			delete(m.sessions, id)
			dropped++
		}
	}
	return dropped
}

func (m *Manager) reject(sess *Session, reason Reason) Result {
	m.mu.Lock()
	sess.State = StateRejected
	sess.Reason = reason
	m.mu.Unlock()
	log.Info().
		Str("user", sess.PlatformUserID).
		Str("reason", reason.String()).
		Msg("verification rejected")
	return Result{State: StateRejected, Reason: reason, SeasonID: sess.SeasonID}
}

func (m *Manager) resolveSeason(hint string) (string, Reason) {
	snap := m.config.Snapshot()
	if snap == nil {
		return "", ReasonSeasonUnknown
	}
	if hint == "" {
		current := snap.CurrentSeason()
		if current == nil {
			return "", ReasonSeasonUnknown
		}
		return current.ID, ReasonNone
	}
	season, ok := snap.SeasonByID(hint)
	if !ok {
		return "", ReasonSeasonUnknown
	}
	return season.ID, ReasonNone
}

// lookup - Caller holds m.mu. Applies lazy expiry.
func (m *Manager) lookup(platformUserID string) *Session {
	sess, ok := m.sessions[platformUserID]
	if !ok {
		return nil
	}
	if sess.expired(m.now()) {
		delete(m.sessions, platformUserID)
		return nil
	}
	return sess
}

// beginLocked - Caller holds m.mu.
func (m *Manager) beginLocked(platformUserID, seasonHint string) *Session {
	now := m.now()
	sess := &Session{
		PlatformUserID: platformUserID,
		SeasonID:       seasonHint,
		State:          StatePending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.SessionTTL),
	}
	m.sessions[platformUserID] = sess
	return sess
}
