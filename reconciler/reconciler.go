package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/ksg-dk/gatekeeper/planner"
)

// Client - The platform mutation surface the reconciler drives. Every call
// is phrased as desired end state, so repeating a call after a crash is
// harmless. Implementations return *PlatformError for classified failures.
type Client interface {
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
	RevokeRole(ctx context.Context, guildID, userID, roleID string) error
	SetNickname(ctx context.Context, guildID, userID, nick string) error
	SetChannelOverwrite(ctx context.Context, channelID, roleID string, allow, deny int64) error
	ClearChannelOverwrite(ctx context.Context, channelID, roleID string) error
}

// Status of one executed mutation op.
type Status int

const (
	StatusApplied Status = iota
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

// Outcome - Result of one op. A plan's outcomes always cover every op:
// failures are isolated, they never abort the rest of the plan.
type Outcome struct {
	Op     planner.MutationOp
	Status Status
	Err    error
}

// Reconciler - Executes mutation plans against the platform with
// per-operation retry and partial-failure isolation. Operations for the
// same user are serialized; different users proceed concurrently.
type Reconciler struct {
	client  Client
	guildID string

	// MaxAttempts - Total attempt budget per op, retries included.
	MaxAttempts uint64
	// RetryInterval - Initial backoff interval for transient failures.
	RetryInterval time.Duration

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// New - Reconciler for one guild.
func New(client Client, guildID string) *Reconciler {
	return &Reconciler{
		client:        client,
		guildID:       guildID,
		MaxAttempts:   4,
		RetryInterval: 500 * time.Millisecond,
		users:         make(map[string]*sync.Mutex),
	}
}

// Apply - Execute the plan in order, one outcome per op. A grant and a
// later revoke for the same role on the same user must not race, so the
// whole plan runs under that user's lock. Once an op is dispatched it runs
// to completion or exhausts its retry budget; cancellation only prevents
// dispatching the ops that have not started yet (reported as skipped),
// since applied mutations are not rolled back.
func (r *Reconciler) Apply(ctx context.Context, userID string, ops []planner.MutationOp) []Outcome {
	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	outcomes := make([]Outcome, 0, len(ops))
	for _, op := range ops {
		if ctx.Err() != nil {
			outcomes = append(outcomes, Outcome{Op: op, Status: StatusSkipped, Err: ctx.Err()})
			continue
		}
		outcomes = append(outcomes, r.applyOne(ctx, op))
	}
	return outcomes
}

func (r *Reconciler) applyOne(ctx context.Context, op planner.MutationOp) Outcome {
	operation := func() error {
		err := r.dispatch(ctx, op)
		if err == nil {
			return nil
		}
		var perr *PlatformError
		if errors.As(err, &perr) && !perr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.RetryInterval
	policy.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithMaxRetries(policy, r.MaxAttempts-1))
	if err != nil {
		log.Warn().
			Str("op", op.String()).
			Str("user", op.UserID).
			Err(err).
			Msg("mutation failed")
		return Outcome{Op: op, Status: StatusFailed, Err: err}
	}
	log.Debug().
		Str("op", op.String()).
		Str("user", op.UserID).
		Msg("mutation applied")
	return Outcome{Op: op, Status: StatusApplied}
}

func (r *Reconciler) dispatch(ctx context.Context, op planner.MutationOp) error {
	switch op.Kind {
	case planner.OpGrantRole:
		return r.client.GrantRole(ctx, r.guildID, op.UserID, op.RoleID)
	case planner.OpRevokeRole:
		return r.client.RevokeRole(ctx, r.guildID, op.UserID, op.RoleID)
	case planner.OpSetNickname:
		return r.client.SetNickname(ctx, r.guildID, op.UserID, op.Nickname)
	case planner.OpSetChannelOverwrite:
		return r.client.SetChannelOverwrite(ctx, op.ChannelID, op.RoleID, op.Allow, op.Deny)
	case planner.OpClearChannelOverwrite:
		return r.client.ClearChannelOverwrite(ctx, op.ChannelID, op.RoleID)
	}
	return &PlatformError{Kind: KindNotFound, Err: errors.New("unknown op kind")}
}

// Failed - The subset of outcomes that failed terminally, for the caller's
// partial-success report.
func Failed(outcomes []Outcome) []Outcome {
	var out []Outcome
	for _, o := range outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

func (r *Reconciler) userLock(userID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.users[userID]
	if !ok {
		lock = &sync.Mutex{}
		r.users[userID] = lock
	}
	return lock
}
