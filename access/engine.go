// Package access wires the verification flow to the planner/reconciler
// pair: a verified claim turns into an ordered mutation plan which is then
// applied against the guild.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ksg-dk/gatekeeper/database"
	"github.com/ksg-dk/gatekeeper/planner"
	"github.com/ksg-dk/gatekeeper/reconciler"
	"github.com/ksg-dk/gatekeeper/seasons"
	"github.com/ksg-dk/gatekeeper/verification"
)

// Observer - The read side of the platform client: name directory and
// per-user observed state.
type Observer interface {
	Directory(ctx context.Context, guildID string) (planner.Directory, error)
	Observe(ctx context.Context, guildID, userID, roleID string, channelIDs []string) (planner.ObservedState, error)
}

// Engine - One guild's access reconciliation engine.
type Engine struct {
	Config      *seasons.Store
	Store       *database.IdentityStore
	Verifier    *verification.Manager
	Observer    Observer
	Provisioner Provisioner
	Reconciler  *reconciler.Reconciler
	GuildID     string
}

// Report - What happened for one user: the verification result and, when a
// plan ran, its per-operation outcomes.
type Report struct {
	Verification verification.Result
	Outcomes     []reconciler.Outcome
}

// PartialFailure - Whether any op in the report failed terminally.
func (r Report) PartialFailure() bool {
	return len(reconciler.Failed(r.Outcomes)) > 0
}

// VerifyClaim - Drive a received identity claim through the state machine
// and, on first verification, plan and apply the user's access. Re-claims
// from already verified users short-circuit without planning, and so do
// claims resolved against an inactive season: those bind the identity for
// historical lookup but never grant the current season's access.
func (e *Engine) VerifyClaim(ctx context.Context, platformUserID, claim, seasonHint string) Report {
	result := e.Verifier.SubmitClaim(ctx, platformUserID, claim, seasonHint)
	report := Report{Verification: result}
	if result.State != verification.StateVerified || result.Reverified {
		return report
	}
	if snap := e.Config.Snapshot(); snap != nil {
		if season := snap.CurrentSeason(); season == nil || season.ID != result.SeasonID {
			log.Info().
				Str("user", platformUserID).
				Str("season", result.SeasonID).
				Msg("verified against an inactive season, no access planned")
			return report
		}
	}

	outcomes, err := e.SyncUser(ctx, result.User)
	if err != nil {
		// The user is verified either way; access converges on the next
		// sync pass.
		log.Error().Err(err).
			Str("user", platformUserID).
			Msg("planning failed after verification")
		return report
	}
	report.Outcomes = outcomes
	return report
}

// SyncUser - Observe, plan and apply for one verified user against the
// current season. An empty plan (already converged) applies nothing. Only
// records of the active season are reconciled; inactive seasons are kept
// for historical lookup and never grant access.
func (e *Engine) SyncUser(ctx context.Context, user database.UserRecord) ([]reconciler.Outcome, error) {
	if !user.Verified() {
		return nil, fmt.Errorf("user %q is not verified", user.ExternalID)
	}
	snap := e.Config.Snapshot()
	if snap == nil {
		return nil, errors.New("no config snapshot loaded")
	}
	season := snap.CurrentSeason()
	if season == nil {
		return nil, errors.New("no active season")
	}
	if user.SeasonID != season.ID {
		return nil, fmt.Errorf("user %q belongs to season %q; only the active season %q is reconciled", user.ExternalID, user.SeasonID, season.ID)
	}

	dir, err := e.Observer.Directory(ctx, e.GuildID)
	if err != nil {
		return nil, fmt.Errorf("read guild directory: %w", err)
	}
	memberRoleID, ok := dir.Roles[season.MemberRole]
	if !ok {
		return nil, fmt.Errorf("role %q is not present in the guild", season.MemberRole)
	}
	channelIDs := make([]string, 0, len(season.Channels))
	for _, ch := range season.Channels {
		if id, ok := dir.Channels[ch.Name]; ok {
			channelIDs = append(channelIDs, id)
		}
	}

	observed, err := e.Observer.Observe(ctx, e.GuildID, user.PlatformID, memberRoleID, channelIDs)
	if err != nil {
		return nil, fmt.Errorf("observe user state: %w", err)
	}

	ops, err := planner.Plan(snap, season, user, observed, dir)
	if err != nil {
		if errors.Is(err, planner.ErrInvariant) {
			log.Error().Err(err).Str("user", user.PlatformID).Msg("config snapshot invariant violated during planning")
		}
		return nil, err
	}
	if len(ops) == 0 {
		log.Debug().Str("user", user.PlatformID).Msg("already converged, empty plan")
		return nil, nil
	}

	log.Info().
		Str("user", user.PlatformID).
		Str("season", season.ID).
		Int("ops", len(ops)).
		Msg("applying access plan")
	return e.Reconciler.Apply(ctx, user.PlatformID, ops), nil
}

// SyncAll - Re-reconcile every verified user of the current season. Used
// by the admin sync command and the optional periodic sweep; catches
// manual admin changes drifting from the declared config.
func (e *Engine) SyncAll(ctx context.Context) (users int, failed int, err error) {
	snap := e.Config.Snapshot()
	if snap == nil {
		return 0, 0, errors.New("no config snapshot loaded")
	}
	season := snap.CurrentSeason()
	if season == nil {
		return 0, 0, errors.New("no active season")
	}
	records, err := e.Store.VerifiedRecords(season.ID)
	if err != nil {
		return 0, 0, err
	}
	for _, rec := range records {
		outcomes, err := e.SyncUser(ctx, rec)
		if err != nil {
			log.Warn().Err(err).Str("user", rec.PlatformID).Msg("sync pass failed for user")
			failed++
			continue
		}
		if len(reconciler.Failed(outcomes)) > 0 {
			failed++
		}
		users++
	}
	return users, failed, nil
}
