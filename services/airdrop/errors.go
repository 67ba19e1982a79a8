package airdrop

import (
	"errors"
	"fmt"

	"smallbiznis-airdrop/services/platform"
)

var (
	// ErrNoActiveSchedule and ErrNoActiveEvent are steady states, not failures.
	ErrNoActiveSchedule = errors.New("no active airdrop schedule")
	ErrNoActiveEvent    = errors.New("no active airdrop event")

	ErrRuleMissing     = errors.New("reward rule not configured")
	ErrRunInFlight     = errors.New("airdrop run already in flight")
	ErrPlatformUnknown = errors.New("platform not enabled")
	ErrTooManyFailures = errors.New("too many consecutive record failures")
)

// IsExpected reports the absences a run treats as a no-op.
func IsExpected(err error) bool {
	return errors.Is(err, ErrNoActiveSchedule) || errors.Is(err, ErrNoActiveEvent)
}

// RecordError is an unexpected failure while deciding one participant.
type RecordError struct {
	Stage    string
	Platform platform.Platform
	Username string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Stage, e.Platform, e.Username, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// LedgerWriteError means the transaction for one participant was rolled back.
// It carries what an operator needs to replay it by hand.
type LedgerWriteError struct {
	Platform  platform.Platform
	Action    platform.ActionType
	Username  string
	ProfileID string
	ScopeKey  string
	Err       error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger write %s %s for %s (profile %s, scope %s): %v",
		e.Platform, e.Action, e.Username, e.ProfileID, e.ScopeKey, e.Err)
}

func (e *LedgerWriteError) Unwrap() error {
	return e.Err
}
