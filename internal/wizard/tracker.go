// Package wizard owns interview progression: the stage tracker and the
// debounced answer autosaver.
package wizard

import (
	"context"
	"errors"
	"fmt"

	"northstar/api/internal/store"
	"northstar/api/internal/util"
)

// ErrStageOutOfRange is returned for stage values outside [1, 10]. Out of
// range input is rejected, never clamped.
var ErrStageOutOfRange = errors.New("stage out of range")

type sessionStore interface {
	LatestSessionForProfile(ctx context.Context, profileID string) (*store.Session, error)
	CreateSession(ctx context.Context, session store.Session) error
	UpdateSessionStage(ctx context.Context, sessionID string, stage int) error
	ListAnswers(ctx context.Context, sessionID string) ([]store.Answer, error)
}

// Tracker owns the current stage of a session and its persistence. Stage
// mutation is strict: the in-memory value changes only after the store write
// succeeds, so a persistence failure never leaves the tracker ahead of the
// database.
type Tracker struct {
	store sessionStore
}

func NewTracker(sessionStore sessionStore) *Tracker {
	return &Tracker{store: sessionStore}
}

// LoadOrCreate returns the profile's most recent session, or creates a new
// one positioned at stage 1.
func (t *Tracker) LoadOrCreate(ctx context.Context, profileID string) (store.Session, error) {
	existing, err := t.store.LatestSessionForProfile(ctx, profileID)
	if err != nil {
		return store.Session{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	session := store.Session{
		ID:        util.NewID("ses"),
		ProfileID: profileID,
		Stage:     1,
	}
	if err := t.store.CreateSession(ctx, session); err != nil {
		return store.Session{}, err
	}
	return session, nil
}

// SetStage persists a stage jump. The stepper allows non-sequential
// navigation, so no answered-ness check is made here.
func (t *Tracker) SetStage(ctx context.Context, session *store.Session, stage int) error {
	if stage < 1 || stage > store.QuestionCount {
		return fmt.Errorf("%w: %d", ErrStageOutOfRange, stage)
	}
	if err := t.store.UpdateSessionStage(ctx, session.ID, stage); err != nil {
		return err
	}
	session.Stage = stage
	return nil
}

// Outcome is the result of an explicit "next": either the session continues
// at Next, or stage 10 was terminal and the session is complete.
type Outcome struct {
	Complete bool
	Next     int
}

// Advance moves to the next stage, or reports completion at stage 10.
// Completion does not increment anything; it hands off to analysis.
func (t *Tracker) Advance(ctx context.Context, session *store.Session) (Outcome, error) {
	if session.Stage >= store.QuestionCount {
		return Outcome{Complete: true, Next: store.QuestionCount}, nil
	}
	next := session.Stage + 1
	if err := t.SetStage(ctx, session, next); err != nil {
		return Outcome{}, err
	}
	return Outcome{Next: next}, nil
}

// Back retreats one stage. At stage 1 it is a no-op.
func (t *Tracker) Back(ctx context.Context, session *store.Session) error {
	if session.Stage <= 1 {
		return nil
	}
	return t.SetStage(ctx, session, session.Stage-1)
}

// Answered reports which question numbers have a stored answer.
func (t *Tracker) Answered(ctx context.Context, sessionID string) (map[int]bool, error) {
	answers, err := t.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	answered := make(map[int]bool, len(answers))
	for _, answer := range answers {
		answered[answer.QuestionNumber] = true
	}
	return answered, nil
}
