package vision

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"northstar/api/internal/genai"
	"northstar/api/internal/store"
	"northstar/api/internal/util"
)

// State is the analyzer's lifecycle position. Failed may re-enter Running
// through the internal retry loop.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type analysisStore interface {
	ListAnswers(ctx context.Context, sessionID string) ([]store.Answer, error)
	InsertAnalysis(ctx context.Context, analysis store.Analysis) error
}

// AnalyzerConfig bounds the retry protocol. Zero values fall back to the
// reference policy: 3 total attempts, 60s per attempt, 2s backoff on errors.
type AnalyzerConfig struct {
	AttemptTimeout time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
}

func (c AnalyzerConfig) withDefaults() AnalyzerConfig {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	return c
}

// Analyzer drives the one-shot analysis of a completed interview: prompt
// assembly, the bounded timeout/retry protocol against the generative-text
// service, payload validation, and the atomic creation of the analysis row
// with its seeded version history.
type Analyzer struct {
	store  analysisStore
	client genai.Client
	cfg    AnalyzerConfig

	mu     sync.Mutex
	states map[string]State
}

func NewAnalyzer(analysisStore analysisStore, client genai.Client, cfg AnalyzerConfig) *Analyzer {
	return &Analyzer{
		store:  analysisStore,
		client: client,
		cfg:    cfg.withDefaults(),
		states: make(map[string]State),
	}
}

// State reports the lifecycle position of a session's most recent analysis.
// Sessions that never analyzed are Idle.
func (a *Analyzer) State(sessionID string) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.states[sessionID]; ok {
		return s
	}
	return StateIdle
}

func (a *Analyzer) setState(sessionID string, s State) {
	a.mu.Lock()
	a.states[sessionID] = s
	a.mu.Unlock()
}

type attemptResult struct {
	attempt uint64
	text    string
	err     error
}

// analysisRun scopes the attempt generation counter to one Analyze call, so
// concurrent analyses of different sessions never invalidate each other's
// attempts. All of a run's attempts share one result channel; the buffer holds
// every possible late completion so abandoned call goroutines never leak.
type analysisRun struct {
	results chan attemptResult
	attempt atomic.Uint64
}

// Analyze runs the full protocol for one session. On success exactly one
// analysis row exists with a single `original` history entry; on any failure
// nothing has been persisted.
func (a *Analyzer) Analyze(ctx context.Context, sessionID string) (store.Analysis, error) {
	answers, err := a.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return store.Analysis{}, fmt.Errorf("load answers: %w", err)
	}
	if len(answers) != store.QuestionCount {
		return store.Analysis{}, &IncompleteError{Have: len(answers)}
	}

	a.setState(sessionID, StateRunning)
	req := buildAnalyzeRequest(answers)
	started := time.Now()
	run := &analysisRun{results: make(chan attemptResult, a.cfg.MaxAttempts)}

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		text, timedOut, err := a.invoke(ctx, run, req)
		if err == nil {
			analysis, err := a.accept(ctx, sessionID, text, attempt, started)
			if err != nil {
				a.setState(sessionID, StateFailed)
				return store.Analysis{}, err
			}
			a.setState(sessionID, StateSucceeded)
			return analysis, nil
		}
		if ctx.Err() != nil {
			a.setState(sessionID, StateFailed)
			return store.Analysis{}, ctx.Err()
		}

		lastErr = err
		if attempt == a.cfg.MaxAttempts {
			break
		}
		if timedOut {
			// Timed-out attempts retry immediately; the stale call has
			// already been cancelled and its result will be discarded.
			log.Printf("vision: analyze session=%s attempt %d timed out, retrying", sessionID, attempt)
			continue
		}
		log.Printf("vision: analyze session=%s attempt %d failed, retrying in %s: %v", sessionID, attempt, a.cfg.RetryBackoff, err)
		select {
		case <-time.After(a.cfg.RetryBackoff):
		case <-ctx.Done():
			a.setState(sessionID, StateFailed)
			return store.Analysis{}, ctx.Err()
		}
	}

	a.setState(sessionID, StateFailed)
	return store.Analysis{}, &TerminalError{Attempts: a.cfg.MaxAttempts, Err: lastErr}
}

// invoke races one service call against the attempt timeout. Each call is
// tagged with the run's generation counter; a completion that arrives after
// its attempt was abandoned no longer matches the current generation and is
// dropped without consuming an attempt, so a stale response can never be
// mistaken for the accepted one.
func (a *Analyzer) invoke(parent context.Context, run *analysisRun, req genai.Request) (text string, timedOut bool, err error) {
	id := run.attempt.Add(1)
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	go func() {
		completion, callErr := a.client.Complete(ctx, req)
		run.results <- attemptResult{attempt: id, text: completion, err: callErr}
	}()

	timer := time.NewTimer(a.cfg.AttemptTimeout)
	defer timer.Stop()

	for {
		select {
		case result := <-run.results:
			if result.attempt != id {
				log.Printf("vision: discarding stale result from attempt %d", result.attempt)
				continue
			}
			if result.err != nil {
				return "", false, result.err
			}
			return result.text, false, nil
		case <-timer.C:
			cancel()
			return "", true, fmt.Errorf("attempt %d timed out after %s", id, a.cfg.AttemptTimeout)
		case <-parent.Done():
			return "", false, parent.Err()
		}
	}
}

// accept parses and validates a completion, then writes the analysis row.
// An unparseable payload is terminal, not retryable.
func (a *Analyzer) accept(ctx context.Context, sessionID, text string, attempt int, started time.Time) (store.Analysis, error) {
	result, err := parsePayload(text)
	if err != nil {
		return store.Analysis{}, &TerminalError{Attempts: attempt, Err: err}
	}

	checkVisionShape(result.VisionInspirational, "inspirational vision")
	checkVisionShape(result.VisionMeasurable, "measurable vision")

	elapsed := time.Since(started).Milliseconds()
	now := time.Now().UTC()
	analysis := store.Analysis{
		ID:                  util.NewID("ana"),
		SessionID:           sessionID,
		VisionInspirational: result.VisionInspirational,
		VisionMeasurable:    result.VisionMeasurable,
		Meta: store.AnalysisMeta{
			Keywords:         result.Keywords,
			Insights:         result.Insights,
			Notes:            result.Notes,
			ProcessingTimeMS: elapsed,
			VersionHistory: []store.VersionEntry{
				{
					Type:                EntryOriginal,
					Timestamp:           now,
					VisionInspirational: result.VisionInspirational,
					VisionMeasurable:    result.VisionMeasurable,
				},
			},
		},
		CreatedAt: now,
	}

	if err := a.store.InsertAnalysis(ctx, analysis); err != nil {
		return store.Analysis{}, fmt.Errorf("persist analysis: %w", err)
	}

	log.Printf("vision: analyze session=%s succeeded in %dms (%d keyword(s))", sessionID, elapsed, len(result.Keywords))
	return analysis, nil
}
