package vision

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"northstar/api/internal/genai"
	"northstar/api/internal/store"
)

const validPayload = `{
	"vision_inspirational": "We empower every team to build things that truly matter",
	"vision_measurable": "Reach one thousand active customers with ninety percent retention by 2028",
	"keywords": ["growth", "retention"],
	"insights": ["Focus on customer success"],
	"notes": "strong answers overall"
}`

type fakeClient struct {
	calls int32
	fn    func(ctx context.Context, call int, req genai.Request) (string, error)
}

func (f *fakeClient) Complete(ctx context.Context, req genai.Request) (string, error) {
	call := int(atomic.AddInt32(&f.calls, 1))
	return f.fn(ctx, call, req)
}

func (f *fakeClient) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

type fakeAnalysisStore struct {
	mu       sync.Mutex
	answers  []store.Answer
	listErr  error
	inserted []store.Analysis
}

func (f *fakeAnalysisStore) ListAnswers(context.Context, string) ([]store.Answer, error) {
	return f.answers, f.listErr
}

func (f *fakeAnalysisStore) InsertAnalysis(_ context.Context, analysis store.Analysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, analysis)
	return nil
}

func tenAnswers() []store.Answer {
	answers := make([]store.Answer, 0, store.QuestionCount)
	for i := 1; i <= store.QuestionCount; i++ {
		answers = append(answers, store.Answer{SessionID: "ses_1", QuestionNumber: i, AnswerText: "answer"})
	}
	return answers
}

func testConfig() AnalyzerConfig {
	return AnalyzerConfig{
		AttemptTimeout: 50 * time.Millisecond,
		MaxAttempts:    3,
		RetryBackoff:   5 * time.Millisecond,
	}
}

func TestAnalyzeSucceedsFirstAttempt(t *testing.T) {
	st := &fakeAnalysisStore{answers: tenAnswers()}
	client := &fakeClient{fn: func(context.Context, int, genai.Request) (string, error) {
		return "Sure! " + validPayload, nil
	}}
	analyzer := NewAnalyzer(st, client, testConfig())

	analysis, err := analyzer.Analyze(context.Background(), "ses_1")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analyzer.State("ses_1") != StateSucceeded {
		t.Errorf("state = %s, want succeeded", analyzer.State("ses_1"))
	}
	if len(st.inserted) != 1 {
		t.Fatalf("inserted %d rows, want 1", len(st.inserted))
	}
	if analysis.VisionInspirational == "" || analysis.VisionMeasurable == "" {
		t.Errorf("visions missing: %+v", analysis)
	}
	history := analysis.Meta.VersionHistory
	if len(history) != 1 || history[0].Type != EntryOriginal {
		t.Fatalf("history: %#v", history)
	}
	if history[0].VisionInspirational != analysis.VisionInspirational {
		t.Errorf("seed entry does not mirror analysis visions")
	}
}

func TestAnalyzeRejectsIncompleteInterview(t *testing.T) {
	st := &fakeAnalysisStore{answers: tenAnswers()[:9]}
	client := &fakeClient{fn: func(context.Context, int, genai.Request) (string, error) {
		t.Fatal("service must not be invoked for incomplete interviews")
		return "", nil
	}}
	analyzer := NewAnalyzer(st, client, testConfig())

	_, err := analyzer.Analyze(context.Background(), "ses_1")
	var incomplete *IncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteError, got %v", err)
	}
	if incomplete.Have != 9 {
		t.Errorf("Have = %d, want 9", incomplete.Have)
	}
	if client.callCount() != 0 {
		t.Errorf("client invoked %d times", client.callCount())
	}
}

func TestAnalyzeRetriesTimeoutsThenSucceeds(t *testing.T) {
	st := &fakeAnalysisStore{answers: tenAnswers()}
	client := &fakeClient{fn: func(ctx context.Context, call int, _ genai.Request) (string, error) {
		if call <= 2 {
			// Hang until the attempt deadline cancels us.
			<-ctx.Done()
			return "", ctx.Err()
		}
		return validPayload, nil
	}}
	analyzer := NewAnalyzer(st, client, testConfig())

	started := time.Now()
	_, err := analyzer.Analyze(context.Background(), "ses_1")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analyzer.State("ses_1") != StateSucceeded {
		t.Errorf("state = %s, want succeeded", analyzer.State("ses_1"))
	}
	if client.callCount() != 3 {
		t.Errorf("client invoked %d times, want 3", client.callCount())
	}
	// Two timed-out attempts retry immediately, without the error backoff.
	if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
		t.Errorf("timeouts appear to have waited a backoff: %s", elapsed)
	}
	if len(st.inserted) != 1 {
		t.Errorf("inserted %d rows, want 1", len(st.inserted))
	}
}

func TestAnalyzeExhaustsAttempts(t *testing.T) {
	st := &fakeAnalysisStore{answers: tenAnswers()}
	serviceErr := errors.New("upstream unavailable")
	client := &fakeClient{fn: func(context.Context, int, genai.Request) (string, error) {
		return "", serviceErr
	}}
	analyzer := NewAnalyzer(st, client, testConfig())

	_, err := analyzer.Analyze(context.Background(), "ses_1")
	var terminal *TerminalError
	if !errors.As(err, &terminal) {
		t.Fatalf("expected TerminalError, got %v", err)
	}
	if terminal.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", terminal.Attempts)
	}
	if !errors.Is(err, serviceErr) {
		t.Errorf("terminal error does not wrap the last failure: %v", err)
	}
	if analyzer.State("ses_1") != StateFailed {
		t.Errorf("state = %s, want failed", analyzer.State("ses_1"))
	}
	if len(st.inserted) != 0 {
		t.Errorf("failed analysis persisted %d rows", len(st.inserted))
	}
}

func TestAnalyzeMalformedPayloadIsTerminal(t *testing.T) {
	st := &fakeAnalysisStore{answers: tenAnswers()}
	client := &fakeClient{fn: func(context.Context, int, genai.Request) (string, error) {
		return "I could not produce JSON, sorry.", nil
	}}
	analyzer := NewAnalyzer(st, client, testConfig())

	_, err := analyzer.Analyze(context.Background(), "ses_1")
	var terminal *TerminalError
	if !errors.As(err, &terminal) {
		t.Fatalf("expected TerminalError, got %v", err)
	}
	if client.callCount() != 1 {
		t.Errorf("malformed payload retried: %d calls", client.callCount())
	}
	if len(st.inserted) != 0 {
		t.Errorf("malformed payload persisted %d rows", len(st.inserted))
	}
}

func TestAnalyzeMissingVisionFieldIsTerminal(t *testing.T) {
	st := &fakeAnalysisStore{answers: tenAnswers()}
	client := &fakeClient{fn: func(context.Context, int, genai.Request) (string, error) {
		return `{"vision_inspirational": "only one half"}`, nil
	}}
	analyzer := NewAnalyzer(st, client, testConfig())

	_, err := analyzer.Analyze(context.Background(), "ses_1")
	var terminal *TerminalError
	if !errors.As(err, &terminal) {
		t.Fatalf("expected TerminalError, got %v", err)
	}
	if len(st.inserted) != 0 {
		t.Errorf("incomplete payload persisted %d rows", len(st.inserted))
	}
}

func TestAnalyzeDiscardsLateResultFromAbandonedAttempt(t *testing.T) {
	stalePayload := `{
		"vision_inspirational": "A response that arrived long after its attempt was abandoned",
		"vision_measurable": "This text must never be persisted as the accepted analysis"
	}`

	st := &fakeAnalysisStore{answers: tenAnswers()}
	client := &fakeClient{fn: func(_ context.Context, call int, _ genai.Request) (string, error) {
		if call == 1 {
			// Outlive the attempt deadline, then deliver a valid payload
			// anyway. It lands while attempt 2 is still waiting.
			time.Sleep(200 * time.Millisecond)
			return stalePayload, nil
		}
		time.Sleep(120 * time.Millisecond)
		return validPayload, nil
	}}
	cfg := testConfig()
	cfg.AttemptTimeout = 150 * time.Millisecond
	analyzer := NewAnalyzer(st, client, cfg)

	analysis, err := analyzer.Analyze(context.Background(), "ses_1")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if client.callCount() != 2 {
		t.Errorf("client invoked %d times, want 2", client.callCount())
	}
	if len(st.inserted) != 1 {
		t.Fatalf("inserted %d rows, want 1", len(st.inserted))
	}
	if analysis.VisionInspirational != "We empower every team to build things that truly matter" {
		t.Errorf("accepted the abandoned attempt's result: %q", analysis.VisionInspirational)
	}
}

func TestAnalyzeConcurrentSessionsDoNotInterfere(t *testing.T) {
	st := &fakeAnalysisStore{answers: tenAnswers()}
	client := &fakeClient{fn: func(context.Context, int, genai.Request) (string, error) {
		time.Sleep(10 * time.Millisecond)
		return validPayload, nil
	}}
	analyzer := NewAnalyzer(st, client, testConfig())

	sessions := []string{"ses_a", "ses_b"}
	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, sessionID := range sessions {
		wg.Add(1)
		go func(i int, sessionID string) {
			defer wg.Done()
			_, errs[i] = analyzer.Analyze(context.Background(), sessionID)
		}(i, sessionID)
	}
	wg.Wait()

	for i, sessionID := range sessions {
		if errs[i] != nil {
			t.Errorf("Analyze(%s): %v", sessionID, errs[i])
		}
		if analyzer.State(sessionID) != StateSucceeded {
			t.Errorf("state(%s) = %s, want succeeded", sessionID, analyzer.State(sessionID))
		}
	}
	if client.callCount() != 2 {
		t.Errorf("client invoked %d times, want one call per session", client.callCount())
	}
	if len(st.inserted) != 2 {
		t.Fatalf("inserted %d rows, want 2", len(st.inserted))
	}
	got := map[string]bool{}
	for _, analysis := range st.inserted {
		got[analysis.SessionID] = true
	}
	if !got["ses_a"] || !got["ses_b"] {
		t.Errorf("persisted sessions: %v", got)
	}
}

func TestAnalyzeHonorsCallerCancellation(t *testing.T) {
	st := &fakeAnalysisStore{answers: tenAnswers()}
	client := &fakeClient{fn: func(ctx context.Context, _ int, _ genai.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	cfg := testConfig()
	cfg.AttemptTimeout = time.Hour
	analyzer := NewAnalyzer(st, client, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := analyzer.Analyze(ctx, "ses_1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if analyzer.State("ses_1") != StateFailed {
		t.Errorf("state = %s, want failed", analyzer.State("ses_1"))
	}
}
