package wizard

import (
	"context"
	"sync"
	"testing"
	"time"

	"northstar/api/internal/store"
)

type recordingAnswerStore struct {
	mu      sync.Mutex
	upserts []store.Answer
	deletes []int
}

func (r *recordingAnswerStore) UpsertAnswer(_ context.Context, answer store.Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, answer)
	return nil
}

func (r *recordingAnswerStore) DeleteAnswer(_ context.Context, _ string, questionNumber int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, questionNumber)
	return nil
}

func (r *recordingAnswerStore) snapshot() []store.Answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Answer(nil), r.upserts...)
}

func waitForUpserts(t *testing.T, rec *recordingAnswerStore, want int) []store.Answer {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := rec.snapshot()
		if len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d committed answer(s), have %d", want, len(rec.snapshot()))
	return nil
}

func TestObserveCoalescesToLastWrite(t *testing.T) {
	rec := &recordingAnswerStore{}
	saver := NewSaver(rec, 30*time.Millisecond)
	defer saver.Close()

	saver.Observe("ses_1", 3, "d")
	saver.Observe("ses_1", 3, "draft")
	saver.Observe("ses_1", 3, "draft answer")

	got := waitForUpserts(t, rec, 1)
	if len(got) != 1 {
		t.Fatalf("committed %d times, want 1", len(got))
	}
	if got[0].AnswerText != "draft answer" || got[0].QuestionNumber != 3 {
		t.Errorf("committed %+v", got[0])
	}
}

func TestObserveSeparateQuestionsCommitSeparately(t *testing.T) {
	rec := &recordingAnswerStore{}
	saver := NewSaver(rec, 20*time.Millisecond)
	defer saver.Close()

	saver.Observe("ses_1", 1, "first")
	saver.Observe("ses_1", 2, "second")

	got := waitForUpserts(t, rec, 2)
	seen := map[int]string{}
	for _, answer := range got {
		seen[answer.QuestionNumber] = answer.AnswerText
	}
	if seen[1] != "first" || seen[2] != "second" {
		t.Errorf("committed answers: %#v", seen)
	}
}

func TestObserveEmptyTextNeverCommits(t *testing.T) {
	rec := &recordingAnswerStore{}
	saver := NewSaver(rec, 20*time.Millisecond)
	defer saver.Close()

	saver.Observe("ses_1", 4, "something")
	saver.Observe("ses_1", 4, "   ")

	time.Sleep(100 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("empty edit committed: %#v", got)
	}
}

func TestObserveOutOfRangeIgnored(t *testing.T) {
	rec := &recordingAnswerStore{}
	saver := NewSaver(rec, 10*time.Millisecond)
	defer saver.Close()

	saver.Observe("ses_1", 0, "x")
	saver.Observe("ses_1", 11, "y")

	time.Sleep(60 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("out-of-range edits committed: %#v", got)
	}
}

func TestReplayedEditIsIdempotent(t *testing.T) {
	rec := &recordingAnswerStore{}
	saver := NewSaver(rec, 15*time.Millisecond)
	defer saver.Close()

	saver.Observe("ses_1", 5, "same text")
	waitForUpserts(t, rec, 1)
	saver.Observe("ses_1", 5, "same text")
	got := waitForUpserts(t, rec, 2)

	if got[0].AnswerText != got[1].AnswerText {
		t.Errorf("replay changed content: %q vs %q", got[0].AnswerText, got[1].AnswerText)
	}
}

func TestFlushCommitsPendingSynchronously(t *testing.T) {
	rec := &recordingAnswerStore{}
	saver := NewSaver(rec, time.Hour)
	defer saver.Close()

	saver.Observe("ses_1", 2, "pending")
	saver.Observe("ses_2", 1, "other session")

	if err := saver.Flush(context.Background(), "ses_1"); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got := rec.snapshot()
	if len(got) != 1 {
		t.Fatalf("flushed %d answer(s), want 1", len(got))
	}
	if got[0].SessionID != "ses_1" || got[0].AnswerText != "pending" {
		t.Errorf("flushed %+v", got[0])
	}
}

func TestFlushThenTimerDoesNotDoubleCommit(t *testing.T) {
	rec := &recordingAnswerStore{}
	saver := NewSaver(rec, 25*time.Millisecond)
	defer saver.Close()

	saver.Observe("ses_1", 6, "once")
	if err := saver.Flush(context.Background(), "ses_1"); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 {
		t.Errorf("committed %d times, want 1", len(got))
	}
}

func TestClearDiscardsPendingAndDeletes(t *testing.T) {
	rec := &recordingAnswerStore{}
	saver := NewSaver(rec, 25*time.Millisecond)
	defer saver.Close()

	saver.Observe("ses_1", 8, "doomed")
	if err := saver.Clear(context.Background(), "ses_1", 8); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("pending edit survived clear: %#v", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.deletes) != 1 || rec.deletes[0] != 8 {
		t.Errorf("deletes: %#v", rec.deletes)
	}
}

// gatedAnswerStore blocks its first upsert until released, simulating a
// store write that outlasts the quiet period.
type gatedAnswerStore struct {
	recordingAnswerStore
	entered chan struct{}
	release chan struct{}
	first   sync.Once
}

func (g *gatedAnswerStore) UpsertAnswer(ctx context.Context, answer store.Answer) error {
	var gated bool
	g.first.Do(func() { gated = true })
	if gated {
		close(g.entered)
		<-g.release
	}
	return g.recordingAnswerStore.UpsertAnswer(ctx, answer)
}

func TestSlowCommitIsNotOvertakenByLaterEdit(t *testing.T) {
	rec := &gatedAnswerStore{entered: make(chan struct{}), release: make(chan struct{})}
	saver := NewSaver(rec, 10*time.Millisecond)
	defer saver.Close()

	saver.Observe("ses_1", 2, "first")
	select {
	case <-rec.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first commit never reached the store")
	}

	saver.Observe("ses_1", 2, "second")
	time.Sleep(60 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("later edit overtook the in-flight commit: %#v", got)
	}

	close(rec.release)
	got := waitForUpserts(t, &rec.recordingAnswerStore, 2)
	if got[0].AnswerText != "first" || got[1].AnswerText != "second" {
		t.Errorf("commits landed as %q then %q, want first then second", got[0].AnswerText, got[1].AnswerText)
	}
}

func TestCloseCommitsRemaining(t *testing.T) {
	rec := &recordingAnswerStore{}
	saver := NewSaver(rec, time.Hour)

	saver.Observe("ses_1", 9, "last words")
	saver.Close()

	got := rec.snapshot()
	if len(got) != 1 || got[0].AnswerText != "last words" {
		t.Errorf("close did not commit pending edit: %#v", got)
	}
}
