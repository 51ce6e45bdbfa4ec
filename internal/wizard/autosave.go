package wizard

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"northstar/api/internal/store"
)

type answerStore interface {
	UpsertAnswer(ctx context.Context, answer store.Answer) error
	DeleteAnswer(ctx context.Context, sessionID string, questionNumber int) error
}

type editKey struct {
	sessionID string
	question  int
}

type pendingEdit struct {
	text  string
	timer *time.Timer
}

// claimedEdit is an edit removed from the pending map and holding a slot in
// its question's commit chain.
type claimedEdit struct {
	key  editKey
	text string
	prev chan struct{}
	done chan struct{}
}

// Saver debounces answer edits and commits them through the store without
// blocking the caller. Only the most recent text per (session, question)
// survives the quiet period; intermediate keystrokes are coalesced. Commits
// are upserts, so replaying the same edit is idempotent.
type Saver struct {
	store         answerStore
	quiet         time.Duration
	commitTimeout time.Duration

	mu       sync.Mutex
	pending  map[editKey]*pendingEdit
	inflight map[editKey]chan struct{}
}

func NewSaver(answerStore answerStore, quiet time.Duration) *Saver {
	if quiet <= 0 {
		quiet = 750 * time.Millisecond
	}
	return &Saver{
		store:         answerStore,
		quiet:         quiet,
		commitTimeout: 10 * time.Second,
		pending:       make(map[editKey]*pendingEdit),
		inflight:      make(map[editKey]chan struct{}),
	}
}

// Observe records an edit and (re)starts the quiet-period timer for its
// question. Text that trims to empty cancels any pending commit instead of
// autosaving an empty answer; emptying a field is only persisted through the
// explicit Clear action.
func (s *Saver) Observe(sessionID string, questionNumber int, text string) {
	if questionNumber < 1 || questionNumber > store.QuestionCount {
		return
	}
	key := editKey{sessionID: sessionID, question: questionNumber}

	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		if edit, ok := s.pending[key]; ok {
			edit.timer.Stop()
			delete(s.pending, key)
		}
		return
	}

	if edit, ok := s.pending[key]; ok {
		edit.text = text
		edit.timer.Reset(s.quiet)
		return
	}

	edit := &pendingEdit{text: text}
	edit.timer = time.AfterFunc(s.quiet, func() {
		s.settle(key, edit)
	})
	s.pending[key] = edit
}

// claim reserves the next slot in a question's commit chain. Each committer
// waits on prev before touching the store and closes done when finished, so
// commits for one question land in claim order even when a store write
// outlasts the quiet period. Callers hold mu.
func (s *Saver) claim(key editKey) (prev, done chan struct{}) {
	prev = s.inflight[key]
	done = make(chan struct{})
	s.inflight[key] = done
	return prev, done
}

func (s *Saver) release(key editKey, done chan struct{}) {
	close(done)
	s.mu.Lock()
	if s.inflight[key] == done {
		delete(s.inflight, key)
	}
	s.mu.Unlock()
}

// settle runs in the timer goroutine once input has been quiet. The entry is
// claimed under the lock first so a concurrent Flush cannot commit it twice.
func (s *Saver) settle(key editKey, edit *pendingEdit) {
	s.mu.Lock()
	current, ok := s.pending[key]
	if !ok || current != edit {
		s.mu.Unlock()
		return
	}
	text := current.text
	delete(s.pending, key)
	prev, done := s.claim(key)
	s.mu.Unlock()

	defer s.release(key, done)
	if prev != nil {
		<-prev
	}
	s.commit(key, text)
}

func (s *Saver) commit(key editKey, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.commitTimeout)
	defer cancel()
	err := s.store.UpsertAnswer(ctx, store.Answer{
		SessionID:      key.sessionID,
		QuestionNumber: key.question,
		AnswerText:     text,
	})
	if err != nil {
		log.Printf("autosave: commit session=%s question=%d: %v", key.sessionID, key.question, err)
	}
}

// Flush commits every pending edit for a session synchronously. Called when
// the user moves on before the quiet period has elapsed.
func (s *Saver) Flush(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	var due []claimedEdit
	for key, edit := range s.pending {
		if key.sessionID != sessionID {
			continue
		}
		edit.timer.Stop()
		prev, done := s.claim(key)
		due = append(due, claimedEdit{key: key, text: edit.text, prev: prev, done: done})
		delete(s.pending, key)
	}
	s.mu.Unlock()

	var firstErr error
	for _, item := range due {
		if firstErr != nil {
			s.release(item.key, item.done)
			continue
		}
		if item.prev != nil {
			select {
			case <-item.prev:
			case <-ctx.Done():
				s.release(item.key, item.done)
				firstErr = ctx.Err()
				continue
			}
		}
		err := s.store.UpsertAnswer(ctx, store.Answer{
			SessionID:      item.key.sessionID,
			QuestionNumber: item.key.question,
			AnswerText:     item.text,
		})
		s.release(item.key, item.done)
		if err != nil {
			firstErr = err
		}
	}
	return firstErr
}

// Clear deletes a question's answer immediately. Unlike edits, clears are
// never debounced; any pending edit for the question is discarded, and the
// delete waits its turn in the commit chain so an in-flight autosave cannot
// resurrect the answer.
func (s *Saver) Clear(ctx context.Context, sessionID string, questionNumber int) error {
	key := editKey{sessionID: sessionID, question: questionNumber}

	s.mu.Lock()
	if edit, ok := s.pending[key]; ok {
		edit.timer.Stop()
		delete(s.pending, key)
	}
	prev, done := s.claim(key)
	s.mu.Unlock()

	defer s.release(key, done)
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.store.DeleteAnswer(ctx, sessionID, questionNumber)
}

// Close stops all timers and commits whatever was still pending.
func (s *Saver) Close() {
	s.mu.Lock()
	remaining := make([]claimedEdit, 0, len(s.pending))
	for key, edit := range s.pending {
		edit.timer.Stop()
		prev, done := s.claim(key)
		remaining = append(remaining, claimedEdit{key: key, text: edit.text, prev: prev, done: done})
	}
	s.pending = make(map[editKey]*pendingEdit)
	s.mu.Unlock()

	for _, item := range remaining {
		if item.prev != nil {
			<-item.prev
		}
		s.commit(item.key, item.text)
		s.release(item.key, item.done)
	}
}
