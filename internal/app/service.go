// Package app composes the interview wizard, the analysis orchestrators and
// their persistence into the service exposed over HTTP.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"northstar/api/internal/config"
	"northstar/api/internal/export"
	"northstar/api/internal/genai"
	"northstar/api/internal/search"
	"northstar/api/internal/store"
	"northstar/api/internal/util"
	"northstar/api/internal/vision"
	"northstar/api/internal/wizard"
)

type dataStore interface {
	Ping(ctx context.Context) error

	CreateProfile(ctx context.Context, profile store.Profile) error
	GetProfile(ctx context.Context, profileID string) (store.Profile, error)

	CreateSession(ctx context.Context, session store.Session) error
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
	LatestSessionForProfile(ctx context.Context, profileID string) (*store.Session, error)
	ListSessionsForProfile(ctx context.Context, profileID string) ([]store.SessionSummary, error)
	UpdateSessionStage(ctx context.Context, sessionID string, stage int) error
	DeleteSession(ctx context.Context, sessionID string) error

	UpsertAnswer(ctx context.Context, answer store.Answer) error
	DeleteAnswer(ctx context.Context, sessionID string, questionNumber int) error
	ListAnswers(ctx context.Context, sessionID string) ([]store.Answer, error)

	InsertAnalysis(ctx context.Context, analysis store.Analysis) error
	LatestAnalysisBySession(ctx context.Context, sessionID string) (store.Analysis, error)
	UpdateAnalysis(ctx context.Context, analysisID, visionInspirational, visionMeasurable string, meta store.AnalysisMeta) error
	HasAnalysis(ctx context.Context, sessionID string) (bool, error)
}

// tokenStore abstracts interview token persistence. Redis and Postgres both
// implement it; main picks one at startup.
type tokenStore interface {
	SaveSessionToken(ctx context.Context, tokenHash, sessionID, profileID string, expiresAt time.Time) error
	LookupSessionToken(ctx context.Context, tokenHash string) (string, string, error)
	RevokeSessionToken(ctx context.Context, tokenHash string) error
}

// Identity is what a valid interview token resolves to.
type Identity struct {
	SessionID string
	ProfileID string
}

type Service struct {
	cfg    config.Config
	store  dataStore
	tokens tokenStore

	tracker  *wizard.Tracker
	saver    *wizard.Saver
	analyzer *vision.Analyzer
	rewriter *vision.Rewriter

	search *search.Service
	export *export.Service
}

// New wires the service. search and export may be nil in reduced deployments
// (and are in most tests).
func New(cfg config.Config, st dataStore, tokens tokenStore, client genai.Client, searchSvc *search.Service, exportSvc *export.Service) *Service {
	return &Service{
		cfg:    cfg,
		store:  st,
		tokens: tokens,

		tracker: wizard.NewTracker(st),
		saver:   wizard.NewSaver(st, cfg.AutosaveQuiet),
		analyzer: vision.NewAnalyzer(st, client, vision.AnalyzerConfig{
			AttemptTimeout: cfg.AnalyzeTimeout,
			MaxAttempts:    cfg.AnalyzeRetries,
			RetryBackoff:   cfg.RetryBackoff,
		}),
		rewriter: vision.NewRewriter(st, client, cfg.RewriteTimeout),

		search: searchSvc,
		export: exportSvc,
	}
}

// Close flushes pending autosaves.
func (s *Service) Close() {
	s.saver.Close()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RegisterResult is the payload handed back on registration and on starting
// a fresh interview: the new session plus the token that authorizes it.
type RegisterResult struct {
	Token     string
	Profile   store.Profile
	Session   store.Session
	ExpiresAt time.Time
}

func validateName(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) < 1 || len(trimmed) > 100 {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("%s must be between 1 and 100 characters", field), map[string]any{"field": field})
	}
	return trimmed, nil
}

// Register creates a profile, opens its first interview session at stage 1
// and issues the interview token.
func (s *Service) Register(ctx context.Context, userName, companyName string) (RegisterResult, error) {
	userName, err := validateName("userName", userName)
	if err != nil {
		return RegisterResult{}, err
	}
	companyName, err = validateName("companyName", companyName)
	if err != nil {
		return RegisterResult{}, err
	}

	profile := store.Profile{
		ID:          util.NewID("usr"),
		UserName:    userName,
		CompanyName: companyName,
	}
	if err := s.store.CreateProfile(ctx, profile); err != nil {
		return RegisterResult{}, fmt.Errorf("create profile: %w", err)
	}

	session, err := s.tracker.LoadOrCreate(ctx, profile.ID)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("create session: %w", err)
	}

	return s.issueToken(ctx, profile, session)
}

// StartSession opens a fresh interview for an existing profile and issues a
// token bound to it. The previous session stays on the dashboard.
func (s *Service) StartSession(ctx context.Context, profileID string) (RegisterResult, error) {
	profile, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return RegisterResult{}, err
	}

	session := store.Session{
		ID:        util.NewID("ses"),
		ProfileID: profile.ID,
		Stage:     1,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return RegisterResult{}, fmt.Errorf("create session: %w", err)
	}

	return s.issueToken(ctx, profile, session)
}

func (s *Service) issueToken(ctx context.Context, profile store.Profile, session store.Session) (RegisterResult, error) {
	token := util.NewToken()
	expiresAt := time.Now().Add(s.cfg.TokenTTL)
	if err := s.tokens.SaveSessionToken(ctx, util.HashToken(token), session.ID, profile.ID, expiresAt); err != nil {
		return RegisterResult{}, fmt.Errorf("save token: %w", err)
	}
	return RegisterResult{
		Token:     token,
		Profile:   profile,
		Session:   session,
		ExpiresAt: expiresAt,
	}, nil
}

// IdentityFromToken resolves a bearer token to its session and profile.
func (s *Service) IdentityFromToken(ctx context.Context, token string) (Identity, error) {
	sessionID, profileID, err := s.tokens.LookupSessionToken(ctx, util.HashToken(token))
	if err != nil {
		return Identity{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token", nil)
	}
	return Identity{SessionID: sessionID, ProfileID: profileID}, nil
}

// Logout revokes the token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.RevokeSessionToken(ctx, util.HashToken(token))
}

// Dashboard lists the profile's sessions, newest first, flagged with whether
// an analysis exists.
func (s *Service) Dashboard(ctx context.Context, profileID string) ([]store.SessionSummary, error) {
	return s.store.ListSessionsForProfile(ctx, profileID)
}

// DeleteSession removes a session after verifying it belongs to the caller.
func (s *Service) DeleteSession(ctx context.Context, profileID, sessionID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.ProfileID != profileID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Session belongs to another profile", nil)
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteSession(sessionID)
	}
	return nil
}

// Question is one wizard prompt with its stage number.
type Question struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Questions returns the fixed ten-question catalog.
func (s *Service) Questions() []Question {
	questions := make([]Question, 0, len(vision.Questions))
	for i, text := range vision.Questions {
		questions = append(questions, Question{Number: i + 1, Text: text})
	}
	return questions
}

// InterviewState is everything a client needs to resume an interview where
// it left off.
type InterviewState struct {
	Session     store.Session
	Answers     []store.Answer
	Answered    map[int]bool
	HasAnalysis bool
}

// Resume loads the session, its saved answers and its analysis flag.
func (s *Service) Resume(ctx context.Context, sessionID string) (InterviewState, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return InterviewState{}, err
	}
	answers, err := s.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return InterviewState{}, err
	}
	answered := make(map[int]bool, len(answers))
	for _, answer := range answers {
		answered[answer.QuestionNumber] = true
	}
	hasAnalysis, err := s.store.HasAnalysis(ctx, sessionID)
	if err != nil {
		return InterviewState{}, err
	}
	return InterviewState{
		Session:     session,
		Answers:     answers,
		Answered:    answered,
		HasAnalysis: hasAnalysis,
	}, nil
}

// ObserveAnswer feeds one edit into the debounced autosaver. It returns as
// soon as the edit is recorded; the commit happens after the quiet period.
func (s *Service) ObserveAnswer(sessionID string, questionNumber int, text string) error {
	if questionNumber < 1 || questionNumber > store.QuestionCount {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("questionNumber must be between 1 and %d", store.QuestionCount), nil)
	}
	s.saver.Observe(sessionID, questionNumber, text)
	return nil
}

// ClearAnswer deletes a saved answer immediately, bypassing the debounce.
func (s *Service) ClearAnswer(ctx context.Context, sessionID string, questionNumber int) error {
	if questionNumber < 1 || questionNumber > store.QuestionCount {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("questionNumber must be between 1 and %d", store.QuestionCount), nil)
	}
	return s.saver.Clear(ctx, sessionID, questionNumber)
}

// SetStage jumps the session to an arbitrary stage, as driven by the
// client's stepper.
func (s *Service) SetStage(ctx context.Context, sessionID string, stage int) (store.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	if err := s.tracker.SetStage(ctx, &session, stage); err != nil {
		return store.Session{}, err
	}
	return session, nil
}

// Next flushes pending autosaves and advances one stage. At stage 10 it
// reports completion instead of advancing; the client then requests analysis.
func (s *Service) Next(ctx context.Context, sessionID string) (wizard.Outcome, store.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return wizard.Outcome{}, store.Session{}, err
	}
	if err := s.saver.Flush(ctx, sessionID); err != nil {
		return wizard.Outcome{}, store.Session{}, fmt.Errorf("flush autosave: %w", err)
	}
	outcome, err := s.tracker.Advance(ctx, &session)
	if err != nil {
		return wizard.Outcome{}, store.Session{}, err
	}
	return outcome, session, nil
}

// Back retreats one stage, flushing pending edits first.
func (s *Service) Back(ctx context.Context, sessionID string) (store.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	if err := s.saver.Flush(ctx, sessionID); err != nil {
		return store.Session{}, fmt.Errorf("flush autosave: %w", err)
	}
	if err := s.tracker.Back(ctx, &session); err != nil {
		return store.Session{}, err
	}
	return session, nil
}

// Analyze flushes outstanding edits and runs the full analysis protocol. On
// success the new analysis is pushed to the search index.
func (s *Service) Analyze(ctx context.Context, sessionID string) (store.Analysis, error) {
	if err := s.saver.Flush(ctx, sessionID); err != nil {
		return store.Analysis{}, fmt.Errorf("flush autosave: %w", err)
	}
	analysis, err := s.analyzer.Analyze(ctx, sessionID)
	if err != nil {
		return store.Analysis{}, err
	}
	s.indexAnalysis(ctx, analysis)
	return analysis, nil
}

// Rewrite produces one more version of the current analysis and re-indexes
// the refreshed document.
func (s *Service) Rewrite(ctx context.Context, sessionID, rawMode string) (store.VersionEntry, error) {
	mode, err := vision.ParseMode(rawMode)
	if err != nil {
		return store.VersionEntry{}, err
	}
	entry, err := s.rewriter.Rewrite(ctx, sessionID, mode)
	if err != nil {
		return store.VersionEntry{}, err
	}
	if analysis, loadErr := s.store.LatestAnalysisBySession(ctx, sessionID); loadErr == nil {
		s.indexAnalysis(ctx, analysis)
	}
	return entry, nil
}

func (s *Service) indexAnalysis(ctx context.Context, analysis store.Analysis) {
	if s.search == nil {
		return
	}
	session, err := s.store.GetSession(ctx, analysis.SessionID)
	if err != nil {
		return
	}
	s.search.IndexAnalysis(search.AnalysisRecord{
		ID:                  analysis.ID,
		SessionID:           analysis.SessionID,
		ProfileID:           session.ProfileID,
		VisionInspirational: analysis.VisionInspirational,
		VisionMeasurable:    analysis.VisionMeasurable,
		Keywords:            analysis.Meta.Keywords,
		Notes:               analysis.Meta.Notes,
		CreatedAt:           analysis.CreatedAt,
	})
}

// Summary returns the latest analysis for the session.
func (s *Service) Summary(ctx context.Context, sessionID string) (store.Analysis, error) {
	analysis, err := s.store.LatestAnalysisBySession(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Analysis{}, vision.ErrNoAnalysis
	}
	if err != nil {
		return store.Analysis{}, err
	}
	return analysis, nil
}

// ExportSummary renders the session's summary PDF.
func (s *Service) ExportSummary(ctx context.Context, sessionID string) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
	}
	result, err := s.export.ExportSummary(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vision.ErrNoAnalysis
	}
	return result, err
}

// Search queries the profile's analyses.
func (s *Service) Search(profileID, text string, limit int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(search.Query{Text: text, ProfileID: profileID, Limit: limit})
}
