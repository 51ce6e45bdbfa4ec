package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateProfile(ctx context.Context, profile Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, user_name, company_name)
		VALUES ($1, $2, $3)
	`, profile.ID, profile.UserName, profile.CompanyName)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, profileID string) (Profile, error) {
	var profile Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_name, company_name, created_at
		FROM profiles
		WHERE id=$1
	`, profileID).Scan(&profile.ID, &profile.UserName, &profile.CompanyName, &profile.CreatedAt)
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, session Session) error {
	stage := session.Stage
	if stage == 0 {
		stage = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, profile_id, stage)
		VALUES ($1, $2, $3)
	`, session.ID, session.ProfileID, stage)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var session Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, profile_id, stage, created_at, updated_at
		FROM sessions
		WHERE id=$1
	`, sessionID).Scan(&session.ID, &session.ProfileID, &session.Stage, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return Session{}, err
	}
	return session, nil
}

// LatestSessionForProfile returns the most recently created session for a
// profile, or nil when the profile has none yet.
func (s *PostgresStore) LatestSessionForProfile(ctx context.Context, profileID string) (*Session, error) {
	var session Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, profile_id, stage, created_at, updated_at
		FROM sessions
		WHERE profile_id=$1
		ORDER BY created_at DESC
		LIMIT 1
	`, profileID).Scan(&session.ID, &session.ProfileID, &session.Stage, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest session: %w", err)
	}
	return &session, nil
}

func (s *PostgresStore) ListSessionsForProfile(ctx context.Context, profileID string) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.profile_id, s.stage, s.created_at, s.updated_at,
			EXISTS(SELECT 1 FROM analyses a WHERE a.session_id = s.id)
		FROM sessions s
		WHERE s.profile_id=$1
		ORDER BY s.updated_at DESC
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	items := make([]SessionSummary, 0)
	for rows.Next() {
		var item SessionSummary
		if err := rows.Scan(&item.ID, &item.ProfileID, &item.Stage, &item.CreatedAt, &item.UpdatedAt, &item.HasAnalysis); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateSessionStage(ctx context.Context, sessionID string, stage int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET stage=$2, updated_at=NOW()
		WHERE id=$1
	`, sessionID, stage)
	if err != nil {
		return fmt.Errorf("update session stage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session stage: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteSession removes a session and, via cascade, its answers, analyses
// and tokens. Deletion is a management action; the wizard and orchestrators
// never call it.
func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id=$1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// UpsertAnswer writes an answer keyed on (session_id, question_number),
// last writer wins.
func (s *PostgresStore) UpsertAnswer(ctx context.Context, answer Answer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO responses (session_id, question_number, answer_text, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id, question_number)
		DO UPDATE SET answer_text=EXCLUDED.answer_text, updated_at=NOW()
	`, answer.SessionID, answer.QuestionNumber, answer.AnswerText)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAnswer(ctx context.Context, sessionID string, questionNumber int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM responses WHERE session_id=$1 AND question_number=$2
	`, sessionID, questionNumber)
	if err != nil {
		return fmt.Errorf("delete answer: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAnswers(ctx context.Context, sessionID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, question_number, answer_text, updated_at
		FROM responses
		WHERE session_id=$1
		ORDER BY question_number
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	items := make([]Answer, 0, QuestionCount)
	for rows.Next() {
		var item Answer
		if err := rows.Scan(&item.SessionID, &item.QuestionNumber, &item.AnswerText, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountAnswers(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM responses WHERE session_id=$1
	`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertAnalysis(ctx context.Context, analysis Analysis) error {
	meta, err := json.Marshal(analysis.Meta)
	if err != nil {
		return fmt.Errorf("marshal analysis meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyses (id, session_id, vision_inspirational, vision_measurable, meta)
		VALUES ($1, $2, $3, $4, $5)
	`, analysis.ID, analysis.SessionID, analysis.VisionInspirational, analysis.VisionMeasurable, meta)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// LatestAnalysisBySession returns the newest analysis row for a session.
// Older rows are historical; the newest is authoritative.
func (s *PostgresStore) LatestAnalysisBySession(ctx context.Context, sessionID string) (Analysis, error) {
	var analysis Analysis
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, vision_inspirational, vision_measurable, meta, created_at
		FROM analyses
		WHERE session_id=$1
		ORDER BY created_at DESC
		LIMIT 1
	`, sessionID).Scan(&analysis.ID, &analysis.SessionID, &analysis.VisionInspirational, &analysis.VisionMeasurable, &raw, &analysis.CreatedAt)
	if err != nil {
		return Analysis{}, err
	}
	analysis.Meta, err = normalizeMeta(raw)
	if err != nil {
		return Analysis{}, fmt.Errorf("normalize analysis meta: %w", err)
	}
	return analysis, nil
}

// UpdateAnalysis rewrites the top-level visions and the meta payload of an
// existing analysis row. Used by the rewrite path after a history append.
func (s *PostgresStore) UpdateAnalysis(ctx context.Context, analysisID, visionInspirational, visionMeasurable string, meta AnalysisMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal analysis meta: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE analyses
		SET vision_inspirational=$2, vision_measurable=$3, meta=$4
		WHERE id=$1
	`, analysisID, visionInspirational, visionMeasurable, raw)
	if err != nil {
		return fmt.Errorf("update analysis: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update analysis: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) HasAnalysis(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM analyses WHERE session_id=$1)
	`, sessionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check analysis: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) SaveSessionToken(ctx context.Context, tokenHash, sessionID, profileID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_tokens (token_hash, session_id, profile_id, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_hash) DO UPDATE SET session_id=EXCLUDED.session_id, profile_id=EXCLUDED.profile_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, sessionID, profileID, expiresAt)
	if err != nil {
		return fmt.Errorf("save session token: %w", err)
	}
	return nil
}

// LookupSessionToken resolves an unexpired, unrevoked token hash to its
// session and profile.
func (s *PostgresStore) LookupSessionToken(ctx context.Context, tokenHash string) (string, string, error) {
	var sessionID, profileID string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, profile_id
		FROM session_tokens
		WHERE token_hash=$1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&sessionID, &profileID)
	if err != nil {
		return "", "", err
	}
	return sessionID, profileID, nil
}

func (s *PostgresStore) RevokeSessionToken(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE session_tokens SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke session token: %w", err)
	}
	return nil
}
