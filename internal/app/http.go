package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"northstar/api/internal/store"
	"northstar/api/internal/vision"
	"northstar/api/internal/wizard"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/questions" {
		writeJSON(w, http.StatusOK, map[string]any{"questions": s.service.Questions()})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/register" {
		s.handleRegister(w, r)
		return
	}

	// Everything below requires an interview token.
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token", nil)
		return
	}
	identity, err := s.service.IdentityFromToken(r.Context(), token)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		s.handleSession(w, r, identity)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		if err := s.service.Logout(r.Context(), token); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/sessions" {
		s.handleDashboard(w, r, identity)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sessions" {
		s.handleStartSession(w, r, identity)
		return
	}

	if r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/sessions/") {
		parts := splitPath(r.URL.Path)
		if len(parts) == 3 {
			s.handleDeleteSession(w, r, identity, parts[2])
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/interview" {
		s.handleResume(w, r, identity)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/interview/answer" {
		s.handleAnswer(w, r, identity)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/interview/clear" {
		s.handleClear(w, r, identity)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/interview/stage" {
		s.handleStage(w, r, identity)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/interview/next" {
		s.handleNext(w, r, identity)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/interview/back" {
		s.handleBack(w, r, identity)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/interview/analyze" {
		s.handleAnalyze(w, r, identity)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/interview/rewrite" {
		s.handleRewrite(w, r, identity)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/interview/summary" {
		s.handleSummary(w, r, identity)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/interview/export" {
		s.handleExport(w, r, identity)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r, identity)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserName    string `json:"userName"`
		CompanyName string `json:"companyName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	result, err := s.service.Register(r.Context(), body.UserName, body.CompanyName)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"token":       result.Token,
		"expiresAt":   result.ExpiresAt.Unix(),
		"profileId":   result.Profile.ID,
		"userName":    result.Profile.UserName,
		"companyName": result.Profile.CompanyName,
		"session":     sessionPayload(result.Session),
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request, identity Identity) {
	state, err := s.service.Resume(r.Context(), identity.SessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profileId": identity.ProfileID,
		"session":   sessionPayload(state.Session),
	})
}

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request, identity Identity) {
	sessions, err := s.service.Dashboard(r.Context(), identity.ProfileID)
	if err != nil {
		s.fail(w, err)
		return
	}
	items := make([]map[string]any, 0, len(sessions))
	for _, session := range sessions {
		item := sessionPayload(session.Session)
		item["hasAnalysis"] = session.HasAnalysis
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func (s *HTTPServer) handleStartSession(w http.ResponseWriter, r *http.Request, identity Identity) {
	result, err := s.service.StartSession(r.Context(), identity.ProfileID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":     result.Token,
		"expiresAt": result.ExpiresAt.Unix(),
		"session":   sessionPayload(result.Session),
	})
}

func (s *HTTPServer) handleDeleteSession(w http.ResponseWriter, r *http.Request, identity Identity, sessionID string) {
	if err := s.service.DeleteSession(r.Context(), identity.ProfileID, sessionID); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleResume(w http.ResponseWriter, r *http.Request, identity Identity) {
	state, err := s.service.Resume(r.Context(), identity.SessionID)
	if err != nil {
		s.fail(w, err)
		return
	}

	answers := make([]map[string]any, 0, len(state.Answers))
	for _, answer := range state.Answers {
		answers = append(answers, map[string]any{
			"questionNumber": answer.QuestionNumber,
			"text":           answer.AnswerText,
			"updatedAt":      answer.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":     sessionPayload(state.Session),
		"answers":     answers,
		"answered":    answeredList(state.Answered),
		"hasAnalysis": state.HasAnalysis,
	})
}

func (s *HTTPServer) handleAnswer(w http.ResponseWriter, r *http.Request, identity Identity) {
	var body struct {
		QuestionNumber int    `json:"questionNumber"`
		Text           string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.ObserveAnswer(identity.SessionID, body.QuestionNumber, body.Text); err != nil {
		s.fail(w, err)
		return
	}
	// Accepted, not yet committed; the autosaver owns the write.
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *HTTPServer) handleClear(w http.ResponseWriter, r *http.Request, identity Identity) {
	var body struct {
		QuestionNumber int `json:"questionNumber"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.ClearAnswer(r.Context(), identity.SessionID, body.QuestionNumber); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleStage(w http.ResponseWriter, r *http.Request, identity Identity) {
	var body struct {
		Stage int `json:"stage"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SetStage(r.Context(), identity.SessionID, body.Stage)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sessionPayload(session)})
}

func (s *HTTPServer) handleNext(w http.ResponseWriter, r *http.Request, identity Identity) {
	outcome, session, err := s.service.Next(r.Context(), identity.SessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"complete": outcome.Complete,
		"stage":    outcome.Next,
		"session":  sessionPayload(session),
	})
}

func (s *HTTPServer) handleBack(w http.ResponseWriter, r *http.Request, identity Identity) {
	session, err := s.service.Back(r.Context(), identity.SessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sessionPayload(session)})
}

func (s *HTTPServer) handleAnalyze(w http.ResponseWriter, r *http.Request, identity Identity) {
	analysis, err := s.service.Analyze(r.Context(), identity.SessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, analysisPayload(analysis))
}

func (s *HTTPServer) handleRewrite(w http.ResponseWriter, r *http.Request, identity Identity) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	entry, err := s.service.Rewrite(r.Context(), identity.SessionID, body.Mode)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": entry})
}

func (s *HTTPServer) handleSummary(w http.ResponseWriter, r *http.Request, identity Identity) {
	analysis, err := s.service.Summary(r.Context(), identity.SessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysisPayload(analysis))
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, identity Identity) {
	result, err := s.service.ExportSummary(r.Context(), identity.SessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	if result.ArtifactURL != "" {
		w.Header().Set("X-Artifact-URL", result.ArtifactURL)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, identity Identity) {
	query := r.URL.Query().Get("q")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	writeJSON(w, http.StatusOK, s.service.Search(identity.ProfileID, query, limit))
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("app: %v", err)
	}
	writeError(w, status, code, message, details)
}

func sessionPayload(session store.Session) map[string]any {
	return map[string]any{
		"id":        session.ID,
		"profileId": session.ProfileID,
		"stage":     session.Stage,
		"createdAt": session.CreatedAt,
		"updatedAt": session.UpdatedAt,
	}
}

func analysisPayload(analysis store.Analysis) map[string]any {
	return map[string]any{
		"id":                  analysis.ID,
		"sessionId":           analysis.SessionID,
		"visionInspirational": analysis.VisionInspirational,
		"visionMeasurable":    analysis.VisionMeasurable,
		"keywords":            analysis.Meta.Keywords,
		"insights":            analysis.Meta.Insights,
		"notes":               analysis.Meta.Notes,
		"processingTimeMs":    analysis.Meta.ProcessingTimeMS,
		"versionHistory":      analysis.Meta.VersionHistory,
		"createdAt":           analysis.CreatedAt,
	}
}

func answeredList(answered map[int]bool) []int {
	list := make([]int, 0, len(answered))
	for number := 1; number <= store.QuestionCount; number++ {
		if answered[number] {
			list = append(list, number)
		}
	}
	return list
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var incomplete *vision.IncompleteError
	if errors.As(err, &incomplete) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", incomplete.Error(),
			map[string]any{"answered": incomplete.Have, "required": store.QuestionCount}
	}
	var terminal *vision.TerminalError
	if errors.As(err, &terminal) {
		return http.StatusBadGateway, "GENERATION_FAILED", "Analysis generation failed",
			map[string]any{"attempts": terminal.Attempts}
	}
	if errors.Is(err, vision.ErrNoAnalysis) {
		return http.StatusNotFound, "NO_ANALYSIS", "No analysis exists for this session", nil
	}
	if errors.Is(err, vision.ErrUnknownMode) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown rewrite mode", nil
	}
	if errors.Is(err, wizard.ErrStageOutOfRange) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Stage out of range", nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
