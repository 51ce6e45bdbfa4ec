package export

import (
	"context"
	"fmt"
	"log"

	"northstar/api/internal/store"
	"northstar/api/internal/vision"
)

type dataStore interface {
	GetSession(ctx context.Context, id string) (store.Session, error)
	GetProfile(ctx context.Context, id string) (store.Profile, error)
	ListAnswers(ctx context.Context, sessionID string) ([]store.Answer, error)
	LatestAnalysisBySession(ctx context.Context, sessionID string) (store.Analysis, error)
}

// Service renders a session's latest analysis to a PDF summary.
type Service struct {
	store     dataStore
	artifacts *ArtifactStore
}

// NewService creates an export service. artifacts may be nil when object
// storage is not configured.
func NewService(dataStore dataStore, artifacts *ArtifactStore) *Service {
	return &Service{store: dataStore, artifacts: artifacts}
}

func versionLabel(entryType string) string {
	switch entryType {
	case vision.EntryOriginal:
		return "Original"
	case string(vision.ModeShorter):
		return "Shorter"
	case string(vision.ModeMoreOptions):
		return "More options"
	case string(vision.ModeShorterTerm):
		return "Shorter term"
	}
	return entryType
}

// ExportSummary renders the session summary and converts it to PDF. The
// analysis row must already exist; callers map the no-rows error to their
// own not-found taxonomy.
func (s *Service) ExportSummary(ctx context.Context, sessionID string) (*Result, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	profile, err := s.store.GetProfile(ctx, session.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	analysis, err := s.store.LatestAnalysisBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	data := TemplateData{
		UserName:            profile.UserName,
		CompanyName:         profile.CompanyName,
		VisionInspirational: analysis.VisionInspirational,
		VisionMeasurable:    analysis.VisionMeasurable,
		Keywords:            analysis.Meta.Keywords,
		Insights:            analysis.Meta.Insights,
		Notes:               analysis.Meta.Notes,
		CreatedAt:           analysis.CreatedAt,
	}

	for _, entry := range analysis.Meta.VersionHistory {
		data.History = append(data.History, TemplateVersion{
			Label:               versionLabel(entry.Type),
			Timestamp:           entry.Timestamp,
			VisionInspirational: entry.VisionInspirational,
			VisionMeasurable:    entry.VisionMeasurable,
		})
	}

	answers, err := s.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	for _, a := range answers {
		question := ""
		if a.QuestionNumber >= 1 && a.QuestionNumber <= len(vision.Questions) {
			question = vision.Questions[a.QuestionNumber-1]
		}
		data.Answers = append(data.Answers, TemplateAnswer{
			Number:   a.QuestionNumber,
			Question: question,
			Answer:   a.AnswerText,
		})
	}

	html, err := RenderSummaryHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	result, err := exportPDF(html, "vision-summary-"+profile.CompanyName)
	if err != nil {
		return nil, err
	}

	if s.artifacts != nil {
		url, err := s.artifacts.Put(ctx, sessionID, result)
		if err != nil {
			log.Printf("export: artifact upload for session %s failed: %v", sessionID, err)
		} else {
			result.ArtifactURL = url
		}
	}

	return result, nil
}
