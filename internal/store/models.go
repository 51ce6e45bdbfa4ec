package store

import (
	"encoding/json"
	"time"
)

// QuestionCount is the fixed length of the interview.
const QuestionCount = 10

type Profile struct {
	ID          string
	UserName    string
	CompanyName string
	CreatedAt   time.Time
}

// Session is one profile's interview run. Stage is the question index the
// session is positioned at, always within [1, QuestionCount].
type Session struct {
	ID        string
	ProfileID string
	Stage     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionSummary is a session row joined with whether an analysis exists,
// as listed on the dashboard.
type SessionSummary struct {
	Session
	HasAnalysis bool
}

type Answer struct {
	SessionID      string
	QuestionNumber int
	AnswerText     string
	UpdatedAt      time.Time
}

type Analysis struct {
	ID                  string
	SessionID           string
	VisionInspirational string
	VisionMeasurable    string
	Meta                AnalysisMeta
	CreatedAt           time.Time
}

// Variations holds the alternative phrasings returned by a more_options
// rewrite.
type Variations struct {
	Inspirational []string `json:"inspirational"`
	Measurable    []string `json:"measurable"`
}

// VersionEntry is one element of the append-only version history. The first
// entry of any analysis is always type "original".
type VersionEntry struct {
	Type                string      `json:"type"`
	Timestamp           time.Time   `json:"timestamp"`
	VisionInspirational string      `json:"vision_inspirational"`
	VisionMeasurable    string      `json:"vision_measurable"`
	Variations          *Variations `json:"variations,omitempty"`
	ProcessingTimeMS    int64       `json:"processing_time_ms,omitempty"`
}

// AnalysisMeta is the canonical shape of the analyses.meta column. Optional
// generator fields are normalized to this one schema when rows are read, so
// callers never branch on shape.
type AnalysisMeta struct {
	Keywords         []string       `json:"keywords"`
	Insights         []string       `json:"insights"`
	Notes            string         `json:"notes"`
	ProcessingTimeMS int64          `json:"processing_time_ms,omitempty"`
	VersionHistory   []VersionEntry `json:"version_history"`
}

// normalizeMeta decodes a raw meta payload into the canonical schema,
// defaulting absent fields. Older rows stored notes as a list; the first
// element wins.
func normalizeMeta(raw []byte) (AnalysisMeta, error) {
	meta := AnalysisMeta{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &meta); err != nil {
			// Legacy shape: notes was a string array.
			var legacy struct {
				Keywords         []string       `json:"keywords"`
				Insights         []string       `json:"insights"`
				Notes            []string       `json:"notes"`
				ProcessingTimeMS int64          `json:"processing_time_ms"`
				VersionHistory   []VersionEntry `json:"version_history"`
			}
			if legacyErr := json.Unmarshal(raw, &legacy); legacyErr != nil {
				return AnalysisMeta{}, err
			}
			meta.Keywords = legacy.Keywords
			meta.Insights = legacy.Insights
			if len(legacy.Notes) > 0 {
				meta.Notes = legacy.Notes[0]
			}
			meta.ProcessingTimeMS = legacy.ProcessingTimeMS
			meta.VersionHistory = legacy.VersionHistory
		}
	}
	if meta.Keywords == nil {
		meta.Keywords = []string{}
	}
	if meta.Insights == nil {
		meta.Insights = []string{}
	}
	if meta.VersionHistory == nil {
		meta.VersionHistory = []VersionEntry{}
	}
	return meta, nil
}
