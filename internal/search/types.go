package search

import "time"

// Query is a keyword search over a profile's completed analyses.
type Query struct {
	Text      string
	ProfileID string
	Limit     int
}

// Result is one matching analysis.
type Result struct {
	AnalysisID          string    `json:"analysisId"`
	SessionID           string    `json:"sessionId"`
	ProfileID           string    `json:"profileId"`
	VisionInspirational string    `json:"visionInspirational"`
	VisionMeasurable    string    `json:"visionMeasurable"`
	Keywords            []string  `json:"keywords"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Response wraps results with the echo of the query text.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// AnalysisRecord is the indexable projection of an analysis row.
type AnalysisRecord struct {
	ID                  string    `json:"id"`
	SessionID           string    `json:"sessionId"`
	ProfileID           string    `json:"profileId"`
	VisionInspirational string    `json:"visionInspirational"`
	VisionMeasurable    string    `json:"visionMeasurable"`
	Keywords            []string  `json:"keywords"`
	Notes               string    `json:"notes"`
	CreatedAt           time.Time `json:"createdAt"`
}
