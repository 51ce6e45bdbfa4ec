package vision

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"northstar/api/internal/genai"
	"northstar/api/internal/store"
)

// RewriteMode selects how an existing vision pair is rewritten.
type RewriteMode string

const (
	ModeShorter     RewriteMode = "shorter"
	ModeMoreOptions RewriteMode = "more_options"
	ModeShorterTerm RewriteMode = "shorter_term"
)

// EntryOriginal is the version-history type of the seed entry every analysis
// starts with.
const EntryOriginal = "original"

// ParseMode validates a wire-level mode string.
func ParseMode(raw string) (RewriteMode, error) {
	switch RewriteMode(raw) {
	case ModeShorter, ModeMoreOptions, ModeShorterTerm:
		return RewriteMode(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
}

// generated is the structured payload extracted from completion text. Both
// vision fields are required; the rest default when absent.
type generated struct {
	VisionInspirational string            `json:"vision_inspirational"`
	VisionMeasurable    string            `json:"vision_measurable"`
	Keywords            []string          `json:"keywords"`
	Insights            []string          `json:"insights"`
	Notes               string            `json:"notes"`
	Variations          *store.Variations `json:"variations"`
}

func parsePayload(text string) (generated, error) {
	span, err := genai.ExtractPayload(text)
	if err != nil {
		return generated{}, err
	}
	var result generated
	if err := json.Unmarshal([]byte(span), &result); err != nil {
		return generated{}, fmt.Errorf("decode payload: %w", err)
	}
	if strings.TrimSpace(result.VisionInspirational) == "" {
		return generated{}, fmt.Errorf("payload missing vision_inspirational")
	}
	if strings.TrimSpace(result.VisionMeasurable) == "" {
		return generated{}, fmt.Errorf("payload missing vision_measurable")
	}
	if result.Keywords == nil {
		result.Keywords = []string{}
	}
	if result.Insights == nil {
		result.Insights = []string{}
	}
	return result, nil
}

// checkVisionShape logs advisory warnings for statements outside the 8-14
// word, 2-line envelope. Violations never reject a generation.
func checkVisionShape(vision, label string) {
	words := len(strings.Fields(vision))
	if words < 8 || words > 14 {
		log.Printf("vision: %s has %d words (ideal: 8-14)", label, words)
	}
	if lines := strings.Count(vision, "\n") + 1; lines > 2 {
		log.Printf("vision: %s has %d lines (max: 2)", label, lines)
	}
}
