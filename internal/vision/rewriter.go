package vision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"northstar/api/internal/genai"
	"northstar/api/internal/store"
)

type rewriteStore interface {
	LatestAnalysisBySession(ctx context.Context, sessionID string) (store.Analysis, error)
	UpdateAnalysis(ctx context.Context, analysisID, visionInspirational, visionMeasurable string, meta store.AnalysisMeta) error
}

// Rewriter produces alternate phrasings of an existing analysis. Unlike the
// analyzer there is no retry: a failed call surfaces immediately and the
// version history is untouched.
type Rewriter struct {
	store   rewriteStore
	client  genai.Client
	timeout time.Duration
}

func NewRewriter(rewriteStore rewriteStore, client genai.Client, timeout time.Duration) *Rewriter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Rewriter{store: rewriteStore, client: client, timeout: timeout}
}

// Rewrite generates one new version of the session's latest analysis and
// appends it to the version history. The history is append-only: existing
// entries are never edited, removed or reordered. The analysis row's
// top-level visions are refreshed to mirror the newest entry for
// convenience, but the history remains the source of truth.
func (r *Rewriter) Rewrite(ctx context.Context, sessionID string, mode RewriteMode) (store.VersionEntry, error) {
	analysis, err := r.store.LatestAnalysisBySession(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.VersionEntry{}, ErrNoAnalysis
	}
	if err != nil {
		return store.VersionEntry{}, fmt.Errorf("load analysis: %w", err)
	}

	req, err := buildRewriteRequest(mode, analysis)
	if err != nil {
		return store.VersionEntry{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	text, err := r.client.Complete(callCtx, req)
	if err != nil {
		return store.VersionEntry{}, fmt.Errorf("rewrite %s: %w", mode, err)
	}

	result, err := parsePayload(text)
	if err != nil {
		return store.VersionEntry{}, fmt.Errorf("rewrite %s: %w", mode, err)
	}

	checkVisionShape(result.VisionInspirational, "inspirational vision")
	checkVisionShape(result.VisionMeasurable, "measurable vision")

	entry := store.VersionEntry{
		Type:                string(mode),
		Timestamp:           time.Now().UTC(),
		VisionInspirational: result.VisionInspirational,
		VisionMeasurable:    result.VisionMeasurable,
		ProcessingTimeMS:    time.Since(started).Milliseconds(),
	}
	if mode == ModeMoreOptions && result.Variations != nil {
		entry.Variations = result.Variations
	}

	meta := analysis.Meta
	meta.VersionHistory = append(meta.VersionHistory, entry)

	if err := r.store.UpdateAnalysis(ctx, analysis.ID, entry.VisionInspirational, entry.VisionMeasurable, meta); err != nil {
		return store.VersionEntry{}, fmt.Errorf("persist rewrite: %w", err)
	}

	log.Printf("vision: rewrite session=%s mode=%s completed in %dms", sessionID, mode, entry.ProcessingTimeMS)
	return entry, nil
}

// Latest returns the last entry of a history, the authoritative current
// version.
func Latest(history []store.VersionEntry) (store.VersionEntry, bool) {
	if len(history) == 0 {
		return store.VersionEntry{}, false
	}
	return history[len(history)-1], true
}
