package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxAnalyses = "northstar_analyses"

// Meili indexes and searches analyses via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the analyses index.
// An unreachable server is tolerated; the health loop will pick it up later
// and the facade falls back to Postgres meanwhile.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxAnalyses,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxAnalyses, err)
	}

	index := m.client.Index(idxAnalyses)
	filterable := []interface{}{"profileId", "sessionId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxAnalyses, err)
	}
	searchable := []string{"visionInspirational", "visionMeasurable", "keywords", "notes"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxAnalyses, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexAnalysis adds or replaces one analysis document.
func (m *Meili) IndexAnalysis(record AnalysisRecord) error {
	if !m.healthy.Load() {
		return fmt.Errorf("meilisearch unhealthy")
	}
	if _, err := m.client.Index(idxAnalyses).AddDocuments([]AnalysisRecord{record}, nil); err != nil {
		return fmt.Errorf("index analysis: %w", err)
	}
	return nil
}

// DeleteSession removes every analysis document belonging to a session.
func (m *Meili) DeleteSession(sessionID string) error {
	if !m.healthy.Load() {
		return fmt.Errorf("meilisearch unhealthy")
	}

	index := m.client.Index(idxAnalyses)
	resp, err := index.Search("", &meili.SearchRequest{
		Limit:  100,
		Filter: fmt.Sprintf("sessionId = %q", sessionID),
	})
	if err != nil {
		return fmt.Errorf("find session documents: %w", err)
	}
	for _, hit := range resp.Hits {
		id := decodeString(hit, "id")
		if id == "" {
			continue
		}
		if _, err := index.DeleteDocument(id, nil); err != nil {
			return fmt.Errorf("delete session document %s: %w", id, err)
		}
	}
	return nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// Search queries the analyses index, filtered to one profile.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	resp, err := m.client.Index(idxAnalyses).Search(q.Text, &meili.SearchRequest{
		Limit:  limit,
		Filter: fmt.Sprintf("profileId = %q", q.ProfileID),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("meilisearch query: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		raw, err := json.Marshal(hit)
		if err != nil {
			continue
		}
		var record AnalysisRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		results = append(results, Result{
			AnalysisID:          record.ID,
			SessionID:           record.SessionID,
			ProfileID:           record.ProfileID,
			VisionInspirational: record.VisionInspirational,
			VisionMeasurable:    record.VisionMeasurable,
			Keywords:            record.Keywords,
			CreatedAt:           record.CreatedAt,
		})
	}
	return results, int(resp.EstimatedTotalHits), nil
}
