// Package search provides full-text search over document nodes.
// Meilisearch is the primary engine with Postgres FTS as fallback.
package search

import (
	"context"
	"fmt"
	"log"
)

// Service routes searches to Meilisearch when healthy and falls back to
// Postgres FTS otherwise. Index writes are fire-and-forget.
type Service struct {
	meili *Meili
	pg    *PgFTS
}

// NewService creates the search facade. meili may be nil when no
// Meilisearch instance is configured; all traffic then goes to Postgres.
func NewService(meili *Meili, pg *PgFTS) *Service {
	return &Service{meili: meili, pg: pg}
}

// Search executes the query against the healthiest backend.
func (s *Service) Search(q Query) ([]Result, int, error) {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return results, total, nil
		}
		log.Printf("search: meilisearch failed, falling back to postgres: %v", err)
	}
	return s.pg.Search(q)
}

// IndexNode pushes a document node to the index in the background.
// Postgres FTS reads live rows, so only Meilisearch needs the feed.
func (s *Service) IndexNode(record NodeRecord) {
	if s.meili == nil {
		return
	}
	go func() {
		if err := s.meili.IndexNode(record); err != nil {
			log.Printf("search: index node %s: %v", record.ID, err)
		}
	}()
}

// IndexNodes pushes a batch of document nodes to the index in the
// background, as one bulk write.
func (s *Service) IndexNodes(records []NodeRecord) {
	if s.meili == nil || len(records) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexNodes(records); err != nil {
			log.Printf("search: index %d nodes: %v", len(records), err)
		}
	}()
}

// DeleteNodes removes nodes from the index in the background.
func (s *Service) DeleteNodes(ids []string) {
	if s.meili == nil || len(ids) == 0 {
		return
	}
	go func() {
		for _, id := range ids {
			if err := s.meili.DeleteNode(id); err != nil {
				log.Printf("search: delete node %s from index: %v", id, err)
			}
		}
	}()
}

// Reindex rebuilds the Meilisearch index from Postgres.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.meili == nil {
		return 0, fmt.Errorf("meilisearch not configured")
	}
	records, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.meili.IndexNodes(records); err != nil {
		return 0, fmt.Errorf("bulk index: %w", err)
	}
	return len(records), nil
}

// Status reports backend health for the readiness endpoint.
func (s *Service) Status() map[string]string {
	status := map[string]string{"postgres_fts": "ok"}
	if !s.pg.Healthy() {
		status["postgres_fts"] = "unreachable"
	}
	if s.meili == nil {
		status["meilisearch"] = "not configured"
	} else if s.meili.Healthy() {
		status["meilisearch"] = "ok"
	} else {
		status["meilisearch"] = "unreachable"
	}
	return status
}

// Close releases backend resources.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}
