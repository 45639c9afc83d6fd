package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexFeature indexes a feature (fire-and-forget to Meilisearch).
func (s *Service) IndexFeature(f FeatureRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexFeature(f); err != nil {
			log.Printf("search: index feature %s: %v", f.ID, err)
		}
	}()
}

// IndexPlanning indexes a planning (fire-and-forget to Meilisearch).
func (s *Service) IndexPlanning(p PlanningRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPlanning(p); err != nil {
			log.Printf("search: index planning %s: %v", p.ID, err)
		}
	}()
}

// DeleteFeature removes a feature from the search index (fire-and-forget).
func (s *Service) DeleteFeature(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteFeature(id); err != nil {
			log.Printf("search: delete feature %s: %v", id, err)
		}
	}()
}

// DeletePlanning removes a planning from the search index (fire-and-forget).
func (s *Service) DeletePlanning(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeletePlanning(id); err != nil {
			log.Printf("search: delete planning %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	features, plannings, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexFeatures(features); err != nil {
		log.Printf("search: reindex features: %v", err)
	}
	if err := s.meili.IndexPlannings(plannings); err != nil {
		log.Printf("search: reindex plannings: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
