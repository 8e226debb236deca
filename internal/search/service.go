package search

import (
	"context"

	"go.uber.org/zap"

	"orderdesk/api/internal/store"
)

const (
	BackendMeili = "meilisearch"
	BackendPgFTS = "pgfts"
)

// RecordLoader yields every organization for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]Record, error)
}

// Service tries the primary backend first and falls back to the Postgres
// searcher.
type Service struct {
	primary  Backend
	fallback Searcher
	loader   RecordLoader
	logger   *zap.Logger
	// async runs index writes; replaced in tests.
	async func(func())
}

// NewService creates a directory service. primary may be nil when
// Meilisearch is not configured.
func NewService(primary Backend, fallback *PgFTS, logger *zap.Logger) *Service {
	var fb Searcher
	if fallback != nil {
		fb = fallback
	}
	s := newService(primary, fb, logger)
	if fallback != nil {
		s.loader = fallback
	}
	return s
}

func newService(primary Backend, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		primary:  primary,
		fallback: fallback,
		logger:   logger.Named("search"),
		async:    func(fn func()) { go fn() },
	}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q = q.normalized()
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: BackendMeili}
		}
		s.logger.Warn("meilisearch failed, falling back to pgfts", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: BackendPgFTS}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts search failed", zap.String("query", q.Text), zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Backend: BackendPgFTS}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: BackendPgFTS}
}

// IndexOrganization pushes org to the primary index without blocking the
// caller.
func (s *Service) IndexOrganization(org store.Organization) {
	if s == nil || s.primary == nil || !s.primary.Healthy() {
		return
	}
	record := RecordFromOrganization(org)
	s.async(func() {
		if err := s.primary.IndexOrganizations([]Record{record}); err != nil {
			s.logger.Warn("index organization", zap.Int64("organization_id", record.ID), zap.Error(err))
		}
	})
}

func (s *Service) DeleteOrganization(id int64) {
	if s == nil || s.primary == nil || !s.primary.Healthy() {
		return
	}
	s.async(func() {
		if err := s.primary.DeleteOrganization(id); err != nil {
			s.logger.Warn("delete organization from index", zap.Int64("organization_id", id), zap.Error(err))
		}
	})
}

// ReindexAll reads every organization from Postgres and pushes it to the
// primary index. Called at startup.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if s.primary == nil || !s.primary.Healthy() || s.loader == nil {
		return 0, nil
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.primary.IndexOrganizations(records); err != nil {
		return 0, err
	}
	s.logger.Info("organization index rebuilt", zap.Int("organizations", len(records)))
	return len(records), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
