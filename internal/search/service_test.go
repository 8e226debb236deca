package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/require"

	"orderdesk/api/internal/store"
)

type fakeBackend struct {
	healthy bool
	results []Result
	err     error
	queries []Query
	indexed []Record
	deleted []int64
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) Search(_ context.Context, q Query) ([]Result, int, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeBackend) IndexOrganizations(records []Record) error {
	f.indexed = append(f.indexed, records...)
	return nil
}

func (f *fakeBackend) DeleteOrganization(id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeLoader struct{ records []Record }

func (f fakeLoader) LoadAllRecords(context.Context) ([]Record, error) { return f.records, nil }

func syncService(primary Backend, fallback Searcher) *Service {
	s := newService(primary, fallback, nil)
	s.async = func(fn func()) { fn() }
	return s
}

func TestSearchPrefersHealthyPrimary(t *testing.T) {
	primary := &fakeBackend{healthy: true, results: []Result{{ID: 1, Name: "Acme"}}}
	fallback := &fakeBackend{healthy: true}
	svc := syncService(primary, fallback)

	resp := svc.Search(context.Background(), Query{Text: "acme"})
	require.Equal(t, BackendMeili, resp.Backend)
	require.Equal(t, 1, resp.Total)
	require.Len(t, primary.queries, 1)
	require.Equal(t, defaultLimit, primary.queries[0].Limit)
	require.Empty(t, fallback.queries)
}

func TestSearchFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeBackend{healthy: true, err: errors.New("connection refused")}
	fallback := &fakeBackend{healthy: true, results: []Result{{ID: 7, Name: "Acme"}}}
	svc := syncService(primary, fallback)

	resp := svc.Search(context.Background(), Query{Text: "acme", Limit: 1000})
	require.Equal(t, BackendPgFTS, resp.Backend)
	require.Equal(t, []Result{{ID: 7, Name: "Acme"}}, resp.Results)
	require.Equal(t, maxLimit, fallback.queries[0].Limit)
}

func TestSearchSkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakeBackend{healthy: false}
	fallback := &fakeBackend{healthy: true}
	svc := syncService(primary, fallback)

	resp := svc.Search(context.Background(), Query{Text: "acme"})
	require.Empty(t, primary.queries)
	require.NotNil(t, resp.Results)
	require.Empty(t, resp.Results)
}

func TestSearchFallbackErrorYieldsEmptyResults(t *testing.T) {
	svc := syncService(nil, &fakeBackend{err: errors.New("boom")})
	resp := svc.Search(context.Background(), Query{Text: "acme"})
	require.Equal(t, 0, resp.Total)
	require.NotNil(t, resp.Results)
}

func TestIndexOrganizationWritesToPrimary(t *testing.T) {
	primary := &fakeBackend{healthy: true}
	svc := syncService(primary, nil)

	svc.IndexOrganization(store.Organization{ID: 42, Name: "Acme", Slug: "acme"})
	svc.DeleteOrganization(9)
	require.Equal(t, []Record{{ID: 42, Name: "Acme", Slug: "acme"}}, primary.indexed)
	require.Equal(t, []int64{9}, primary.deleted)

	var nilSvc *Service
	nilSvc.IndexOrganization(store.Organization{ID: 1})
}

func TestReindexAll(t *testing.T) {
	primary := &fakeBackend{healthy: true}
	svc := syncService(primary, nil)
	svc.loader = fakeLoader{records: []Record{{ID: 1}, {ID: 2}}}

	n, err := svc.ReindexAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, primary.indexed, 2)

	primary.healthy = false
	n, err = svc.ReindexAll(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPrefixQuery(t *testing.T) {
	cases := map[string]string{
		"":                  "",
		"acme":              "acme:*",
		"  Acme  Logística": "acme:* & logística:*",
		"a & b | !c":        "a:* & b:* & c:*",
		"x':*y":             "x:* & y:*",
	}
	for in, want := range cases {
		require.Equal(t, want, prefixQuery(in), in)
	}
}

func TestHitToResult(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}
	hit := meili.Hit{
		"id":          raw(42),
		"name":        raw("Acme"),
		"slug":        raw("acme"),
		"description": raw("Deliveries"),
		"_formatted":  raw(map[string]string{"name": "<mark>Acme</mark>", "description": "  "}),
	}
	require.Equal(t, Result{
		ID:          42,
		Name:        "Acme",
		Slug:        "acme",
		Description: "Deliveries",
		Snippet:     "<mark>Acme</mark>",
	}, hitToResult(hit))

	require.Equal(t, int64(7), decodeInt64(meili.Hit{"id": raw("7")}, "id"))
	require.Zero(t, decodeInt64(meili.Hit{}, "id"))
}
