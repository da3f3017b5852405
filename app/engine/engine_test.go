package engine

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/seopulse/gateway/app/config"
	"github.com/seopulse/gateway/app/database"
	"github.com/seopulse/gateway/app/provider"
)

type stubProvider struct {
	ideas      *provider.IdeasResponse
	ideasErr   error
	ideasCalls int
	ideasSeen  []string

	serp      *provider.SerpResponse
	serpErr   error
	serpCalls int
	serpSeen  []string
}

func (s *stubProvider) KeywordIdeas(ctx context.Context, keywords []string, locationCode int, languageCode string, limit int) (*provider.IdeasResponse, error) {
	s.ideasCalls++
	s.ideasSeen = keywords
	return s.ideas, s.ideasErr
}

func (s *stubProvider) SerpRegular(ctx context.Context, keywords []string, locationCode int, languageCode string) (*provider.SerpResponse, error) {
	s.serpCalls++
	s.serpSeen = keywords
	return s.serp, s.serpErr
}

func newTestEngine(t *testing.T, stub Provider) (*Engine, database.Database) {
	t.Helper()

	db, err := database.SQLiteFromFile(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Setup(); err != nil {
		t.Fatalf("failed to set up database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Engine.CacheMaxAgeHours = 24
	cfg.Engine.IdeasLimit = 10
	cfg.Engine.SerpFanout = 4

	return New(db, stub, cfg), db
}

func ideaItem(keyword string) provider.IdeaItem {
	volume := int64(1000)
	return provider.IdeaItem{
		Keyword:      keyword,
		LocationCode: 2826,
		LanguageCode: "en",
		KeywordInfo:  &provider.KeywordInfo{SearchVolume: &volume},
	}
}

func ideasResponse(items ...provider.IdeaItem) *provider.IdeasResponse {
	return &provider.IdeasResponse{
		StatusCode: provider.StatusSuccess,
		TasksCount: 1,
		Tasks: []provider.IdeasTask{{
			TaskInfo: provider.TaskInfo{
				ID:            "ideas-task-1",
				StatusCode:    provider.StatusSuccess,
				StatusMessage: "Ok.",
				Data:          provider.TaskData{LocationCode: 2826, LanguageCode: "en"},
			},
			Result: []provider.IdeasResult{{
				SeType:       "google",
				LocationCode: 2826,
				LanguageCode: "en",
				TotalCount:   int64(len(items)),
				ItemsCount:   int64(len(items)),
				Items:        items,
			}},
		}},
	}
}

func serpTask(id string, keyword string, positions ...int) provider.SerpTask {
	title := "Example result"
	snippet := "A snippet."

	items := make([]provider.SerpItem, 0, len(positions)+1)
	for _, position := range positions {
		items = append(items, provider.SerpItem{
			Type:         "organic",
			RankAbsolute: position,
			URL:          "https://example.com/page",
			Title:        &title,
			Description:  &snippet,
		})
	}
	// Non-organic items must never be stored.
	items = append(items, provider.SerpItem{Type: "people_also_ask", RankAbsolute: 99, URL: ""})

	return provider.SerpTask{
		TaskInfo: provider.TaskInfo{
			ID:            id,
			StatusCode:    provider.StatusSuccess,
			StatusMessage: "Ok.",
			Data: provider.TaskData{
				Keyword: keyword, Tag: keyword,
				LocationCode: 2826, LanguageCode: "en",
				Device: "desktop", OS: "windows", Depth: 100,
			},
		},
		Result: []provider.SerpResult{{
			Type:           "organic",
			SeDomain:       "google.co.uk",
			LocationCode:   2826,
			LanguageCode:   "en",
			CheckURL:       "https://www.google.co.uk/search?q=" + keyword,
			Datetime:       "2026-08-30 12:00:00 +00:00",
			ItemTypes:      []string{"organic", "people_also_ask"},
			SeResultsCount: 1230000000,
			ItemsCount:     int64(len(positions)),
			Items:          items,
		}},
	}
}

func failedSerpTask(id string, keyword string) provider.SerpTask {
	return provider.SerpTask{
		TaskInfo: provider.TaskInfo{
			ID:            id,
			StatusCode:    40501,
			StatusMessage: "Invalid Field.",
			Data:          provider.TaskData{Keyword: keyword, Tag: keyword},
		},
	}
}

func TestUniqueKeywords(t *testing.T) {
	got := UniqueKeywords([]string{" SEO Tools ", "seo tools", "", "  ", "keyword research"})
	want := []string{"SEO Tools", "keyword research"}

	if !reflect.DeepEqual(want, got) {
		t.Fatalf("wanted %v, got %v", want, got)
	}
}

func TestRelatedKeywordsFetchThenCacheHit(t *testing.T) {
	stub := &stubProvider{ideas: ideasResponse(ideaItem("best seo tools"), ideaItem("free seo tools"))}
	eng, _ := newTestEngine(t, stub)
	ctx := context.Background()

	entries := eng.RelatedKeywords(ctx, []string{"seo tools"}, 2826, "en")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %v", len(entries))
	}
	if entries[0].Error != "" {
		t.Fatalf("unexpected error: %v", entries[0].Error)
	}
	if entries[0].Related == nil || len(entries[0].Related.RelatedKeywordIDs) != 2 {
		t.Fatalf("expected a seed profile linking 2 related keywords, got %+v", entries[0].Related)
	}
	if len(entries[0].Keywords) != 2 {
		t.Fatalf("expected 2 related profiles, got %v", len(entries[0].Keywords))
	}
	for _, profile := range entries[0].Keywords {
		if profile.KeywordText == "" {
			t.Fatalf("expected related profiles to carry keyword text, got %+v", profile)
		}
	}

	// The second request must be answered from the cache.
	cached := eng.RelatedKeywords(ctx, []string{"seo tools"}, 2826, "en")
	if stub.ideasCalls != 1 {
		t.Fatalf("expected a single provider call, got %v", stub.ideasCalls)
	}
	if len(cached) != 1 || cached[0].Error != "" || cached[0].Related == nil {
		t.Fatalf("expected a clean cache hit, got %+v", cached)
	}
}

func TestRelatedKeywordsEmptyRelatedSetIsAMiss(t *testing.T) {
	stub := &stubProvider{ideas: ideasResponse(ideaItem("best seo tools"))}
	eng, db := newTestEngine(t, stub)
	ctx := context.Background()

	// A fresh profile whose related set is empty cannot answer the query.
	seed, err := db.InsertKeyword(ctx, "seo tools")
	if err != nil {
		t.Fatalf("failed to insert keyword: %v", err)
	}
	if _, err := db.SetProfileRelated(ctx, seed.ID, 2826, "en", []string{}); err != nil {
		t.Fatalf("failed to create profile: %v", err)
	}

	entries := eng.RelatedKeywords(ctx, []string{"seo tools"}, 2826, "en")
	if stub.ideasCalls != 1 {
		t.Fatalf("expected a live fetch for an empty related set, got %v calls", stub.ideasCalls)
	}
	if len(entries) != 1 || entries[0].Error != "" {
		t.Fatalf("expected a clean entry after the fetch, got %+v", entries)
	}
}

func TestRelatedKeywordsDeduplicatesRequest(t *testing.T) {
	stub := &stubProvider{ideas: ideasResponse(ideaItem("best seo tools"))}
	eng, _ := newTestEngine(t, stub)

	entries := eng.RelatedKeywords(context.Background(), []string{"SEO Tools", " seo tools "}, 2826, "en")

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry for duplicate spellings, got %v", len(entries))
	}
	if len(stub.ideasSeen) != 1 {
		t.Fatalf("expected 1 keyword sent upstream, got %v", stub.ideasSeen)
	}
}

func TestRelatedKeywordsProviderErrorFillsEveryEntry(t *testing.T) {
	stub := &stubProvider{ideasErr: errors.New("connection refused")}
	eng, _ := newTestEngine(t, stub)

	entries := eng.RelatedKeywords(context.Background(), []string{"a", "b"}, 2826, "en")

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %v", len(entries))
	}
	for _, entry := range entries {
		if entry.Error != "connection refused" {
			t.Fatalf("expected the provider error on every entry, got %+v", entry)
		}
		if entry.Keywords == nil || entry.Related != nil {
			t.Fatalf("expected an empty error entry, got %+v", entry)
		}
	}
}

func TestRelatedKeywordsMissingCredentialMessage(t *testing.T) {
	stub := &stubProvider{ideasErr: provider.ErrMissingCredentials}
	eng, _ := newTestEngine(t, stub)

	entries := eng.RelatedKeywords(context.Background(), []string{"seo tools"}, 2826, "en")

	if len(entries) != 1 || entries[0].Error != "Server configuration error." {
		t.Fatalf("expected the configuration error message, got %+v", entries)
	}
}

func TestSerpPartialFailure(t *testing.T) {
	stub := &stubProvider{serp: &provider.SerpResponse{
		StatusCode: provider.StatusSuccess,
		TasksCount: 3,
		TasksError: 1,
		Tasks: []provider.SerpTask{
			serpTask("serp-task-1", "alpha", 1, 2),
			failedSerpTask("serp-task-2", "beta"),
			serpTask("serp-task-3", "gamma", 1),
		},
	}}
	eng, _ := newTestEngine(t, stub)

	entries := eng.Serp(context.Background(), []string{"alpha", "beta", "gamma"}, 2826, "en")

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %v", len(entries))
	}

	byKeyword := make(map[string]SerpEntry, len(entries))
	for _, entry := range entries {
		byKeyword[entry.Keyword] = entry
	}

	for _, keyword := range []string{"alpha", "gamma"} {
		entry, ok := byKeyword[keyword]
		if !ok {
			t.Fatalf("missing entry for %q: %+v", keyword, entries)
		}
		if entry.Error != "" || entry.Serp == nil {
			t.Fatalf("expected a successful entry for %q, got %+v", keyword, entry)
		}
		if len(entry.Results) == 0 {
			t.Fatalf("expected stored results for %q, got %+v", keyword, entry)
		}
		for _, result := range entry.Results {
			if result.Type != "organic" {
				t.Fatalf("expected only organic results to be stored, got %+v", result)
			}
		}
	}

	failed, ok := byKeyword["beta"]
	if !ok {
		t.Fatalf("missing entry for the failed keyword: %+v", entries)
	}
	if failed.Error == "" || failed.Serp != nil || len(failed.Results) != 0 {
		t.Fatalf("expected an error entry for the failed task, got %+v", failed)
	}
}

func TestSerpCacheHitSkipsProvider(t *testing.T) {
	stub := &stubProvider{serp: &provider.SerpResponse{
		StatusCode: provider.StatusSuccess,
		TasksCount: 1,
		Tasks:      []provider.SerpTask{serpTask("serp-task-1", "seo tools", 1, 2, 3)},
	}}
	eng, _ := newTestEngine(t, stub)
	ctx := context.Background()

	first := eng.Serp(ctx, []string{"seo tools"}, 2826, "en")
	if len(first) != 1 || first[0].Error != "" || first[0].Serp == nil {
		t.Fatalf("expected a successful live fetch, got %+v", first)
	}

	second := eng.Serp(ctx, []string{"seo tools"}, 2826, "en")
	if stub.serpCalls != 1 {
		t.Fatalf("expected the second request to hit the cache, got %v provider calls", stub.serpCalls)
	}
	if len(second) != 1 || second[0].Serp == nil || second[0].Serp.ID != first[0].Serp.ID {
		t.Fatalf("expected the cached SERP row, got %+v", second)
	}
}

func TestSerpViewCarriesResultCountAsString(t *testing.T) {
	stub := &stubProvider{serp: &provider.SerpResponse{
		StatusCode: provider.StatusSuccess,
		TasksCount: 1,
		Tasks:      []provider.SerpTask{serpTask("serp-task-1", "seo tools", 1)},
	}}
	eng, _ := newTestEngine(t, stub)

	entries := eng.Serp(context.Background(), []string{"seo tools"}, 2826, "en")

	if len(entries) != 1 || entries[0].Serp == nil {
		t.Fatalf("expected a successful entry, got %+v", entries)
	}
	if entries[0].Serp.SeResultsCount == nil || *entries[0].Serp.SeResultsCount != "1230000000" {
		t.Fatalf("expected seResultsCount as the string \"1230000000\", got %+v", entries[0].Serp.SeResultsCount)
	}
}

func TestSerpProviderErrorFillsEveryEntry(t *testing.T) {
	stub := &stubProvider{serpErr: errors.New("connection refused")}
	eng, _ := newTestEngine(t, stub)

	entries := eng.Serp(context.Background(), []string{"a", "b"}, 2826, "en")

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %v", len(entries))
	}
	for _, entry := range entries {
		if entry.Error != "connection refused" || entry.Serp != nil || len(entry.Results) != 0 {
			t.Fatalf("expected an error entry, got %+v", entry)
		}
	}
}
