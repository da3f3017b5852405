package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/seopulse/gateway/app/config"
	"github.com/seopulse/gateway/app/database"
	"github.com/seopulse/gateway/app/provider"
	slogctx "github.com/veqryn/slog-context"
)

// Provider is the slice of the upstream client the engine depends on, so
// tests can substitute a stub.
type Provider interface {
	KeywordIdeas(ctx context.Context, keywords []string, locationCode int, languageCode string, limit int) (*provider.IdeasResponse, error)
	SerpRegular(ctx context.Context, keywords []string, locationCode int, languageCode string) (*provider.SerpResponse, error)
}

// Engine decides per keyword whether a cached answer is fresh enough, batches
// the misses into one provider call, writes the response back to the store
// and assembles one entry per requested keyword.
type Engine struct {
	db       database.Database
	provider Provider
	now      func() time.Time

	cacheMaxAge time.Duration
	ideasLimit  int
	serpFanout  int
}

func New(db database.Database, client Provider, config *config.Config) *Engine {
	return &Engine{
		db:          db,
		provider:    client,
		now:         time.Now,
		cacheMaxAge: time.Duration(config.Engine.CacheMaxAgeHours) * time.Hour,
		ideasLimit:  config.Engine.IdeasLimit,
		serpFanout:  config.Engine.SerpFanout,
	}
}

// RelatedEntry is the outward-facing outcome for one requested keyword on the
// related-keywords path.
type RelatedEntry struct {
	Keyword string `json:"keyword"`
	// The requested keyword's own profile, linking to the related set.
	Related *database.KeywordProfile `json:"related"`
	// Profiles of the related keywords themselves.
	Keywords []database.KeywordProfile `json:"keywords"`
	Error    string                    `json:"error,omitempty"`
}

// SerpEntry is the outward-facing outcome for one requested keyword on the
// SERP path.
type SerpEntry struct {
	Keyword string            `json:"keyword"`
	Serp    *SerpView         `json:"serp"`
	Results []database.Result `json:"results"`
	Error   string            `json:"error,omitempty"`
}

// SerpView mirrors database.Serp but carries seResultsCount as a string, so
// very large counts survive JSON round trips without losing precision.
type SerpView struct {
	ID             string   `json:"id"`
	TaskID         string   `json:"taskId"`
	KeywordID      string   `json:"keywordId"`
	Type           string   `json:"type"`
	SeDomain       string   `json:"seDomain"`
	LocationCode   int      `json:"locationCode"`
	LanguageCode   string   `json:"languageCode"`
	CheckURL       string   `json:"checkUrl"`
	FetchedAt      string   `json:"fetchTimestampFromApi"`
	ItemTypes      []string `json:"itemTypes"`
	SeResultsCount *string  `json:"seResultsCount"`
	ItemsCount     *int64   `json:"itemsCount"`
	CreatedAt      string   `json:"createdAt"`
}

func newSerpView(serp *database.Serp) *SerpView {
	if serp == nil {
		return nil
	}

	view := &SerpView{
		ID:           serp.ID,
		TaskID:       serp.TaskID,
		KeywordID:    serp.KeywordID,
		Type:         serp.Type,
		SeDomain:     serp.SeDomain,
		LocationCode: serp.LocationCode,
		LanguageCode: serp.LanguageCode,
		CheckURL:     serp.CheckURL,
		FetchedAt:    serp.FetchedAt,
		ItemTypes:    serp.ItemTypes,
		ItemsCount:   serp.ItemsCount,
		CreatedAt:    serp.CreatedAt,
	}

	if serp.SeResultsCount != nil {
		count := strconv.FormatInt(*serp.SeResultsCount, 10)
		view.SeResultsCount = &count
	}
	return view
}

// UniqueKeywords trims the requested keywords and removes case-insensitive
// duplicates, keeping the first spelling seen. Blank entries are dropped.
func UniqueKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	unique := make([]string, 0, len(keywords))

	for _, keyword := range keywords {
		trimmed := strings.TrimSpace(keyword)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, trimmed)
	}
	return unique
}

// The error string clients see when no provider credential is configured.
const configurationErrorMessage = "Server configuration error."

func fetchErrorMessage(ctx context.Context, err error) string {
	if errors.Is(err, provider.ErrMissingCredentials) {
		slogctx.Error(ctx, "Provider credential is not configured; skipping live fetch")
		return configurationErrorMessage
	}
	return err.Error()
}
