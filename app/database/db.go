package database

import (
	"context"
	"time"
)

type Database interface {
	// Create necessary tables
	Setup() error
	Close() error

	// Insert a keyword, or return the existing row if the (lowercased) text is already known.
	InsertKeyword(ctx context.Context, text string) (*Keyword, error)
	// Look up a keyword by its (lowercased) text. Returns nil when not found.
	FindKeywordByText(ctx context.Context, text string) (*Keyword, error)

	// Find the profile for (keyword, location, language) updated at or after `cutoff`.
	// Returns nil when no profile is recent enough.
	FindRecentProfile(ctx context.Context, keywordID string, locationCode int, languageCode string, cutoff time.Time) (*KeywordProfile, error)
	// Load profiles for the given keyword IDs at one location/language, including keyword text.
	FindProfilesByKeywordIDs(ctx context.Context, keywordIDs []string, locationCode int, languageCode string) ([]KeywordProfile, error)
	// Insert or update the metric columns of a profile. The related-keyword list is left untouched.
	UpsertProfileMetrics(ctx context.Context, metrics ProfileMetrics) (*KeywordProfile, error)
	// Insert or update a profile, replacing its related-keyword list wholesale.
	SetProfileRelated(ctx context.Context, keywordID string, locationCode int, languageCode string, relatedIDs []string) (*KeywordProfile, error)

	// Record one upstream HTTP call. Returns the generated job ID.
	InsertJob(ctx context.Context, job Job) (string, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string) error

	// Record one provider-side task. The task ID is the provider's ID, so
	// replaying the same task is a no-op rather than a new row.
	InsertTask(ctx context.Context, task Task) error

	// Insert a SERP row (one per task) and return the stored row.
	InsertSerp(ctx context.Context, serp Serp) (*Serp, error)
	FindSerpByID(ctx context.Context, id string) (*Serp, error)
	// Find the newest SERP for a keyword created at or after `cutoff`. Returns nil when none exists.
	FindRecentSerpByKeywordID(ctx context.Context, keywordID string, cutoff time.Time) (*Serp, error)

	// Bulk-insert organic result rows. Duplicate (serpId, position) pairs are
	// silently dropped; returns the number of rows actually stored.
	InsertResults(ctx context.Context, serpID string, rows []ResultRow) (int64, error)
	FindResultsBySerpID(ctx context.Context, serpID string) ([]Result, error)

	// Record metadata about one related-keywords batch.
	InsertRelatedResult(ctx context.Context, related RelatedResult) error

	// Delete audit rows (results, serps, related results, tasks, jobs) older
	// than `age`. Keywords and profiles are the cache itself and are kept.
	PruneOlderThan(ctx context.Context, age time.Duration) error
}

type Keyword struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

type KeywordProfile struct {
	ID           string `json:"id"`
	KeywordID    string `json:"keywordId"`
	KeywordText  string `json:"keywordText,omitempty"`
	LocationCode int    `json:"locationCode"`
	LanguageCode string `json:"languageCode"`

	KiLastCheck        *string  `json:"kiLastCheck,omitempty"`
	KiCompetition      *float64 `json:"kiCompetition"`
	KiCompetitionLevel *string  `json:"kiCompetitionLevel"`
	KiCpc              *float64 `json:"kiCpc"`
	KiSearchVolume     *int64   `json:"kiSearchVolume"`
	KiLowTopOfPageBid  *float64 `json:"kiLowTopOfPageBid"`
	KiHighTopOfPageBid *float64 `json:"kiHighTopOfPageBid"`

	KpKeywordDifficulty *int64  `json:"kpKeywordDifficulty"`
	KpDetectedLanguage  *string `json:"kpDetectedLanguage"`
	KpIsAnotherLanguage *bool   `json:"kpIsAnotherLanguage"`

	AvgBacklinks            *float64 `json:"avgBacklinks"`
	AvgDofollow             *float64 `json:"avgDofollow"`
	AvgReferringPages       *float64 `json:"avgReferringPages"`
	AvgReferringDomains     *float64 `json:"avgReferringDomains"`
	AvgReferringMainDomains *float64 `json:"avgReferringMainDomains"`
	AvgRank                 *float64 `json:"avgRank"`
	AvgMainDomainRank       *float64 `json:"avgMainDomainRank"`

	SiMainIntent *string `json:"siMainIntent"`

	RelatedKeywordIDs []string `json:"relatedKeywordIds"`

	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// ProfileMetrics carries the metric fields of one candidate keyword as
// returned by the provider, addressed by the profile's natural key.
type ProfileMetrics struct {
	KeywordID    string
	LocationCode int
	LanguageCode string

	KiLastCheck        *string
	KiCompetition      *float64
	KiCompetitionLevel *string
	KiCpc              *float64
	KiSearchVolume     *int64
	KiLowTopOfPageBid  *float64
	KiHighTopOfPageBid *float64

	KpKeywordDifficulty *int64
	KpDetectedLanguage  *string
	KpIsAnotherLanguage *bool

	AvgBacklinks            *float64
	AvgDofollow             *float64
	AvgReferringPages       *float64
	AvgReferringDomains     *float64
	AvgReferringMainDomains *float64
	AvgRank                 *float64
	AvgMainDomainRank       *float64

	SiMainIntent *string
}

type Job struct {
	Status        string
	StatusCode    int
	StatusMessage string
	Version       string
	Time          string
	Cost          float64
	TasksCount    int
	TasksError    int
}

type Task struct {
	// The provider's task ID, used verbatim as the primary key.
	ID            string
	JobID         string
	SeedKeywordID *string
	Keyword       string
	StatusCode    int
	StatusMessage string
	Time          string
	Cost          float64
	ResultCount   int
	LocationCode  *int
	LanguageCode  *string
	Device        *string
	OS            *string
	Depth         *int
}

type Serp struct {
	ID           string   `json:"id"`
	TaskID       string   `json:"taskId"`
	KeywordID    string   `json:"keywordId"`
	Type         string   `json:"type"`
	SeDomain     string   `json:"seDomain"`
	LocationCode int      `json:"locationCode"`
	LanguageCode string   `json:"languageCode"`
	CheckURL     string   `json:"checkUrl"`
	FetchedAt    string   `json:"fetchTimestampFromApi"`
	ItemTypes    []string `json:"itemTypes"`
	// The provider reports this as a potentially very large integer.
	SeResultsCount *int64 `json:"seResultsCount"`
	ItemsCount     *int64 `json:"itemsCount"`
	CreatedAt      string `json:"createdAt"`
}

type Result struct {
	ID       string  `json:"id"`
	SerpID   string  `json:"serpId"`
	Position int     `json:"position"`
	URL      string  `json:"url"`
	Type     string  `json:"type"`
	Title    *string `json:"title"`
	Snippet  *string `json:"snippet"`
}

type ResultRow struct {
	Position int
	URL      string
	Type     string
	Title    *string
	Snippet  *string
}

type RelatedResult struct {
	TaskID        string
	SeedKeywordID string
	SeType        *string
	SeedKeywords  []string
	LocationCode  *int
	LanguageCode  *string
	TotalCount    *int64
	ItemsCount    *int64
	Offset        *int64
}
