package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// StatusSuccess is the provider's status_code sentinel for a successful
// response or task.
const StatusSuccess = 20000

const (
	keywordIdeasPath = "/v3/dataforseo_labs/google/keyword_ideas/live"
	serpRegularPath  = "/v3/serp/google/organic/live/regular"
)

// ErrMissingCredentials is returned before any network call when no provider
// credential is configured.
var ErrMissingCredentials = errors.New("provider credential is not configured")

// ErrNoTasks is returned when the provider's response frame carries no tasks
// at all, which fails the whole batch.
var ErrNoTasks = errors.New("no tasks in provider response")

// Client issues batched live requests to the keyword-research provider.
// Each engine request cycle maps to exactly one POST.
type Client struct {
	baseURL    string
	credential string
	http       *http.Client
}

func New(baseURL string, credential string) *Client {
	return &Client{
		baseURL:    baseURL,
		credential: credential,
		http:       &http.Client{Timeout: 90 * time.Second},
	}
}

type IdeasResponse struct {
	Version       string      `json:"version"`
	StatusCode    int         `json:"status_code"`
	StatusMessage string      `json:"status_message"`
	Time          string      `json:"time"`
	Cost          float64     `json:"cost"`
	TasksCount    int         `json:"tasks_count"`
	TasksError    int         `json:"tasks_error"`
	Tasks         []IdeasTask `json:"tasks"`
}

type SerpResponse struct {
	Version       string     `json:"version"`
	StatusCode    int        `json:"status_code"`
	StatusMessage string     `json:"status_message"`
	Time          string     `json:"time"`
	Cost          float64    `json:"cost"`
	TasksCount    int        `json:"tasks_count"`
	TasksError    int        `json:"tasks_error"`
	Tasks         []SerpTask `json:"tasks"`
}

// TaskInfo is the envelope shared by every provider-side task.
type TaskInfo struct {
	ID            string   `json:"id"`
	StatusCode    int      `json:"status_code"`
	StatusMessage string   `json:"status_message"`
	Time          string   `json:"time"`
	Cost          float64  `json:"cost"`
	ResultCount   int      `json:"result_count"`
	Path          []string `json:"path"`
	Data          TaskData `json:"data"`
}

// TaskData echoes the request parameters for one task. For SERP tasks the
// keyword/tag pair is how a task is correlated back to the request.
type TaskData struct {
	Keyword      string `json:"keyword"`
	Tag          string `json:"tag"`
	Se           string `json:"se"`
	SeType       string `json:"se_type"`
	LocationCode int    `json:"location_code"`
	LanguageCode string `json:"language_code"`
	Device       string `json:"device"`
	OS           string `json:"os"`
	Depth        int    `json:"depth"`
}

type IdeasTask struct {
	TaskInfo
	Result []IdeasResult `json:"result"`
}

type SerpTask struct {
	TaskInfo
	Result []SerpResult `json:"result"`
}

// IdeasResult describes one related-keywords batch: a single result object
// whose items are candidate keywords, not one result per requested keyword.
type IdeasResult struct {
	SeType       string     `json:"se_type"`
	SeedKeywords []string   `json:"seed_keywords"`
	LocationCode int        `json:"location_code"`
	LanguageCode string     `json:"language_code"`
	TotalCount   int64      `json:"total_count"`
	ItemsCount   int64      `json:"items_count"`
	Offset       int64      `json:"offset"`
	Items        []IdeaItem `json:"items"`
}

type IdeaItem struct {
	Keyword          string             `json:"keyword"`
	LocationCode     int                `json:"location_code"`
	LanguageCode     string             `json:"language_code"`
	KeywordInfo      *KeywordInfo       `json:"keyword_info"`
	KeywordProps     *KeywordProperties `json:"keyword_properties"`
	AvgBacklinksInfo *BacklinksInfo     `json:"avg_backlinks_info"`
	SearchIntentInfo *SearchIntentInfo  `json:"search_intent_info"`
}

type KeywordInfo struct {
	LastUpdatedTime  string   `json:"last_updated_time"`
	Competition      *float64 `json:"competition"`
	CompetitionLevel *string  `json:"competition_level"`
	Cpc              *float64 `json:"cpc"`
	SearchVolume     *int64   `json:"search_volume"`
	LowTopOfPageBid  *float64 `json:"low_top_of_page_bid"`
	HighTopOfPageBid *float64 `json:"high_top_of_page_bid"`
}

type KeywordProperties struct {
	KeywordDifficulty *int64  `json:"keyword_difficulty"`
	DetectedLanguage  *string `json:"detected_language"`
	IsAnotherLanguage *bool   `json:"is_another_language"`
}

type BacklinksInfo struct {
	Backlinks            *float64 `json:"backlinks"`
	Dofollow             *float64 `json:"dofollow"`
	ReferringPages       *float64 `json:"referring_pages"`
	ReferringDomains     *float64 `json:"referring_domains"`
	ReferringMainDomains *float64 `json:"referring_main_domains"`
	Rank                 *float64 `json:"rank"`
	MainDomainRank       *float64 `json:"main_domain_rank"`
	LastUpdatedTime      string   `json:"last_updated_time"`
}

type SearchIntentInfo struct {
	MainIntent string `json:"main_intent"`
}

type SerpResult struct {
	Type           string     `json:"type"`
	SeDomain       string     `json:"se_domain"`
	LocationCode   int        `json:"location_code"`
	LanguageCode   string     `json:"language_code"`
	CheckURL       string     `json:"check_url"`
	Datetime       string     `json:"datetime"`
	ItemTypes      []string   `json:"item_types"`
	SeResultsCount int64      `json:"se_results_count"`
	ItemsCount     int64      `json:"items_count"`
	Items          []SerpItem `json:"items"`
}

type SerpItem struct {
	Type         string  `json:"type"`
	RankAbsolute int     `json:"rank_absolute"`
	URL          string  `json:"url"`
	Title        *string `json:"title"`
	Description  *string `json:"description"`
}

type ideasRequest struct {
	Keywords     []string `json:"keywords"`
	LocationCode int      `json:"location_code"`
	LanguageCode string   `json:"language_code"`
	Limit        int      `json:"limit"`
}

type serpRequest struct {
	Keyword      string `json:"keyword"`
	LanguageCode string `json:"language_code"`
	LocationCode int    `json:"location_code"`
	Device       string `json:"device"`
	OS           string `json:"os"`
	Depth        int    `json:"depth"`
	Tag          string `json:"tag"`
}

// KeywordIdeas requests related-keyword candidates for all given keywords in
// one provider batch. The provider answers with a single logical task.
func (c *Client) KeywordIdeas(ctx context.Context, keywords []string, locationCode int, languageCode string, limit int) (*IdeasResponse, error) {
	body := []ideasRequest{{
		Keywords:     keywords,
		LocationCode: locationCode,
		LanguageCode: languageCode,
		Limit:        limit,
	}}

	response := &IdeasResponse{}
	if err := c.post(ctx, keywordIdeasPath, body, response); err != nil {
		return nil, err
	}
	if len(response.Tasks) == 0 {
		return nil, ErrNoTasks
	}
	return response, nil
}

// SerpRegular requests live organic SERP data, one provider task per keyword.
// Each sub-request carries the keyword as its tag so the response can be
// mapped back even when the echoed keyword is missing.
func (c *Client) SerpRegular(ctx context.Context, keywords []string, locationCode int, languageCode string) (*SerpResponse, error) {
	body := make([]serpRequest, 0, len(keywords))
	for _, keyword := range keywords {
		body = append(body, serpRequest{
			Keyword:      keyword,
			LanguageCode: languageCode,
			LocationCode: locationCode,
			Device:       "desktop",
			OS:           "windows",
			Depth:        100,
			Tag:          keyword,
		})
	}

	response := &SerpResponse{}
	if err := c.post(ctx, serpRegularPath, body, response); err != nil {
		return nil, err
	}
	if len(response.Tasks) == 0 {
		return nil, ErrNoTasks
	}
	return response, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	if c.credential == "" {
		return ErrMissingCredentials
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Basic "+c.credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider returned HTTP %v for %v", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}
