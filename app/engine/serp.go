package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seopulse/gateway/app/database"
	"github.com/seopulse/gateway/app/provider"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"
)

// Serp serves a batch of keywords from the SERP cache where possible and
// fetches the rest in a single live call, one provider task per keyword.
// Cache hits gathered before a live failure are always returned.
func (e *Engine) Serp(ctx context.Context, keywords []string, locationCode int, languageCode string) []SerpEntry {
	ctx = slogctx.Append(ctx, "locationCode", locationCode, "languageCode", languageCode)

	unique := UniqueKeywords(keywords)
	cutoff := e.now().Add(-e.cacheMaxAge)

	final := make([]SerpEntry, 0, len(unique))
	misses := make([]string, 0, len(unique))

	slogctx.Info(ctx, "Starting SERP cache check", "keywords", unique)
	for _, keyword := range unique {
		if entry := e.serpCacheHit(ctx, keyword, cutoff); entry != nil {
			final = append(final, *entry)
		} else {
			misses = append(misses, keyword)
		}
	}
	slogctx.Info(ctx, "Cache check complete", "hits", len(final), "misses", len(misses))

	if len(misses) == 0 {
		return final
	}
	return append(final, e.fetchSerps(ctx, misses, locationCode, languageCode)...)
}

// serpCacheHit returns an entry when a fresh SERP with at least one stored
// result exists for the keyword. A SERP without results is a miss.
func (e *Engine) serpCacheHit(ctx context.Context, keyword string, cutoff time.Time) *SerpEntry {
	record, err := e.db.FindKeywordByText(ctx, keyword)
	if err != nil {
		slogctx.Warn(ctx, "Cache check failed; will attempt live fetch", "keyword", keyword, "error", err)
		return nil
	}
	if record == nil {
		slogctx.Info(ctx, "[Cache MISS] Keyword not stored", "keyword", keyword)
		return nil
	}

	serp, err := e.db.FindRecentSerpByKeywordID(ctx, record.ID, cutoff)
	if err != nil {
		slogctx.Warn(ctx, "Cache check failed; will attempt live fetch", "keyword", keyword, "error", err)
		return nil
	}
	if serp == nil {
		slogctx.Info(ctx, "[Cache MISS] No recent SERP", "keyword", keyword)
		return nil
	}

	results, err := e.db.FindResultsBySerpID(ctx, serp.ID)
	if err != nil {
		slogctx.Warn(ctx, "Cache check failed; will attempt live fetch", "keyword", keyword, "error", err)
		return nil
	}
	if len(results) == 0 {
		slogctx.Warn(ctx, "[Cache MISS] Cached SERP has no results", "keyword", keyword, "serpId", serp.ID)
		return nil
	}

	slogctx.Info(ctx, "[Cache HIT] Returning cached SERP", "keyword", keyword, "fetchedAt", serp.CreatedAt)
	return &SerpEntry{Keyword: keyword, Serp: newSerpView(serp), Results: results}
}

func (e *Engine) fetchSerps(ctx context.Context, misses []string, locationCode int, languageCode string) []SerpEntry {
	slogctx.Info(ctx, "Fetching live SERP data from provider", "keywords", misses)

	response, err := e.provider.SerpRegular(ctx, misses, locationCode, languageCode)
	if err != nil {
		slogctx.Error(ctx, "Error calling provider for SERP batch", "error", err)
		return fillSerpErrors(nil, misses, fetchErrorMessage(ctx, err))
	}

	jobID, err := e.db.InsertJob(ctx, database.Job{
		Status:        "PROCESSING",
		StatusCode:    response.StatusCode,
		StatusMessage: response.StatusMessage,
		Version:       response.Version,
		Time:          response.Time,
		Cost:          response.Cost,
		TasksCount:    response.TasksCount,
		TasksError:    response.TasksError,
	})
	if err != nil {
		slogctx.Error(ctx, "Failed to insert job record", "error", err)
		return fillSerpErrors(nil, misses, fmt.Sprintf("failed to insert job record: %v", err))
	}

	// Fan out over the returned tasks. Each worker writes its outcome into
	// its own slot and always returns nil: one task's failure must not
	// cancel or corrupt its siblings.
	outcomes := make([]*SerpEntry, len(response.Tasks))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.serpFanout)

	for i, task := range response.Tasks {
		group.Go(func() error {
			outcomes[i] = e.processSerpTask(groupCtx, jobID, task)
			return nil
		})
	}
	_ = group.Wait()

	if err := e.db.UpdateJobStatus(ctx, jobID, "COMPLETED"); err != nil {
		slogctx.Warn(ctx, "Failed to update job status", "jobId", jobID, "error", err)
	}

	entries := make([]SerpEntry, 0, len(misses))
	for _, outcome := range outcomes {
		if outcome != nil {
			entries = append(entries, *outcome)
		}
	}

	slogctx.Info(ctx, "Finished processing SERP tasks", "jobId", jobID, "tasks", len(response.Tasks))
	return fillSerpErrors(entries, misses, "no task returned for keyword")
}

// processSerpTask runs the full per-keyword pipeline for one provider task.
// Failures become an error entry for that keyword only. A task whose keyword
// cannot be determined is logged and dropped.
func (e *Engine) processSerpTask(ctx context.Context, jobID string, task provider.SerpTask) *SerpEntry {
	keyword := task.Data.Keyword
	if keyword == "" {
		keyword = task.Data.Tag
	}
	if keyword == "" {
		slogctx.Error(ctx, "Could not determine keyword for task", "taskId", task.ID)
		return nil
	}
	ctx = slogctx.Append(ctx, "keyword", keyword, "taskId", task.ID)

	entry, err := e.storeSerpTask(ctx, jobID, task, keyword)
	if err != nil {
		slogctx.Error(ctx, "Error processing SERP task", "error", err)
		return &SerpEntry{Keyword: keyword, Serp: nil, Results: []database.Result{}, Error: err.Error()}
	}
	return entry
}

func (e *Engine) storeSerpTask(ctx context.Context, jobID string, task provider.SerpTask, keyword string) (*SerpEntry, error) {
	if task.StatusCode != provider.StatusSuccess || len(task.Result) == 0 {
		return nil, fmt.Errorf("provider task failed for keyword %q: %v - %v",
			keyword, task.StatusCode, task.StatusMessage)
	}
	serpData := task.Result[0]

	record, err := e.db.InsertKeyword(ctx, keyword)
	if err != nil {
		return nil, fmt.Errorf("failed to insert keyword %q: %w", keyword, err)
	}

	err = e.db.InsertTask(ctx, database.Task{
		ID:            task.ID,
		JobID:         jobID,
		Keyword:       keyword,
		StatusCode:    task.StatusCode,
		StatusMessage: task.StatusMessage,
		Time:          task.Time,
		Cost:          task.Cost,
		ResultCount:   task.ResultCount,
		LocationCode:  &task.Data.LocationCode,
		LanguageCode:  &task.Data.LanguageCode,
		Device:        &task.Data.Device,
		OS:            &task.Data.OS,
		Depth:         &task.Data.Depth,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert task record %v: %w", task.ID, err)
	}

	seResultsCount := serpData.SeResultsCount
	itemsCount := serpData.ItemsCount
	serp, err := e.db.InsertSerp(ctx, database.Serp{
		TaskID:         task.ID,
		KeywordID:      record.ID,
		Type:           serpData.Type,
		SeDomain:       serpData.SeDomain,
		LocationCode:   serpData.LocationCode,
		LanguageCode:   serpData.LanguageCode,
		CheckURL:       serpData.CheckURL,
		FetchedAt:      serpData.Datetime,
		ItemTypes:      serpData.ItemTypes,
		SeResultsCount: &seResultsCount,
		ItemsCount:     &itemsCount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert SERP record for task %v: %w", task.ID, err)
	}
	if serp == nil {
		return nil, fmt.Errorf("SERP record for task %v missing after insert", task.ID)
	}

	rows := make([]database.ResultRow, 0, len(serpData.Items))
	for _, item := range serpData.Items {
		if item.Type != "organic" {
			continue
		}
		rows = append(rows, database.ResultRow{
			Position: item.RankAbsolute,
			URL:      item.URL,
			Type:     item.Type,
			Title:    item.Title,
			Snippet:  item.Description,
		})
	}
	if len(rows) > 0 {
		inserted, err := e.db.InsertResults(ctx, serp.ID, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to insert result items for SERP %v: %w", serp.ID, err)
		}
		slogctx.Info(ctx, "Inserted result items", "serpId", serp.ID, "count", inserted)
	}

	// Read back what was persisted so the response reflects stored state.
	results, err := e.db.FindResultsBySerpID(ctx, serp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back results for SERP %v: %w", serp.ID, err)
	}

	slogctx.Info(ctx, "Stored live SERP data", "jobId", jobID, "serpId", serp.ID)
	return &SerpEntry{Keyword: keyword, Serp: newSerpView(serp), Results: results}, nil
}

// fillSerpErrors guarantees one entry per MISS keyword, adding a uniform
// error entry for any keyword that does not already hold a more specific one.
func fillSerpErrors(entries []SerpEntry, misses []string, message string) []SerpEntry {
	for _, keyword := range misses {
		found := false
		for _, entry := range entries {
			if strings.EqualFold(entry.Keyword, keyword) {
				found = true
				break
			}
		}
		if !found {
			entries = append(entries, SerpEntry{
				Keyword: keyword,
				Serp:    nil,
				Results: []database.Result{},
				Error:   message,
			})
		}
	}
	return entries
}
