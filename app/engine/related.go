package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seopulse/gateway/app/database"
	"github.com/seopulse/gateway/app/provider"
	slogctx "github.com/veqryn/slog-context"
)

// RelatedKeywords serves a batch of keywords from the profile cache where
// possible and fetches the rest from the provider in a single live call.
// Every unique requested keyword gets exactly one entry, cache hits first.
func (e *Engine) RelatedKeywords(ctx context.Context, keywords []string, locationCode int, languageCode string) []RelatedEntry {
	ctx = slogctx.Append(ctx, "locationCode", locationCode, "languageCode", languageCode)

	unique := UniqueKeywords(keywords)
	cutoff := e.now().Add(-e.cacheMaxAge)

	final := make([]RelatedEntry, 0, len(unique))
	misses := make([]string, 0, len(unique))

	slogctx.Info(ctx, "Starting related-keywords cache check", "keywords", unique)
	for _, keyword := range unique {
		if entry := e.relatedCacheHit(ctx, keyword, locationCode, languageCode, cutoff); entry != nil {
			final = append(final, *entry)
		} else {
			misses = append(misses, keyword)
		}
	}
	slogctx.Info(ctx, "Cache check complete", "hits", len(final), "misses", len(misses))

	if len(misses) == 0 {
		return final
	}
	return append(final, e.fetchRelated(ctx, misses, locationCode, languageCode)...)
}

// relatedCacheHit returns a fully assembled entry when the keyword has a
// fresh profile with a non-empty related set, and nil otherwise. Persistence
// errors degrade to a miss so the live fetch can still serve the keyword.
func (e *Engine) relatedCacheHit(ctx context.Context, keyword string, locationCode int, languageCode string, cutoff time.Time) *RelatedEntry {
	seed, err := e.db.FindKeywordByText(ctx, keyword)
	if err != nil {
		slogctx.Warn(ctx, "Cache check failed; will attempt live fetch", "keyword", keyword, "error", err)
		return nil
	}
	if seed == nil {
		slogctx.Info(ctx, "[Cache MISS] Seed keyword not stored", "keyword", keyword)
		return nil
	}

	profile, err := e.db.FindRecentProfile(ctx, seed.ID, locationCode, languageCode, cutoff)
	if err != nil {
		slogctx.Warn(ctx, "Cache check failed; will attempt live fetch", "keyword", keyword, "error", err)
		return nil
	}
	if profile == nil {
		slogctx.Info(ctx, "[Cache MISS] No recent profile", "keyword", keyword)
		return nil
	}
	if len(profile.RelatedKeywordIDs) == 0 {
		// A fresh profile without related IDs cannot answer this query.
		slogctx.Info(ctx, "[Cache MISS] Fresh profile has no related keywords", "keyword", keyword)
		return nil
	}

	relatedProfiles, err := e.db.FindProfilesByKeywordIDs(ctx, profile.RelatedKeywordIDs, locationCode, languageCode)
	if err != nil {
		slogctx.Warn(ctx, "Cache check failed; will attempt live fetch", "keyword", keyword, "error", err)
		return nil
	}

	slogctx.Info(ctx, "[Cache HIT] Found profile", "keyword", keyword, "relatedCount", len(relatedProfiles))
	return &RelatedEntry{
		Keyword:  keyword,
		Related:  profile,
		Keywords: transformProfiles(relatedProfiles),
	}
}

// transformProfiles strips internal bookkeeping fields from profiles meant
// for the `keywords` list of a response entry.
func transformProfiles(profiles []database.KeywordProfile) []database.KeywordProfile {
	transformed := make([]database.KeywordProfile, 0, len(profiles))
	for _, profile := range profiles {
		profile.KiLastCheck = nil
		profile.CreatedAt = ""
		profile.UpdatedAt = ""
		transformed = append(transformed, profile)
	}
	return transformed
}

func (e *Engine) fetchRelated(ctx context.Context, misses []string, locationCode int, languageCode string) []RelatedEntry {
	slogctx.Info(ctx, "Fetching related keywords from provider", "keywords", misses)

	response, err := e.provider.KeywordIdeas(ctx, misses, locationCode, languageCode, e.ideasLimit)
	if err != nil {
		return fillRelatedErrors(nil, misses, fetchErrorMessage(ctx, err))
	}

	// The provider answers a related-keywords batch with one logical task, so
	// a task-level failure is a failure for every keyword in the batch.
	task := response.Tasks[0]
	if task.StatusCode != provider.StatusSuccess || len(task.Result) == 0 {
		message := fmt.Sprintf("provider task failed for keywords [%v]: %v - %v",
			strings.Join(misses, ", "), task.StatusCode, task.StatusMessage)
		slogctx.Warn(ctx, "Provider task failed or returned no result", "statusCode", task.StatusCode, "statusMessage", task.StatusMessage)
		return fillRelatedErrors(nil, misses, message)
	}

	entries, err := e.storeRelated(ctx, misses, locationCode, languageCode, response)
	if err != nil {
		slogctx.Error(ctx, "Error processing related keywords batch", "error", err)
		return fillRelatedErrors(entries, misses, err.Error())
	}
	return entries
}

// storeRelated persists the audit rows and profiles for one successful batch
// and builds the per-seed entries. An error return means the batch failed
// before per-seed processing; entries already built are kept by the caller.
func (e *Engine) storeRelated(ctx context.Context, misses []string, locationCode int, languageCode string, response *provider.IdeasResponse) ([]RelatedEntry, error) {
	task := response.Tasks[0]
	meta := task.Result[0]

	jobID, err := e.db.InsertJob(ctx, database.Job{
		Status:        "COMPLETED",
		StatusCode:    task.StatusCode,
		StatusMessage: task.StatusMessage,
		Version:       response.Version,
		Time:          task.Time,
		Cost:          task.Cost,
		TasksCount:    response.TasksCount,
		TasksError:    response.TasksError,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert job record: %w", err)
	}

	// A multi-seed batch maps to a single provider task, so the audit rows
	// are attributed to the first MISS keyword.
	primary, err := e.db.InsertKeyword(ctx, misses[0])
	if err != nil {
		return nil, fmt.Errorf("failed to insert primary seed keyword %q: %w", misses[0], err)
	}

	err = e.db.InsertTask(ctx, database.Task{
		ID:            task.ID,
		JobID:         jobID,
		SeedKeywordID: &primary.ID,
		Keyword:       strings.Join(misses, ", "),
		StatusCode:    task.StatusCode,
		StatusMessage: task.StatusMessage,
		Time:          task.Time,
		Cost:          task.Cost,
		ResultCount:   task.ResultCount,
		LocationCode:  &task.Data.LocationCode,
		LanguageCode:  &task.Data.LanguageCode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert task record %v: %w", task.ID, err)
	}

	err = e.db.InsertRelatedResult(ctx, database.RelatedResult{
		TaskID:        task.ID,
		SeedKeywordID: primary.ID,
		SeType:        &meta.SeType,
		SeedKeywords:  misses,
		LocationCode:  &meta.LocationCode,
		LanguageCode:  &meta.LanguageCode,
		TotalCount:    &meta.TotalCount,
		ItemsCount:    &meta.ItemsCount,
		Offset:        &meta.Offset,
	})
	if err != nil {
		slogctx.Warn(ctx, "Failed to insert related result metadata", "taskId", task.ID, "error", err)
	}

	collected, transformed := e.storeIdeaItems(ctx, meta.Items)

	entries := make([]RelatedEntry, 0, len(misses))
	for _, keyword := range misses {
		entries = append(entries, e.updateSeedProfile(ctx, keyword, locationCode, languageCode, collected, transformed))
	}
	return entries, nil
}

// storeIdeaItems upserts a profile for every usable candidate item and
// returns the collected keyword IDs plus the response-shaped profiles.
// Unusable items are skipped, never fatal.
func (e *Engine) storeIdeaItems(ctx context.Context, items []provider.IdeaItem) ([]string, []database.KeywordProfile) {
	collected := make([]string, 0, len(items))
	transformed := make([]database.KeywordProfile, 0, len(items))

	slogctx.Info(ctx, "Processing related keyword items", "count", len(items))
	for _, item := range items {
		if item.Keyword == "" || item.LocationCode == 0 || item.LanguageCode == "" {
			slogctx.Warn(ctx, "Skipping item with missing keyword, location or language", "keyword", item.Keyword)
			continue
		}

		keyword, err := e.db.InsertKeyword(ctx, item.Keyword)
		if err != nil {
			slogctx.Error(ctx, "Failed to insert keyword for item; skipping profile upsert", "keyword", item.Keyword, "error", err)
			continue
		}
		collected = append(collected, keyword.ID)

		profile, err := e.db.UpsertProfileMetrics(ctx, metricsFromItem(keyword.ID, item))
		if err != nil || profile == nil {
			slogctx.Error(ctx, "Failed to upsert profile for item", "keyword", item.Keyword, "error", err)
			continue
		}

		view := *profile
		view.KeywordText = keyword.Text
		view.KiLastCheck = nil
		view.CreatedAt = ""
		view.UpdatedAt = ""
		transformed = append(transformed, view)
	}
	return collected, transformed
}

func metricsFromItem(keywordID string, item provider.IdeaItem) database.ProfileMetrics {
	metrics := database.ProfileMetrics{
		KeywordID:    keywordID,
		LocationCode: item.LocationCode,
		LanguageCode: item.LanguageCode,
	}

	if info := item.KeywordInfo; info != nil {
		if info.LastUpdatedTime != "" {
			metrics.KiLastCheck = &info.LastUpdatedTime
		}
		metrics.KiCompetition = info.Competition
		metrics.KiCompetitionLevel = info.CompetitionLevel
		metrics.KiCpc = info.Cpc
		metrics.KiSearchVolume = info.SearchVolume
		metrics.KiLowTopOfPageBid = info.LowTopOfPageBid
		metrics.KiHighTopOfPageBid = info.HighTopOfPageBid
	}
	if props := item.KeywordProps; props != nil {
		metrics.KpKeywordDifficulty = props.KeywordDifficulty
		metrics.KpDetectedLanguage = props.DetectedLanguage
		metrics.KpIsAnotherLanguage = props.IsAnotherLanguage
	}
	if backlinks := item.AvgBacklinksInfo; backlinks != nil {
		metrics.AvgBacklinks = backlinks.Backlinks
		metrics.AvgDofollow = backlinks.Dofollow
		metrics.AvgReferringPages = backlinks.ReferringPages
		metrics.AvgReferringDomains = backlinks.ReferringDomains
		metrics.AvgReferringMainDomains = backlinks.ReferringMainDomains
		metrics.AvgRank = backlinks.Rank
		metrics.AvgMainDomainRank = backlinks.MainDomainRank
	}
	if intent := item.SearchIntentInfo; intent != nil && intent.MainIntent != "" {
		metrics.SiMainIntent = &intent.MainIntent
	}
	return metrics
}

// updateSeedProfile points one MISS seed's profile at the collected related
// set (full replace). A failure here is scoped to this seed; the fetched
// related keywords are still returned alongside the error.
func (e *Engine) updateSeedProfile(ctx context.Context, keyword string, locationCode int, languageCode string, relatedIDs []string, transformed []database.KeywordProfile) RelatedEntry {
	seed, err := e.db.InsertKeyword(ctx, keyword)
	if err == nil {
		var profile *database.KeywordProfile
		profile, err = e.db.SetProfileRelated(ctx, seed.ID, locationCode, languageCode, relatedIDs)
		if err == nil {
			slogctx.Info(ctx, "Updated seed profile", "keyword", keyword, "relatedCount", len(relatedIDs))
			return RelatedEntry{Keyword: keyword, Related: profile, Keywords: transformed}
		}
	}

	slogctx.Error(ctx, "Error updating seed profile", "keyword", keyword, "error", err)
	return RelatedEntry{
		Keyword:  keyword,
		Related:  nil,
		Keywords: transformed,
		Error:    fmt.Sprintf("failed to update seed profile: %v", err),
	}
}

// fillRelatedErrors guarantees one entry per MISS keyword, adding a uniform
// error entry for any keyword that does not already hold a more specific one.
func fillRelatedErrors(entries []RelatedEntry, misses []string, message string) []RelatedEntry {
	for _, keyword := range misses {
		found := false
		for _, entry := range entries {
			if strings.EqualFold(entry.Keyword, keyword) {
				found = true
				break
			}
		}
		if !found {
			entries = append(entries, RelatedEntry{
				Keyword:  keyword,
				Related:  nil,
				Keywords: []database.KeywordProfile{},
				Error:    message,
			})
		}
	}
	return entries
}
