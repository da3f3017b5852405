package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDatabase stores the keyword cache and the upstream audit log in a
// single SQLite file. Upserts rely on ON CONFLICT clauses against the natural
// keys declared in the setup script.
type SQLiteDatabase struct {
	conn *sql.DB
}

//go:embed db_sqlite_setup.sql
var setupCommands string

func (db *SQLiteDatabase) Setup() error {
	_, err := db.conn.Exec(setupCommands)
	return err
}

func (db *SQLiteDatabase) Close() error {
	return db.conn.Close()
}

func (db *SQLiteDatabase) InsertKeyword(ctx context.Context, text string) (*Keyword, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))

	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO keywords (id, text) VALUES (?, ?) ON CONFLICT (text) DO NOTHING;",
		uuid.New().String(), normalized)

	if err != nil {
		return nil, err
	}

	keyword, err := db.FindKeywordByText(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if keyword == nil {
		return nil, fmt.Errorf("keyword %q missing after insert", normalized)
	}
	return keyword, nil
}

func (db *SQLiteDatabase) FindKeywordByText(ctx context.Context, text string) (*Keyword, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))

	cursor := db.conn.QueryRowContext(ctx,
		"SELECT id, text, createdAt FROM keywords WHERE text = ?;", normalized)

	keyword := &Keyword{}
	err := cursor.Scan(&keyword.ID, &keyword.Text, &keyword.CreatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return keyword, nil
}

const profileColumns = `
	p.id, p.keywordId, p.locationCode, p.languageCode,
	p.kiLastCheck, p.kiCompetition, p.kiCompetitionLevel, p.kiCpc, p.kiSearchVolume,
	p.kiLowTopOfPageBid, p.kiHighTopOfPageBid,
	p.kpKeywordDifficulty, p.kpDetectedLanguage, p.kpIsAnotherLanguage,
	p.avgBacklinks, p.avgDofollow, p.avgReferringPages, p.avgReferringDomains,
	p.avgReferringMainDomains, p.avgRank, p.avgMainDomainRank,
	p.siMainIntent, p.relatedKeywordIds, p.createdAt, p.updatedAt`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner, extra ...*string) (*KeywordProfile, error) {
	profile := &KeywordProfile{}
	var relatedJSON string

	dest := []any{
		&profile.ID, &profile.KeywordID, &profile.LocationCode, &profile.LanguageCode,
		&profile.KiLastCheck, &profile.KiCompetition, &profile.KiCompetitionLevel,
		&profile.KiCpc, &profile.KiSearchVolume,
		&profile.KiLowTopOfPageBid, &profile.KiHighTopOfPageBid,
		&profile.KpKeywordDifficulty, &profile.KpDetectedLanguage, &profile.KpIsAnotherLanguage,
		&profile.AvgBacklinks, &profile.AvgDofollow, &profile.AvgReferringPages,
		&profile.AvgReferringDomains, &profile.AvgReferringMainDomains,
		&profile.AvgRank, &profile.AvgMainDomainRank,
		&profile.SiMainIntent, &relatedJSON, &profile.CreatedAt, &profile.UpdatedAt,
	}
	for _, col := range extra {
		dest = append(dest, col)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(relatedJSON), &profile.RelatedKeywordIDs); err != nil {
		return nil, fmt.Errorf("invalid relatedKeywordIds for profile %v: %w", profile.ID, err)
	}
	return profile, nil
}

func (db *SQLiteDatabase) FindRecentProfile(ctx context.Context, keywordID string, locationCode int, languageCode string, cutoff time.Time) (*KeywordProfile, error) {
	// A profile updated exactly at the cutoff still counts as fresh.
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM keyword_profiles p
		WHERE p.keywordId = ? AND p.locationCode = ? AND p.languageCode = ?
			AND unixepoch(p.updatedAt) >= ?
		ORDER BY p.updatedAt DESC LIMIT 1;`,
		keywordID, locationCode, languageCode, cutoff.UTC().Unix())

	profile, err := scanProfile(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return profile, nil
}

func (db *SQLiteDatabase) findProfile(ctx context.Context, keywordID string, locationCode int, languageCode string) (*KeywordProfile, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM keyword_profiles p
		WHERE p.keywordId = ? AND p.locationCode = ? AND p.languageCode = ?;`,
		keywordID, locationCode, languageCode)

	profile, err := scanProfile(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return profile, nil
}

func (db *SQLiteDatabase) FindProfilesByKeywordIDs(ctx context.Context, keywordIDs []string, locationCode int, languageCode string) ([]KeywordProfile, error) {
	if len(keywordIDs) == 0 {
		return []KeywordProfile{}, nil
	}

	query := fmt.Sprintf(`
		SELECT `+profileColumns+`, k.text FROM keyword_profiles p
		JOIN keywords k ON k.id = p.keywordId
		WHERE p.keywordId IN (%s) AND p.locationCode = ? AND p.languageCode = ?;`,
		strings.Repeat("?, ", len(keywordIDs)-1)+"?")

	args := make([]any, 0, len(keywordIDs)+2)
	for _, id := range keywordIDs {
		args = append(args, id)
	}
	args = append(args, locationCode, languageCode)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := make([]KeywordProfile, 0, len(keywordIDs))
	for rows.Next() {
		var text string
		profile, err := scanProfile(rows, &text)
		if err != nil {
			return nil, err
		}
		profile.KeywordText = text
		profiles = append(profiles, *profile)
	}
	return profiles, rows.Err()
}

func (db *SQLiteDatabase) UpsertProfileMetrics(ctx context.Context, metrics ProfileMetrics) (*KeywordProfile, error) {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO keyword_profiles (
			id, keywordId, locationCode, languageCode,
			kiLastCheck, kiCompetition, kiCompetitionLevel, kiCpc, kiSearchVolume,
			kiLowTopOfPageBid, kiHighTopOfPageBid,
			kpKeywordDifficulty, kpDetectedLanguage, kpIsAnotherLanguage,
			avgBacklinks, avgDofollow, avgReferringPages, avgReferringDomains,
			avgReferringMainDomains, avgRank, avgMainDomainRank, siMainIntent
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (keywordId, locationCode, languageCode) DO UPDATE SET
			kiLastCheck = excluded.kiLastCheck,
			kiCompetition = excluded.kiCompetition,
			kiCompetitionLevel = excluded.kiCompetitionLevel,
			kiCpc = excluded.kiCpc,
			kiSearchVolume = excluded.kiSearchVolume,
			kiLowTopOfPageBid = excluded.kiLowTopOfPageBid,
			kiHighTopOfPageBid = excluded.kiHighTopOfPageBid,
			kpKeywordDifficulty = excluded.kpKeywordDifficulty,
			kpDetectedLanguage = excluded.kpDetectedLanguage,
			kpIsAnotherLanguage = excluded.kpIsAnotherLanguage,
			avgBacklinks = excluded.avgBacklinks,
			avgDofollow = excluded.avgDofollow,
			avgReferringPages = excluded.avgReferringPages,
			avgReferringDomains = excluded.avgReferringDomains,
			avgReferringMainDomains = excluded.avgReferringMainDomains,
			avgRank = excluded.avgRank,
			avgMainDomainRank = excluded.avgMainDomainRank,
			siMainIntent = excluded.siMainIntent,
			updatedAt = CURRENT_TIMESTAMP;`,
		uuid.New().String(), metrics.KeywordID, metrics.LocationCode, metrics.LanguageCode,
		metrics.KiLastCheck, metrics.KiCompetition, metrics.KiCompetitionLevel,
		metrics.KiCpc, metrics.KiSearchVolume,
		metrics.KiLowTopOfPageBid, metrics.KiHighTopOfPageBid,
		metrics.KpKeywordDifficulty, metrics.KpDetectedLanguage, metrics.KpIsAnotherLanguage,
		metrics.AvgBacklinks, metrics.AvgDofollow, metrics.AvgReferringPages,
		metrics.AvgReferringDomains, metrics.AvgReferringMainDomains,
		metrics.AvgRank, metrics.AvgMainDomainRank, metrics.SiMainIntent)

	if err != nil {
		return nil, err
	}

	return db.findProfile(ctx, metrics.KeywordID, metrics.LocationCode, metrics.LanguageCode)
}

func (db *SQLiteDatabase) SetProfileRelated(ctx context.Context, keywordID string, locationCode int, languageCode string, relatedIDs []string) (*KeywordProfile, error) {
	if relatedIDs == nil {
		relatedIDs = []string{}
	}
	encoded, err := json.Marshal(relatedIDs)
	if err != nil {
		return nil, err
	}

	// Full replace: the previous related set is discarded, never merged.
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO keyword_profiles (id, keywordId, locationCode, languageCode, relatedKeywordIds)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (keywordId, locationCode, languageCode) DO UPDATE SET
			relatedKeywordIds = excluded.relatedKeywordIds,
			updatedAt = CURRENT_TIMESTAMP;`,
		uuid.New().String(), keywordID, locationCode, languageCode, string(encoded))

	if err != nil {
		return nil, err
	}

	return db.findProfile(ctx, keywordID, locationCode, languageCode)
}

func (db *SQLiteDatabase) InsertJob(ctx context.Context, job Job) (string, error) {
	id := uuid.New().String()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO jobs (id, status, statusCode, statusMessage, version, time, cost, tasksCount, tasksError)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		id, job.Status, job.StatusCode, job.StatusMessage, job.Version,
		job.Time, job.Cost, job.TasksCount, job.TasksError)

	if err != nil {
		return "", err
	}
	return id, nil
}

func (db *SQLiteDatabase) UpdateJobStatus(ctx context.Context, jobID string, status string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE jobs SET status = ? WHERE id = ?;", status, jobID)
	return err
}

func (db *SQLiteDatabase) InsertTask(ctx context.Context, task Task) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO tasks (
			id, jobId, seedKeywordId, keyword, statusCode, statusMessage,
			time, cost, resultCount, locationCode, languageCode, device, os, depth
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING;`,
		task.ID, task.JobID, task.SeedKeywordID, task.Keyword,
		task.StatusCode, task.StatusMessage, task.Time, task.Cost, task.ResultCount,
		task.LocationCode, task.LanguageCode, task.Device, task.OS, task.Depth)
	return err
}

const serpColumns = `
	id, taskId, keywordId, type, seDomain, locationCode, languageCode,
	checkUrl, fetchedAt, itemTypes, seResultsCount, itemsCount, createdAt`

func scanSerp(row rowScanner) (*Serp, error) {
	serp := &Serp{}
	var itemTypesJSON string
	var fetchedAt *string

	err := row.Scan(
		&serp.ID, &serp.TaskID, &serp.KeywordID, &serp.Type, &serp.SeDomain,
		&serp.LocationCode, &serp.LanguageCode, &serp.CheckURL, &fetchedAt,
		&itemTypesJSON, &serp.SeResultsCount, &serp.ItemsCount, &serp.CreatedAt)

	if err != nil {
		return nil, err
	}

	if fetchedAt != nil {
		serp.FetchedAt = *fetchedAt
	}
	if err := json.Unmarshal([]byte(itemTypesJSON), &serp.ItemTypes); err != nil {
		return nil, fmt.Errorf("invalid itemTypes for serp %v: %w", serp.ID, err)
	}
	return serp, nil
}

func (db *SQLiteDatabase) InsertSerp(ctx context.Context, serp Serp) (*Serp, error) {
	id := uuid.New().String()

	if serp.ItemTypes == nil {
		serp.ItemTypes = []string{}
	}
	itemTypes, err := json.Marshal(serp.ItemTypes)
	if err != nil {
		return nil, err
	}

	var fetchedAt any
	if serp.FetchedAt != "" {
		fetchedAt = serp.FetchedAt
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO serps (
			id, taskId, keywordId, type, seDomain, locationCode, languageCode,
			checkUrl, fetchedAt, itemTypes, seResultsCount, itemsCount
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		id, serp.TaskID, serp.KeywordID, serp.Type, serp.SeDomain,
		serp.LocationCode, serp.LanguageCode, serp.CheckURL, fetchedAt,
		string(itemTypes), serp.SeResultsCount, serp.ItemsCount)

	if err != nil {
		return nil, err
	}

	return db.FindSerpByID(ctx, id)
}

func (db *SQLiteDatabase) FindSerpByID(ctx context.Context, id string) (*Serp, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+serpColumns+" FROM serps WHERE id = ?;", id)

	serp, err := scanSerp(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return serp, nil
}

func (db *SQLiteDatabase) FindRecentSerpByKeywordID(ctx context.Context, keywordID string, cutoff time.Time) (*Serp, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+serpColumns+` FROM serps
		WHERE keywordId = ? AND unixepoch(createdAt) >= ?
		ORDER BY createdAt DESC LIMIT 1;`,
		keywordID, cutoff.UTC().Unix())

	serp, err := scanSerp(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return serp, nil
}

func (db *SQLiteDatabase) InsertResults(ctx context.Context, serpID string, rows []ResultRow) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	var inserted int64
	for _, row := range rows {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO results (id, serpId, position, url, type, title, snippet)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (serpId, position) DO NOTHING;`,
			uuid.New().String(), serpID, row.Position, row.URL, row.Type, row.Title, row.Snippet)

		if err != nil {
			// Keep the insert error as the cause even if the rollback fails too.
			if rbErr := tx.Rollback(); rbErr != nil {
				return 0, fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
			return 0, err
		}

		count, err := res.RowsAffected()
		if err == nil {
			inserted += count
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (db *SQLiteDatabase) FindResultsBySerpID(ctx context.Context, serpID string) ([]Result, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, serpId, position, url, type, title, snippet
		FROM results WHERE serpId = ? ORDER BY position ASC;`, serpID)

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		item := Result{}
		err := rows.Scan(&item.ID, &item.SerpID, &item.Position, &item.URL,
			&item.Type, &item.Title, &item.Snippet)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

func (db *SQLiteDatabase) InsertRelatedResult(ctx context.Context, related RelatedResult) error {
	if related.SeedKeywords == nil {
		related.SeedKeywords = []string{}
	}
	seeds, err := json.Marshal(related.SeedKeywords)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO related_results (
			id, taskId, seedKeywordId, seType, seedKeywords,
			locationCode, languageCode, totalCount, itemsCount, "offset"
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		uuid.New().String(), related.TaskID, related.SeedKeywordID, related.SeType,
		string(seeds), related.LocationCode, related.LanguageCode,
		related.TotalCount, related.ItemsCount, related.Offset)
	return err
}

func (db *SQLiteDatabase) PruneOlderThan(ctx context.Context, age time.Duration) error {
	seconds := int64(age.Seconds())

	// Audit rows only. Keyword and profile rows are the cache and stay put.
	_, err := db.conn.ExecContext(ctx, `
		DELETE FROM results WHERE serpId IN (SELECT id FROM serps WHERE unixepoch() - unixepoch(createdAt) > ?);

		DELETE FROM serps WHERE unixepoch() - unixepoch(createdAt) > ?;

		DELETE FROM related_results WHERE unixepoch() - unixepoch(createdAt) > ?;

		DELETE FROM tasks WHERE unixepoch() - unixepoch(receivedAt) > ?
			AND id NOT IN (SELECT taskId FROM serps)
			AND id NOT IN (SELECT taskId FROM related_results);

		DELETE FROM jobs WHERE unixepoch() - unixepoch(createdAt) > ?
			AND id NOT IN (SELECT jobId FROM tasks);
		`, seconds, seconds, seconds, seconds, seconds)

	return err
}

func SQLiteFromFile(fileName string) (*SQLiteDatabase, error) {
	conn, err := sql.Open("sqlite3", fileName)

	if err != nil {
		return nil, err
	}

	return &SQLiteDatabase{conn}, nil
}

func SQLite(conn *sql.DB) (*SQLiteDatabase, error) {
	return &SQLiteDatabase{conn}, nil
}
