package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wb_scraper/models"
)

type PostgresStore struct {
	pool  *pgxpool.Pool
	clock clock
}

func NewPostgresStore(ctx context.Context, connString string, loc *time.Location) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool, clock: newClock(loc)}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS scraping_sessions (
		id BIGSERIAL PRIMARY KEY,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		total_subscriptions INTEGER NOT NULL DEFAULT 0,
		successful_scrapes INTEGER NOT NULL DEFAULT 0,
		failed_scrapes INTEGER NOT NULL DEFAULT 0,
		session_notes TEXT
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id BIGSERIAL PRIMARY KEY,
		subscription_search TEXT NOT NULL,
		created_at TEXT NOT NULL,
		last_scraped TEXT,
		total_results INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		session_id BIGINT
	);

	CREATE TABLE IF NOT EXISTS subscription_results (
		id BIGSERIAL PRIMARY KEY,
		subscription_id BIGINT,
		session_id BIGINT,
		result_id TEXT NOT NULL,
		sitename TEXT,
		edison_lite_id TEXT,
		state TEXT,
		assigned_team TEXT,
		webcomponent_version TEXT,
		is_live TEXT,
		updated_at TEXT,
		scraped_timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subscriptions_search ON subscriptions(subscription_search);
	CREATE INDEX IF NOT EXISTS idx_results_subscription ON subscription_results(subscription_id, session_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const truncateAll = `TRUNCATE subscription_results, subscriptions, scraping_sessions RESTART IDENTITY`

func (s *PostgresStore) BeginSession(ctx context.Context, planned int) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, truncateAll); err != nil {
		return 0, fmt.Errorf("clear tables: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO scraping_sessions (started_at, total_subscriptions, successful_scrapes, failed_scrapes)
		VALUES ($1, $2, 0, 0) RETURNING id`,
		s.clock.stamp(), planned).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

var resultColumns = []string{
	"subscription_id", "session_id", "result_id", "sitename", "edison_lite_id",
	"state", "assigned_team", "webcomponent_version", "is_live", "updated_at", "scraped_timestamp",
}

func (s *PostgresStore) SaveResult(ctx context.Context, identifier string, records []models.ScrapeRecord, sessionID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := s.clock.stamp()
	status := string(models.SubscriptionCompleted)

	var subID int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM subscriptions WHERE subscription_search = $1 ORDER BY id LIMIT 1`,
		identifier).Scan(&subID)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx, `
			INSERT INTO subscriptions (subscription_search, created_at, last_scraped, total_results, status, session_id)
			VALUES ($1, $2, $2, $3, $4, $5) RETURNING id`,
			identifier, now, len(records), status, sessionID).Scan(&subID)
		if err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
	case err != nil:
		return fmt.Errorf("find subscription: %w", err)
	default:
		if _, err := tx.Exec(ctx, `
			UPDATE subscriptions SET last_scraped = $1, total_results = $2, status = $3, session_id = $4
			WHERE id = $5`,
			now, len(records), status, sessionID, subID); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM subscription_results WHERE subscription_id = $1 AND session_id = $2`,
			subID, sessionID); err != nil {
			return fmt.Errorf("clear results: %w", err)
		}
	}

	if len(records) > 0 {
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"subscription_results"}, resultColumns,
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				r := records[i]
				return []any{subID, sessionID, r.ResultID, r.Sitename, r.LiteID, r.State,
					r.AssignedTeam, r.ComponentVersion, r.IsLive, r.UpdatedAt, now}, nil
			}))
		if err != nil {
			return fmt.Errorf("copy results: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) FinalizeSession(ctx context.Context, sessionID int64, successful, failed int, notes string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scraping_sessions SET ended_at = $1, successful_scrapes = $2, failed_scrapes = $3, session_notes = $4
		WHERE id = $5`,
		s.clock.stamp(), successful, failed, notes, sessionID)
	return err
}

func (s *PostgresStore) Subscriptions(ctx context.Context) ([]models.SubscriptionView, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.subscription_search, s.created_at, COALESCE(s.last_scraped, ''), s.total_results, s.status,
			r.result_id, r.sitename, r.edison_lite_id, r.state, r.assigned_team,
			r.webcomponent_version, r.is_live, r.updated_at, r.scraped_timestamp
		FROM subscriptions s
		LEFT JOIN subscription_results r ON s.id = r.subscription_id
		ORDER BY s.last_scraped DESC, s.id, r.result_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	b := newViewBuilder()
	for rows.Next() {
		var sub models.SubscriptionView
		var status string
		var rec pgRecord
		if err := rows.Scan(&sub.SearchTerm, &sub.CreatedAt, &sub.LastScraped, &sub.TotalResults, &status,
			&rec.ResultID, &rec.Sitename, &rec.LiteID, &rec.State, &rec.AssignedTeam,
			&rec.ComponentVersion, &rec.IsLive, &rec.UpdatedAt, &rec.ScrapedTimestamp); err != nil {
			return nil, err
		}
		sub.Status = models.SubscriptionStatus(status)
		b.add(sub, rec.record())
	}
	return b.build(), rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}

	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM subscriptions),
			(SELECT COUNT(*) FROM subscription_results),
			(SELECT COUNT(*) FROM scraping_sessions),
			(SELECT MAX(scraped_timestamp) FROM subscription_results)`).
		Scan(&stats.TotalSubscriptions, &stats.TotalResults, &stats.TotalSessions, &stats.LastScrape)
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}

	var latest models.SessionSummary
	var notes *string
	err = s.pool.QueryRow(ctx, `
		SELECT id, started_at, ended_at, total_subscriptions, successful_scrapes, failed_scrapes, session_notes
		FROM scraping_sessions ORDER BY id DESC LIMIT 1`).
		Scan(&latest.ID, &latest.StartedAt, &latest.EndedAt, &latest.PlannedSubscriptions,
			&latest.SuccessfulScrapes, &latest.FailedScrapes, &notes)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return stats, nil
	case err != nil:
		return nil, fmt.Errorf("latest session: %w", err)
	}
	if notes != nil {
		latest.Notes = *notes
	}
	stats.LatestSession = &latest

	return stats, nil
}

func (s *PostgresStore) Sessions(ctx context.Context) ([]models.ScrapingSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, ended_at, total_subscriptions, successful_scrapes, failed_scrapes, session_notes
		FROM scraping_sessions ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ScrapingSession
	for rows.Next() {
		var sess models.ScrapingSession
		var started string
		var ended, notes *string
		if err := rows.Scan(&sess.ID, &started, &ended, &sess.TotalSubscriptions,
			&sess.SuccessfulScrapes, &sess.FailedScrapes, &notes); err != nil {
			return nil, err
		}
		sess.StartedAt = parseStamp(started)
		if ended != nil {
			t := parseStamp(*ended)
			sess.EndedAt = &t
		}
		if notes != nil {
			sess.Notes = *notes
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) Duplicates(ctx context.Context) ([]DuplicateGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT subscription_search, COUNT(*) FROM subscriptions
		GROUP BY subscription_search HAVING COUNT(*) > 1
		ORDER BY subscription_search`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []DuplicateGroup
	for rows.Next() {
		var g DuplicateGroup
		if err := rows.Scan(&g.Search, &g.Count); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *PostgresStore) RemoveDuplicates(ctx context.Context) (*DedupeResult, error) {
	groups, err := s.Duplicates(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	result := &DedupeResult{Groups: len(groups)}

	tag, err := tx.Exec(ctx, `
		DELETE FROM subscriptions s
		USING (
			SELECT id, ROW_NUMBER() OVER (
				PARTITION BY subscription_search ORDER BY last_scraped DESC NULLS LAST, id DESC
			) AS rn
			FROM subscriptions
		) ranked
		WHERE s.id = ranked.id AND ranked.rn > 1`)
	if err != nil {
		return nil, fmt.Errorf("dedupe subscriptions: %w", err)
	}
	result.SubscriptionsRemoved = tag.RowsAffected()

	tag, err = tx.Exec(ctx,
		`DELETE FROM subscription_results WHERE subscription_id NOT IN (SELECT id FROM subscriptions)`)
	if err != nil {
		return nil, fmt.Errorf("remove orphaned results: %w", err)
	}
	result.ResultsRemoved = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) ClearAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, truncateAll)
	return err
}

type pgRecord struct {
	ResultID, Sitename, LiteID, State, AssignedTeam *string
	ComponentVersion, IsLive, UpdatedAt             *string
	ScrapedTimestamp                                *string
}

func (n pgRecord) record() *models.StoredRecord {
	if n.ResultID == nil {
		return nil
	}
	return &models.StoredRecord{
		ScrapeRecord: models.ScrapeRecord{
			ResultID:         *n.ResultID,
			Sitename:         deref(n.Sitename),
			LiteID:           deref(n.LiteID),
			State:            deref(n.State),
			AssignedTeam:     deref(n.AssignedTeam),
			ComponentVersion: deref(n.ComponentVersion),
			IsLive:           deref(n.IsLive),
			UpdatedAt:        deref(n.UpdatedAt),
		},
		ScrapedTimestamp: deref(n.ScrapedTimestamp),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
