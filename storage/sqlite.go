package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"wb_scraper/models"
)

type SQLiteStore struct {
	db    *sql.DB
	clock clock
}

func NewSQLiteStore(dbPath string, loc *time.Location) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// Every write is serialized through one connection.
	db.SetMaxOpenConns(1)

	store := newSQLiteStoreFromDB(db, loc)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func newSQLiteStoreFromDB(db *sql.DB, loc *time.Location) *SQLiteStore {
	return &SQLiteStore{db: db, clock: newClock(loc)}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scraping_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		total_subscriptions INTEGER NOT NULL DEFAULT 0,
		successful_scrapes INTEGER NOT NULL DEFAULT 0,
		failed_scrapes INTEGER NOT NULL DEFAULT 0,
		session_notes TEXT
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subscription_search TEXT NOT NULL,
		created_at TEXT NOT NULL,
		last_scraped TEXT,
		total_results INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		session_id INTEGER REFERENCES scraping_sessions(id)
	);

	CREATE TABLE IF NOT EXISTS subscription_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subscription_id INTEGER REFERENCES subscriptions(id),
		session_id INTEGER REFERENCES scraping_sessions(id),
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
	_, err := s.db.Exec(schema)
	return err
}

// wipe empties the three tables and resets their id counters.
func (s *SQLiteStore) wipe(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"subscription_results", "subscriptions", "scraping_sessions"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence
		WHERE name IN ('subscription_results', 'subscriptions', 'scraping_sessions')`)
	if err != nil {
		return fmt.Errorf("reset sequences: %w", err)
	}
	return nil
}

func (s *SQLiteStore) BeginSession(ctx context.Context, planned int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := s.wipe(ctx, tx); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO scraping_sessions (started_at, total_subscriptions, successful_scrapes, failed_scrapes)
		VALUES (?, ?, 0, 0)`,
		s.clock.stamp(), planned)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLiteStore) SaveResult(ctx context.Context, identifier string, records []models.ScrapeRecord, sessionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.clock.stamp()

	var subID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM subscriptions WHERE subscription_search = ? ORDER BY id LIMIT 1`,
		identifier).Scan(&subID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO subscriptions (subscription_search, created_at, last_scraped, total_results, status, session_id)
			VALUES (?, ?, ?, ?, ?, ?)`,
			identifier, now, now, len(records), string(models.SubscriptionCompleted), sessionID)
		if err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
		if subID, err = res.LastInsertId(); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("find subscription: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE subscriptions SET last_scraped = ?, total_results = ?, status = ?, session_id = ?
			WHERE id = ?`,
			now, len(records), string(models.SubscriptionCompleted), sessionID, subID); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM subscription_results WHERE subscription_id = ? AND session_id = ?`,
			subID, sessionID); err != nil {
			return fmt.Errorf("clear results: %w", err)
		}
	}

	if len(records) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO subscription_results (subscription_id, session_id, result_id, sitename, edison_lite_id,
				state, assigned_team, webcomponent_version, is_live, updated_at, scraped_timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, subID, sessionID, r.ResultID, r.Sitename, r.LiteID,
				r.State, r.AssignedTeam, r.ComponentVersion, r.IsLive, r.UpdatedAt, now); err != nil {
				return fmt.Errorf("insert result %s: %w", r.ResultID, err)
			}
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) FinalizeSession(ctx context.Context, sessionID int64, successful, failed int, notes string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scraping_sessions SET ended_at = ?, successful_scrapes = ?, failed_scrapes = ?, session_notes = ?
		WHERE id = ?`,
		s.clock.stamp(), successful, failed, notes, sessionID)
	return err
}

func (s *SQLiteStore) Subscriptions(ctx context.Context) ([]models.SubscriptionView, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		var rec nullRecord
		if err := rows.Scan(&sub.SearchTerm, &sub.CreatedAt, &sub.LastScraped, &sub.TotalResults, &sub.Status,
			&rec.ResultID, &rec.Sitename, &rec.LiteID, &rec.State, &rec.AssignedTeam,
			&rec.ComponentVersion, &rec.IsLive, &rec.UpdatedAt, &rec.ScrapedTimestamp); err != nil {
			return nil, err
		}
		b.add(sub, rec.record())
	}
	return b.build(), rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM subscriptions),
			(SELECT COUNT(*) FROM subscription_results),
			(SELECT COUNT(*) FROM scraping_sessions),
			(SELECT MAX(scraped_timestamp) FROM subscription_results)`).
		Scan(&stats.TotalSubscriptions, &stats.TotalResults, &stats.TotalSessions, nullString{&stats.LastScrape})
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}

	var latest models.SessionSummary
	var notes sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at, total_subscriptions, successful_scrapes, failed_scrapes, session_notes
		FROM scraping_sessions ORDER BY id DESC LIMIT 1`).
		Scan(&latest.ID, &latest.StartedAt, nullString{&latest.EndedAt}, &latest.PlannedSubscriptions,
			&latest.SuccessfulScrapes, &latest.FailedScrapes, &notes)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return stats, nil
	case err != nil:
		return nil, fmt.Errorf("latest session: %w", err)
	}
	latest.Notes = notes.String
	stats.LatestSession = &latest

	return stats, nil
}

func (s *SQLiteStore) Sessions(ctx context.Context) ([]models.ScrapingSession, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		var ended, notes sql.NullString
		if err := rows.Scan(&sess.ID, &started, &ended, &sess.TotalSubscriptions,
			&sess.SuccessfulScrapes, &sess.FailedScrapes, &notes); err != nil {
			return nil, err
		}
		sess.StartedAt = parseStamp(started)
		if ended.Valid {
			t := parseStamp(ended.String)
			sess.EndedAt = &t
		}
		sess.Notes = notes.String
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) Duplicates(ctx context.Context) ([]DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
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

// RemoveDuplicates keeps the most recently scraped subscription per search
// term and drops results left without a subscription.
func (s *SQLiteStore) RemoveDuplicates(ctx context.Context) (*DedupeResult, error) {
	groups, err := s.Duplicates(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result := &DedupeResult{Groups: len(groups)}
	for _, g := range groups {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM subscriptions
			WHERE subscription_search = ? AND id NOT IN (
				SELECT id FROM subscriptions WHERE subscription_search = ?
				ORDER BY last_scraped DESC, id DESC LIMIT 1
			)`, g.Search, g.Search)
		if err != nil {
			return nil, fmt.Errorf("dedupe %s: %w", g.Search, err)
		}
		n, _ := res.RowsAffected()
		result.SubscriptionsRemoved += n
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM subscription_results WHERE subscription_id NOT IN (SELECT id FROM subscriptions)`)
	if err != nil {
		return nil, fmt.Errorf("remove orphaned results: %w", err)
	}
	result.ResultsRemoved, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.wipe(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// nullRecord scans the nullable side of a LEFT JOIN.
type nullRecord struct {
	ResultID, Sitename, LiteID, State, AssignedTeam sql.NullString
	ComponentVersion, IsLive, UpdatedAt             sql.NullString
	ScrapedTimestamp                                sql.NullString
}

func (n nullRecord) record() *models.StoredRecord {
	if !n.ResultID.Valid {
		return nil
	}
	return &models.StoredRecord{
		ScrapeRecord: models.ScrapeRecord{
			ResultID:         n.ResultID.String,
			Sitename:         n.Sitename.String,
			LiteID:           n.LiteID.String,
			State:            n.State.String,
			AssignedTeam:     n.AssignedTeam.String,
			ComponentVersion: n.ComponentVersion.String,
			IsLive:           n.IsLive.String,
			UpdatedAt:        n.UpdatedAt.String,
		},
		ScrapedTimestamp: n.ScrapedTimestamp.String,
	}
}

// nullString scans a nullable text column into a *string field.
type nullString struct {
	dst **string
}

func (n nullString) Scan(src any) error {
	var ns sql.NullString
	if err := ns.Scan(src); err != nil {
		return err
	}
	if ns.Valid {
		v := ns.String
		*n.dst = &v
	} else {
		*n.dst = nil
	}
	return nil
}
