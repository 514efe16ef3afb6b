package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wb_scraper/models"
)

// newTestStore opens a file-backed store whose clock advances one minute per
// stamp.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), time.UTC)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	store.clock.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return store
}

func records(ids ...string) []models.ScrapeRecord {
	out := make([]models.ScrapeRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.ScrapeRecord{ResultID: id, Sitename: "Site " + id, State: "Live", IsLive: "Yes"})
	}
	return out
}

func TestBeginSessionWipesPreviousRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.BeginSession(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, store.SaveResult(ctx, "SUB-1", records("r1", "r2"), first))
	require.NoError(t, store.FinalizeSession(ctx, first, 1, 0, "done"))

	second, err := store.BeginSession(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), second)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalSubscriptions)
	assert.Equal(t, 0, stats.TotalResults)
	assert.Equal(t, 1, stats.TotalSessions)
	assert.Nil(t, stats.LastScrape)
	require.NotNil(t, stats.LatestSession)
	assert.Equal(t, 5, stats.LatestSession.PlannedSubscriptions)
	assert.Nil(t, stats.LatestSession.EndedAt)
}

func TestSaveResultReplacesRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	session, err := store.BeginSession(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.SaveResult(ctx, "SUB-1", records("r1", "r2", "r3"), session))
	require.NoError(t, store.SaveResult(ctx, "SUB-1", records("r9"), session))

	subs, err := store.Subscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "SUB-1", subs[0].SearchTerm)
	assert.Equal(t, 1, subs[0].TotalResults)
	assert.Equal(t, models.SubscriptionCompleted, subs[0].Status)
	require.Len(t, subs[0].Results, 1)
	assert.Equal(t, "r9", subs[0].Results[0].ResultID)
	assert.Equal(t, "Site r9", subs[0].Results[0].Sitename)
	assert.NotEmpty(t, subs[0].Results[0].ScrapedTimestamp)
}

func TestSubscriptionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	session, err := store.BeginSession(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, store.SaveResult(ctx, "SUB-OLD", records("b", "a"), session))
	require.NoError(t, store.SaveResult(ctx, "SUB-EMPTY", nil, session))

	subs, err := store.Subscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	assert.Equal(t, "SUB-EMPTY", subs[0].SearchTerm)
	assert.Equal(t, 0, subs[0].TotalResults)
	assert.NotNil(t, subs[0].Results)
	assert.Empty(t, subs[0].Results)

	assert.Equal(t, "SUB-OLD", subs[1].SearchTerm)
	require.Len(t, subs[1].Results, 2)
	assert.Equal(t, "a", subs[1].Results[0].ResultID)
	assert.Equal(t, "b", subs[1].Results[1].ResultID)
}

func TestStatsAndSessions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	session, err := store.BeginSession(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, store.SaveResult(ctx, "SUB-1", records("r1", "r2"), session))
	require.NoError(t, store.SaveResult(ctx, "SUB-2", records("r3"), session))
	require.NoError(t, store.FinalizeSession(ctx, session, 2, 0, "Fast scraping completed. 2 successful, 0 failed"))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSubscriptions)
	assert.Equal(t, 3, stats.TotalResults)
	assert.Equal(t, 1, stats.TotalSessions)
	require.NotNil(t, stats.LastScrape)
	assert.Equal(t, "2024-03-01T09:03:00Z", *stats.LastScrape)

	require.NotNil(t, stats.LatestSession)
	assert.Equal(t, session, stats.LatestSession.ID)
	assert.Equal(t, 2, stats.LatestSession.SuccessfulScrapes)
	require.NotNil(t, stats.LatestSession.EndedAt)
	assert.Contains(t, stats.LatestSession.Notes, "2 successful")

	sessions, err := store.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 1, 0, 0, time.UTC), sessions[0].StartedAt.UTC())
	require.NotNil(t, sessions[0].EndedAt)
	assert.True(t, sessions[0].EndedAt.After(sessions[0].StartedAt))
}

func TestStatsEmptyDatabase(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalSubscriptions)
	assert.Nil(t, stats.LastScrape)
	assert.Nil(t, stats.LatestSession)
}

func TestRemoveDuplicatesKeepsLatest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	session, err := store.BeginSession(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.SaveResult(ctx, "SUB-1", records("keep"), session))

	// A stale copy left behind by an older writer.
	res, err := store.db.Exec(`
		INSERT INTO subscriptions (subscription_search, created_at, last_scraped, total_results, status, session_id)
		VALUES ('SUB-1', '2020-01-01T00:00:00Z', '2020-01-01T00:00:00Z', 1, 'completed', ?)`, session)
	require.NoError(t, err)
	staleID, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = store.db.Exec(`
		INSERT INTO subscription_results (subscription_id, session_id, result_id, scraped_timestamp)
		VALUES (?, ?, 'stale', '2020-01-01T00:00:00Z')`, staleID, session)
	require.NoError(t, err)

	groups, err := store.Duplicates(ctx)
	require.NoError(t, err)
	require.Equal(t, []DuplicateGroup{{Search: "SUB-1", Count: 2}}, groups)

	result, err := store.RemoveDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Groups)
	assert.Equal(t, int64(1), result.SubscriptionsRemoved)
	assert.Equal(t, int64(1), result.ResultsRemoved)

	subs, err := store.Subscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Len(t, subs[0].Results, 1)
	assert.Equal(t, "keep", subs[0].Results[0].ResultID)

	groups, err = store.Duplicates(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	session, err := store.BeginSession(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.SaveResult(ctx, "SUB-1", records("r1"), session))
	require.NoError(t, store.ClearAll(ctx))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalSubscriptions)
	assert.Zero(t, stats.TotalResults)
	assert.Zero(t, stats.TotalSessions)

	next, err := store.BeginSession(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
}

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })
	return newSQLiteStoreFromDB(db, time.UTC), mock
}

func TestSaveResultRollsBackOnInsertError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM subscriptions`).
		WithArgs("SUB-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO subscriptions`).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectPrepare(`INSERT INTO subscription_results`)
	mock.ExpectExec(`INSERT INTO subscription_results`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := store.SaveResult(context.Background(), "SUB-1", records("r1"), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert result r1")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSaveResultUpdatesExistingSubscription(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM subscriptions`).
		WithArgs("SUB-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
	mock.ExpectExec(`UPDATE subscriptions SET`).
		WithArgs(sqlmock.AnyArg(), 0, "completed", int64(3), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM subscription_results`).
		WithArgs(int64(4), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, store.SaveResult(context.Background(), "SUB-1", nil, 3))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestBeginSessionRollsBackOnWipeError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM subscription_results`).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	_, err := store.BeginSession(context.Background(), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear subscription_results")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
