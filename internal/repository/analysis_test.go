package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/kid-extractor/constants"
	"github.com/joseph-ayodele/kid-extractor/internal/common"
	"github.com/joseph-ayodele/kid-extractor/internal/entity"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestRepo(t *testing.T) AnalysisRepository {
	t.Helper()
	db, err := Open(context.Background(), Config{DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })

	clock := &stepClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewAnalysisRepository(db, nil, WithClock(clock.now))
}

func TestAnalysisRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := &entity.Analysis{SourceName: "kid.pdf", ContentHash: "abc"}
	require.NoError(t, repo.Create(ctx, a))
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, string(constants.StatusQueued), a.Status)

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "kid.pdf", got.SourceName)
	assert.Equal(t, a.StartedAt, got.StartedAt)
	assert.Nil(t, got.FinishedAt)
	assert.Nil(t, got.Score)
	assert.Nil(t, got.Markdown)
}

func TestAnalysisRepository_GetByID_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)

	err = repo.UpdateStatus(context.Background(), uuid.New(), constants.StatusRunning)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestAnalysisRepository_StatusTransitions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := &entity.Analysis{SourceName: "kid.pdf", ContentHash: "abc"}
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.UpdateStatus(ctx, a.ID, constants.StatusRunning))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.StatusRunning), got.Status)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, repo.MarkFailed(ctx, a.ID, "pdftotext: exit status 1"))
	got, err = repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, string(constants.StatusFailed), got.Status)
	require.NotNil(t, got.FinishedAt)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "pdftotext: exit status 1", *got.ErrorMessage)
}

func TestAnalysisRepository_SaveResult(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := &entity.Analysis{SourceName: "kid.pdf", ContentHash: "abc"}
	require.NoError(t, repo.Create(ctx, a))

	record := json.RawMessage(`{"product":{"name":"Fonds Horizon"}}`)
	require.NoError(t, repo.SaveResult(ctx, a.ID, AnalysisOutcome{
		Status:    constants.StatusAccepted,
		Score:     0.9,
		Attempts:  2,
		Feedback:  []string{"scénario intermédiaire manquant"},
		Markdown:  "## Page 1",
		Record:    record,
		ModelName: "mistral",
		OutputDir: "/tmp/out",
	}))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Accepted())
	require.NotNil(t, got.Score)
	assert.InDelta(t, 0.9, *got.Score, 1e-9)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, []string{"scénario intermédiaire manquant"}, got.Feedback)
	assert.JSONEq(t, string(record), string(got.RecordJSON))
	assert.Equal(t, "## Page 1", *got.Markdown)
	assert.Nil(t, got.RawResponse)
	require.NotNil(t, got.FinishedAt)
}

func TestAnalysisRepository_LatestAndFindByHash(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	accept := func(name, hash string) *entity.Analysis {
		a := &entity.Analysis{SourceName: name, ContentHash: hash}
		require.NoError(t, repo.Create(ctx, a))
		require.NoError(t, repo.SaveResult(ctx, a.ID, AnalysisOutcome{Status: constants.StatusAccepted, Score: 1}))
		return a
	}
	first := accept("a.pdf", "h1")
	second := accept("b.pdf", "h2")

	rejected := &entity.Analysis{SourceName: "c.pdf", ContentHash: "h1"}
	require.NoError(t, repo.Create(ctx, rejected))
	require.NoError(t, repo.SaveResult(ctx, rejected.ID, AnalysisOutcome{Status: constants.StatusRejected, Score: 0.2}))

	latest, err := repo.Latest(ctx, constants.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	byHash, err := repo.FindAcceptedByHash(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byHash.ID)

	_, err = repo.FindAcceptedByHash(ctx, "h3")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = repo.Latest(ctx, constants.StatusFailed)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestAnalysisRepository_List(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		a := &entity.Analysis{SourceName: "kid.pdf", ContentHash: "h"}
		require.NoError(t, repo.Create(ctx, a))
		ids = append(ids, a.ID)
	}

	all, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[2].ID)

	two, err := repo.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestDB_Rebind(t *testing.T) {
	pg := &DB{Dialect: Postgres}
	assert.Equal(t, "UPDATE t SET a = $1 WHERE id = $2", pg.rebind("UPDATE t SET a = ? WHERE id = ?"))
	lite := &DB{Dialect: SQLite}
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func TestDialectFor(t *testing.T) {
	assert.Equal(t, Postgres, DialectFor("postgres://u:p@localhost:5432/kid"))
	assert.Equal(t, Postgres, DialectFor("postgresql://localhost/kid"))
	assert.Equal(t, SQLite, DialectFor("file:kid.db?_pragma=busy_timeout(5000)"))
	assert.Equal(t, SQLite, DialectFor(":memory:"))
}

func TestHealthCheck(t *testing.T) {
	db, err := Open(context.Background(), Config{DSN: ":memory:"}, nil)
	require.NoError(t, err)
	defer db.Close(nil)
	assert.NoError(t, HealthCheck(context.Background(), db, time.Second, nil))
}
