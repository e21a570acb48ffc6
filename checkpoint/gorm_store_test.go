package checkpoint

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/altheaworks/queryflow/types"
)

func setupGormStore(t *testing.T) *GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store, err := NewGormStore(db)
	require.NoError(t, err)
	return store
}

func TestGormStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupGormStore(t)

	state := types.NewInitialState("t1", "u1", "sess-1", "refund policy?")
	state.RetrievedDocuments = []types.RetrievedDocument{
		{Text: "Refunds are issued within 30 days.", Score: 0.92},
	}

	id, err := store.Save(ctx, "sess-1", state, "retrieve")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	cp, err := store.LoadLatest(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, id, cp.ID)
	assert.Equal(t, "retrieve", cp.Step)
	assert.Equal(t, int64(1), cp.Seq)
	require.Len(t, cp.State.RetrievedDocuments, 1)
	assert.Equal(t, 0.92, cp.State.RetrievedDocuments[0].Score)
}

func TestGormStore_SeqIncrementsPerSession(t *testing.T) {
	ctx := context.Background()
	store := setupGormStore(t)
	state := types.NewInitialState("t", "u", "s", "q")

	for i := 1; i <= 3; i++ {
		_, err := store.Save(ctx, "sess-a", state, "analyze")
		require.NoError(t, err)
	}
	_, err := store.Save(ctx, "sess-b", state, "analyze")
	require.NoError(t, err)

	cpA, err := store.LoadLatest(ctx, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cpA.Seq)

	cpB, err := store.LoadLatest(ctx, "sess-b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cpB.Seq)
}

func TestGormStore_List_MostRecentFirst(t *testing.T) {
	ctx := context.Background()
	store := setupGormStore(t)
	state := types.NewInitialState("t", "u", "s", "q")

	for _, step := range []string{"analyze", "rewrite", "respond", "validate"} {
		_, err := store.Save(ctx, "sess", state, step)
		require.NoError(t, err)
	}

	cps, err := store.List(ctx, "sess", 2)
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, "validate", cps[0].Step)
	assert.Equal(t, "respond", cps[1].Step)
}

func TestGormStore_LoadLatest_NotFound(t *testing.T) {
	store := setupGormStore(t)
	_, err := store.LoadLatest(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_DeleteAll(t *testing.T) {
	ctx := context.Background()
	store := setupGormStore(t)
	state := types.NewInitialState("t", "u", "s", "q")

	_, err := store.Save(ctx, "sess", state, "analyze")
	require.NoError(t, err)
	_, err = store.Save(ctx, "sess", state, "rewrite")
	require.NoError(t, err)

	n, err := store.DeleteAll(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.LoadLatest(ctx, "sess")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_Save_DBError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Bypass NewGormStore to avoid mocking the whole migration flow.
	store := &GormStore{db: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = store.Save(context.Background(), "sess", types.NewInitialState("t", "u", "s", "q"), "analyze")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
