package notification

import (
	"context"
	"testing"
	"time"

	"notification_hub_backend/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupRepositoryTest(t *testing.T) (Repository, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err, "Failed to connect to test database")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps every query on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&Notification{}), "Failed to migrate database")
	return NewGORMRepository(db), db
}

func seed(t *testing.T, repo Repository, domain string, createdAt time.Time) *Notification {
	t.Helper()
	n := &Notification{Domain: domain, Title: domain + " notification", CreatedAt: createdAt}
	require.NoError(t, repo.Create(context.Background(), n))
	return n
}

func TestGORMRepository_ListNewestFirstWithCursor(t *testing.T) {
	repo, _ := setupRepositoryTest(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a := seed(t, repo, "message", base)
	b := seed(t, repo, "order", base.Add(time.Minute))
	c := seed(t, repo, "message", base.Add(2*time.Minute))

	all, err := repo.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uint64{c.ID, b.ID, a.ID}, []uint64{all[0].ID, all[1].ID, all[2].ID})

	page, err := repo.List(ctx, ListFilter{AfterID: c.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, b.ID, page[0].ID)

	messages, err := repo.List(ctx, ListFilter{Domains: []string{"message"}})
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestGORMRepository_MarkAsReadIsIdempotent(t *testing.T) {
	repo, _ := setupRepositoryTest(t)
	ctx := context.Background()
	n := seed(t, repo, "system", time.Now().UTC())
	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.MarkAsRead(ctx, "system", n.ID, first))
	require.NoError(t, repo.MarkAsRead(ctx, "system", n.ID, first.Add(time.Hour)))

	got, err := repo.FindByID(ctx, "system", n.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	require.NotNil(t, got.ReadAt)
	assert.True(t, first.Equal(*got.ReadAt), "the first read time is kept")
}

func TestGORMRepository_DomainIsPartOfIdentity(t *testing.T) {
	repo, _ := setupRepositoryTest(t)
	ctx := context.Background()
	n := seed(t, repo, "message", time.Now().UTC())

	err := repo.MarkAsRead(ctx, "order", n.ID, time.Now())
	apiErr, ok := common.IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, common.ErrNotFound.Code, apiErr.Code)

	err = repo.Delete(ctx, "order", n.ID)
	apiErr, ok = common.IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, common.ErrNotFound.Code, apiErr.Code)

	require.NoError(t, repo.Delete(ctx, "message", n.ID))
	_, err = repo.FindByID(ctx, "message", n.ID)
	assert.Error(t, err)
}

func TestGORMRepository_CountUnreadByDomain(t *testing.T) {
	repo, _ := setupRepositoryTest(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seed(t, repo, "message", now)
	seed(t, repo, "message", now)
	read := seed(t, repo, "promotion", now)
	seed(t, repo, "promotion", now)
	require.NoError(t, repo.MarkAsRead(ctx, "promotion", read.ID, now))

	counts, err := repo.CountUnreadByDomain(ctx)

	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"message": 2, "promotion": 1}, counts)
}

func TestGORMRepository_PurgeReadBefore(t *testing.T) {
	repo, _ := setupRepositoryTest(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	old := seed(t, repo, "order", now)
	recent := seed(t, repo, "order", now)
	seed(t, repo, "order", now)
	require.NoError(t, repo.MarkAsRead(ctx, "order", old.ID, now.Add(-48*time.Hour)))
	require.NoError(t, repo.MarkAsRead(ctx, "order", recent.ID, now.Add(-time.Hour)))

	purged, err := repo.PurgeReadBefore(ctx, now.Add(-24*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	remaining, err := repo.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}
