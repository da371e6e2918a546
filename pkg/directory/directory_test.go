package directory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tokmz/rtguard/pkg/logger"
	"github.com/tokmz/rtguard/pkg/orm"
)

func newDirectory(t *testing.T) *Directory {
	t.Helper()
	db, err := orm.Open(&orm.Config{Type: orm.SQLite, DSN: "file::memory:", MaxOpenConns: 1}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = orm.Close(db) })

	d := New(db, logger.NewNop())
	require.NoError(t, d.AutoMigrate(context.Background()))
	return d
}

func TestFindUser(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)

	require.NoError(t, d.Upsert(ctx, &User{ID: 1, DisplayName: "Ada", Role: "admin", Active: true}))
	require.NoError(t, d.Upsert(ctx, &User{ID: 2, DisplayName: "Bob", Role: "user", Active: false}))

	u, ok, err := d.FindUser(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", u.DisplayName)
	assert.Equal(t, "admin", u.Role)
	assert.True(t, u.Active)

	u, ok, err = d.FindUser(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, u.Active)

	u, ok, err = d.FindUser(ctx, 99)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, u)

	_, ok, err = d.FindUser(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)

	require.NoError(t, d.Upsert(ctx, &User{ID: 5, DisplayName: "Eve", Role: "user", Active: true}))
	require.NoError(t, d.Upsert(ctx, &User{ID: 5, DisplayName: "Eve", Role: "admin", Active: true}))

	u, ok, err := d.FindUser(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "admin", u.Role)
}

func TestSetActive(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)
	require.NoError(t, d.Upsert(ctx, &User{ID: 3, Role: "user", Active: true}))

	require.NoError(t, d.SetActive(ctx, 3, false))
	u, _, err := d.FindUser(ctx, 3)
	require.NoError(t, err)
	assert.False(t, u.Active)

	assert.ErrorIs(t, d.SetActive(ctx, 404, false), gorm.ErrRecordNotFound)
}

func TestFindUserConcurrentCopies(t *testing.T) {
	ctx := context.Background()
	d := newDirectory(t)
	require.NoError(t, d.Upsert(ctx, &User{ID: 9, DisplayName: "Neo", Role: "user", Active: true}))

	var wg sync.WaitGroup
	users := make([]*User, 16)
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, ok, err := d.FindUser(ctx, 9)
			assert.NoError(t, err)
			assert.True(t, ok)
			users[i] = u
		}(i)
	}
	wg.Wait()

	users[0].DisplayName = "changed"
	for _, u := range users[1:] {
		assert.Equal(t, "Neo", u.DisplayName)
	}
}

func TestFindUserDatabaseClosed(t *testing.T) {
	db, err := orm.Open(&orm.Config{Type: orm.SQLite, DSN: "file::memory:", MaxOpenConns: 1}, logger.NewNop())
	require.NoError(t, err)
	d := New(db, nil)
	require.NoError(t, orm.Close(db))

	_, ok, err := d.FindUser(context.Background(), 1)
	assert.False(t, ok)
	assert.Error(t, err)
}
