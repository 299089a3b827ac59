package database

import (
	"testing"

	"notification_hub_backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

type widget struct {
	ID   uint
	Name string
}

func TestNewGORM_SQLite(t *testing.T) {
	db, err := NewGORM(&config.Config{DBDriver: "sqlite", DBSource: "file::memory:", LogLevel: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { CloseGORMDB(db) })

	require.NoError(t, AutoMigrate(db, &widget{}))
	require.NoError(t, db.Create(&widget{Name: "a"}).Error)

	var count int64
	require.NoError(t, db.Model(&widget{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, gormLogLevel("fatal"))
	assert.Equal(t, gormlogger.Error, gormLogLevel("error"))
	assert.Equal(t, gormlogger.Info, gormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, gormLogLevel(""))
}
