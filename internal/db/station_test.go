package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stwalsh4118/airwave/internal/logger"
	"github.com/stwalsh4118/airwave/internal/models"
)

const testMigrations = "file://../../migrations"

func setupTestDB(t *testing.T) (*DB, *Repositories) {
	t.Helper()

	logger.Init("error", false)

	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	sqlDB, err := database.GetSQLDB()
	require.NoError(t, err)
	require.NoError(t, RunMigrations(sqlDB, testMigrations))

	return database, NewRepositories(database)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	database, _ := setupTestDB(t)
	sqlDB, err := database.GetSQLDB()
	require.NoError(t, err)

	require.NoError(t, RunMigrations(sqlDB, testMigrations))

	version, dirty, err := SchemaVersion(sqlDB, testMigrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestStationRepository_CRUD(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()

	station := models.NewStation("jazz", "https://stream.zeno.fm/abc123")
	station.DisplayName = "Jazz FM"
	station.Mirrors = []string{"https://mirror.example.org/jazz.mp3"}
	require.NoError(t, repos.Stations.Create(ctx, station))

	got, err := repos.Stations.GetByID(ctx, station.ID)
	require.NoError(t, err)
	assert.Equal(t, "jazz", got.Name)
	assert.Equal(t, "Jazz FM", got.Label())
	assert.Equal(t, []string{"https://mirror.example.org/jazz.mp3"}, got.Mirrors)
	assert.Equal(t, models.ProviderAuto, got.Provider)

	byName, err := repos.Stations.GetByName(ctx, "jazz")
	require.NoError(t, err)
	assert.Equal(t, station.ID, byName.ID)

	got.DisplayName = ""
	got.Mirrors = nil
	got.Provider = models.ProviderToken
	require.NoError(t, repos.Stations.Update(ctx, got))

	updated, err := repos.Stations.GetByID(ctx, station.ID)
	require.NoError(t, err)
	assert.Equal(t, "", updated.DisplayName, "zero values are written")
	assert.Empty(t, updated.Mirrors)
	assert.Equal(t, models.ProviderToken, updated.Provider)

	require.NoError(t, repos.Stations.Delete(ctx, station.ID))
	_, err = repos.Stations.GetByID(ctx, station.ID)
	assert.True(t, IsNotFound(err))
}

func TestStationRepository_NilMirrors(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()

	station := models.NewStation("news", "https://radio.example.org/news.mp3")
	station.Mirrors = nil
	require.NoError(t, repos.Stations.Create(ctx, station))

	got, err := repos.Stations.GetByID(ctx, station.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Mirrors)
}

func TestStationRepository_DuplicateName(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repos.Stations.Create(ctx, models.NewStation("rock", "https://a.example.org/rock.mp3")))
	err := repos.Stations.Create(ctx, models.NewStation("rock", "https://b.example.org/rock.mp3"))
	assert.True(t, IsDuplicate(err), "got %v", err)
}

func TestStationRepository_NotFound(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()

	_, err := repos.Stations.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	missing := models.NewStation("ghost", "https://a.example.org/ghost.mp3")
	assert.ErrorIs(t, repos.Stations.Update(ctx, missing), ErrNotFound)
	assert.ErrorIs(t, repos.Stations.Delete(ctx, uuid.New()), ErrNotFound)
}

func TestStationRepository_ListAndCount(t *testing.T) {
	_, repos := setupTestDB(t)
	ctx := context.Background()

	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, repos.Stations.Create(ctx, models.NewStation(name, "https://a.example.org/"+name)))
	}

	list, err := repos.Stations.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "c", list[2].Name)

	n, err := repos.Stations.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestWithTransaction_RollsBack(t *testing.T) {
	database, repos := setupTestDB(t)
	ctx := context.Background()

	err := database.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(models.NewStation("temp", "https://a.example.org/t")).Error; err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	n, err := repos.Stations.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMapGormError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"not found", gorm.ErrRecordNotFound, ErrNotFound},
		{"unique", errors.New("UNIQUE constraint failed: stations.name"), ErrDuplicate},
		{"foreign key", errors.New("FOREIGN KEY constraint failed"), ErrForeignKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapGormError(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}

	other := fmt.Errorf("disk I/O error")
	assert.Equal(t, other, MapGormError(other))
}

func TestHealth(t *testing.T) {
	database, _ := setupTestDB(t)
	assert.NoError(t, database.Health(context.Background()))
}
