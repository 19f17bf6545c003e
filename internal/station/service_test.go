package station

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/airwave/internal/db"
	"github.com/stwalsh4118/airwave/internal/logger"
	"github.com/stwalsh4118/airwave/internal/models"
	"github.com/stwalsh4118/airwave/internal/streaming"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()

	logger.Init("error", false)

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	sqlDB, err := database.GetSQLDB()
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(sqlDB, "file://../../migrations"))

	return NewService(database, db.NewRepositories(database), []string{"zeno.fm"})
}

func jazzInput() Input {
	return Input{
		Name:         " jazz ",
		DisplayName:  "Jazz FM",
		StreamURL:    "https://radio.example.org/jazz.mp3",
		SegmentedURL: "https://radio.example.org/jazz.m3u8",
		Mirrors:      []string{"https://mirror.example.org/jazz.mp3", "  "},
	}
}

func TestCreate_Success(t *testing.T) {
	s := setupTestService(t)

	st, err := s.Create(context.Background(), jazzInput())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, st.ID)
	assert.Equal(t, "jazz", st.Name)
	assert.Equal(t, models.ProviderAuto, st.Provider)
	assert.Equal(t, []string{"https://mirror.example.org/jazz.mp3"}, st.Mirrors)
	assert.False(t, st.CreatedAt.IsZero())
}

func TestCreate_Validation(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Input)
		want   error
	}{
		{"empty name", func(in *Input) { in.Name = "  " }, ErrInvalidName},
		{"missing stream url", func(in *Input) { in.StreamURL = "" }, ErrInvalidURL},
		{"relative url", func(in *Input) { in.StreamURL = "/jazz.mp3" }, ErrInvalidURL},
		{"bad mirror", func(in *Input) { in.Mirrors = []string{"ftp://m.example.org/a"} }, ErrInvalidURL},
		{"bad provider", func(in *Input) { in.Provider = "magic" }, ErrInvalidProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := jazzInput()
			tt.mutate(&in)
			_, err := s.Create(ctx, in)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestCreate_DuplicateNameIsCaseInsensitive(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	_, err := s.Create(ctx, jazzInput())
	require.NoError(t, err)

	in := jazzInput()
	in.Name = "JAZZ"
	_, err = s.Create(ctx, in)
	assert.True(t, IsDuplicateName(err))
}

func TestGetUpdateDelete(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	st, err := s.Create(ctx, jazzInput())
	require.NoError(t, err)

	in := jazzInput()
	in.Name = "smooth-jazz"
	in.SegmentedURL = ""
	in.Provider = "static"
	updated, err := s.Update(ctx, st.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "smooth-jazz", updated.Name)

	got, err := s.GetByName(ctx, "smooth-jazz")
	require.NoError(t, err)
	assert.Equal(t, "", got.SegmentedURL)
	assert.Equal(t, models.ProviderStatic, got.Provider)

	require.NoError(t, s.Delete(ctx, st.ID))
	_, err = s.GetByID(ctx, st.ID)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(s.Delete(ctx, st.ID)))

	_, err = s.Update(ctx, uuid.New(), jazzInput())
	assert.True(t, IsNotFound(err))
}

func TestUpdate_RenameToExistingName(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	_, err := s.Create(ctx, jazzInput())
	require.NoError(t, err)
	rock := jazzInput()
	rock.Name = "rock"
	other, err := s.Create(ctx, rock)
	require.NoError(t, err)

	rock.Name = "Jazz"
	_, err = s.Update(ctx, other.ID, rock)
	assert.True(t, IsDuplicateName(err))
}

func TestEnsureDefault(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	in := Input{Name: "default", StreamURL: "https://stream.zeno.fm/abc123"}
	st, created, err := s.EnsureDefault(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)

	in.StreamURL = "https://stream.zeno.fm/def456"
	again, created, err := s.EnsureDefault(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, st.ID, again.ID)
	assert.Equal(t, "https://stream.zeno.fm/def456", again.StreamURL)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, _, err = s.EnsureDefault(ctx, Input{Name: "default"})
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestSource(t *testing.T) {
	s := NewService(nil, nil, []string{"zeno.fm"})

	tests := []struct {
		name     string
		provider string
		url      string
		token    bool
	}{
		{"auto detects token host", models.ProviderAuto, "https://stream.zeno.fm/abc123", true},
		{"auto static host", models.ProviderAuto, "https://radio.example.org/live.mp3", false},
		{"forced token", models.ProviderToken, "https://radio.example.org/live", true},
		{"forced static", models.ProviderStatic, "https://stream.zeno.fm/abc123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := models.NewStation("x", tt.url)
			st.Provider = tt.provider
			st.Mirrors = []string{"https://mirror.example.org/a"}

			src := s.Source(st)
			assert.Equal(t, tt.token, src.TokenBearing)
			assert.Equal(t, tt.url, src.StreamURL)
			assert.Equal(t, st.Mirrors, src.Mirrors)
		})
	}
}

func TestLookup(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	st, err := s.Create(ctx, Input{
		Name:              "zeno",
		StreamURL:         "https://stream.zeno.fm/abc123",
		ExternalPlayerURL: "https://zeno.fm/radio/abc123",
	})
	require.NoError(t, err)

	cfg, err := s.Lookup(ctx, st.ID.String())
	require.NoError(t, err)
	assert.Equal(t, st.ID.String(), cfg.ID)
	assert.True(t, cfg.Source.TokenBearing)
	assert.Equal(t, "https://zeno.fm/radio/abc123", cfg.ExternalPlayerURL)

	_, err = s.Lookup(ctx, uuid.NewString())
	assert.ErrorIs(t, err, streaming.ErrUnknownStation)
	_, err = s.Lookup(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, streaming.ErrUnknownStation)
}
