package service

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mem-analysis/internal/testutil"
	"github.com/mem-analysis/pkg/config"
	apperrors "github.com/mem-analysis/pkg/errors"
	"github.com/mem-analysis/pkg/utils"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.LocalPath = filepath.Join(testutil.TempDir(t), "storage")
	cfg.Database.Path = filepath.Join(testutil.TempDir(t), "snapshots.db")
	cfg.Server.Port = 0
	return cfg
}

func TestService_New(t *testing.T) {
	t.Run("WithLogger", func(t *testing.T) {
		logger := utils.NewDefaultLogger(utils.LevelInfo, nil)
		svc, err := New(config.Default(), "test", logger)
		require.NoError(t, err)
		require.NotNil(t, svc)
		assert.False(t, svc.IsRunning())
		assert.Nil(t, svc.Session())
		assert.Nil(t, svc.Handler())
	})

	t.Run("WithoutLogger", func(t *testing.T) {
		svc, err := New(config.Default(), "test", nil)
		require.NoError(t, err)
		require.NotNil(t, svc)
	})

	t.Run("WithoutConfig", func(t *testing.T) {
		_, err := New(nil, "test", nil)
		assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
	})
}

func TestOpenTarget(t *testing.T) {
	ctx := context.Background()

	t.Run("LocalFile", func(t *testing.T) {
		snap, err := OpenTarget(ctx, &config.TargetConfig{Snapshot: testutil.WriteSampleManifest(t)}, nil)
		require.NoError(t, err)
		assert.False(t, snap.Is32Bit())
		mods, err := snap.NativeModules()
		require.NoError(t, err)
		require.Len(t, mods, 1)
		assert.Equal(t, "app", mods[0].Name)
	})

	t.Run("StorageKey", func(t *testing.T) {
		cfg := testConfig(t)
		archive, err := NewArchive(&cfg.Storage)
		require.NoError(t, err)
		_, err = archive.PutSnapshot(ctx, "crash.yaml", bytes.NewReader([]byte(testutil.SampleManifest)))
		require.NoError(t, err)

		snap, err := OpenTarget(ctx, &config.TargetConfig{StorageKey: "crash.yaml"}, archive)
		require.NoError(t, err)
		info, err := snap.QueryRegion(0x600000)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x2000), info.RegionSize)
	})

	t.Run("StorageKeyWithoutStorage", func(t *testing.T) {
		_, err := OpenTarget(ctx, &config.TargetConfig{StorageKey: "crash.yaml"}, nil)
		assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
	})

	t.Run("NothingConfigured", func(t *testing.T) {
		_, err := OpenTarget(ctx, &config.TargetConfig{}, nil)
		assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
	})
}

func TestNewArchive_RejectsUnknownCodec(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Compression = "lz4"
	_, err := NewArchive(&cfg.Storage)
	assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
}

func TestService_InitializeServesAPI(t *testing.T) {
	cfg := testConfig(t)
	cfg.Target.Snapshot = testutil.WriteSampleManifest(t)
	cfg.Database.Enabled = true

	svc, err := New(cfg, "test", &utils.NullLogger{})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx))
	defer svc.Stop(ctx)

	h := svc.Handler()
	require.NotNil(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/query?address=401010", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"description":"app .text"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/snapshots?name=first", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshots", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"first"`)

	stats := svc.Stats()
	assert.True(t, stats.Snapshots)
	assert.Equal(t, 1, stats.MapBuilds)
	assert.False(t, stats.MapBuiltAt.IsZero())
	assert.NoError(t, svc.HealthCheck(ctx))
}

func TestService_InitializeFailsWithoutTarget(t *testing.T) {
	svc, err := New(testConfig(t), "test", &utils.NullLogger{})
	require.NoError(t, err)
	err = svc.Initialize(context.Background())
	assert.Error(t, err)
	assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
}

func TestService_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Target.Snapshot = testutil.WriteSampleManifest(t)

	svc, err := New(cfg, "test", &utils.NullLogger{})
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(context.Background()))
	defer svc.Stop(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	assert.Eventually(t, svc.IsRunning, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, svc.IsRunning())
}

func TestService_RunRequiresInitialize(t *testing.T) {
	svc, err := New(config.Default(), "test", nil)
	require.NoError(t, err)
	assert.Error(t, svc.Run(context.Background()))
}
