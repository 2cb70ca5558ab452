package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"enmap/internal/config"
	"enmap/internal/task"
	"enmap/internal/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Inference.Provider = "none"
	cfg.Memory.DatabasePath = filepath.Join(dir, "patterns.db")
	cfg.Engine.TaskDatabasePath = filepath.Join(dir, "tasks.db")
	cfg.Engine.PerPointBudget = "2s"
	cfg.Reflection.Async = false
	return cfg
}

func TestEngineEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	ctx := context.Background()
	eng, err := New(ctx, testConfig(t))
	require.NoError(t, err)

	// Seed a pattern so at least one point resolves without inference.
	eng.Memory.Upsert(types.Pattern{
		DeviceType: "AHU", SourceNgram: "returnairtemp", TargetSuffix: "temp_rat",
		UsageCount: 5, SuccessCount: 5,
	})

	points := []types.RawPoint{
		{PointName: "AHU-1.ReturnAirTemp", DeviceType: "AHU", DeviceID: "AHU-1", Unit: "degF"},
		{PointName: "XYZ_unknown_123"},
	}
	finished, err := eng.Orchestrator.RunSync(ctx, task.Request{Points: points})
	require.NoError(t, err)

	require.Equal(t, types.TaskCompleted, finished.Status)
	require.Len(t, finished.Results, 2)

	first := finished.Results[0]
	require.Equal(t, types.StatusMapped, first.Status)
	assert.Equal(t, "AHU_raw_temp_rat", first.Selected.TargetPath)
	assert.Equal(t, types.StrategyDirectPattern, first.Selected.Strategy)
	require.NotNil(t, first.Quality)
	assert.GreaterOrEqual(t, first.Quality.Level.Rank(), types.QualityGood.Rank())

	// With inference disabled the unknown point must still get a status.
	second := finished.Results[1]
	assert.Contains(t, []types.MappingStatus{types.StatusMapped, types.StatusUnmapped}, second.Status)

	require.NoError(t, eng.Close())
}

func TestEngineStatePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	eng, err := New(ctx, cfg)
	require.NoError(t, err)
	eng.Memory.Upsert(types.Pattern{
		DeviceType: "AHU", SourceNgram: "returnairtemp", TargetSuffix: "temp_rat",
		UsageCount: 5, SuccessCount: 5,
	})

	finished, err := eng.Orchestrator.RunSync(ctx, task.Request{
		Points: []types.RawPoint{{PointName: "AHU-1.ReturnAirTemp", DeviceType: "AHU", DeviceID: "AHU-1"}},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	reopened, err := New(ctx, cfg)
	require.NoError(t, err)
	defer reopened.Close()

	// Task snapshot survives the restart.
	got, err := reopened.Orchestrator.Status(finished.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.Status)
	assert.Len(t, got.Results, 1)

	// Learned patterns were flushed and hydrate back.
	candidates := reopened.Memory.FindCandidates(types.RawPoint{PointName: "AHU-2.ReturnAirTemp"}, "AHU")
	require.NotEmpty(t, candidates)
	assert.Equal(t, "temp_rat", candidates[0].TargetSuffix)
}

func TestEngineRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Inference.Provider = "carrier-pigeon"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
