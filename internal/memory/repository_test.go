package memory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enmap/internal/config"
	"enmap/internal/types"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := OpenSQLiteRepository(filepath.Join(t.TempDir(), "patterns.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepositoryRoundTrip(t *testing.T) {
	repo := openTestRepo(t)

	now := time.Now().Truncate(time.Second)
	err := repo.SavePatterns([]types.Pattern{
		{DeviceType: "AHU", SourceNgram: "returnairtemp", TargetSuffix: "temp_rat", Confidence: 0.9, UsageCount: 9, SuccessCount: 9, LastUpdated: now},
		{DeviceType: "CH", SourceNgram: "chwsupply", TargetSuffix: "temp_chws", Confidence: 0.7, UsageCount: 4, SuccessCount: 3, LastUpdated: now},
	})
	require.NoError(t, err)

	ahu, err := repo.LoadPatterns("AHU")
	require.NoError(t, err)
	require.Len(t, ahu, 1)
	assert.Equal(t, "temp_rat", ahu[0].TargetSuffix)
	assert.Equal(t, 9, ahu[0].UsageCount)
	assert.NotEmpty(t, ahu[0].ID, "save should assign an ID")

	all, err := repo.LoadPatterns("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteRepositoryUpsertReplacesCounts(t *testing.T) {
	repo := openTestRepo(t)

	base := types.Pattern{DeviceType: "AHU", SourceNgram: "fanstatus", TargetSuffix: "status_fan", Confidence: 0.6, UsageCount: 2, SuccessCount: 1}
	require.NoError(t, repo.SavePatterns([]types.Pattern{base}))

	// Second save for the same key carries the already-merged totals.
	base.UsageCount = 7
	base.SuccessCount = 5
	base.Confidence = 0.66
	require.NoError(t, repo.SavePatterns([]types.Pattern{base}))

	got, err := repo.LoadPatterns("AHU")
	require.NoError(t, err)
	require.Len(t, got, 1, "collision must merge, not duplicate")
	assert.Equal(t, 7, got[0].UsageCount)
	assert.Equal(t, 5, got[0].SuccessCount)
	assert.InDelta(t, 0.66, got[0].Confidence, 1e-9)
}

func TestMemoryHydratesFromRepository(t *testing.T) {
	repo := openTestRepo(t)
	require.NoError(t, repo.SavePatterns([]types.Pattern{
		{DeviceType: "AHU", SourceNgram: "mixedair", TargetSuffix: "temp_mat", Confidence: 0.8, UsageCount: 5, SuccessCount: 4, LastUpdated: time.Now()},
	}))

	m := New(repo, config.DefaultConfig().Memory)
	got := m.FindCandidates(types.RawPoint{PointName: "AHU-3.MixedAirTemp"}, "AHU")
	require.Len(t, got, 1)
	assert.Equal(t, "temp_mat", got[0].TargetSuffix)
}

func TestMemoryFlushPersists(t *testing.T) {
	repo := openTestRepo(t)
	m := New(repo, config.DefaultConfig().Memory)

	m.Upsert(types.Pattern{DeviceType: "PUMP", SourceNgram: "runstatus", TargetSuffix: "status_run", UsageCount: 3, SuccessCount: 3})
	require.NoError(t, m.Flush())

	fresh := New(repo, config.DefaultConfig().Memory)
	got := fresh.FindCandidates(types.RawPoint{PointName: "PUMP-1.RunStatus"}, "PUMP")
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].UsageCount)
}
