package task

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enmap/internal/types"
)

func sampleTask(id string, status types.TaskStatus) *types.BatchTask {
	return &types.BatchTask{
		TaskID:       id,
		Status:       status,
		TotalPoints:  2,
		TotalBatches: 1,
		Results: []types.MappingResult{
			{
				Original: types.RawPoint{PointName: "AHU-1.ReturnAirTemp", DeviceType: "AHU", DeviceID: "AHU-1"},
				Status:   types.StatusMapped,
				Selected: &types.MappingCandidate{TargetPath: "AHU_raw_temp_rat", Confidence: 0.9, Strategy: types.StrategyDirectPattern},
			},
			{
				Original: types.RawPoint{PointName: "XYZ_unknown"},
				Status:   types.StatusUnmapped,
			},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Put(sampleTask("t1", types.TaskProcessing)))

	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskProcessing, got.Status)
	assert.Len(t, got.Results, 2)

	// Mutating the returned snapshot must not leak back into the store.
	got.Status = types.TaskFailed
	again, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskProcessing, again.Status)
}

func TestMemoryStoreUnknownTask(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryStoreRejectsEmptyTaskID(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	assert.Error(t, s.Put(nil))
	assert.Error(t, s.Put(&types.BatchTask{}))
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	want := sampleTask("t1", types.TaskCompleted)
	want.Progress = 1.0
	require.NoError(t, s.Put(want))

	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.Status)
	assert.Equal(t, 1.0, got.Progress)
	require.Len(t, got.Results, 2)
	assert.Equal(t, "AHU_raw_temp_rat", got.Results[0].Selected.TargetPath)
	assert.Equal(t, types.StatusUnmapped, got.Results[1].Status)

	_, err = s.Get("absent")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestSQLiteStoreLastPutWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(sampleTask("t1", types.TaskPending)))
	require.NoError(t, s.Put(sampleTask("t1", types.TaskProcessing)))
	require.NoError(t, s.Put(sampleTask("t1", types.TaskCompleted)))

	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.Status)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")

	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(sampleTask("t1", types.TaskCompleted)))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.Status)
}

func TestOpenSQLiteStoreCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "tasks.db")
	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	s.Close()

	_, err = OpenSQLiteStore("")
	assert.Error(t, err)
}
