package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enmap/internal/types"
)

func mappedResult(name string) types.MappingResult {
	return types.MappingResult{
		Original: types.RawPoint{PointName: name, DeviceType: "AHU", DeviceID: "AHU-1"},
		Status:   types.StatusMapped,
		Selected: &types.MappingCandidate{TargetPath: "AHU_raw_temp_rat", Confidence: 0.9},
	}
}

func TestPutAndGet(t *testing.T) {
	c := New(8, time.Minute)

	g := DeviceGroup{DeviceType: "AHU", DeviceID: "AHU-1", Results: []types.MappingResult{mappedResult("p1")}}
	require.NoError(t, c.Put("AHU|AHU-1", g))

	got, ok := c.Get("AHU|AHU-1")
	require.True(t, ok)
	assert.Equal(t, "AHU", got.DeviceType)
	assert.Len(t, got.Results, 1)
	assert.False(t, got.UpdatedAt.IsZero())

	_, ok = c.Get("AHU|AHU-2")
	assert.False(t, ok)
}

func TestPutRejectsMalformedGroups(t *testing.T) {
	c := New(8, 0)
	valid := DeviceGroup{DeviceType: "AHU", DeviceID: "AHU-1", Results: []types.MappingResult{}}

	cases := []struct {
		name  string
		key   string
		group DeviceGroup
	}{
		{"empty key", "", valid},
		{"empty device type", "k", DeviceGroup{DeviceID: "AHU-1", Results: []types.MappingResult{}}},
		{"nil results", "k", DeviceGroup{DeviceType: "AHU", DeviceID: "AHU-1"}},
		{"result without status", "k", DeviceGroup{DeviceType: "AHU", DeviceID: "AHU-1", Results: []types.MappingResult{{}}}},
	}
	for _, tc := range cases {
		err := c.Put(tc.key, tc.group)
		require.Error(t, err, tc.name)
		var verr *types.ValidationError
		assert.True(t, errors.As(err, &verr), "%s: want ValidationError, got %T", tc.name, err)
	}
	assert.Equal(t, 0, c.Len(), "rejected groups must not be stored")
}

func TestGetReturnsCopy(t *testing.T) {
	c := New(8, 0)
	require.NoError(t, c.Put("k", DeviceGroup{DeviceType: "AHU", DeviceID: "AHU-1", Results: []types.MappingResult{mappedResult("p1")}}))

	got, ok := c.Get("k")
	require.True(t, ok)
	got.Results[0].Status = types.StatusError

	again, _ := c.Get("k")
	assert.Equal(t, types.StatusMapped, again.Results[0].Status, "mutating a returned group must not touch the cached value")
}

func TestTTLExpiry(t *testing.T) {
	c := New(8, 20*time.Millisecond)
	require.NoError(t, c.Put("k", DeviceGroup{DeviceType: "AHU", DeviceID: "AHU-1", Results: []types.MappingResult{}}))

	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry past TTL must miss")
	assert.Equal(t, 0, c.Len())
}

func TestEvictionAtCapacity(t *testing.T) {
	c := New(3, 0)
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, c.Put(key, DeviceGroup{DeviceType: "AHU", DeviceID: key, Results: []types.MappingResult{}}))
	}
	assert.Equal(t, 3, c.Len())

	// Oldest inserts are gone, newest survive.
	_, ok := c.Get("k0")
	assert.False(t, ok)
	_, ok = c.Get("k1")
	assert.False(t, ok)
	_, ok = c.Get("k4")
	assert.True(t, ok)

	_, _, evictions := c.Stats()
	assert.EqualValues(t, 2, evictions)
}

func TestAppendCreatesAndGrowsGroup(t *testing.T) {
	c := New(8, 0)

	require.NoError(t, c.Append("AHU|AHU-1", "AHU", "AHU-1", mappedResult("p1")))
	require.NoError(t, c.Append("AHU|AHU-1", "AHU", "AHU-1", mappedResult("p2")))

	g, ok := c.Get("AHU|AHU-1")
	require.True(t, ok)
	assert.Len(t, g.Results, 2)
	assert.Equal(t, "p1", g.Results[0].Original.PointName)
	assert.Equal(t, "p2", g.Results[1].Original.PointName)
}

// Run with -race: every concurrent append to the same device key must land.
func TestAppendConcurrentLosesNoResults(t *testing.T) {
	c := New(8, 0)

	const appends = 64
	var wg sync.WaitGroup
	for i := 0; i < appends; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := c.Append("AHU|AHU-1", "AHU", "AHU-1", mappedResult(fmt.Sprintf("p%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	g, ok := c.Get("AHU|AHU-1")
	require.True(t, ok)
	assert.Len(t, g.Results, appends, "concurrent appends must not drop sibling results")
}

func TestStatsCounters(t *testing.T) {
	c := New(8, 0)
	require.NoError(t, c.Put("k", DeviceGroup{DeviceType: "AHU", DeviceID: "AHU-1", Results: []types.MappingResult{}}))

	c.Get("k")
	c.Get("k")
	c.Get("missing")

	hits, misses, _ := c.Stats()
	assert.EqualValues(t, 2, hits)
	assert.EqualValues(t, 1, misses)
}

func TestClear(t *testing.T) {
	c := New(8, 0)
	require.NoError(t, c.Put("k", DeviceGroup{DeviceType: "AHU", DeviceID: "AHU-1", Results: []types.MappingResult{}}))
	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("k")
	assert.False(t, ok)
}
