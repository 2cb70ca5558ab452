package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	v1 := "devices:\n  - device_type: AHU\n    points:\n      - suffix: temp_sat\n        category: temperature\n"
	require.NoError(t, os.WriteFile(path, []byte(v1), 0o644))

	ref, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(ref)
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	v2 := "devices:\n  - device_type: AHU\n    points:\n      - suffix: temp_sat\n        category: temperature\n      - suffix: temp_rat\n        category: temperature\n"
	require.NoError(t, os.WriteFile(path, []byte(v2), 0o644))

	require.Eventually(t, func() bool {
		return ref.HasSuffix("AHU", "temp_rat")
	}, 5*time.Second, 50*time.Millisecond, "catalogue change should be picked up")
	assert.GreaterOrEqual(t, w.Reloads(), 1)
}

func TestWatcherStartIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	v1 := "devices:\n  - device_type: AHU\n    points:\n      - suffix: temp_sat\n        category: temperature\n"
	require.NoError(t, os.WriteFile(path, []byte(v1), 0o644))

	ref, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(ref)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx))
	w.Stop()
	w.Stop()
}
