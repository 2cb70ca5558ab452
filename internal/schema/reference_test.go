package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinLookups(t *testing.T) {
	ref := NewBuiltin()

	assert.True(t, ref.HasDevice("AHU"))
	assert.True(t, ref.HasDevice("ahu"), "device type lookup is case-insensitive")
	assert.False(t, ref.HasDevice("SPACESHIP"))

	assert.True(t, ref.Has("AHU", "AHU_raw_temp_rat"))
	assert.False(t, ref.Has("AHU", "AHU_raw_nonsense"))
	assert.False(t, ref.Has("SPACESHIP", "AHU_raw_temp_rat"))

	assert.True(t, ref.HasSuffix("AHU", "temp_rat"))
	assert.False(t, ref.HasSuffix("AHU", "temp_xyz"))
}

func TestFullPathAndSuffixRoundTrip(t *testing.T) {
	ref := NewBuiltin()

	path := ref.FullPath("AHU", "temp_rat")
	assert.Equal(t, "AHU_raw_temp_rat", path)
	assert.Equal(t, "temp_rat", ref.Suffix("AHU", path))

	// Uncatalogued suffix yields no path.
	assert.Empty(t, ref.FullPath("AHU", "temp_xyz"))
	assert.Empty(t, ref.Suffix("AHU", "AHU_raw_temp_xyz"))
	assert.Empty(t, ref.FullPath("SPACESHIP", "temp_rat"))
}

func TestCategoryLookups(t *testing.T) {
	ref := NewBuiltin()

	assert.Equal(t, "temperature", ref.Category("AHU", "AHU_raw_temp_rat"))
	assert.Equal(t, "humidity", ref.Category("AHU", "AHU_raw_humidity_ra"))
	assert.Empty(t, ref.Category("AHU", "AHU_raw_bogus"))

	assert.True(t, ref.HasCategory("AHU", "temperature"))
	assert.True(t, ref.HasCategory("METER", "power"))
	assert.False(t, ref.HasCategory("METER", "humidity"))
}

func TestVocabularySortedAndLimited(t *testing.T) {
	ref := NewBuiltin()

	vocab := ref.Vocabulary("AHU", 0)
	require.Len(t, vocab, len(ref.Points("AHU")))
	assert.IsIncreasing(t, vocab)
	assert.Contains(t, vocab, "AHU_raw_temp_sat")

	limited := ref.Vocabulary("AHU", 5)
	assert.Len(t, limited, 5)
	assert.Equal(t, vocab[:5], limited)

	assert.Nil(t, ref.Vocabulary("SPACESHIP", 10))
}

func TestInferDeviceType(t *testing.T) {
	ref := NewBuiltin()

	cases := map[string]string{
		"AHU-1.Return_Air_Temp": "AHU",
		"AHU1_SAT":              "AHU",
		"fcu.3.SpaceTemp":       "FCU",
		"PUMP 2 Status":         "PUMP",
		"XYZ-99.Mystery":        "",
		"":                      "",
		"123.Temp":              "",
	}
	for name, want := range cases {
		assert.Equal(t, want, ref.InferDeviceType(name), "point %q", name)
	}
}

func TestLoadCatalogueFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	data := `devices:
  - device_type: VAV
    prefix: VAV_pt_
    points:
      - suffix: temp_zone
        category: temperature
        unit: degC
      - suffix: damper_pos
        category: position
        unit: "%"
  - device_type: AHU
    points:
      - suffix: temp_sat
        category: temperature
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	ref, err := Load(path)
	require.NoError(t, err)

	// Custom prefix is honored, default prefix is derived.
	assert.Equal(t, "VAV_pt_temp_zone", ref.FullPath("VAV", "temp_zone"))
	assert.Equal(t, "AHU_raw_temp_sat", ref.FullPath("AHU", "temp_sat"))

	// The file replaces the built-in catalogue entirely.
	assert.False(t, ref.HasDevice("CH"))
	assert.Equal(t, []string{"AHU", "VAV"}, ref.DeviceTypes())
}

func TestLoadEmptyPathFallsBackToBuiltin(t *testing.T) {
	ref, err := Load("")
	require.NoError(t, err)
	assert.True(t, ref.HasDevice("AHU"))
}

func TestLoadRejectsMalformedCatalogues(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"not yaml":       "{{{{",
		"no devices":     "devices: []",
		"empty type":     "devices:\n  - device_type: \"\"\n    points:\n      - suffix: x\n        category: y\n",
		"without points": "devices:\n  - device_type: AHU\n    points: []\n",
	}
	for name, data := range cases {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
		_, err := Load(path)
		assert.Error(t, err, "case %q", name)
	}

	_, err := Load(filepath.Join(dir, "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestReloadSwapsCatalogue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	v1 := "devices:\n  - device_type: AHU\n    points:\n      - suffix: temp_sat\n        category: temperature\n"
	require.NoError(t, os.WriteFile(path, []byte(v1), 0o644))

	ref, err := Load(path)
	require.NoError(t, err)
	assert.False(t, ref.HasSuffix("AHU", "temp_rat"))

	v2 := "devices:\n  - device_type: AHU\n    points:\n      - suffix: temp_sat\n        category: temperature\n      - suffix: temp_rat\n        category: temperature\n"
	require.NoError(t, os.WriteFile(path, []byte(v2), 0o644))
	require.NoError(t, ref.Reload())
	assert.True(t, ref.HasSuffix("AHU", "temp_rat"))
}

func TestReloadKeepsOldCatalogueOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	v1 := "devices:\n  - device_type: AHU\n    points:\n      - suffix: temp_sat\n        category: temperature\n"
	require.NoError(t, os.WriteFile(path, []byte(v1), 0o644))

	ref, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("devices: []"), 0o644))
	assert.Error(t, ref.Reload())
	assert.True(t, ref.HasSuffix("AHU", "temp_sat"), "failed reload must not clobber the live catalogue")
}
