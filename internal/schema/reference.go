// Package schema provides the read-only target schema reference: the
// catalogue of valid EnOS target paths per device type. The strategy pipeline
// consults it to reject out-of-vocabulary inference results and the quality
// assessor for its schema-completeness dimension.
//
// A catalogue can be loaded from a YAML file and optionally hot-reloaded when
// the file changes; with no file configured the built-in catalogue is used.
package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"enmap/internal/logging"
)

// PointDef describes one valid target point within a device schema.
type PointDef struct {
	// Suffix is the canonical target suffix, e.g. "temp_rat".
	Suffix string `yaml:"suffix"`

	// Category is the semantic category: temperature, status, pressure, ...
	Category string `yaml:"category"`

	// Unit is the expected engineering unit family (informational).
	Unit string `yaml:"unit,omitempty"`

	Description string `yaml:"description,omitempty"`
}

// DeviceSchema is the catalogue entry for one device type.
type DeviceSchema struct {
	// DeviceType is the canonical device type key, e.g. "AHU".
	DeviceType string `yaml:"device_type"`

	// Prefix is the naming-convention prefix; full target path is
	// Prefix + Suffix. Defaults to "<DeviceType>_raw_".
	Prefix string `yaml:"prefix,omitempty"`

	Points []PointDef `yaml:"points"`
}

// Catalogue is the YAML file shape.
type Catalogue struct {
	Devices []DeviceSchema `yaml:"devices"`
}

// Reference is the in-process view of the catalogue. Reads take a snapshot
// under RLock; Reload swaps the whole device map.
type Reference struct {
	mu      sync.RWMutex
	devices map[string]*deviceIndex
	path    string
}

// deviceIndex is a lookup-optimized DeviceSchema.
type deviceIndex struct {
	schema   DeviceSchema
	prefix   string
	bySuffix map[string]PointDef
	byPath   map[string]PointDef
}

// NewBuiltin returns a Reference over the built-in catalogue.
func NewBuiltin() *Reference {
	r := &Reference{devices: make(map[string]*deviceIndex)}
	r.install(builtinCatalogue())
	return r
}

// Load reads a catalogue from a YAML file. An empty path returns the
// built-in catalogue.
func Load(path string) (*Reference, error) {
	if path == "" {
		return NewBuiltin(), nil
	}

	r := &Reference{devices: make(map[string]*deviceIndex), path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the catalogue file and swaps the device map.
func (r *Reference) Reload() error {
	if r.path == "" {
		return nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read schema catalogue: %w", err)
	}

	var cat Catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return fmt.Errorf("failed to parse schema catalogue: %w", err)
	}
	if len(cat.Devices) == 0 {
		return fmt.Errorf("schema catalogue %s defines no devices", r.path)
	}
	for _, d := range cat.Devices {
		if d.DeviceType == "" {
			return fmt.Errorf("schema catalogue %s: device with empty device_type", r.path)
		}
		if len(d.Points) == 0 {
			return fmt.Errorf("schema catalogue %s: device %s has no points", r.path, d.DeviceType)
		}
	}

	r.install(cat)
	logging.Schema("Catalogue loaded from %s: %d device types", r.path, len(cat.Devices))
	return nil
}

func (r *Reference) install(cat Catalogue) {
	devices := make(map[string]*deviceIndex, len(cat.Devices))
	for _, d := range cat.Devices {
		prefix := d.Prefix
		if prefix == "" {
			prefix = strings.ToUpper(d.DeviceType) + "_raw_"
		}
		idx := &deviceIndex{
			schema:   d,
			prefix:   prefix,
			bySuffix: make(map[string]PointDef, len(d.Points)),
			byPath:   make(map[string]PointDef, len(d.Points)),
		}
		for _, p := range d.Points {
			idx.bySuffix[p.Suffix] = p
			idx.byPath[prefix+p.Suffix] = p
		}
		devices[canonicalType(d.DeviceType)] = idx
	}

	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()
}

func canonicalType(deviceType string) string {
	return strings.ToUpper(strings.TrimSpace(deviceType))
}

// HasDevice reports whether the device type is catalogued.
func (r *Reference) HasDevice(deviceType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[canonicalType(deviceType)]
	return ok
}

// Has reports whether targetPath is a valid target for the device type.
// The hard 0/1 schema-completeness check.
func (r *Reference) Has(deviceType, targetPath string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.devices[canonicalType(deviceType)]
	if !ok {
		return false
	}
	_, ok = idx.byPath[targetPath]
	return ok
}

// HasSuffix reports whether the suffix is valid for the device type.
func (r *Reference) HasSuffix(deviceType, suffix string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.devices[canonicalType(deviceType)]
	if !ok {
		return false
	}
	_, ok = idx.bySuffix[suffix]
	return ok
}

// FullPath joins the device's prefix convention with a target suffix.
// Returns "" when the suffix is not catalogued for the device type.
func (r *Reference) FullPath(deviceType, suffix string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.devices[canonicalType(deviceType)]
	if !ok {
		return ""
	}
	if _, ok := idx.bySuffix[suffix]; !ok {
		return ""
	}
	return idx.prefix + suffix
}

// Prefix returns the naming-convention prefix for a device type.
func (r *Reference) Prefix(deviceType string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.devices[canonicalType(deviceType)]
	if !ok {
		return ""
	}
	return idx.prefix
}

// Suffix strips the device prefix from a full target path.
// Returns "" when the path does not belong to the device's vocabulary.
func (r *Reference) Suffix(deviceType, targetPath string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.devices[canonicalType(deviceType)]
	if !ok {
		return ""
	}
	if _, ok := idx.byPath[targetPath]; !ok {
		return ""
	}
	return strings.TrimPrefix(targetPath, idx.prefix)
}

// Category returns the semantic category of a target path for the device
// type, or "" when unknown.
func (r *Reference) Category(deviceType, targetPath string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.devices[canonicalType(deviceType)]
	if !ok {
		return ""
	}
	p, ok := idx.byPath[targetPath]
	if !ok {
		return ""
	}
	return p.Category
}

// HasCategory reports whether the device type defines any point of the
// given semantic category.
func (r *Reference) HasCategory(deviceType, category string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.devices[canonicalType(deviceType)]
	if !ok {
		return false
	}
	for _, p := range idx.bySuffix {
		if p.Category == category {
			return true
		}
	}
	return false
}

// Vocabulary returns up to limit full target paths for the device type,
// sorted for deterministic prompts. limit <= 0 means no limit.
func (r *Reference) Vocabulary(deviceType string, limit int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.devices[canonicalType(deviceType)]
	if !ok {
		return nil
	}
	paths := make([]string, 0, len(idx.byPath))
	for path := range idx.byPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths
}

// Points returns the point definitions for a device type.
func (r *Reference) Points(deviceType string) []PointDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.devices[canonicalType(deviceType)]
	if !ok {
		return nil
	}
	points := make([]PointDef, len(idx.schema.Points))
	copy(points, idx.schema.Points)
	return points
}

// DeviceTypes returns all catalogued device types, sorted.
func (r *Reference) DeviceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.devices))
	for t := range r.devices {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// InferDeviceType guesses a device type from a raw point name by matching
// the leading token against catalogued types. Returns "" when no match.
func (r *Reference) InferDeviceType(pointName string) string {
	head := pointName
	if i := strings.IndexAny(head, ".-_ /"); i > 0 {
		head = head[:i]
	}
	// Strip trailing digits: "AHU1" -> "AHU"
	head = strings.TrimRight(head, "0123456789")
	head = canonicalType(head)
	if head == "" {
		return ""
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.devices[head]; ok {
		return head
	}
	return ""
}
