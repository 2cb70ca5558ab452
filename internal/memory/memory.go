// Package memory implements pattern memory: learned correspondences between
// normalized source name fragments and target suffixes per device type,
// with their historical success. Every other engine component either reads
// from it (direct pattern matching) or writes back into it (reflection,
// outcome feedback).
//
// Concurrency model: lookups run in parallel against the in-process map
// under an RWMutex and return copies. Writes serialize per pattern key so
// concurrent RecordOutcome calls against the same pattern never lose
// updates, while writes to distinct patterns do not contend.
package memory

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"enmap/internal/config"
	"enmap/internal/logging"
	"enmap/internal/types"
)

// Repository is the knowledge-repository collaborator: eventually-consistent
// storage keyed by (deviceType, sourceNgram, targetSuffix).
type Repository interface {
	LoadPatterns(deviceType string) ([]types.Pattern, error)
	SavePatterns(patterns []types.Pattern) error
	Close() error
}

// Memory is the in-process pattern store.
type Memory struct {
	mu       sync.RWMutex
	patterns map[string]*types.Pattern // key -> pattern
	loaded   map[string]bool           // deviceType -> hydrated from repo

	keyMu    sync.Mutex
	keyLocks map[string]*sync.Mutex

	repo Repository

	alpha         float64
	beta          float64
	decay         float64
	minConfidence float64
}

// New creates a Memory backed by repo. repo may be nil for a purely
// in-process memory (tests, dry runs).
func New(repo Repository, cfg config.MemoryConfig) *Memory {
	alpha := cfg.PriorAlpha
	if alpha <= 0 {
		alpha = 1.0
	}
	beta := cfg.PriorBeta
	if beta <= 0 {
		beta = 1.0
	}
	decay := cfg.DecayFactor
	if decay <= 0 || decay > 1 {
		decay = 0.8
	}
	return &Memory{
		patterns:      make(map[string]*types.Pattern),
		loaded:        make(map[string]bool),
		keyLocks:      make(map[string]*sync.Mutex),
		repo:          repo,
		alpha:         alpha,
		beta:          beta,
		decay:         decay,
		minConfidence: cfg.MinConfidence,
	}
}

// lockKey returns the per-key write lock, creating it on first use.
func (m *Memory) lockKey(key string) *sync.Mutex {
	m.keyMu.Lock()
	defer m.keyMu.Unlock()
	l, ok := m.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		m.keyLocks[key] = l
	}
	return l
}

// smoothed computes the Bayesian-smoothed success rate. The priors keep a
// single observation from producing an overconfident pattern.
func (m *Memory) smoothed(success, usage int) float64 {
	return (float64(success) + m.alpha) / (float64(usage) + m.alpha + m.beta)
}

// hydrate loads patterns for a device type from the repository once.
func (m *Memory) hydrate(deviceType string) {
	if m.repo == nil {
		return
	}
	key := strings.ToUpper(deviceType)

	m.mu.RLock()
	done := m.loaded[key]
	m.mu.RUnlock()
	if done {
		return
	}

	patterns, err := m.repo.LoadPatterns(deviceType)
	if err != nil {
		logging.Get(logging.CategoryMemory).Error("failed to load patterns for %s: %v", deviceType, err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded[key] {
		return
	}
	for i := range patterns {
		p := patterns[i]
		if existing, ok := m.patterns[p.Key()]; ok {
			mergeCounts(existing, &p, m)
			continue
		}
		m.patterns[p.Key()] = &p
	}
	m.loaded[key] = true
	logging.MemoryDebug("hydrated %d patterns for device type %s", len(patterns), deviceType)
}

// FindCandidates returns patterns whose sourceNgram occurs in the normalized
// point name for the device type, best confidence first. Results are copies;
// ordering is deterministic (confidence desc, then key) so repeated calls
// against an unchanged memory classify identically.
func (m *Memory) FindCandidates(point types.RawPoint, deviceType string) []types.Pattern {
	timer := logging.StartTimer(logging.CategoryMemory, "Memory.FindCandidates")
	defer timer.Stop()

	m.hydrate(deviceType)

	normalized := types.Normalize(point.PointName)
	if normalized == "" {
		return nil
	}
	devKey := strings.ToUpper(deviceType)

	m.mu.RLock()
	var out []types.Pattern
	for _, p := range m.patterns {
		if p.DeviceType != devKey {
			continue
		}
		if p.SourceNgram == "" || !strings.Contains(normalized, p.SourceNgram) {
			continue
		}
		out = append(out, *p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// RecordOutcome updates a pattern's counters from one classification outcome
// and recomputes its smoothed confidence. Contradicting feedback also decays
// the confidence; patterns are never deleted, floor is MinConfidence.
//
// The key lock orders concurrent writers to the same pattern; the map lock
// is held across the mutation so readers copying under RLock never observe
// a half-updated pattern.
func (m *Memory) RecordOutcome(key string, success bool) {
	lock := m.lockKey(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.patterns[key]
	if !ok {
		return
	}

	p.UsageCount++
	if success {
		p.SuccessCount++
	}
	conf := m.smoothed(p.SuccessCount, p.UsageCount)
	if !success {
		conf *= m.decay
	}
	if conf < m.minConfidence {
		conf = m.minConfidence
	}
	p.Confidence = conf
	p.LastUpdated = time.Now()

	logging.MemoryDebug("outcome recorded: %s success=%v -> conf=%.3f usage=%d",
		key, success, p.Confidence, p.UsageCount)
}

// Upsert inserts a pattern or merges it into the existing pattern with the
// same (deviceType, sourceNgram, targetSuffix) key: counts are merged, never
// duplicated, and confidence is recomputed from the merged counts.
func (m *Memory) Upsert(p types.Pattern) types.Pattern {
	p.DeviceType = strings.ToUpper(p.DeviceType)
	key := p.Key()

	lock := m.lockKey(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.patterns[key]
	if !ok {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.UsageCount < p.SuccessCount {
			p.UsageCount = p.SuccessCount
		}
		if p.Confidence <= 0 {
			p.Confidence = m.smoothed(p.SuccessCount, p.UsageCount)
		}
		p.LastUpdated = time.Now()
		cp := p
		m.patterns[key] = &cp
		logging.MemoryDebug("pattern created: %s", cp.String())
		return cp
	}

	mergeCounts(existing, &p, m)
	logging.MemoryDebug("pattern merged: %s", existing.String())
	return *existing
}

// mergeCounts folds src counts into dst and recomputes confidence.
// Caller holds the appropriate locks.
func mergeCounts(dst, src *types.Pattern, m *Memory) {
	dst.UsageCount += src.UsageCount
	dst.SuccessCount += src.SuccessCount
	if dst.UsageCount < dst.SuccessCount {
		dst.UsageCount = dst.SuccessCount
	}
	dst.Confidence = m.smoothed(dst.SuccessCount, dst.UsageCount)
	dst.LastUpdated = time.Now()
}

// Get returns the pattern for key, if present.
func (m *Memory) Get(key string) (types.Pattern, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patterns[key]
	if !ok {
		return types.Pattern{}, false
	}
	return *p, true
}

// Snapshot returns copies of all patterns, optionally filtered by device
// type ("" for all), sorted by key.
func (m *Memory) Snapshot(deviceType string) []types.Pattern {
	devKey := strings.ToUpper(deviceType)

	m.mu.RLock()
	out := make([]types.Pattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		if devKey != "" && p.DeviceType != devKey {
			continue
		}
		out = append(out, *p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Flush persists the current pattern set to the repository.
func (m *Memory) Flush() error {
	if m.repo == nil {
		return nil
	}
	snapshot := m.Snapshot("")
	if len(snapshot) == 0 {
		return nil
	}
	if err := m.repo.SavePatterns(snapshot); err != nil {
		return err
	}
	logging.Memory("flushed %d patterns to repository", len(snapshot))
	return nil
}

// EffectiveConfidence discounts a pattern's stored confidence by usage count
// and recency so rarely-reused or stale patterns score lower than
// frequently-confirmed fresh ones.
func EffectiveConfidence(p types.Pattern, usagePivot float64, halfLife time.Duration, now time.Time) float64 {
	if usagePivot <= 0 {
		usagePivot = 2.0
	}
	usageFactor := float64(p.UsageCount) / (float64(p.UsageCount) + usagePivot)

	recencyFactor := 1.0
	if halfLife > 0 && !p.LastUpdated.IsZero() {
		age := now.Sub(p.LastUpdated)
		if age > 0 {
			recencyFactor = math.Pow(0.5, age.Hours()/halfLife.Hours())
		}
	}
	// Recency only ever discounts; a floor keeps old but proven patterns
	// from vanishing entirely.
	if recencyFactor < 0.5 {
		recencyFactor = 0.5
	}
	return types.Clamp(p.Confidence*usageFactor*recencyFactor, 0, 1)
}
