// Package reflection closes the learning loop: after a mapping run it
// mines the batch for recurring name-to-target correspondences and feeds
// them back into pattern memory, so the next run resolves the same names
// without inference.
package reflection

import (
	"fmt"
	"sort"
	"strings"

	"enmap/internal/logging"
	"enmap/internal/memory"
	"enmap/internal/schema"
	"enmap/internal/types"
)

// QualityStats aggregates the batch's quality distribution.
type QualityStats struct {
	LevelCounts    map[types.QualityLevel]int `json:"levelCounts"`
	StrategyCounts map[types.StrategyName]int `json:"strategyCounts"`
	DeviceCounts   map[string]int             `json:"deviceCounts"`
	MappedRate     float64                    `json:"mappedRate"`
	AverageScore   float64                    `json:"averageScore"`
}

// Family is one recurring source-fragment to target-suffix correspondence
// observed in a batch, whether or not it met the learning floor.
type Family struct {
	DeviceType   string `json:"deviceType"`
	Fragment     string `json:"fragment"`
	TargetSuffix string `json:"targetSuffix"`
	Count        int    `json:"count"`
	Successes    int    `json:"successes"`
}

// Analysis is what one reflection pass produced. Families lists every
// observed correspondence; Learned only those committed to pattern memory.
type Analysis struct {
	Learned  []types.Pattern `json:"learned"`
	Families []Family        `json:"families,omitempty"`
	Stats    QualityStats    `json:"stats"`
	Insights []string        `json:"insights,omitempty"`
}

// Analyzer mines mapping batches for learnable patterns.
type Analyzer struct {
	mem          *memory.Memory
	ref          *schema.Reference
	minFrequency int
}

// NewAnalyzer creates an analyzer. minFrequency guards against learning
// from one-off coincidences.
func NewAnalyzer(mem *memory.Memory, ref *schema.Reference, minFrequency int) *Analyzer {
	if minFrequency < 1 {
		minFrequency = 2
	}
	return &Analyzer{mem: mem, ref: ref, minFrequency: minFrequency}
}

// family is a candidate correspondence observed in the batch.
type family struct {
	deviceType string
	fragment   string
	suffix     string
	count      int
	successes  int
}

// Analyze mines successful mappings for recurring correspondences and
// upserts those meeting the frequency floor into pattern memory. Counts
// merge into existing patterns rather than duplicating them.
func (a *Analyzer) Analyze(results []types.MappingResult) *Analysis {
	timer := logging.StartTimer(logging.CategoryReflection, "Analyzer.Analyze")
	defer timer.Stop()

	analysis := &Analysis{
		Stats: QualityStats{
			LevelCounts:    make(map[types.QualityLevel]int),
			StrategyCounts: make(map[types.StrategyName]int),
			DeviceCounts:   make(map[string]int),
		},
	}

	families := make(map[string]*family)
	mapped, scored := 0, 0
	scoreSum := 0.0

	for i := range results {
		r := results[i]
		if r.Quality != nil {
			analysis.Stats.LevelCounts[r.Quality.Level]++
			scoreSum += r.Quality.OverallScore
			scored++
		}
		if r.Status != types.StatusMapped || r.Selected == nil {
			continue
		}
		mapped++
		analysis.Stats.StrategyCounts[r.Selected.Strategy]++

		deviceType := deviceTypeOf(r, a.ref)
		if deviceType != "" {
			analysis.Stats.DeviceCounts[deviceType]++
		}

		// Low-quality mappings teach nothing worth remembering.
		if r.Quality != nil && r.Quality.Level.Rank() < types.QualityFair.Rank() {
			continue
		}
		if deviceType == "" {
			continue
		}
		suffix := a.ref.Suffix(deviceType, r.Selected.TargetPath)
		if suffix == "" {
			continue
		}
		fragment := extractFragment(r.Original.PointName, deviceType)
		if len(fragment) < 3 {
			continue
		}

		key := types.PatternKey(deviceType, fragment, suffix)
		f, ok := families[key]
		if !ok {
			f = &family{deviceType: deviceType, fragment: fragment, suffix: suffix}
			families[key] = f
		}
		f.count++
		if r.Quality == nil || r.Quality.Level.Rank() >= types.QualityGood.Rank() {
			f.successes++
		}
	}

	if len(results) > 0 {
		analysis.Stats.MappedRate = float64(mapped) / float64(len(results))
	}
	if scored > 0 {
		analysis.Stats.AverageScore = scoreSum / float64(scored)
	}

	// Deterministic commit order.
	keys := make([]string, 0, len(families))
	for k := range families {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		f := families[k]
		analysis.Families = append(analysis.Families, Family{
			DeviceType:   f.deviceType,
			Fragment:     f.fragment,
			TargetSuffix: f.suffix,
			Count:        f.count,
			Successes:    f.successes,
		})
		if f.count < a.minFrequency {
			continue
		}
		learned := a.mem.Upsert(types.Pattern{
			DeviceType:   f.deviceType,
			SourceNgram:  f.fragment,
			TargetSuffix: f.suffix,
			UsageCount:   f.count,
			SuccessCount: f.successes,
		})
		analysis.Learned = append(analysis.Learned, learned)
		logging.ReflectionDebug("learned pattern %s from %d occurrences", learned.Key(), f.count)
	}

	analysis.Insights = buildInsights(analysis)
	logging.Reflection("reflection pass: %d results, %d mapped, %d patterns learned",
		len(results), mapped, len(analysis.Learned))
	return analysis
}

// MinFrequency returns the learning floor in effect.
func (a *Analyzer) MinFrequency() int { return a.minFrequency }

func deviceTypeOf(r types.MappingResult, ref *schema.Reference) string {
	if r.Original.DeviceType != "" {
		return strings.ToUpper(r.Original.DeviceType)
	}
	return ref.InferDeviceType(r.Original.PointName)
}

// extractFragment reduces a raw point name to the learnable part: the
// normalized name with the device token and digits stripped, so
// "AHU-1.ReturnAirTemp" and "AHU-2.ReturnAirTemp" collapse to the same
// fragment.
func extractFragment(pointName, deviceType string) string {
	n := types.Normalize(pointName)
	dev := types.Normalize(deviceType)
	if dev != "" {
		n = strings.ReplaceAll(n, dev, "")
	}
	var sb strings.Builder
	for _, r := range n {
		if r >= '0' && r <= '9' {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func buildInsights(a *Analysis) []string {
	var out []string
	if a.Stats.MappedRate > 0 && a.Stats.MappedRate < 0.5 {
		out = append(out, fmt.Sprintf("mapped rate %.0f%% is low, schema vocabulary may not cover this site", a.Stats.MappedRate*100))
	}
	if n := a.Stats.StrategyCounts[types.StrategyRuleFallback]; n > 0 {
		out = append(out, fmt.Sprintf("%d points resolved by rule fallback, inference service may be degraded", n))
	}
	if len(a.Learned) > 0 {
		out = append(out, fmt.Sprintf("%d recurring correspondences committed to pattern memory", len(a.Learned)))
	}
	return out
}
