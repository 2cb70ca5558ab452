package pipeline

import (
	"sort"
	"strings"

	"enmap/internal/schema"
	"enmap/internal/types"
)

// keywordFallback is the deterministic rule-based matcher used when the
// inference service cannot answer. It scores every catalogued suffix for
// the device type against the normalized point name and returns the best
// hit, or nil when nothing scores at all.
//
// Scoring is intentionally coarse: a suffix fragment found in the name
// beats a category keyword hit, which beats a lone weak signal. The point
// is a usable answer when inference is down, not a rival to it.
func keywordFallback(point types.RawPoint, deviceType string, ref *schema.Reference) *types.MappingCandidate {
	normalized := types.Normalize(point.PointName)
	if normalized == "" || deviceType == "" {
		return nil
	}

	type scored struct {
		suffix string
		score  float64
		why    string
	}
	var hits []scored

	for _, def := range ref.Points(deviceType) {
		fragScore, frag := suffixFragmentScore(normalized, def.Suffix)
		switch {
		case fragScore > 0:
			hits = append(hits, scored{def.Suffix, fragScore, trace("suffix fragment %q found in name", frag)})
		case categoryKeywordHit(normalized, def.Category):
			hits = append(hits, scored{def.Suffix, 0.45, trace("category keyword for %q found in name", def.Category)})
		}
	}
	if len(hits) == 0 {
		return nil
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].suffix < hits[j].suffix
	})
	best := hits[0]

	targetPath := ref.FullPath(deviceType, best.suffix)
	if targetPath == "" {
		return nil
	}
	return &types.MappingCandidate{
		TargetPath:     targetPath,
		Confidence:     best.score,
		Strategy:       types.StrategyRuleFallback,
		ReasoningTrace: []string{"inference unavailable, rule-based match", best.why},
	}
}

// suffixFragmentScore checks whether the meaningful fragments of a target
// suffix appear in the normalized source name. "temp_rat" fragments to
// ["temp", "rat"]; all fragments present scores highest.
func suffixFragmentScore(normalized, suffix string) (float64, string) {
	fragments := strings.Split(suffix, "_")
	found, total := 0, 0
	var last string
	for _, f := range fragments {
		if len(f) < 2 {
			continue
		}
		total++
		if strings.Contains(normalized, f) {
			found++
			last = f
		}
	}
	if total == 0 || found == 0 {
		return 0, ""
	}
	if found == total {
		return 0.55, last
	}
	return 0.30, last
}

// categoryKeywordHit reports whether any name fragment evidences the
// measurement category.
func categoryKeywordHit(normalized, category string) bool {
	for _, kw := range fallbackCategoryKeywords[category] {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}

// fallbackCategoryKeywords are the rule matcher's category signals. Kept
// narrower than the quality assessor's evidence lists: the fallback must
// not guess aggressively.
var fallbackCategoryKeywords = map[string][]string{
	"temperature":   {"temp", "tmp"},
	"humidity":      {"hum", "rh"},
	"setpoint":      {"setpoint", "stpt"},
	"status":        {"status", "sts", "run"},
	"speed":         {"speed", "spd", "rpm"},
	"pressure":      {"press", "static"},
	"flow":          {"flow", "cfm", "gpm"},
	"position":      {"valve", "damper"},
	"alarm":         {"alarm", "fault"},
	"power":         {"power", "kw"},
	"energy":        {"energy", "kwh"},
	"load":          {"load"},
	"electrical":    {"volt", "amp", "current"},
	"concentration": {"co2", "voc"},
}
