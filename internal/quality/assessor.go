// Package quality scores finished mappings across five dimensions and
// buckets the weighted total into a quality level. Scores feed the outcome
// signal back into pattern memory and drive selective re-mapping.
package quality

import (
	"strings"

	"enmap/internal/config"
	"enmap/internal/logging"
	"enmap/internal/schema"
	"enmap/internal/types"
)

// Assessor evaluates mapping results against the target schema and their
// peers.
type Assessor struct {
	ref     *schema.Reference
	weights config.QualityWeights
	buckets config.QualityBuckets
}

// NewAssessor creates an assessor. Weights are normalized so callers may
// configure any positive proportions.
func NewAssessor(ref *schema.Reference, cfg config.QualityConfig) *Assessor {
	return &Assessor{ref: ref, weights: cfg.Weights, buckets: cfg.Buckets}
}

// categoryKeywords maps measurement categories to name fragments that
// evidence them. Fragments are matched against the normalized source name.
var categoryKeywords = map[string][]string{
	"temperature":   {"temp", "tmp", "sat", "rat", "mat", "oat"},
	"humidity":      {"hum", "rh", "moisture"},
	"setpoint":      {"setpoint", "sp", "stpt", "set"},
	"status":        {"status", "sts", "state", "run", "on", "off", "occ"},
	"speed":         {"speed", "spd", "rpm", "freq", "hz"},
	"pressure":      {"press", "pres", "pr", "static", "dp"},
	"flow":          {"flow", "cfm", "gpm", "airflow"},
	"position":      {"valve", "damper", "pos", "vlv", "dmp"},
	"alarm":         {"alarm", "alm", "fault", "flt", "trip"},
	"power":         {"power", "kw", "demand", "watt"},
	"energy":        {"energy", "kwh", "consumption", "meter"},
	"load":          {"load", "pct", "percent"},
	"electrical":    {"volt", "amp", "current", "pf"},
	"concentration": {"co2", "voc", "ppm"},
}

// categoryUnits maps engineering units to the category they evidence.
var categoryUnits = map[string]string{
	"degf": "temperature", "degc": "temperature", "°f": "temperature", "°c": "temperature",
	"f": "temperature", "c": "temperature", "k": "temperature",
	"%rh":  "humidity",
	"kw":   "power",
	"w":    "power",
	"kwh":  "energy",
	"mwh":  "energy",
	"pa":   "pressure",
	"kpa":  "pressure",
	"psi":  "pressure",
	"inwc": "pressure",
	"cfm":  "flow",
	"gpm":  "flow",
	"lps":  "flow",
	"m3h":  "flow",
	"hz":   "speed",
	"rpm":  "speed",
	"ppm":  "concentration",
	"v":    "electrical",
	"a":    "electrical",
}

// Assess scores one result. reference carries the other results from the
// same mapping run for the consistency dimension; it may be nil. Results
// that are not mapped get no assessment.
func (a *Assessor) Assess(result types.MappingResult, reference []types.MappingResult) *types.QualityAssessment {
	if result.Status != types.StatusMapped || result.Selected == nil {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryQuality, "Assessor.Assess")
	defer timer.Stop()

	deviceType := a.deviceType(result)
	targetPath := result.Selected.TargetPath
	suffix := a.ref.Suffix(deviceType, targetPath)

	scores := map[string]float64{
		types.DimensionSchema:        a.scoreSchema(deviceType, targetPath),
		types.DimensionSemantic:      a.scoreSemantic(result, deviceType, targetPath),
		types.DimensionConvention:    a.scoreConvention(deviceType, targetPath, suffix),
		types.DimensionConsistency:   a.scoreConsistency(result, reference),
		types.DimensionDeviceContext: a.scoreDeviceContext(result, deviceType, targetPath, suffix),
	}

	overall := a.weighted(scores)
	level := a.bucket(overall)

	logging.QualityDebug("assessed %s -> %s: overall=%.3f level=%s",
		result.Original.PointName, targetPath, overall, level)

	return &types.QualityAssessment{
		DimensionScores: scores,
		OverallScore:    overall,
		Level:           level,
	}
}

func (a *Assessor) deviceType(result types.MappingResult) string {
	if result.Original.DeviceType != "" {
		return strings.ToUpper(result.Original.DeviceType)
	}
	return a.ref.InferDeviceType(result.Original.PointName)
}

// scoreSchema is binary: the chosen path either exists in the target schema
// for this device type or it does not.
func (a *Assessor) scoreSchema(deviceType, targetPath string) float64 {
	if a.ref.Has(deviceType, targetPath) {
		return 1.0
	}
	return 0.0
}

// scoreSemantic checks whether the source name and unit agree with the
// measurement category of the chosen target. Agreement scores high,
// absence of evidence is neutral, contradiction scores low.
func (a *Assessor) scoreSemantic(result types.MappingResult, deviceType, targetPath string) float64 {
	category := a.ref.Category(deviceType, targetPath)
	if category == "" {
		return 0.5
	}

	normalized := types.Normalize(result.Original.PointName)
	nameEvidence := evidenceFromName(normalized)
	unitEvidence := categoryUnits[normalizeUnit(result.Original.Unit)]

	nameMatch := containsCategory(nameEvidence, category)
	unitMatch := unitEvidence == category

	switch {
	case nameMatch && (unitEvidence == "" || unitMatch):
		return 1.0
	case unitMatch && len(nameEvidence) == 0:
		return 0.85
	case len(nameEvidence) == 0 && unitEvidence == "":
		return 0.5
	case !nameMatch && unitEvidence != "" && !unitMatch:
		// Both signals exist and both contradict the chosen category.
		return 0.1
	case nameMatch && unitEvidence != "" && !unitMatch:
		// Name agrees but unit disagrees; units lie less often than names.
		return 0.4
	default:
		return 0.25
	}
}

// scoreConvention checks the structural shape of the target path: the
// device prefix and a catalogued suffix form.
func (a *Assessor) scoreConvention(deviceType, targetPath, suffix string) float64 {
	score := 0.0
	prefix := a.ref.Prefix(deviceType)
	if prefix != "" && strings.HasPrefix(targetPath, prefix) {
		score += 0.5
	}
	if suffix != "" && a.ref.HasSuffix(deviceType, suffix) {
		score += 0.5
	}
	return score
}

// scoreConsistency measures agreement with peer results: among reference
// results whose source names normalize identically, the fraction mapped to
// the same target. With no peers the dimension is mildly positive rather
// than punitive.
func (a *Assessor) scoreConsistency(result types.MappingResult, reference []types.MappingResult) float64 {
	key := types.Normalize(result.Original.PointName)
	if key == "" {
		return 0.75
	}
	agree, peers := 0, 0
	for i := range reference {
		peer := reference[i]
		if peer.Status != types.StatusMapped || peer.Selected == nil {
			continue
		}
		if peer.Original.PointName == result.Original.PointName && peer.Original.DeviceID == result.Original.DeviceID {
			continue // self
		}
		if types.Normalize(peer.Original.PointName) != key {
			continue
		}
		peers++
		if peer.Selected.TargetPath == result.Selected.TargetPath {
			agree++
		}
	}
	if peers == 0 {
		return 0.75
	}
	return float64(agree) / float64(peers)
}

// scoreDeviceContext asks whether this measurement plausibly belongs on
// this device class at all.
func (a *Assessor) scoreDeviceContext(result types.MappingResult, deviceType, targetPath, suffix string) float64 {
	if !a.ref.HasDevice(deviceType) {
		return 0.6 // unknown device class, no grounds to reject
	}
	category := a.ref.Category(deviceType, targetPath)
	if category != "" && a.ref.HasCategory(deviceType, category) {
		return 1.0
	}
	if a.ref.HasSuffix(deviceType, suffix) {
		return 1.0
	}
	return 0.2
}

func (a *Assessor) weighted(scores map[string]float64) float64 {
	total := a.weights.Total()
	if total <= 0 {
		return 0
	}
	sum := scores[types.DimensionSemantic]*a.weights.Semantic +
		scores[types.DimensionConvention]*a.weights.Convention +
		scores[types.DimensionConsistency]*a.weights.Consistency +
		scores[types.DimensionDeviceContext]*a.weights.DeviceContext +
		scores[types.DimensionSchema]*a.weights.Schema
	return types.Clamp(sum/total, 0, 1)
}

func (a *Assessor) bucket(score float64) types.QualityLevel {
	switch {
	case score >= a.buckets.Excellent:
		return types.QualityExcellent
	case score >= a.buckets.Good:
		return types.QualityGood
	case score >= a.buckets.Fair:
		return types.QualityFair
	case score >= a.buckets.Poor:
		return types.QualityPoor
	default:
		return types.QualityUnacceptable
	}
}

func evidenceFromName(normalized string) []string {
	var out []string
	for category, fragments := range categoryKeywords {
		for _, f := range fragments {
			if strings.Contains(normalized, f) {
				out = append(out, category)
				break
			}
		}
	}
	return out
}

func containsCategory(categories []string, want string) bool {
	for _, c := range categories {
		if c == want {
			return true
		}
	}
	return false
}

func normalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.ReplaceAll(u, " ", "")
	u = strings.ReplaceAll(u, "-", "")
	u = strings.ReplaceAll(u, "/", "")
	return u
}
