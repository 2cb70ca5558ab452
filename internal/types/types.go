// Package types defines the shared data model for the mapping engine:
// raw BMS points, mapping candidates and results, learned patterns,
// quality assessments, and batch task state.
package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// RAW POINT - IMMUTABLE INPUT
// =============================================================================

// RawPoint is a single BMS point as received from the caller.
// DeviceType and DeviceID may be absent and are then inferred from PointName.
type RawPoint struct {
	PointName   string `json:"pointName"`
	DeviceType  string `json:"deviceType,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
	PointType   string `json:"pointType,omitempty"`
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description,omitempty"`
}

// DeviceKey returns the grouping key for sibling lookups.
// Points without a device identity group under their device type alone.
func (p RawPoint) DeviceKey() string {
	if p.DeviceID != "" {
		return p.DeviceType + "/" + p.DeviceID
	}
	return p.DeviceType
}

// =============================================================================
// MAPPING STRATEGY + CANDIDATE
// =============================================================================

// StrategyName identifies which pipeline strategy produced a candidate.
type StrategyName string

const (
	StrategyDirectPattern     StrategyName = "direct_pattern"
	StrategySemanticInference StrategyName = "semantic_inference"
	StrategyDeviceContext     StrategyName = "device_context"
	StrategyRuleFallback      StrategyName = "rule_fallback"
)

// MappingCandidate is one proposed target-schema mapping for a point.
// Candidates are ephemeral; only the selected one is kept on the result.
type MappingCandidate struct {
	TargetPath     string       `json:"targetPath"`
	Confidence     float64      `json:"confidence"`
	Strategy       StrategyName `json:"strategyUsed"`
	ReasoningTrace []string     `json:"reasoningTrace,omitempty"`
}

// =============================================================================
// MAPPING RESULT
// =============================================================================

// MappingStatus is the per-point outcome of a mapping run.
type MappingStatus string

const (
	StatusMapped   MappingStatus = "mapped"
	StatusUnmapped MappingStatus = "unmapped"
	StatusError    MappingStatus = "error"
)

// MappingResult is the unit returned to callers and fed to reflection.
// Immutable after creation.
type MappingResult struct {
	Original      RawPoint           `json:"original"`
	Selected      *MappingCandidate  `json:"selected,omitempty"`
	Status        MappingStatus      `json:"status"`
	LowConfidence bool               `json:"lowConfidence,omitempty"`
	Error         string             `json:"error,omitempty"`
	Quality       *QualityAssessment `json:"qualityAssessment,omitempty"`
}

// =============================================================================
// PATTERN - LEARNED NAME -> TARGET CORRESPONDENCE
// =============================================================================

// Pattern is a learned correspondence between a normalized source name
// fragment and a target suffix for a device type. Owned by pattern memory;
// at most one pattern exists per (DeviceType, SourceNgram, TargetSuffix).
type Pattern struct {
	ID           string    `json:"id"`
	DeviceType   string    `json:"deviceType"`
	SourceNgram  string    `json:"sourceNgram"`
	TargetSuffix string    `json:"targetSuffix"`
	Confidence   float64   `json:"confidence"`
	UsageCount   int       `json:"usageCount"`
	SuccessCount int       `json:"successCount"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Key returns the uniqueness key for the pattern.
func (p Pattern) Key() string {
	return PatternKey(p.DeviceType, p.SourceNgram, p.TargetSuffix)
}

// PatternKey builds the (deviceType, sourceNgram, targetSuffix) key.
func PatternKey(deviceType, sourceNgram, targetSuffix string) string {
	return strings.ToUpper(deviceType) + "|" + sourceNgram + "|" + targetSuffix
}

// =============================================================================
// QUALITY ASSESSMENT
// =============================================================================

// QualityLevel is a discrete bucket derived from the overall quality score.
type QualityLevel string

const (
	QualityExcellent    QualityLevel = "excellent"
	QualityGood         QualityLevel = "good"
	QualityFair         QualityLevel = "fair"
	QualityPoor         QualityLevel = "poor"
	QualityUnacceptable QualityLevel = "unacceptable"
)

// Rank orders quality levels for threshold comparisons (higher is better).
func (l QualityLevel) Rank() int {
	switch l {
	case QualityExcellent:
		return 4
	case QualityGood:
		return 3
	case QualityFair:
		return 2
	case QualityPoor:
		return 1
	default:
		return 0
	}
}

// Dimension names used in QualityAssessment.DimensionScores.
const (
	DimensionSemantic      = "semantic_correctness"
	DimensionConvention    = "convention_adherence"
	DimensionConsistency   = "consistency"
	DimensionDeviceContext = "device_context"
	DimensionSchema        = "schema_completeness"
)

// QualityAssessment scores a produced mapping across independent dimensions.
// Derived data: always recomputable from a result plus reference data.
type QualityAssessment struct {
	DimensionScores map[string]float64 `json:"dimensionScores"`
	OverallScore    float64            `json:"overallScore"`
	Level           QualityLevel       `json:"qualityLevel"`
}

// =============================================================================
// BATCH TASK
// =============================================================================

// TaskStatus is the lifecycle state of a batch task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// BatchTask tracks one accepted mapping request through batched execution.
// Mutated only by the task orchestrator; persisted snapshots go through the
// task status store where the latest put wins.
type BatchTask struct {
	TaskID           string          `json:"taskId"`
	Status           TaskStatus      `json:"status"`
	TotalPoints      int             `json:"totalPoints"`
	TotalBatches     int             `json:"totalBatches"`
	CompletedBatches int             `json:"completedBatches"`
	Progress         float64         `json:"progress"`
	Results          []MappingResult `json:"results"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Clone returns a deep-enough copy safe to hand across goroutines.
// Results entries are value copies; nested pointers are not shared mutably
// by convention (results are immutable after creation).
func (t *BatchTask) Clone() *BatchTask {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Results = make([]MappingResult, len(t.Results))
	copy(cp.Results, t.Results)
	return &cp
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize lowercases a point name and strips everything but letters and
// digits, yielding the canonical form pattern ngrams are matched against.
func Normalize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (p Pattern) String() string {
	return fmt.Sprintf("%s: %q -> %q (conf=%.2f, usage=%d, success=%d)",
		p.DeviceType, p.SourceNgram, p.TargetSuffix, p.Confidence, p.UsageCount, p.SuccessCount)
}
