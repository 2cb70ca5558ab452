// Package pipeline runs the ordered mapping strategy chain: direct pattern
// match, then semantic inference, then device-context match. Cheap and
// deterministic strategies go first; the inference call and the
// batch-dependent heuristics only run when earlier stages stay below the
// acceptance threshold.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"enmap/internal/logging"
	"enmap/internal/types"
)

// DeviceContext carries what the orchestrator knows about the point's
// device at classification time: already-mapped sibling points on the same
// device group.
type DeviceContext struct {
	DeviceType string
	DeviceID   string
	Siblings   []types.MappingResult
}

// Strategy is one stage of the chain. A strategy may return (nil, nil) when
// it has nothing to offer; an error means the stage itself broke, not that
// the point is unmappable.
type Strategy interface {
	Name() types.StrategyName
	Classify(ctx context.Context, point types.RawPoint, dctx *DeviceContext) (*types.MappingCandidate, error)
}

// Pipeline holds the strategy chain and the acceptance threshold.
type Pipeline struct {
	strategies []Strategy
	threshold  float64
}

// New assembles a pipeline from strategies in priority order.
func New(threshold float64, strategies ...Strategy) *Pipeline {
	return &Pipeline{strategies: strategies, threshold: threshold}
}

// Classify maps one point. The first candidate at or above the threshold
// wins; otherwise the best candidate seen is selected with the
// low-confidence flag, and a point with no candidate at all is unmapped.
// Validation failures produce an error result rather than a panic or a
// dropped point.
func (p *Pipeline) Classify(ctx context.Context, point types.RawPoint, dctx *DeviceContext) types.MappingResult {
	result := types.MappingResult{Original: point}

	if strings.TrimSpace(point.PointName) == "" {
		result.Status = types.StatusError
		result.Error = (&types.ValidationError{Field: "pointName", Reason: "must not be empty"}).Error()
		return result
	}

	var best *types.MappingCandidate
	for _, s := range p.strategies {
		if ctx.Err() != nil {
			break
		}
		candidate, err := s.Classify(ctx, point, dctx)
		if err != nil {
			logging.PipelineDebug("strategy %s failed for %s: %v", s.Name(), point.PointName, err)
			continue
		}
		if candidate == nil {
			continue
		}
		candidate.Confidence = types.Clamp(candidate.Confidence, 0, 1)

		if candidate.Confidence >= p.threshold {
			result.Selected = candidate
			result.Status = types.StatusMapped
			logging.PipelineDebug("%s accepted by %s: %s (conf=%.2f)",
				point.PointName, s.Name(), candidate.TargetPath, candidate.Confidence)
			return result
		}
		if best == nil || candidate.Confidence > best.Confidence {
			best = candidate
		}
	}

	if best == nil || best.Confidence <= 0 {
		result.Status = types.StatusUnmapped
		logging.PipelineDebug("%s produced no candidate", point.PointName)
		return result
	}

	result.Selected = best
	result.Status = types.StatusMapped
	result.LowConfidence = true
	logging.PipelineDebug("%s mapped below threshold: %s (conf=%.2f)",
		point.PointName, best.TargetPath, best.Confidence)
	return result
}

// Threshold returns the acceptance threshold in effect.
func (p *Pipeline) Threshold() float64 { return p.threshold }

func trace(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
