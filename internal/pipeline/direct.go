package pipeline

import (
	"context"
	"time"

	"enmap/internal/config"
	"enmap/internal/memory"
	"enmap/internal/schema"
	"enmap/internal/types"
)

// DirectPattern resolves points against learned pattern memory. It is the
// cheapest strategy: a map lookup plus a substring scan, no I/O.
type DirectPattern struct {
	mem        *memory.Memory
	ref        *schema.Reference
	usagePivot float64
	halfLife   time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewDirectPattern creates the strategy.
func NewDirectPattern(mem *memory.Memory, ref *schema.Reference, cfg config.MemoryConfig) *DirectPattern {
	return &DirectPattern{
		mem:        mem,
		ref:        ref,
		usagePivot: cfg.UsagePivot,
		halfLife:   cfg.RecencyHalfLifeDuration(),
		now:        time.Now,
	}
}

func (s *DirectPattern) Name() types.StrategyName { return types.StrategyDirectPattern }

// Classify picks the matching pattern with the best effective confidence.
// Patterns whose target suffix is no longer in the schema are skipped, so a
// schema change invalidates stale memory without touching the database.
func (s *DirectPattern) Classify(ctx context.Context, point types.RawPoint, dctx *DeviceContext) (*types.MappingCandidate, error) {
	deviceType := resolveDeviceType(point, dctx, s.ref)
	if deviceType == "" {
		return nil, nil
	}

	patterns := s.mem.FindCandidates(point, deviceType)
	if len(patterns) == 0 {
		return nil, nil
	}

	now := s.now()
	var best *types.MappingCandidate
	var bestPattern types.Pattern
	for _, p := range patterns {
		targetPath := s.ref.FullPath(deviceType, p.TargetSuffix)
		if targetPath == "" {
			continue
		}
		eff := memory.EffectiveConfidence(p, s.usagePivot, s.halfLife, now)
		if best == nil || eff > best.Confidence {
			best = &types.MappingCandidate{
				TargetPath: targetPath,
				Confidence: eff,
				Strategy:   types.StrategyDirectPattern,
			}
			bestPattern = p
		}
	}
	if best == nil {
		return nil, nil
	}

	best.ReasoningTrace = []string{
		trace("pattern %q matched normalized name %q", bestPattern.SourceNgram, types.Normalize(point.PointName)),
		trace("stored confidence %.2f over %d uses, effective %.2f", bestPattern.Confidence, bestPattern.UsageCount, best.Confidence),
	}
	return best, nil
}

// resolveDeviceType prefers the explicit device type, then the batch
// context, then a schema-guided guess from the point name.
func resolveDeviceType(point types.RawPoint, dctx *DeviceContext, ref *schema.Reference) string {
	if point.DeviceType != "" {
		return point.DeviceType
	}
	if dctx != nil && dctx.DeviceType != "" {
		return dctx.DeviceType
	}
	return ref.InferDeviceType(point.PointName)
}
