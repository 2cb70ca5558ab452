package pipeline

import (
	"context"

	"enmap/internal/schema"
	"enmap/internal/types"
)

// ContextMatch disambiguates a point using its already-mapped siblings on
// the same device group. It only helps when earlier strategies fell short,
// and its confidence is bounded by the siblings' average: the strategy can
// never be more sure than the evidence it borrows from.
type ContextMatch struct {
	ref *schema.Reference
}

// NewContextMatch creates the strategy.
func NewContextMatch(ref *schema.Reference) *ContextMatch {
	return &ContextMatch{ref: ref}
}

func (s *ContextMatch) Name() types.StrategyName { return types.StrategyDeviceContext }

func (s *ContextMatch) Classify(ctx context.Context, point types.RawPoint, dctx *DeviceContext) (*types.MappingCandidate, error) {
	if dctx == nil || len(dctx.Siblings) == 0 {
		return nil, nil
	}
	deviceType := resolveDeviceType(point, dctx, s.ref)
	if deviceType == "" {
		return nil, nil
	}

	normalized := types.Normalize(point.PointName)
	if normalized == "" {
		return nil, nil
	}

	// Collect mapped siblings and their average confidence (the upper
	// bound for anything this strategy proposes).
	var mapped []types.MappingResult
	sum := 0.0
	for i := range dctx.Siblings {
		sib := dctx.Siblings[i]
		if sib.Status != types.StatusMapped || sib.Selected == nil {
			continue
		}
		mapped = append(mapped, sib)
		sum += sib.Selected.Confidence
	}
	if len(mapped) == 0 {
		return nil, nil
	}
	ceiling := sum / float64(len(mapped))

	// Exact agreement: a sibling with the same normalized name already
	// mapped somewhere. Adopt its target.
	for i := range mapped {
		if types.Normalize(mapped[i].Original.PointName) == normalized {
			return &types.MappingCandidate{
				TargetPath: mapped[i].Selected.TargetPath,
				Confidence: types.Clamp(ceiling, 0, 1),
				Strategy:   types.StrategyDeviceContext,
				ReasoningTrace: []string{
					trace("sibling %q already mapped to %s", mapped[i].Original.PointName, mapped[i].Selected.TargetPath),
				},
			}, nil
		}
	}

	// Convention bias: run the rule matcher, but cap its score by the
	// sibling ceiling and count how many siblings share the suggested
	// measurement category as corroboration.
	fallback := keywordFallback(point, deviceType, s.ref)
	if fallback == nil {
		return nil, nil
	}
	category := s.ref.Category(deviceType, fallback.TargetPath)
	corroborating := 0
	for i := range mapped {
		if s.ref.Category(deviceType, mapped[i].Selected.TargetPath) == category && category != "" {
			corroborating++
		}
	}

	conf := fallback.Confidence
	if corroborating > 0 {
		conf += 0.1
	}
	if conf > ceiling {
		conf = ceiling
	}

	return &types.MappingCandidate{
		TargetPath: fallback.TargetPath,
		Confidence: types.Clamp(conf, 0, 1),
		Strategy:   types.StrategyDeviceContext,
		ReasoningTrace: append(fallback.ReasoningTrace,
			trace("%d of %d mapped siblings share category %q", corroborating, len(mapped), category)),
	}, nil
}
