package pipeline

import (
	"context"

	"enmap/internal/config"
	"enmap/internal/inference"
	"enmap/internal/logging"
	"enmap/internal/resilience"
	"enmap/internal/schema"
	"enmap/internal/types"
)

// SemanticInference asks the external inference service, constrained to
// the device's target vocabulary. When the service fails or answers
// outside the vocabulary, the strategy degrades to the deterministic rule
// matcher instead of surfacing an error, so service outages never turn a
// point into an error result on their own.
type SemanticInference struct {
	exec          *resilience.Executor
	ref           *schema.Reference
	maxVocabulary int
}

// NewSemanticInference creates the strategy.
func NewSemanticInference(exec *resilience.Executor, ref *schema.Reference, cfg config.InferenceConfig) *SemanticInference {
	return &SemanticInference{exec: exec, ref: ref, maxVocabulary: cfg.MaxVocabulary}
}

func (s *SemanticInference) Name() types.StrategyName { return types.StrategySemanticInference }

func (s *SemanticInference) Classify(ctx context.Context, point types.RawPoint, dctx *DeviceContext) (*types.MappingCandidate, error) {
	deviceType := resolveDeviceType(point, dctx, s.ref)
	if deviceType == "" {
		return nil, nil
	}
	vocabulary := s.ref.Vocabulary(deviceType, s.maxVocabulary)
	if len(vocabulary) == 0 {
		return nil, nil
	}

	req := &inference.Request{
		PointName:   point.PointName,
		DeviceType:  deviceType,
		DeviceID:    point.DeviceID,
		Unit:        point.Unit,
		Description: point.Description,
		Vocabulary:  vocabulary,
	}

	resp, err := s.exec.MapPoint(ctx, req)
	if err != nil {
		logging.PipelineDebug("inference failed for %s, using rule fallback: %v", point.PointName, err)
		return keywordFallback(point, deviceType, s.ref), nil
	}

	if !s.ref.Has(deviceType, resp.TargetPath) {
		// Out-of-vocabulary answer is invalid regardless of its confidence.
		logging.PipelineDebug("inference returned out-of-vocabulary path %q for %s, using rule fallback",
			resp.TargetPath, point.PointName)
		return keywordFallback(point, deviceType, s.ref), nil
	}

	candidate := &types.MappingCandidate{
		TargetPath: resp.TargetPath,
		Confidence: types.Clamp(resp.Confidence, 0, 1),
		Strategy:   types.StrategySemanticInference,
	}
	if len(resp.ReasoningSteps) > 0 {
		candidate.ReasoningTrace = resp.ReasoningSteps
	}
	return candidate, nil
}
