package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"enmap/internal/config"
	"enmap/internal/inference"
	"enmap/internal/memory"
	"enmap/internal/resilience"
	"enmap/internal/schema"
	"enmap/internal/types"
)

// failingClient always reports the service as down.
type failingClient struct{}

func (failingClient) MapPoint(ctx context.Context, req *inference.Request) (*inference.Response, error) {
	return nil, &types.InferenceServiceError{Status: 503, Message: "service down"}
}
func (failingClient) Name() string { return "failing" }

// scriptedClient answers from a fixed map of point name to response.
type scriptedClient struct {
	answers map[string]*inference.Response
}

func (c *scriptedClient) MapPoint(ctx context.Context, req *inference.Request) (*inference.Response, error) {
	if resp, ok := c.answers[req.PointName]; ok {
		return resp, nil
	}
	return nil, &types.InferenceServiceError{Status: 503, Message: "no scripted answer"}
}
func (c *scriptedClient) Name() string { return "scripted" }

type testEnv struct {
	cfg  *config.Config
	ref  *schema.Reference
	mem  *memory.Memory
	pipe *Pipeline
}

func newTestEnv(t *testing.T, client inference.Client) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Resilience.MaxRetries = 0 // keep failure paths fast in tests

	ref := schema.NewBuiltin()
	mem := memory.New(nil, cfg.Memory)
	exec := resilience.NewExecutor(client, cfg.Inference, cfg.Resilience)

	pipe := New(cfg.Engine.AcceptanceThreshold,
		NewDirectPattern(mem, ref, cfg.Memory),
		NewSemanticInference(exec, ref, cfg.Inference),
		NewContextMatch(ref),
	)
	return &testEnv{cfg: cfg, ref: ref, mem: mem, pipe: pipe}
}

func TestDirectPatternWinsForLearnedPoint(t *testing.T) {
	env := newTestEnv(t, failingClient{})
	env.mem.Upsert(types.Pattern{
		DeviceType:   "AHU",
		SourceNgram:  "returnairtemp",
		TargetSuffix: "temp_rat",
		Confidence:   0.9,
		UsageCount:   9,
		SuccessCount: 9,
		LastUpdated:  time.Now(),
	})

	point := types.RawPoint{PointName: "AHU-1.Return_Air_Temp", DeviceType: "AHU", DeviceID: "AHU-1"}
	result := env.pipe.Classify(context.Background(), point, nil)

	if result.Status != types.StatusMapped {
		t.Fatalf("expected mapped, got %s (%s)", result.Status, result.Error)
	}
	if result.Selected.TargetPath != "AHU_raw_temp_rat" {
		t.Errorf("expected AHU_raw_temp_rat, got %s", result.Selected.TargetPath)
	}
	if result.Selected.Strategy != types.StrategyDirectPattern {
		t.Errorf("expected direct_pattern strategy, got %s", result.Selected.Strategy)
	}
	if result.LowConfidence {
		t.Error("confident pattern match must not carry the low-confidence flag")
	}
	if len(result.Selected.ReasoningTrace) == 0 {
		t.Error("expected a reasoning trace")
	}
}

func TestInferenceAnswersWhenMemoryIsCold(t *testing.T) {
	client := &scriptedClient{answers: map[string]*inference.Response{
		"AHU-2.MixedAirTemp": {TargetPath: "AHU_raw_temp_mat", Confidence: 0.82, ReasoningSteps: []string{"mixed air keyword"}},
	}}
	env := newTestEnv(t, client)

	result := env.pipe.Classify(context.Background(),
		types.RawPoint{PointName: "AHU-2.MixedAirTemp", DeviceType: "AHU"}, nil)

	if result.Status != types.StatusMapped {
		t.Fatalf("expected mapped, got %s", result.Status)
	}
	if result.Selected.Strategy != types.StrategySemanticInference {
		t.Errorf("expected semantic_inference, got %s", result.Selected.Strategy)
	}
	if result.Selected.TargetPath != "AHU_raw_temp_mat" {
		t.Errorf("unexpected target %s", result.Selected.TargetPath)
	}
}

func TestOutOfVocabularyAnswerForcesFallback(t *testing.T) {
	client := &scriptedClient{answers: map[string]*inference.Response{
		"AHU-3.SupplyAirTemp": {TargetPath: "TOTALLY_made_up", Confidence: 0.99},
	}}
	env := newTestEnv(t, client)

	result := env.pipe.Classify(context.Background(),
		types.RawPoint{PointName: "AHU-3.SupplyAirTemp", DeviceType: "AHU"}, nil)

	if result.Status != types.StatusMapped {
		t.Fatalf("expected fallback mapping, got %s", result.Status)
	}
	if result.Selected.Strategy != types.StrategyRuleFallback {
		t.Errorf("out-of-vocabulary answer must fall back to rules, got %s", result.Selected.Strategy)
	}
	if result.Selected.TargetPath == "TOTALLY_made_up" {
		t.Error("invalid path must never be selected")
	}
}

func TestServiceOutageNeverYieldsErrorStatus(t *testing.T) {
	env := newTestEnv(t, failingClient{})

	points := []types.RawPoint{
		{PointName: "AHU-1.SupplyAirTemp", DeviceType: "AHU", Unit: "degF"},
		{PointName: "CH-1.CHW_Supply_Temp", DeviceType: "CH"},
		{PointName: "XYZ_unknown_123"},
	}
	for _, p := range points {
		result := env.pipe.Classify(context.Background(), p, nil)
		if result.Status == types.StatusError {
			t.Errorf("%s: service unavailability alone must not produce an error result", p.PointName)
		}
	}
}

func TestUnknownPointWithFailingInferenceIsUnmapped(t *testing.T) {
	env := newTestEnv(t, failingClient{})

	result := env.pipe.Classify(context.Background(), types.RawPoint{PointName: "XYZ_unknown_123"}, nil)
	if result.Status != types.StatusUnmapped {
		t.Fatalf("expected unmapped, got %s", result.Status)
	}
	if result.Selected != nil {
		t.Error("unmapped result must not carry a candidate")
	}
}

func TestEmptyPointNameIsValidationError(t *testing.T) {
	env := newTestEnv(t, failingClient{})

	result := env.pipe.Classify(context.Background(), types.RawPoint{PointName: "  ", DeviceType: "AHU"}, nil)
	if result.Status != types.StatusError {
		t.Fatalf("expected error status, got %s", result.Status)
	}
	if result.Error == "" {
		t.Error("error result must carry a message")
	}
}

func TestBelowThresholdBestCandidateGetsLowConfidenceFlag(t *testing.T) {
	client := &scriptedClient{answers: map[string]*inference.Response{
		"AHU-4.OddPoint_Temp": {TargetPath: "AHU_raw_temp_sat", Confidence: 0.2},
	}}
	env := newTestEnv(t, client)

	result := env.pipe.Classify(context.Background(),
		types.RawPoint{PointName: "AHU-4.OddPoint_Temp", DeviceType: "AHU"}, nil)

	if result.Status != types.StatusMapped {
		t.Fatalf("expected mapped with flag, got %s", result.Status)
	}
	if !result.LowConfidence {
		t.Error("below-threshold selection must set the low-confidence flag")
	}
}

func TestContextMatchAdoptsSiblingMapping(t *testing.T) {
	env := newTestEnv(t, failingClient{})

	siblings := []types.MappingResult{
		{
			Original: types.RawPoint{PointName: "Zone_Humidity", DeviceType: "AHU", DeviceID: "AHU-7"},
			Selected: &types.MappingCandidate{TargetPath: "AHU_raw_humidity_ra", Confidence: 0.9, Strategy: types.StrategySemanticInference},
			Status:   types.StatusMapped,
		},
	}
	dctx := &DeviceContext{DeviceType: "AHU", DeviceID: "AHU-8", Siblings: siblings}

	// Same normalized name on a sibling device, inference down.
	result := env.pipe.Classify(context.Background(),
		types.RawPoint{PointName: "ZONE-HUMIDITY", DeviceType: "AHU", DeviceID: "AHU-8"}, dctx)

	if result.Status != types.StatusMapped {
		t.Fatalf("expected mapped, got %s", result.Status)
	}
	if result.Selected.TargetPath != "AHU_raw_humidity_ra" {
		t.Errorf("expected sibling target adopted, got %s", result.Selected.TargetPath)
	}
	if result.Selected.Confidence > 0.9 {
		t.Errorf("context match must be bounded by sibling confidence, got %f", result.Selected.Confidence)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	env := newTestEnv(t, failingClient{})
	env.mem.Upsert(types.Pattern{DeviceType: "AHU", SourceNgram: "fanstatus", TargetSuffix: "status_fan", Confidence: 0.8, UsageCount: 5, SuccessCount: 4, LastUpdated: time.Now()})

	point := types.RawPoint{PointName: "AHU-1.FanStatus", DeviceType: "AHU"}
	first := env.pipe.Classify(context.Background(), point, nil)
	for i := 0; i < 5; i++ {
		again := env.pipe.Classify(context.Background(), point, nil)
		if diff := cmp.Diff(first, again, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
			t.Fatalf("classification changed between identical runs (-first +again):\n%s", diff)
		}
	}
}
