package reflection

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"enmap/internal/config"
	"enmap/internal/memory"
	"enmap/internal/schema"
	"enmap/internal/types"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *memory.Memory) {
	t.Helper()
	ref := schema.NewBuiltin()
	mem := memory.New(nil, config.DefaultConfig().Memory)
	return NewAnalyzer(mem, ref, 2), mem
}

func mappedVia(pointName, deviceID, targetPath string, strategy types.StrategyName) types.MappingResult {
	return types.MappingResult{
		Original: types.RawPoint{PointName: pointName, DeviceType: "AHU", DeviceID: deviceID},
		Selected: &types.MappingCandidate{TargetPath: targetPath, Confidence: 0.85, Strategy: strategy},
		Status:   types.StatusMapped,
	}
}

func TestAnalyzeLearnsRecurringCorrespondence(t *testing.T) {
	analyzer, mem := newTestAnalyzer(t)

	batch := []types.MappingResult{
		mappedVia("AHU-1.ReturnAirTemp", "AHU-1", "AHU_raw_temp_rat", types.StrategySemanticInference),
		mappedVia("AHU-2.ReturnAirTemp", "AHU-2", "AHU_raw_temp_rat", types.StrategySemanticInference),
		mappedVia("AHU-3.ReturnAirTemp", "AHU-3", "AHU_raw_temp_rat", types.StrategySemanticInference),
	}
	analysis := analyzer.Analyze(batch)

	if len(analysis.Learned) != 1 {
		t.Fatalf("expected 1 learned pattern, got %d", len(analysis.Learned))
	}
	learned := analysis.Learned[0]
	if learned.SourceNgram != "returnairtemp" {
		t.Errorf("expected fragment returnairtemp, got %q", learned.SourceNgram)
	}
	if learned.TargetSuffix != "temp_rat" {
		t.Errorf("expected suffix temp_rat, got %q", learned.TargetSuffix)
	}

	// The learned pattern must be visible to subsequent lookups with the
	// observed frequency as its usage count.
	got := mem.FindCandidates(types.RawPoint{PointName: "AHU-9.ReturnAirTemp"}, "AHU")
	if len(got) != 1 {
		t.Fatalf("learned pattern not findable, got %d candidates", len(got))
	}
	if got[0].UsageCount < 2 {
		t.Errorf("learned pattern usage count %d, want >= 2", got[0].UsageCount)
	}
}

func TestAnalyzeRespectsMinFrequency(t *testing.T) {
	analyzer, mem := newTestAnalyzer(t)

	batch := []types.MappingResult{
		mappedVia("AHU-1.MixedAirTemp", "AHU-1", "AHU_raw_temp_mat", types.StrategySemanticInference),
		mappedVia("AHU-1.ZoneCO2", "AHU-1", "AHU_raw_co2_ra", types.StrategySemanticInference),
	}
	analysis := analyzer.Analyze(batch)

	if len(analysis.Learned) != 0 {
		t.Fatalf("one-off correspondences must not be learned, got %d", len(analysis.Learned))
	}
	if got := mem.Snapshot(""); len(got) != 0 {
		t.Errorf("memory should stay empty, has %d patterns", len(got))
	}
}

func TestAnalyzeMergesIntoExistingPattern(t *testing.T) {
	analyzer, mem := newTestAnalyzer(t)
	mem.Upsert(types.Pattern{DeviceType: "AHU", SourceNgram: "returnairtemp", TargetSuffix: "temp_rat", UsageCount: 4, SuccessCount: 4})

	batch := []types.MappingResult{
		mappedVia("AHU-1.ReturnAirTemp", "AHU-1", "AHU_raw_temp_rat", types.StrategyDirectPattern),
		mappedVia("AHU-2.ReturnAirTemp", "AHU-2", "AHU_raw_temp_rat", types.StrategyDirectPattern),
	}
	analyzer.Analyze(batch)

	snapshot := mem.Snapshot("AHU")
	if len(snapshot) != 1 {
		t.Fatalf("reflection must merge, not duplicate: %d patterns", len(snapshot))
	}
	if snapshot[0].UsageCount != 6 {
		t.Errorf("expected merged usage 6, got %d", snapshot[0].UsageCount)
	}
}

func TestAnalyzeSkipsLowQualityMappings(t *testing.T) {
	analyzer, mem := newTestAnalyzer(t)

	batch := make([]types.MappingResult, 0, 3)
	for i := 0; i < 3; i++ {
		r := mappedVia("AHU-1.WeirdName", "AHU-1", "AHU_raw_temp_rat", types.StrategySemanticInference)
		r.Quality = &types.QualityAssessment{OverallScore: 0.2, Level: types.QualityUnacceptable}
		batch = append(batch, r)
	}
	analyzer.Analyze(batch)

	if got := mem.Snapshot(""); len(got) != 0 {
		t.Errorf("unacceptable mappings must not be learned, got %d patterns", len(got))
	}
}

func TestAnalyzeStats(t *testing.T) {
	analyzer, _ := newTestAnalyzer(t)

	good := mappedVia("AHU-1.FanStatus", "AHU-1", "AHU_raw_status_fan", types.StrategyDirectPattern)
	good.Quality = &types.QualityAssessment{OverallScore: 0.9, Level: types.QualityExcellent}
	unmapped := types.MappingResult{
		Original: types.RawPoint{PointName: "AHU-1.Mystery", DeviceType: "AHU"},
		Status:   types.StatusUnmapped,
	}

	analysis := analyzer.Analyze([]types.MappingResult{good, unmapped})

	if analysis.Stats.MappedRate != 0.5 {
		t.Errorf("expected mapped rate 0.5, got %f", analysis.Stats.MappedRate)
	}
	if analysis.Stats.LevelCounts[types.QualityExcellent] != 1 {
		t.Errorf("expected 1 excellent, got %d", analysis.Stats.LevelCounts[types.QualityExcellent])
	}
	if analysis.Stats.StrategyCounts[types.StrategyDirectPattern] != 1 {
		t.Errorf("expected 1 direct_pattern, got %d", analysis.Stats.StrategyCounts[types.StrategyDirectPattern])
	}
	if analysis.Stats.AverageScore != 0.9 {
		t.Errorf("expected average score 0.9, got %f", analysis.Stats.AverageScore)
	}
	if analysis.Stats.DeviceCounts["AHU"] != 1 {
		t.Errorf("expected 1 mapped AHU point, got %d", analysis.Stats.DeviceCounts["AHU"])
	}
}

func TestWorkerProcessesAsync(t *testing.T) {
	defer goleak.VerifyNone(t)

	analyzer, mem := newTestAnalyzer(t)
	w := NewWorker(analyzer, 4)
	w.Start()

	w.Enqueue([]types.MappingResult{
		mappedVia("AHU-1.ReturnAirTemp", "AHU-1", "AHU_raw_temp_rat", types.StrategySemanticInference),
		mappedVia("AHU-2.ReturnAirTemp", "AHU-2", "AHU_raw_temp_rat", types.StrategySemanticInference),
	})

	deadline := time.After(2 * time.Second)
	for w.Processed() == 0 {
		select {
		case <-deadline:
			t.Fatal("worker never processed the batch")
		case <-time.After(10 * time.Millisecond):
		}
	}
	w.Stop()

	if got := mem.Snapshot("AHU"); len(got) != 1 {
		t.Errorf("expected 1 learned pattern after async pass, got %d", len(got))
	}
}

func TestWorkerStopDrainsQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	analyzer, mem := newTestAnalyzer(t)
	w := NewWorker(analyzer, 8)
	w.Start()

	for i := 0; i < 3; i++ {
		w.Enqueue([]types.MappingResult{
			mappedVia("AHU-1.SupplyAirTemp", "AHU-1", "AHU_raw_temp_sat", types.StrategySemanticInference),
			mappedVia("AHU-2.SupplyAirTemp", "AHU-2", "AHU_raw_temp_sat", types.StrategySemanticInference),
		})
	}
	w.Stop()

	if w.Processed() == 0 {
		t.Error("stop should drain queued batches")
	}
	if got := mem.Snapshot("AHU"); len(got) != 1 {
		t.Errorf("expected the drained batches to teach 1 pattern, got %d", len(got))
	}
}
