package seq2seq

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

// trainBatch returns a small two-pair batch.
func trainBatch() *Batch {
	return &Batch{
		Source:       [][]int{{4, 5}, {5, PadToken}},
		SourceLens:   []int{2, 1},
		TargetInput:  [][]int{{BosToken, BosToken}, {4, 4}, {5, PadToken}},
		TargetOutput: [][]int{{4, 4}, {5, EosToken}, {EosToken, PadToken}},
		TargetLens:   []int{3, 2},
		TargetWords:  5,
	}
}

func trainTestModel(c anyvec.Creator) *Model {
	model := NewModel(c, Config{
		SourceVocab: 6,
		TargetVocab: 6,
		EmbedSize:   3,
		HiddenSize:  4,
		Layers:      1,
		InputFeed:   true,
	})
	model.Reserve(2, 2, 3)
	return model
}

func TestTrainerFetch(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	trainer := NewTrainer(trainTestModel(c))
	batch := trainBatch()

	fetched, err := trainer.Fetch(BatchList{batch})
	if err != nil {
		t.Fatal(err)
	}
	if fetched.(*Batch) != batch {
		t.Error("fetched batch is not the sample")
	}
	if _, err := trainer.Fetch(BatchList{}); err == nil {
		t.Error("expected error for empty sample list")
	}
	if _, err := trainer.Fetch(BatchList{batch, batch}); err == nil {
		t.Error("expected error for oversized sample list")
	}
}

func TestTrainerGradient(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	model := trainTestModel(c)
	model.SetTraining(true)
	trainer := NewTrainer(model)
	batch := trainBatch()

	g1 := trainer.Gradient(batch)
	cost := trainer.LastCost
	if math.IsNaN(cost) || math.IsInf(cost, 0) || cost <= 0 {
		t.Fatalf("bad cost: %f", cost)
	}
	var nonzero bool
	snapshot := map[*anydiff.Var][]float64{}
	for v, vec := range g1 {
		snapshot[v] = floatData(vec)
		if anyvec.AbsMax(vec).(float64) > 0 {
			nonzero = true
		}
	}
	if !nonzero {
		t.Fatal("gradient is all zero")
	}

	g2 := trainer.Gradient(batch)
	if math.Abs(trainer.LastCost-cost) > 1e-6 {
		t.Errorf("expected cost %f, got %f", cost, trainer.LastCost)
	}
	for v, vec := range g2 {
		if !slicesClose(floatData(vec), snapshot[v]) {
			t.Error("gradient changed between identical batches")
			break
		}
	}
}

type markTransformer struct {
	called bool
}

func (m *markTransformer) Transform(g anydiff.Grad) anydiff.Grad {
	m.called = true
	return g
}

func TestGradClipper(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	v := anydiff.NewVar(c.MakeVector(2))
	grad := anydiff.Grad{
		v: c.MakeVectorData(c.MakeNumericList([]float64{3, 4})),
	}

	next := &markTransformer{}
	clipper := &GradClipper{Max: 10, Next: next}
	clipper.Transform(grad)
	if !slicesClose(floatData(grad[v]), []float64{3, 4}) {
		t.Errorf("expected unclipped gradient, got %v", grad[v].Data())
	}
	if !next.called {
		t.Error("next transformer not invoked")
	}

	clipper = &GradClipper{Max: 1}
	clipper.Transform(grad)
	if !slicesClose(floatData(grad[v]), []float64{0.6, 0.8}) {
		t.Errorf("expected [0.6 0.8], got %v", grad[v].Data())
	}

	t.Run("NonFinite", func(t *testing.T) {
		grad := anydiff.Grad{
			v: c.MakeVectorData(c.MakeNumericList([]float64{math.NaN(), 1})),
		}
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		(&GradClipper{Max: 1}).Transform(grad)
	})
}

func TestDecayRater(t *testing.T) {
	rater := &DecayRater{Initial: 1, Decay: 0.5, DecayAfter: 8}
	table := []struct {
		Epoch float64
		Rate  float64
	}{
		{0, 1},
		{7.5, 1},
		{8, 1},
		{8.5, 1},
		{9, 0.5},
		{10.5, 0.25},
		{12, 0.0625},
	}
	for _, row := range table {
		if actual := rater.Rate(row.Epoch); math.Abs(actual-row.Rate) > 1e-9 {
			t.Errorf("epoch %.1f: expected rate %f, got %f", row.Epoch,
				row.Rate, actual)
		}
	}
}

func TestPerplexity(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	model := trainTestModel(c)
	batch := trainBatch()

	loss := model.ComputeLoss(batch)
	expected := math.Exp(loss / float64(batch.TargetWords))
	actual := Perplexity(model, BatchList{batch})
	if math.Abs(actual-expected) > 1e-6 {
		t.Errorf("expected perplexity %f, got %f", expected, actual)
	}

	t.Run("NoWords", func(t *testing.T) {
		bad := trainBatch()
		bad.TargetWords = 0
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		Perplexity(model, BatchList{bad})
	})
}
