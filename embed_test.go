package seq2seq

import (
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestEmbeddingLookup(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	emb := &Embedding{
		Matrix: anydiff.NewVar(c.MakeVectorData(c.MakeNumericList([]float64{
			1, 2,
			3, 4,
			5, 6,
		}))),
		VocabSize: 3,
	}
	if emb.Dim() != 2 {
		t.Fatalf("expected dimension 2, got %d", emb.Dim())
	}
	out := emb.Lookup([]int{2, 0, 2})
	expected := []float64{5, 6, 1, 2, 5, 6}
	if !slicesClose(floatData(out.Output()), expected) {
		t.Errorf("expected %v got %v", expected, out.Output().Data())
	}

	t.Run("OutOfRange", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		emb.Lookup([]int{3})
	})
}

func TestEmbeddingGrad(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	emb := NewEmbedding(c, 5, 3)
	ch := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return emb.Lookup([]int{1, 4, 1, 0})
		},
		V: emb.Parameters(),
	}
	ch.FullCheck(t)
}

func TestEmbeddingSerialize(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	emb := NewEmbedding(c, 5, 3)
	data, err := emb.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	emb1, err := DeserializeEmbedding(data)
	if err != nil {
		t.Fatal(err)
	}
	if emb1.VocabSize != 5 || emb1.Dim() != 3 {
		t.Errorf("expected 5x3 table, got %dx%d", emb1.VocabSize, emb1.Dim())
	}
	if !slicesClose(floatData(emb1.Matrix.Vector), floatData(emb.Matrix.Vector)) {
		t.Error("lookup table not preserved")
	}
}
