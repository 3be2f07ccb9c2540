package test

import (
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/seq2seq"
)

func tinyModel(c anyvec.Creator, inputFeed bool) *seq2seq.Model {
	model := seq2seq.NewModel(c, seq2seq.Config{
		SourceVocab: 6,
		TargetVocab: 6,
		EmbedSize:   3,
		HiddenSize:  4,
		Layers:      2,
		InputFeed:   inputFeed,
	})
	model.Reserve(2, 3, 3)
	model.SetTraining(true)
	return model
}

// buildBatch assembles a time-major batch from unpadded
// token sequences, bracketing each target with the start
// and end tokens.
func buildBatch(srcSeqs, tgtSeqs [][]int, padLeft bool) *seq2seq.Batch {
	n := len(srcSeqs)
	batch := &seq2seq.Batch{SourcePadLeft: padLeft}
	var srcMax, tgtMax int
	for _, s := range srcSeqs {
		batch.SourceLens = append(batch.SourceLens, len(s))
		if len(s) > srcMax {
			srcMax = len(s)
		}
	}
	for _, s := range tgtSeqs {
		batch.TargetLens = append(batch.TargetLens, len(s)+1)
		batch.TargetWords += len(s) + 1
		if len(s)+1 > tgtMax {
			tgtMax = len(s) + 1
		}
	}
	for t := 0; t < srcMax; t++ {
		row := make([]int, n)
		for b, s := range srcSeqs {
			idx := t
			if padLeft {
				idx = t - (srcMax - len(s))
			}
			if idx >= 0 && idx < len(s) {
				row[b] = s[idx]
			}
		}
		batch.Source = append(batch.Source, row)
	}
	for t := 0; t < tgtMax; t++ {
		in := make([]int, n)
		out := make([]int, n)
		for b, s := range tgtSeqs {
			if t == 0 {
				in[b] = seq2seq.BosToken
			} else if t <= len(s) {
				in[b] = s[t-1]
			}
			if t < len(s) {
				out[b] = s[t]
			} else if t == len(s) {
				out[b] = seq2seq.EosToken
			}
		}
		batch.TargetInput = append(batch.TargetInput, in)
		batch.TargetOutput = append(batch.TargetOutput, out)
	}
	return batch
}

// scenarioBatch pairs the sources [2 5] and [4 5 3] with
// the targets [3 4] and [4], so one source needs padding.
func scenarioBatch(padLeft bool) *seq2seq.Batch {
	return buildBatch([][]int{{2, 5}, {4, 5, 3}}, [][]int{{3, 4}, {4}}, padLeft)
}

func vecData(v anyvec.Vector) []float64 {
	return v.Data().([]float64)
}

func gradsClose(t *testing.T, actual, expected anydiff.Grad) {
	for v, expVec := range expected {
		actVec, ok := actual[v]
		if !ok {
			t.Error("missing variable gradient")
			continue
		}
		diff := expVec.Copy()
		diff.Sub(actVec)
		if anyvec.AbsMax(diff).(float64) > 1e-4 {
			t.Errorf("gradient mismatch: expected %v got %v", expVec.Data(),
				actVec.Data())
			return
		}
	}
}
