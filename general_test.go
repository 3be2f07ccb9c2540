package seq2seq

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// randUpstream produces a deterministic random vector for
// back-propagation tests.
func randUpstream(c anyvec.Creator, size int, seed int64) anyvec.Vector {
	gen := rand.New(rand.NewSource(seed))
	data := make([]float64, size)
	for i := range data {
		data[i] = gen.NormFloat64()
	}
	return c.MakeVectorData(c.MakeNumericList(data))
}

// gradientsEquivalent ensures that two gradients assign
// matching vectors to every variable of the first.
func gradientsEquivalent(t *testing.T, actGrad, expGrad anydiff.Grad) {
	for variable, vec := range actGrad {
		expVec := expGrad[variable]
		if expVec == nil {
			t.Error("excess variable")
			continue
		}
		diff := expVec.Copy()
		diff.Sub(vec)
		maxDiff := anyvec.AbsMax(diff).(float64)
		if maxDiff > 1e-4 {
			t.Errorf("gradient mismatch: expected %v got %v", expVec.Data(),
				vec.Data())
			return
		}
	}
}

// addGrads sums src into dst for every shared variable.
func addGrads(dst, src anydiff.Grad) {
	for variable, vec := range src {
		if dstVec, ok := dst[variable]; ok {
			dstVec.Add(vec)
		}
	}
}

// stateRow extracts example b's row of a state segment.
func stateRow(vec anyvec.Vector, seg, b, n, h int) []float64 {
	return floatData(vec.Slice(seg*n*h+b*h, seg*n*h+(b+1)*h))
}

func slicesClose(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i, x := range a {
		if math.Abs(x-b[i]) > 1e-4 {
			return false
		}
	}
	return true
}
