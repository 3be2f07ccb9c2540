package seq2seq

import (
	"errors"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
)

// A Trainer computes parameter gradients for batches of
// sequence pairs.
//
// It implements anysgd.Fetcher and anysgd.Gradienter with
// a batch size of one, since every sample is itself a
// padded batch.
type Trainer struct {
	Model *Model

	// LastCost is the loss of the most recent batch,
	// divided by the number of sequence pairs in it.
	LastCost float64

	params []*anydiff.Var
	grad   anydiff.Grad
}

// NewTrainer creates a Trainer for a model.
func NewTrainer(m *Model) *Trainer {
	return &Trainer{Model: m, params: m.Parameters()}
}

// Fetch returns the single batch in the sample list.
func (t *Trainer) Fetch(s anysgd.SampleList) (anysgd.Batch, error) {
	if s.Len() != 1 {
		return nil, errors.New("fetch batch: expected exactly one sample")
	}
	return s.(BatchList)[0], nil
}

// Gradient computes the gradient for a batch.
//
// The same gradient buffers are reused from call to call,
// zeroed at the start of each call.
func (t *Trainer) Gradient(b anysgd.Batch) anydiff.Grad {
	if t.grad == nil {
		t.grad = anydiff.NewGrad(t.params...)
	} else {
		t.grad.Clear()
	}
	batch := b.(*Batch)
	t.Model.Forward(batch)
	t.LastCost = t.Model.Backward(t.grad)
	return t.grad
}

// A GradClipper scales gradients so that their global L2
// norm never exceeds Max, then hands them to the Next
// transformer if there is one.
//
// A non-finite gradient norm is fatal.
type GradClipper struct {
	Max  float64
	Next anysgd.Transformer
}

// Transform clips the gradient in place.
func (g *GradClipper) Transform(grad anydiff.Grad) anydiff.Grad {
	norm := gradNorm(grad)
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		panic("gradient norm is not finite")
	}
	if norm > g.Max {
		var c anyvec.Creator
		for _, v := range grad {
			c = v.Creator()
			break
		}
		grad.Scale(c.MakeNumeric(g.Max / norm))
	}
	if g.Next != nil {
		return g.Next.Transform(grad)
	}
	return grad
}

// A DecayRater anneals the learning rate, multiplying it
// by Decay for every full epoch after the first DecayAfter
// epochs.
type DecayRater struct {
	Initial    float64
	Decay      float64
	DecayAfter float64
}

// Rate returns the learning rate for an epoch.
func (d *DecayRater) Rate(epoch float64) float64 {
	steps := math.Floor(epoch - d.DecayAfter)
	if steps <= 0 {
		return d.Initial
	}
	return d.Initial * math.Pow(d.Decay, steps)
}

// Perplexity computes a model's per-word perplexity over
// a list of batches.
//
// The model should be in evaluation mode.
func Perplexity(m *Model, batches BatchList) float64 {
	var nll float64
	var words int
	for _, b := range batches {
		nll += m.ComputeLoss(b)
		words += b.TargetWords
	}
	if words == 0 {
		panic("no target words")
	}
	return math.Exp(nll / float64(words))
}

func gradNorm(g anydiff.Grad) float64 {
	var sum float64
	for _, v := range g {
		sum += numToFloat(v.Dot(v))
	}
	return math.Sqrt(sum)
}

func numToFloat(num anyvec.Numeric) float64 {
	switch n := num.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		panic("unsupported numeric type")
	}
}
