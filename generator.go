package seq2seq

import (
	"errors"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var g Generator
	serializer.RegisterTypedDeserializer(g.SerializerType(), DeserializeGenerator)
}

// A Generator projects decoder outputs into log
// probabilities over the target vocabulary.
type Generator struct {
	Net anynet.Net
}

// NewGenerator creates a Generator mapping hidden-state
// vectors to a distribution over vocab tokens.
func NewGenerator(c anyvec.Creator, hidden, vocab int) *Generator {
	return &Generator{
		Net: anynet.Net{
			anynet.NewFC(c, hidden, vocab),
			anynet.LogSoftmax,
		},
	}
}

// DeserializeGenerator deserializes a Generator.
func DeserializeGenerator(d []byte) (*Generator, error) {
	var res Generator
	if err := serializer.DeserializeAny(d, &res.Net); err != nil {
		return nil, essentials.AddCtx("deserialize Generator", err)
	}
	if len(res.Net) == 0 {
		return nil, errors.New("deserialize Generator: empty network")
	}
	if _, ok := res.Net[0].(*anynet.FC); !ok {
		return nil, errors.New("deserialize Generator: unexpected first layer")
	}
	return &res, nil
}

// VocabSize returns the size of the target vocabulary.
func (g *Generator) VocabSize() int {
	return g.Net[0].(*anynet.FC).OutCount
}

// Apply computes log probabilities for a batch of n
// hidden-state rows.
func (g *Generator) Apply(hidden anydiff.Res, n int) anydiff.Res {
	return g.Net.Apply(hidden, n)
}

// Loss computes the total negative log likelihood of the
// targets under a batch of n log probability rows.
//
// Rows whose target is the padding token contribute no
// loss and no gradient.
// The result is a sum, not a mean.
func (g *Generator) Loss(logProbs anydiff.Res, targets []int, n int) anydiff.Res {
	v := g.VocabSize()
	if len(targets) != n {
		panic("target count does not match batch size")
	}
	if logProbs.Output().Len() != n*v {
		panic("unexpected log probability size")
	}
	c := logProbs.Output().Creator()
	sel := make([]float64, n*v)
	for b, tok := range targets {
		if tok < 0 || tok >= v {
			panic("token index out of range")
		}
		if tok != PadToken {
			sel[b*v+tok] = 1
		}
	}
	selMat := &anydiff.Matrix{
		Data: anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(sel))),
		Rows: n * v,
		Cols: 1,
	}
	probMat := &anydiff.Matrix{Data: logProbs, Rows: 1, Cols: n * v}
	picked := anydiff.MatMul(false, false, probMat, selMat)
	return anydiff.Scale(picked.Data, c.MakeNumeric(-1))
}

// Parameters returns the generator's parameters.
func (g *Generator) Parameters() []*anydiff.Var {
	return g.Net.Parameters()
}

// SerializerType returns the unique ID used to serialize
// a Generator with the serializer package.
func (g *Generator) SerializerType() string {
	return "github.com/unixpickle/seq2seq.Generator"
}

// Serialize serializes the Generator.
func (g *Generator) Serialize() ([]byte, error) {
	return serializer.SerializeAny(g.Net)
}

func floatData(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return data
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	default:
		panic("unsupported numeric type")
	}
}
