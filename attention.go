package seq2seq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var a Attention
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeAttention)
}

// Attention scores a batch of decoder hidden states
// against per-example encoder contexts and mixes each
// context into a fixed-size summary.
//
// The score of a context row is its dot product with a
// learned projection of the query.
//
// An Attention is bound to one batch of contexts at a
// time; the decoder rebinds it whenever the source batch
// or the beam width changes.
type Attention struct {
	Query *anynet.FC
	Out   *anynet.FC

	ctx  []*anydiff.Var
	mask *SoftmaxMask
}

// NewAttention creates an Attention for hidden states of
// the given size.
func NewAttention(c anyvec.Creator, hidden int) *Attention {
	return &Attention{
		Query: anynet.NewFC(c, hidden, hidden),
		Out:   anynet.NewFC(c, hidden*2, hidden),
	}
}

// DeserializeAttention deserializes an Attention.
//
// The result has no bound context.
func DeserializeAttention(d []byte) (*Attention, error) {
	var res Attention
	if err := serializer.DeserializeAny(d, &res.Query, &res.Out); err != nil {
		return nil, essentials.AddCtx("deserialize Attention", err)
	}
	return &res, nil
}

// Hidden returns the hidden-state size.
func (a *Attention) Hidden() int {
	return a.Query.InCount
}

// BindContext points the attention at a batch of encoder
// contexts.
//
// Each context is a maxLen-by-Hidden() matrix variable.
// lens gives the true length of each source sequence; a
// nil lens disables masking, letting every context
// position receive attention.
// The softmax mask is rebuilt only if the lengths or the
// beam width differ from the previous binding.
func (a *Attention) BindContext(ctx []*anydiff.Var, lens []int, maxLen int,
	padLeft bool, beam int) {
	if lens == nil {
		lens = make([]int, len(ctx))
		for i := range lens {
			lens[i] = maxLen
		}
	}
	if len(ctx) != len(lens) {
		panic("context count does not match length count")
	}
	a.ctx = ctx
	if a.mask == nil || a.mask.MaxLen != maxLen || a.mask.PadLeft != padLeft ||
		!a.mask.Matches(lens, beam) {
		c := a.Query.Weights.Vector.Creator()
		a.mask = NewSoftmaxMask(c, lens, maxLen, padLeft, beam)
	}
}

// Bound reports whether a context is currently bound.
func (a *Attention) Bound() bool {
	return a.ctx != nil
}

// Apply computes attention summaries for a batch of n
// hidden-state rows.
//
// The batch size must match the bound context batch times
// the beam width; with a beam, row i attends over the
// context of sequence i/beam.
func (a *Attention) Apply(hTop anydiff.Res, n int) anydiff.Res {
	if !a.Bound() {
		panic("no attention context bound")
	}
	if n != a.mask.Rows() {
		panic("batch does not match bound context")
	}
	h := a.Hidden()
	t := a.mask.MaxLen
	return anydiff.Pool(hTop, func(hTop anydiff.Res) anydiff.Res {
		query := a.Query.Apply(hTop, n)
		scores := anydiff.Pool(query, func(query anydiff.Res) anydiff.Res {
			var rows []anydiff.Res
			for i := 0; i < n; i++ {
				q := &anydiff.Matrix{
					Data: anydiff.Slice(query, i*h, (i+1)*h),
					Rows: 1,
					Cols: h,
				}
				score := anydiff.MatMul(false, true, q, a.ctxMatrix(i))
				rows = append(rows, score.Data)
			}
			return anydiff.Concat(rows...)
		})
		probs := a.mask.Apply(scores)
		mixed := anydiff.Pool(probs, func(probs anydiff.Res) anydiff.Res {
			var parts []anydiff.Res
			for i := 0; i < n; i++ {
				p := &anydiff.Matrix{
					Data: anydiff.Slice(probs, i*t, (i+1)*t),
					Rows: 1,
					Cols: t,
				}
				weighted := anydiff.MatMul(false, false, p, a.ctxMatrix(i))
				parts = append(parts, weighted.Data,
					anydiff.Slice(hTop, i*h, (i+1)*h))
			}
			return anydiff.Concat(parts...)
		})
		return anydiff.Tanh(a.Out.Apply(mixed, n))
	})
}

func (a *Attention) ctxMatrix(row int) *anydiff.Matrix {
	return &anydiff.Matrix{
		Data: a.ctx[row/a.mask.Beam],
		Rows: a.mask.MaxLen,
		Cols: a.Hidden(),
	}
}

// Parameters returns the attention's parameters.
func (a *Attention) Parameters() []*anydiff.Var {
	return append(a.Query.Parameters(), a.Out.Parameters()...)
}

// SerializerType returns the unique ID used to serialize
// an Attention with the serializer package.
func (a *Attention) SerializerType() string {
	return "github.com/unixpickle/seq2seq.Attention"
}

// Serialize serializes the Attention.
func (a *Attention) Serialize() ([]byte, error) {
	return serializer.SerializeAny(a.Query, a.Out)
}
