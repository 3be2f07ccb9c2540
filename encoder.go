package seq2seq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var e Encoder
	serializer.RegisterTypedDeserializer(e.SerializerType(), DeserializeEncoder)
}

// An Encoder turns batches of source token sequences into
// per-sequence context matrices and a final recurrent
// state.
//
// An Encoder must be given capacity with Reserve before
// its first Forward call.
type Encoder struct {
	Embed *Embedding
	RNN   *LSTM

	unroller *Unroller
	maxBatch int
	maxLen   int

	ctxBuf   anyvec.Vector
	ctxGrad  anyvec.Vector
	finalBuf anyvec.Vector
	gradA    anyvec.Vector
	gradB    anyvec.Vector

	src     [][]int
	lens    []int
	padLeft bool
	srcLen  int
	n       int
	ctxVars []*anydiff.Var
}

// NewEncoder creates an Encoder with randomly initialized
// parameters.
func NewEncoder(c anyvec.Creator, vocab, embedSize, hidden, layers int,
	dropout float64) *Encoder {
	return &Encoder{
		Embed: NewEmbedding(c, vocab, embedSize),
		RNN:   NewLSTM(c, embedSize, hidden, layers, dropout),
	}
}

// DeserializeEncoder deserializes an Encoder.
//
// The result has no reserved capacity.
func DeserializeEncoder(d []byte) (*Encoder, error) {
	var res Encoder
	if err := serializer.DeserializeAny(d, &res.Embed, &res.RNN); err != nil {
		return nil, essentials.AddCtx("deserialize Encoder", err)
	}
	return &res, nil
}

// Reserve allocates state buffers for batches of up to
// maxBatch sequences of up to maxLen timesteps.
//
// Reserving drops any previously retained forward pass.
func (e *Encoder) Reserve(maxBatch, maxLen int) {
	c := e.creator()
	s := e.RNN.StateSize()
	h := e.RNN.Hidden()
	e.maxBatch = maxBatch
	e.maxLen = maxLen
	e.unroller = NewUnroller(c, e.step, s, s, maxBatch)
	e.ctxBuf = c.MakeVector(maxBatch * maxLen * h)
	e.ctxGrad = c.MakeVector(maxBatch * maxLen * h)
	e.finalBuf = c.MakeVector(maxBatch * s)
	e.gradA = c.MakeVector(maxBatch * s)
	e.gradB = c.MakeVector(maxBatch * s)
}

// SetTraining toggles training mode.
//
// Backward may only be called for batches run forward in
// training mode.
func (e *Encoder) SetTraining(training bool) {
	e.RNN.Dropout.Enabled = training && e.RNN.Dropout.KeepProb < 1
	if e.unroller != nil {
		e.unroller.SetTraining(training)
	}
}

// Forward runs the encoder over a batch of padded source
// sequences.
//
// For left-padded batches, the recurrent state of each
// sequence is forced to zero until its true tokens begin.
// For right-padded batches, the state at each sequence's
// last true token is snapshotted as its final state.
func (e *Encoder) Forward(batch *Batch) {
	if e.unroller == nil {
		panic("no capacity reserved")
	}
	n := batch.Size()
	T := batch.SourceLen()
	if n == 0 || T == 0 {
		panic("empty source batch")
	}
	if n > e.maxBatch || T > e.maxLen {
		panic("batch exceeds reserved capacity")
	}
	e.src = batch.Source
	e.lens = batch.SourceLens
	e.padLeft = batch.SourcePadLeft
	e.srcLen = T
	e.n = n

	h := e.RNN.Hidden()
	s := e.RNN.StateSize()
	top := (s - h) * n

	state := e.unroller.ResetState(n)
	for t := 0; t < T; t++ {
		state = e.unroller.Step(t, n, state)
		for b, l := range e.lens {
			if e.padLeft {
				if t < T-l {
					e.zeroRows(state, b, n)
				}
			} else if t == l-1 {
				e.copyRows(e.finalBuf, state, b, n)
			}
		}
		for b := 0; b < n; b++ {
			row := state.Slice(top+b*h, top+(b+1)*h)
			e.ctxRow(b, t).Set(row)
		}
	}
	if e.padLeft {
		e.finalBuf.Slice(0, n*s).Set(state)
	}

	e.ctxVars = e.ctxVars[:0]
	for b := 0; b < n; b++ {
		slab := e.ctxBuf.Slice(b*e.maxLen*h, b*e.maxLen*h+T*h)
		e.ctxVars = append(e.ctxVars, anydiff.NewVar(slab))
	}
}

// Context returns one context matrix variable per
// sequence in the last batch, each with one row per
// source timestep.
//
// The variables stay valid until the next Forward call.
func (e *Encoder) Context() []*anydiff.Var {
	return e.ctxVars
}

// FinalState returns the packed final recurrent states of
// the last batch.
func (e *Encoder) FinalState() anyvec.Vector {
	return e.finalBuf.Slice(0, e.n*e.RNN.StateSize())
}

// RegisterContextGrads registers a zeroed gradient buffer
// for every context variable of the last batch.
//
// Downstream back-propagation accumulates context
// gradients into the buffers, which Backward then folds
// into the recurrent chain.
func (e *Encoder) RegisterContextGrads(g anydiff.Grad) {
	h := e.RNN.Hidden()
	zero := e.creator().MakeNumeric(0)
	for b, v := range e.ctxVars {
		view := e.ctxGrad.Slice(b*e.maxLen*h, b*e.maxLen*h+e.srcLen*h)
		view.Scale(zero)
		g[v] = view
	}
}

// Backward back-propagates through the last batch.
//
// The gradStates argument holds the gradient of the final
// recurrent states, or nil if there is none.
// Context gradients registered by RegisterContextGrads are
// consumed and removed from g.
func (e *Encoder) Backward(gradStates anyvec.Vector, g anydiff.Grad) {
	n := e.n
	T := e.srcLen
	s := e.RNN.StateSize()
	h := e.RNN.Hidden()
	top := (s - h) * n

	a, b := e.gradA, e.gradB
	sg := a.Slice(0, n*s)
	sg.Scale(e.creator().MakeNumeric(0))
	if gradStates != nil && e.padLeft {
		sg.Set(gradStates)
	}
	for t := T - 1; t >= 0; t-- {
		for i, l := range e.lens {
			if e.padLeft {
				if t < T-l {
					e.zeroRows(sg, i, n)
				}
			} else if t >= l-1 {
				e.zeroRows(sg, i, n)
				if t == l-1 && gradStates != nil {
					e.copyRows(sg, gradStates, i, n)
				}
			}
		}
		for i := 0; i < n; i++ {
			row := sg.Slice(top+i*h, top+(i+1)*h)
			row.Add(e.ctxGrad.Slice(i*e.maxLen*h+t*h, i*e.maxLen*h+(t+1)*h))
		}
		e.unroller.Propagate(e.unroller.Instance(t), sg, b, g)
		a, b = b, a
		sg = a.Slice(0, n*s)
	}
	for _, v := range e.ctxVars {
		delete(g, v)
	}
}

// Parameters returns the encoder's parameters.
func (e *Encoder) Parameters() []*anydiff.Var {
	return append(e.Embed.Parameters(), e.RNN.Parameters()...)
}

// SerializerType returns the unique ID used to serialize
// an Encoder with the serializer package.
func (e *Encoder) SerializerType() string {
	return "github.com/unixpickle/seq2seq.Encoder"
}

// Serialize serializes the Encoder.
func (e *Encoder) Serialize() ([]byte, error) {
	return serializer.SerializeAny(e.Embed, e.RNN)
}

func (e *Encoder) step(t, n int, state anydiff.Res) anydiff.Res {
	emb := e.Embed.Lookup(e.src[t][:n])
	return e.RNN.Apply(state, emb, n)
}

func (e *Encoder) creator() anyvec.Creator {
	return e.Embed.Matrix.Vector.Creator()
}

// zeroRows zeroes example b's row in every state segment.
func (e *Encoder) zeroRows(state anyvec.Vector, b, n int) {
	h := e.RNN.Hidden()
	zero := e.creator().MakeNumeric(0)
	for seg := 0; seg < 2*len(e.RNN.Layers); seg++ {
		state.Slice(seg*n*h+b*h, seg*n*h+(b+1)*h).Scale(zero)
	}
}

// copyRows copies example b's row in every state segment
// from src to dst.
func (e *Encoder) copyRows(dst, src anyvec.Vector, b, n int) {
	h := e.RNN.Hidden()
	for seg := 0; seg < 2*len(e.RNN.Layers); seg++ {
		row := src.Slice(seg*n*h+b*h, seg*n*h+(b+1)*h)
		dst.Slice(seg*n*h+b*h, seg*n*h+(b+1)*h).Set(row)
	}
}

func (e *Encoder) ctxRow(b, t int) anyvec.Vector {
	h := e.RNN.Hidden()
	off := b*e.maxLen*h + t*h
	return e.ctxBuf.Slice(off, off+h)
}
