package seq2seq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var d Decoder
	serializer.RegisterTypedDeserializer(d.SerializerType(), DeserializeDecoder)
}

// A Decoder predicts target token sequences conditioned on
// encoder contexts via attention.
//
// With input feeding enabled, each step's attention output
// is appended to the next step's token embedding; the
// first step sees a zero vector.
//
// A Decoder must be given capacity with Reserve before its
// first Forward call.
type Decoder struct {
	Embed *Embedding
	RNN   *LSTM
	Attn  *Attention
	Gen   *Generator

	InputFeed bool

	unroller *Unroller
	maxBatch int
	maxLen   int
	gradA    anyvec.Vector
	gradB    anyvec.Vector

	tgtIn  [][]int
	tgtOut [][]int
	n      int
	tgtLen int
}

// NewDecoder creates a Decoder with randomly initialized
// parameters.
func NewDecoder(c anyvec.Creator, vocab, embedSize, hidden, layers int,
	dropout float64, inputFeed bool) *Decoder {
	inSize := embedSize
	if inputFeed {
		inSize += hidden
	}
	return &Decoder{
		Embed:     NewEmbedding(c, vocab, embedSize),
		RNN:       NewLSTM(c, inSize, hidden, layers, dropout),
		Attn:      NewAttention(c, hidden),
		Gen:       NewGenerator(c, hidden, vocab),
		InputFeed: inputFeed,
	}
}

// DeserializeDecoder deserializes a Decoder.
//
// The result has no reserved capacity.
func DeserializeDecoder(d []byte) (*Decoder, error) {
	var res Decoder
	err := serializer.DeserializeAny(d, &res.Embed, &res.RNN, &res.Attn,
		&res.Gen)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Decoder", err)
	}
	res.InputFeed = res.RNN.Layers[0].InCount > res.Embed.Dim()
	return &res, nil
}

// Reserve allocates state buffers for batches of up to
// maxBatch sequences of up to maxLen timesteps.
//
// Reserving drops any previously retained forward pass.
func (d *Decoder) Reserve(maxBatch, maxLen int) {
	c := d.creator()
	out := d.outSize()
	in := d.RNN.StateSize()
	if d.InputFeed {
		in = out
	}
	d.maxBatch = maxBatch
	d.maxLen = maxLen
	d.unroller = NewUnroller(c, d.step, in, out, maxBatch)
	d.gradA = c.MakeVector(maxBatch * out)
	d.gradB = c.MakeVector(maxBatch * out)
}

// SetTraining toggles training mode.
func (d *Decoder) SetTraining(training bool) {
	d.RNN.Dropout.Enabled = training && d.RNN.Dropout.KeepProb < 1
	if d.unroller != nil {
		d.unroller.SetTraining(training)
	}
}

// Forward runs the decoder over a batch of target
// sequences, starting from the packed initial recurrent
// states in init.
//
// The attention must already be bound to the batch's
// encoder contexts.
func (d *Decoder) Forward(batch *Batch, init anyvec.Vector) {
	if d.unroller == nil {
		panic("no capacity reserved")
	}
	n := batch.Size()
	tt := batch.TargetLen()
	if n == 0 || tt == 0 {
		panic("empty target batch")
	}
	if n > d.maxBatch || tt > d.maxLen {
		panic("batch exceeds reserved capacity")
	}
	d.tgtIn = batch.TargetInput
	d.tgtOut = batch.TargetOutput
	d.n = n
	d.tgtLen = tt
	state := d.unroller.CopyState(init, n)
	for t := 0; t < tt; t++ {
		state = d.unroller.Step(t, n, state)
	}
}

// Backward back-propagates through the last batch,
// computing the prediction loss on the fly.
//
// For every timestep, the output projection is re-applied
// to the stored attention outputs, the loss gradient is
// merged with the input-feeding gradient from the step
// after it, and the step is back-propagated.
// Loss and gradients are divided by the batch size.
//
// The returned vector is the gradient of the initial
// recurrent states; it stays valid until the next
// Backward call.
func (d *Decoder) Backward(g anydiff.Grad) (loss float64, gradState anyvec.Vector) {
	c := d.creator()
	n := d.n
	s := d.RNN.StateSize()
	out := d.outSize()

	seed := c.MakeVectorData(c.MakeNumericList([]float64{1 / float64(n)}))
	a, b := d.gradA, d.gradB
	sg := a.Slice(0, n*out)
	sg.Scale(c.MakeNumeric(0))
	for t := d.tgtLen - 1; t >= 0; t-- {
		loss += d.lossStep(t, n, sg, seed, g)
		d.unroller.Propagate(d.unroller.Instance(t), sg, b, g)
		a, b = b, a
		sg = a.Slice(0, n*out)
	}
	return loss / float64(n), sg.Slice(0, n*s)
}

// lossStep re-applies the output projection to step t's
// stored attention outputs and back-propagates the
// prediction loss into the attention slot of the state
// gradient sg, returning the step's summed loss.
func (d *Decoder) lossStep(t, n int, sg, seed anyvec.Vector,
	g anydiff.Grad) float64 {
	s := d.RNN.StateSize()
	h := d.RNN.Hidden()
	av := anydiff.NewVar(d.attnSlot(t, n))
	g[av] = sg.Slice(n*s, n*(s+h))
	logProbs := d.Gen.Apply(av, n)
	stepLoss := d.Gen.Loss(logProbs, d.tgtOut[t][:n], n)
	res := floatData(stepLoss.Output())[0]
	stepLoss.Propagate(seed.Copy(), g)
	delete(g, av)
	return res
}

// ComputeLoss runs the decoder over a batch and returns
// the total summed prediction loss.
//
// Unlike Backward, the result is not divided by the batch
// size, so callers can turn it into a per-word perplexity.
func (d *Decoder) ComputeLoss(batch *Batch, init anyvec.Vector) float64 {
	d.Forward(batch, init)
	var loss float64
	n := d.n
	for t := 0; t < d.tgtLen; t++ {
		logProbs := d.Gen.Apply(anydiff.NewConst(d.attnSlot(t, n)), n)
		stepLoss := d.Gen.Loss(logProbs, d.tgtOut[t][:n], n)
		loss += floatData(stepLoss.Output())[0]
	}
	return loss
}

// ComputeScore runs the decoder over a batch and returns
// each sequence's cumulative log likelihood.
//
// Padded target positions do not contribute to the score.
func (d *Decoder) ComputeScore(batch *Batch, init anyvec.Vector) []float64 {
	d.Forward(batch, init)
	n := d.n
	v := d.Gen.VocabSize()
	scores := make([]float64, n)
	for t := 0; t < d.tgtLen; t++ {
		logProbs := d.Gen.Apply(anydiff.NewConst(d.attnSlot(t, n)), n)
		data := floatData(logProbs.Output())
		for b, tok := range d.tgtOut[t][:n] {
			if tok != PadToken {
				scores[b] += data[b*v+tok]
			}
		}
	}
	return scores
}

// Generate greedily decodes a single sequence from the
// packed initial recurrent state in init, stopping at the
// end-of-sequence token or after maxLen tokens.
//
// The attention must already be bound to a single-sequence
// context.
func (d *Decoder) Generate(init anyvec.Vector, maxLen int) []int {
	if d.unroller == nil {
		panic("no capacity reserved")
	}
	d.tgtIn = nil
	d.n = 1
	state := d.unroller.CopyState(init, 1)
	tok := BosToken
	var res []int
	for t := 0; t < maxLen; t++ {
		d.tgtIn = append(d.tgtIn, []int{tok})
		state = d.unroller.Step(t, 1, state)
		logProbs := d.Gen.Apply(anydiff.NewConst(d.attnSlot(t, 1)), 1)
		tok = argmax(floatData(logProbs.Output()))
		if tok == EosToken {
			break
		}
		res = append(res, tok)
	}
	return res
}

// Parameters returns the decoder's parameters.
func (d *Decoder) Parameters() []*anydiff.Var {
	res := append(d.Embed.Parameters(), d.RNN.Parameters()...)
	res = append(res, d.Attn.Parameters()...)
	return append(res, d.Gen.Parameters()...)
}

// SerializerType returns the unique ID used to serialize
// a Decoder with the serializer package.
func (d *Decoder) SerializerType() string {
	return "github.com/unixpickle/seq2seq.Decoder"
}

// Serialize serializes the Decoder.
func (d *Decoder) Serialize() ([]byte, error) {
	return serializer.SerializeAny(d.Embed, d.RNN, d.Attn, d.Gen)
}

func (d *Decoder) step(t, n int, state anydiff.Res) anydiff.Res {
	s := d.RNN.StateSize()
	h := d.RNN.Hidden()
	emb := d.Embed.Lookup(d.tgtIn[t][:n])
	var rnnIn, input anydiff.Res
	if d.InputFeed {
		rnnIn = anydiff.Slice(state, 0, n*s)
		feed := anydiff.Slice(state, n*s, n*(s+h))
		input = rowJoin(emb, d.Embed.Dim(), feed, h, n)
	} else {
		rnnIn = state
		input = emb
	}
	newState := d.RNN.Apply(rnnIn, input, n)
	return anydiff.Pool(newState, func(newState anydiff.Res) anydiff.Res {
		hTop := anydiff.Slice(newState, (s-h)*n, s*n)
		attnOut := d.Attn.Apply(hTop, n)
		return anydiff.Concat(newState, attnOut)
	})
}

func (d *Decoder) outSize() int {
	return d.RNN.StateSize() + d.RNN.Hidden()
}

// attnSlot returns the stored attention outputs of step t.
func (d *Decoder) attnSlot(t, n int) anyvec.Vector {
	s := d.RNN.StateSize()
	h := d.RNN.Hidden()
	return d.unroller.Instance(t).OutBuf.Slice(n*s, n*(s+h))
}

func (d *Decoder) creator() anyvec.Creator {
	return d.Embed.Matrix.Vector.Creator()
}

// rowJoin concatenates two row-major matrices with the
// same number of rows along their columns.
func rowJoin(a anydiff.Res, aCols int, b anydiff.Res, bCols, n int) anydiff.Res {
	return anydiff.Pool(a, func(a anydiff.Res) anydiff.Res {
		return anydiff.Pool(b, func(b anydiff.Res) anydiff.Res {
			var parts []anydiff.Res
			for i := 0; i < n; i++ {
				parts = append(parts,
					anydiff.Slice(a, i*aCols, (i+1)*aCols),
					anydiff.Slice(b, i*bCols, (i+1)*bCols))
			}
			return anydiff.Concat(parts...)
		})
	})
}

func argmax(data []float64) int {
	res := 0
	for i, x := range data {
		if x > data[res] {
			res = i
		}
	}
	return res
}
