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
	var l LSTM
	serializer.RegisterTypedDeserializer(l.SerializerType(), DeserializeLSTM)
	var layer LSTMLayer
	serializer.RegisterTypedDeserializer(layer.SerializerType(), DeserializeLSTMLayer)
	var g LSTMGate
	serializer.RegisterTypedDeserializer(g.SerializerType(), DeserializeLSTMGate)
}

// An LSTMGate mixes the step input with the previous
// hidden state.
type LSTMGate struct {
	Input *anynet.FC
	State *anynet.FC
}

// NewLSTMGate creates a randomized gate.
func NewLSTMGate(c anyvec.Creator, in, state, out int) *LSTMGate {
	return &LSTMGate{
		Input: anynet.NewFC(c, in, out),
		State: anynet.NewFC(c, state, out),
	}
}

// DeserializeLSTMGate deserializes an LSTMGate.
func DeserializeLSTMGate(d []byte) (*LSTMGate, error) {
	var res LSTMGate
	if err := serializer.DeserializeAny(d, &res.Input, &res.State); err != nil {
		return nil, essentials.AddCtx("deserialize LSTMGate", err)
	}
	return &res, nil
}

// Apply computes the pre-activation gate values.
func (l *LSTMGate) Apply(input, hidden anydiff.Res, n int) anydiff.Res {
	return anydiff.Add(l.Input.Apply(input, n), l.State.Apply(hidden, n))
}

// Parameters returns the gate's parameters.
func (l *LSTMGate) Parameters() []*anydiff.Var {
	return append(l.Input.Parameters(), l.State.Parameters()...)
}

// SerializerType returns the unique ID used to serialize
// an LSTMGate with the serializer package.
func (l *LSTMGate) SerializerType() string {
	return "github.com/unixpickle/seq2seq.LSTMGate"
}

// Serialize serializes the LSTMGate.
func (l *LSTMGate) Serialize() ([]byte, error) {
	return serializer.SerializeAny(l.Input, l.State)
}

// An LSTMLayer is a single LSTM cell operating on a batch
// of packed vectors.
type LSTMLayer struct {
	InCount  int
	OutCount int

	InputGate  *LSTMGate
	ForgetGate *LSTMGate
	OutputGate *LSTMGate
	CellInput  *LSTMGate
}

// NewLSTMLayer creates a randomized layer.
func NewLSTMLayer(c anyvec.Creator, in, out int) *LSTMLayer {
	res := &LSTMLayer{
		InCount:    in,
		OutCount:   out,
		InputGate:  NewLSTMGate(c, in, out, out),
		ForgetGate: NewLSTMGate(c, in, out, out),
		OutputGate: NewLSTMGate(c, in, out, out),
		CellInput:  NewLSTMGate(c, in, out, out),
	}

	// Forget bias starts at 1.
	res.ForgetGate.Input.Biases.Vector.AddScalar(c.MakeNumeric(1))

	return res
}

// DeserializeLSTMLayer deserializes an LSTMLayer.
func DeserializeLSTMLayer(d []byte) (*LSTMLayer, error) {
	var res LSTMLayer
	err := serializer.DeserializeAny(d, &res.InputGate, &res.ForgetGate,
		&res.OutputGate, &res.CellInput)
	if err != nil {
		return nil, essentials.AddCtx("deserialize LSTMLayer", err)
	}
	res.InCount = res.InputGate.Input.InCount
	res.OutCount = res.InputGate.Input.OutCount
	return &res, nil
}

// Step advances the cell by one timestep.
func (l *LSTMLayer) Step(cell, hidden, input anydiff.Res, n int) (newCell,
	newHidden anydiff.Res) {
	inVal := anydiff.Sigmoid(l.InputGate.Apply(input, hidden, n))
	forget := anydiff.Sigmoid(l.ForgetGate.Apply(input, hidden, n))
	out := anydiff.Sigmoid(l.OutputGate.Apply(input, hidden, n))
	cand := anydiff.Tanh(l.CellInput.Apply(input, hidden, n))

	newCell = anydiff.Add(anydiff.Mul(forget, cell), anydiff.Mul(inVal, cand))
	newHidden = anydiff.Mul(out, anydiff.Tanh(newCell))
	return
}

// Parameters returns the layer's parameters.
func (l *LSTMLayer) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, g := range []*LSTMGate{l.InputGate, l.ForgetGate, l.OutputGate, l.CellInput} {
		res = append(res, g.Parameters()...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// an LSTMLayer with the serializer package.
func (l *LSTMLayer) SerializerType() string {
	return "github.com/unixpickle/seq2seq.LSTMLayer"
}

// Serialize serializes the LSTMLayer.
func (l *LSTMLayer) Serialize() ([]byte, error) {
	return serializer.SerializeAny(l.InputGate, l.ForgetGate, l.OutputGate,
		l.CellInput)
}

// An LSTM is a stack of LSTM layers with optional dropout
// between them.
//
// Its flat state layout is segment-contiguous: for a batch
// of n examples, segment 2*i holds layer i's cell values
// (n rows of OutCount), segment 2*i+1 holds layer i's
// hidden values.
type LSTM struct {
	Layers []*LSTMLayer

	// Dropout is applied to the inputs of every layer but
	// the first, and only while it is enabled.
	Dropout *anynet.Dropout
}

// NewLSTM creates a randomized stack of LSTM layers.
// The dropout argument is a drop probability; zero
// disables dropout entirely.
func NewLSTM(c anyvec.Creator, in, hidden, layers int, dropout float64) *LSTM {
	if layers < 1 {
		panic("need at least one layer")
	}
	res := &LSTM{
		Dropout: &anynet.Dropout{KeepProb: 1 - dropout},
	}
	for i := 0; i < layers; i++ {
		if i == 0 {
			res.Layers = append(res.Layers, NewLSTMLayer(c, in, hidden))
		} else {
			res.Layers = append(res.Layers, NewLSTMLayer(c, hidden, hidden))
		}
	}
	return res
}

// DeserializeLSTM deserializes an LSTM.
func DeserializeLSTM(d []byte) (*LSTM, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize LSTM", err)
	}
	if len(slice) < 2 {
		return nil, errors.New("deserialize LSTM: invalid slice length")
	}
	res := &LSTM{}
	for _, x := range slice[:len(slice)-1] {
		layer, ok := x.(*LSTMLayer)
		if !ok {
			return nil, errors.New("deserialize LSTM: unexpected type")
		}
		res.Layers = append(res.Layers, layer)
	}
	res.Dropout, _ = slice[len(slice)-1].(*anynet.Dropout)
	if res.Dropout == nil {
		return nil, errors.New("deserialize LSTM: unexpected type")
	}
	return res, nil
}

// Hidden returns the per-layer hidden size.
func (l *LSTM) Hidden() int {
	return l.Layers[0].OutCount
}

// StateSize returns the per-example width of the flat
// state vector.
func (l *LSTM) StateSize() int {
	return 2 * len(l.Layers) * l.Hidden()
}

// Apply advances every layer by one timestep.
//
// The state argument is the previous flat state for n
// examples; input is the packed layer-0 input.
// The result is the new flat state.
func (l *LSTM) Apply(state, input anydiff.Res, n int) anydiff.Res {
	h := l.Hidden()
	outs := make([]anydiff.Res, 0, 2*len(l.Layers))
	x := input
	for i, layer := range l.Layers {
		if i > 0 && l.Dropout.Enabled {
			x = l.Dropout.Apply(x, n)
		}
		cell := anydiff.Slice(state, (2*i)*n*h, (2*i+1)*n*h)
		hidden := anydiff.Slice(state, (2*i+1)*n*h, (2*i+2)*n*h)
		newCell, newHidden := layer.Step(cell, hidden, x, n)
		outs = append(outs, newCell, newHidden)
		x = newHidden
	}
	return anydiff.Concat(outs...)
}

// Parameters returns the parameters of every layer.
func (l *LSTM) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, layer := range l.Layers {
		res = append(res, layer.Parameters()...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// an LSTM with the serializer package.
func (l *LSTM) SerializerType() string {
	return "github.com/unixpickle/seq2seq.LSTM"
}

// Serialize serializes the LSTM.
func (l *LSTM) Serialize() ([]byte, error) {
	var objs []serializer.Serializer
	for _, layer := range l.Layers {
		objs = append(objs, layer)
	}
	objs = append(objs, l.Dropout)
	return serializer.SerializeSlice(objs)
}
