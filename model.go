// Package seq2seq implements attentional encoder-decoder
// models for sequence transduction, unrolled explicitly
// over time with pre-allocated per-timestep buffers.
package seq2seq

import (
	"os"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var m Model
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeModel)
}

// Config describes the shape of a new Model.
type Config struct {
	SourceVocab int
	TargetVocab int
	EmbedSize   int
	HiddenSize  int
	Layers      int
	Dropout     float64

	// InputFeed routes each decoding step's attention
	// output into the next step's input.
	InputFeed bool
}

// A Model is an encoder-decoder translation model.
//
// A Model must be given capacity with Reserve before
// running any batches.
type Model struct {
	Encoder *Encoder
	Decoder *Decoder
}

// NewModel creates a Model with randomly initialized
// parameters.
func NewModel(c anyvec.Creator, conf Config) *Model {
	if conf.SourceVocab <= EosToken || conf.TargetVocab <= EosToken {
		panic("vocabulary too small")
	}
	return &Model{
		Encoder: NewEncoder(c, conf.SourceVocab, conf.EmbedSize,
			conf.HiddenSize, conf.Layers, conf.Dropout),
		Decoder: NewDecoder(c, conf.TargetVocab, conf.EmbedSize,
			conf.HiddenSize, conf.Layers, conf.Dropout, conf.InputFeed),
	}
}

// DeserializeModel deserializes a Model.
//
// The result has no reserved capacity.
func DeserializeModel(d []byte) (*Model, error) {
	var res Model
	err := serializer.DeserializeAny(d, &res.Encoder, &res.Decoder)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	return &res, nil
}

// Reserve allocates capacity for batches of up to
// maxBatch sequence pairs, with sources up to maxSrcLen
// timesteps and targets up to maxTgtLen timesteps.
func (m *Model) Reserve(maxBatch, maxSrcLen, maxTgtLen int) {
	m.Encoder.Reserve(maxBatch, maxSrcLen)
	m.Decoder.Reserve(maxBatch, maxTgtLen)
}

// SetTraining toggles training mode on every component.
//
// New and deserialized models start in evaluation mode.
func (m *Model) SetTraining(training bool) {
	m.Encoder.SetTraining(training)
	m.Decoder.SetTraining(training)
}

// Forward runs the encoder and then the decoder over a
// batch, rebinding the decoder's attention to the batch's
// encoder contexts.
func (m *Model) Forward(batch *Batch) {
	m.Encoder.Forward(batch)
	m.Decoder.Attn.BindContext(m.Encoder.Context(), batch.SourceLens,
		batch.SourceLen(), batch.SourcePadLeft, 1)
	m.Decoder.Forward(batch, m.Encoder.FinalState())
}

// Backward back-propagates through the last batch run with
// Forward, accumulating parameter gradients into g.
//
// The decoder runs backward first; the encoder then folds
// the decoder's context and initial-state gradients into
// its own backward pass.
// The returned loss is divided by the batch size.
func (m *Model) Backward(g anydiff.Grad) float64 {
	m.Encoder.RegisterContextGrads(g)
	loss, gradState := m.Decoder.Backward(g)
	m.Encoder.Backward(gradState, g)
	return loss
}

// ComputeLoss returns the total summed prediction loss of
// a batch, without touching any gradients.
func (m *Model) ComputeLoss(batch *Batch) float64 {
	m.Encoder.Forward(batch)
	m.Decoder.Attn.BindContext(m.Encoder.Context(), batch.SourceLens,
		batch.SourceLen(), batch.SourcePadLeft, 1)
	return m.Decoder.ComputeLoss(batch, m.Encoder.FinalState())
}

// Score returns the cumulative target log likelihood of
// every sequence pair in a batch.
func (m *Model) Score(batch *Batch) []float64 {
	m.Encoder.Forward(batch)
	m.Decoder.Attn.BindContext(m.Encoder.Context(), batch.SourceLens,
		batch.SourceLen(), batch.SourcePadLeft, 1)
	return m.Decoder.ComputeScore(batch, m.Encoder.FinalState())
}

// Translate greedily decodes a translation of one source
// token sequence, producing at most maxLen tokens.
//
// The model should be in evaluation mode.
func (m *Model) Translate(src []int, maxLen int) []int {
	if len(src) == 0 {
		panic("empty source sequence")
	}
	batch := &Batch{
		Source:     make([][]int, len(src)),
		SourceLens: []int{len(src)},
	}
	for t, tok := range src {
		batch.Source[t] = []int{tok}
	}
	m.Encoder.Forward(batch)
	m.Decoder.Attn.BindContext(m.Encoder.Context(), batch.SourceLens,
		len(src), false, 1)
	return m.Decoder.Generate(m.Encoder.FinalState(), maxLen)
}

// Parameters returns the parameters of every component.
func (m *Model) Parameters() []*anydiff.Var {
	return append(m.Encoder.Parameters(), m.Decoder.Parameters()...)
}

// SerializerType returns the unique ID used to serialize
// a Model with the serializer package.
func (m *Model) SerializerType() string {
	return "github.com/unixpickle/seq2seq.Model"
}

// Serialize serializes the Model.
func (m *Model) Serialize() ([]byte, error) {
	return serializer.SerializeAny(m.Encoder, m.Decoder)
}

// SaveModel writes a serialized model to a file.
func SaveModel(path string, m *Model) error {
	data, err := serializer.SerializeAny(m)
	if err != nil {
		return essentials.AddCtx("save model", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return essentials.AddCtx("save model", err)
	}
	return nil
}

// LoadModel reads a serialized model from a file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("load model", err)
	}
	var res *Model
	if err := serializer.DeserializeAny(data, &res); err != nil {
		return nil, essentials.AddCtx("load model", err)
	}
	return res, nil
}
