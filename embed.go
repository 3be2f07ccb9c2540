package seq2seq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var e Embedding
	serializer.RegisterTypedDeserializer(e.SerializerType(), DeserializeEmbedding)
}

// An Embedding maps token indices to dense vectors via a
// trainable lookup table.
//
// The same embedding parameters are shared by every
// timestep of an unrolled recurrence, so their gradient is
// the sum of per-timestep contributions.
type Embedding struct {
	// Matrix is the lookup table, one row per token.
	Matrix *anydiff.Var

	VocabSize int
}

// NewEmbedding creates an Embedding with randomized
// entries.
func NewEmbedding(c anyvec.Creator, vocabSize, dim int) *Embedding {
	vec := c.MakeVector(vocabSize * dim)
	anyvec.Rand(vec, anyvec.Normal, nil)
	vec.Scale(c.MakeNumeric(0.1))
	return &Embedding{
		Matrix:    anydiff.NewVar(vec),
		VocabSize: vocabSize,
	}
}

// DeserializeEmbedding deserializes an Embedding.
func DeserializeEmbedding(d []byte) (*Embedding, error) {
	var mat *anyvecsave.S
	var size serializer.Int
	if err := serializer.DeserializeAny(d, &mat, &size); err != nil {
		return nil, essentials.AddCtx("deserialize Embedding", err)
	}
	return &Embedding{
		Matrix:    anydiff.NewVar(mat.Vector),
		VocabSize: int(size),
	}, nil
}

// Dim returns the size of each embedding vector.
func (e *Embedding) Dim() int {
	return e.Matrix.Vector.Len() / e.VocabSize
}

// Lookup returns the packed embedding rows for a batch of
// tokens, one row per token.
//
// It panics if a token index is out of range.
func (e *Embedding) Lookup(tokens []int) anydiff.Res {
	dim := e.Dim()
	rows := make([]anydiff.Res, len(tokens))
	for i, tok := range tokens {
		if tok < 0 || tok >= e.VocabSize {
			panic("token index out of range")
		}
		rows[i] = anydiff.Slice(e.Matrix, tok*dim, (tok+1)*dim)
	}
	return anydiff.Concat(rows...)
}

// Parameters returns the trainable lookup table.
func (e *Embedding) Parameters() []*anydiff.Var {
	return []*anydiff.Var{e.Matrix}
}

// SerializerType returns the unique ID used to serialize
// an Embedding with the serializer package.
func (e *Embedding) SerializerType() string {
	return "github.com/unixpickle/seq2seq.Embedding"
}

// Serialize serializes the Embedding.
func (e *Embedding) Serialize() ([]byte, error) {
	return serializer.SerializeAny(&anyvecsave.S{Vector: e.Matrix.Vector},
		serializer.Int(e.VocabSize))
}
