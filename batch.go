package seq2seq

import "github.com/unixpickle/anynet/anysgd"

// Reserved token indices, shared by every vocabulary.
const (
	PadToken = 0
	UnkToken = 1
	BosToken = 2
	EosToken = 3
)

// A Batch is a group of example pairs aligned to a common
// source length and target length via padding.
//
// Token matrices are indexed time-major: Source[t][b] is
// the token for example b at source position t.
// The target side is offset by one: TargetInput starts
// with a beginning-of-sentence token, TargetOutput ends
// with an end-of-sentence token.
//
// Batches are immutable once constructed.
type Batch struct {
	Source       [][]int
	TargetInput  [][]int
	TargetOutput [][]int

	// True (unpadded) lengths per example.
	SourceLens []int
	TargetLens []int

	// SourcePadLeft indicates that source padding comes
	// before the tokens rather than after them.
	SourcePadLeft bool

	// TargetWords counts the non-padding entries of
	// TargetOutput, for perplexity normalization.
	TargetWords int
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int {
	return len(b.SourceLens)
}

// SourceLen returns the padded source length.
func (b *Batch) SourceLen() int {
	return len(b.Source)
}

// TargetLen returns the padded target length.
func (b *Batch) TargetLen() int {
	return len(b.TargetInput)
}

// A BatchList is an ordered collection of batches.
//
// It implements anysgd.SampleList, where each sample is an
// entire pre-constructed batch.
type BatchList []*Batch

// Len returns the number of batches.
func (b BatchList) Len() int {
	return len(b)
}

// Swap swaps two batches.
func (b BatchList) Swap(i, j int) {
	b[i], b[j] = b[j], b[i]
}

// Slice generates a copy of a sub-range of the list.
func (b BatchList) Slice(i, j int) anysgd.SampleList {
	return append(BatchList{}, b[i:j]...)
}

// Copy generates a shallow copy of the list.
func (b BatchList) Copy() anysgd.SampleList {
	return append(BatchList{}, b...)
}
