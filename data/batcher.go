package data

import (
	"sort"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/seq2seq"
)

// MakeBatches encodes sentence pairs and groups them into
// padded batches of at most batchSize pairs.
//
// Pairs are grouped by similar source length to keep
// padding low.
// Targets are always right-padded; sources are padded on
// the side selected by padLeft.
func MakeBatches(pairs []Pair, srcDict, tgtDict *Dict, batchSize int,
	padLeft bool) seq2seq.BatchList {
	if batchSize < 1 {
		panic("batch size out of range")
	}
	sorted := append([]Pair{}, pairs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Source) < len(sorted[j].Source)
	})
	var res seq2seq.BatchList
	for start := 0; start < len(sorted); start += batchSize {
		end := essentials.MinInt(start+batchSize, len(sorted))
		res = append(res, makeBatch(sorted[start:end], srcDict, tgtDict,
			padLeft))
	}
	return res
}

func makeBatch(pairs []Pair, srcDict, tgtDict *Dict,
	padLeft bool) *seq2seq.Batch {
	n := len(pairs)
	batch := &seq2seq.Batch{
		SourceLens:    make([]int, n),
		TargetLens:    make([]int, n),
		SourcePadLeft: padLeft,
	}
	srcs := make([][]int, n)
	tgts := make([][]int, n)
	var srcMax, tgtMax int
	for b, p := range pairs {
		srcs[b] = srcDict.IDs(p.Source)
		tgts[b] = tgtDict.IDs(p.Target)
		batch.SourceLens[b] = len(srcs[b])
		batch.TargetLens[b] = len(tgts[b]) + 1
		batch.TargetWords += len(tgts[b]) + 1
		srcMax = essentials.MaxInt(srcMax, len(srcs[b]))
		tgtMax = essentials.MaxInt(tgtMax, len(tgts[b])+1)
	}

	batch.Source = make([][]int, srcMax)
	for t := range batch.Source {
		row := make([]int, n)
		for b, src := range srcs {
			if padLeft {
				if off := t - (srcMax - len(src)); off >= 0 {
					row[b] = src[off]
				}
			} else if t < len(src) {
				row[b] = src[t]
			}
		}
		batch.Source[t] = row
	}

	// Each target is bracketed by the start token on the
	// input side and the end token on the output side.
	batch.TargetInput = make([][]int, tgtMax)
	batch.TargetOutput = make([][]int, tgtMax)
	for t := 0; t < tgtMax; t++ {
		in := make([]int, n)
		out := make([]int, n)
		for b, tgt := range tgts {
			if t == 0 {
				in[b] = seq2seq.BosToken
			} else if t <= len(tgt) {
				in[b] = tgt[t-1]
			}
			if t < len(tgt) {
				out[b] = tgt[t]
			} else if t == len(tgt) {
				out[b] = seq2seq.EosToken
			}
		}
		batch.TargetInput[t] = in
		batch.TargetOutput[t] = out
	}
	return batch
}
