package seq2seq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A SoftmaxMask normalizes attention scores over the true
// span of each source sequence in a padded batch.
//
// A mask is built for one batch's source lengths and one
// beam width, and is rebuilt whenever either changes.
// With a beam width of k, each sequence's span covers k
// consecutive score rows.
type SoftmaxMask struct {
	Lens    []int
	Beam    int
	MaxLen  int
	PadLeft bool

	left    []anydiff.Res
	right   []anydiff.Res
	ones    anydiff.Res
	onesRow anydiff.Res
}

// NewSoftmaxMask builds a mask for source sequences of the
// given true lengths, padded to maxLen.
//
// If padLeft is true, the padding of each sequence comes
// before the true tokens rather than after them.
func NewSoftmaxMask(c anyvec.Creator, lens []int, maxLen int, padLeft bool,
	beam int) *SoftmaxMask {
	if beam < 1 {
		panic("beam width out of range")
	}
	m := &SoftmaxMask{
		Lens:    append([]int{}, lens...),
		Beam:    beam,
		MaxLen:  maxLen,
		PadLeft: padLeft,
	}
	pads := map[int]anydiff.Res{}
	zeroPad := func(size int) anydiff.Res {
		if size == 0 {
			return nil
		}
		if _, ok := pads[size]; !ok {
			pads[size] = anydiff.NewConst(c.MakeVector(size))
		}
		return pads[size]
	}
	for i := 0; i < m.Rows(); i++ {
		start, end := m.span(i)
		if start < 0 || end <= start || end > maxLen {
			panic("sequence length out of range")
		}
		m.left = append(m.left, zeroPad(start))
		m.right = append(m.right, zeroPad(maxLen-end))
	}
	onesData := c.MakeVector(m.Rows() + maxLen)
	onesData.AddScalar(c.MakeNumeric(1))
	m.ones = anydiff.NewConst(onesData.Slice(0, m.Rows()))
	m.onesRow = anydiff.NewConst(onesData.Slice(m.Rows(), onesData.Len()))
	return m
}

// Rows returns the number of score rows the mask applies
// to, which is the number of sequences times the beam
// width.
func (m *SoftmaxMask) Rows() int {
	return len(m.Lens) * m.Beam
}

// Matches reports whether the mask was built for the given
// lengths and beam width.
func (m *SoftmaxMask) Matches(lens []int, beam int) bool {
	if beam != m.Beam || len(lens) != len(m.Lens) {
		return false
	}
	for i, l := range lens {
		if l != m.Lens[i] {
			return false
		}
	}
	return true
}

// Apply turns a Rows()-by-MaxLen matrix of attention
// scores into masked attention weights.
//
// Each row is passed through a softmax, narrowed to the
// sequence's true span, re-padded with zeros, and
// re-normalized so the row sums to one.
// Weights at padded positions are exactly zero and receive
// no gradient.
func (m *SoftmaxMask) Apply(scores anydiff.Res) anydiff.Res {
	n := m.Rows()
	if scores.Output().Len() != n*m.MaxLen {
		panic("unexpected attention score size")
	}
	soft := anydiff.Exp(anydiff.LogSoftmax(scores, m.MaxLen))
	return anydiff.Pool(soft, func(soft anydiff.Res) anydiff.Res {
		var parts []anydiff.Res
		for i := 0; i < n; i++ {
			start, end := m.span(i)
			if m.left[i] != nil {
				parts = append(parts, m.left[i])
			}
			parts = append(parts, anydiff.Slice(soft, i*m.MaxLen+start,
				i*m.MaxLen+end))
			if m.right[i] != nil {
				parts = append(parts, m.right[i])
			}
		}
		joined := anydiff.Concat(parts...)
		return anydiff.Pool(joined, func(joined anydiff.Res) anydiff.Res {
			mat := &anydiff.Matrix{Data: joined, Rows: n, Cols: m.MaxLen}
			col := &anydiff.Matrix{Data: m.onesRow, Rows: m.MaxLen, Cols: 1}
			sums := anydiff.MatMul(false, false, mat, col)
			scale := &anydiff.Matrix{
				Data: anydiff.Div(m.ones, sums.Data),
				Rows: n,
				Cols: 1,
			}
			row := &anydiff.Matrix{Data: m.onesRow, Rows: 1, Cols: m.MaxLen}
			tiled := anydiff.MatMul(false, false, scale, row)
			return anydiff.Mul(joined, tiled.Data)
		})
	})
}

func (m *SoftmaxMask) span(row int) (start, end int) {
	length := m.Lens[row/m.Beam]
	if m.PadLeft {
		return m.MaxLen - length, m.MaxLen
	}
	return 0, length
}
