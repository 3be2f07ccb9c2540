package seq2seq

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A StepFunc builds the computation graph for one unrolled
// timestep.
//
// It is given the timestep index, the batch size, and the
// packed flat state from the previous timestep.
// The result is the packed flat state for the next
// timestep.
type StepFunc func(t, n int, state anydiff.Res) anydiff.Res

// An Instance is the reusable per-timestep computation
// context of an Unroller.
//
// Every Instance shares one parameter set with the other
// timesteps' Instances, but owns its activation storage.
type Instance struct {
	T int

	// OutBuf holds the flat output state of the step,
	// pre-allocated to the maximum batch size.
	OutBuf anyvec.Vector

	// Retained during training-mode forward passes,
	// consumed by Propagate.
	res     anydiff.Res
	stateIn *anydiff.Var
}

// An Unroller replicates one step function across
// timesteps, caching a computation Instance per timestep
// and re-using pre-allocated state buffers so that long
// unrolls do not allocate per step.
//
// The flat state may be wider on output than on input:
// a step may append extra per-example channels (such as an
// attention output) which the next step's input ignores or
// consumes, depending on inSize.
type Unroller struct {
	F StepFunc

	creator  anyvec.Creator
	inSize   int
	outSize  int
	maxBatch int
	training bool

	insts   []*Instance
	initBuf anyvec.Vector
}

// NewUnroller creates an Unroller with no cached
// instances.
//
// The inSize and outSize arguments are per-example flat
// state widths; inSize must not exceed outSize, and the
// input is always the leading inSize columns of the
// previous output.
func NewUnroller(c anyvec.Creator, f StepFunc, inSize, outSize,
	maxBatch int) *Unroller {
	if inSize > outSize {
		panic("input state cannot be wider than output state")
	}
	return &Unroller{
		F:        f,
		creator:  c,
		inSize:   inSize,
		outSize:  outSize,
		maxBatch: maxBatch,
		initBuf:  c.MakeVector(maxBatch * outSize),
	}
}

// Creator returns the creator of the state buffers.
func (u *Unroller) Creator() anyvec.Creator {
	return u.creator
}

// MaxBatch returns the maximum supported batch size.
func (u *Unroller) MaxBatch() int {
	return u.maxBatch
}

// OutSize returns the per-example flat output width.
func (u *Unroller) OutSize() int {
	return u.outSize
}

// SetTraining toggles training mode.
//
// In training mode, forward steps retain their inputs and
// intermediate activations for Propagate.
// Leaving training mode drops everything retained so far;
// Propagate must not be called afterward.
func (u *Unroller) SetTraining(training bool) {
	u.training = training
	for _, inst := range u.insts {
		inst.res = nil
		inst.stateIn = nil
	}
}

// Training returns whether training mode is on.
func (u *Unroller) Training() bool {
	return u.training
}

// Instance returns the computation instance for timestep
// t, constructing and caching it on first use.
//
// The instance cache grows on demand: a timestep beyond
// the current capacity allocates new instances rather than
// truncating the sequence.
func (u *Unroller) Instance(t int) *Instance {
	for t >= len(u.insts) {
		u.insts = append(u.insts, &Instance{
			T:      len(u.insts),
			OutBuf: u.creator.MakeVector(u.maxBatch * u.outSize),
		})
	}
	return u.insts[t]
}

// ResetState zeroes the initial-state buffer for a batch
// of n examples and returns a view of it.
//
// The view is a logical resize of the pre-allocated
// buffer, not a new allocation.
func (u *Unroller) ResetState(n int) anyvec.Vector {
	if n > u.maxBatch {
		panic("batch exceeds maximum batch size")
	}
	res := u.initBuf.Slice(0, n*u.outSize)
	res.Scale(u.creator.MakeNumeric(0))
	return res
}

// CopyState copies src into the initial-state buffer for a
// batch of n examples and returns a view of it.
//
// If src is narrower than the buffer view, the remaining
// trailing columns are zero.
func (u *Unroller) CopyState(src anyvec.Vector, n int) anyvec.Vector {
	res := u.ResetState(n)
	if src.Len() > res.Len() {
		panic("source state too large")
	}
	res.Slice(0, src.Len()).Set(src)
	return res
}

// Step advances the recurrence by one timestep, reading
// the flat state for n examples and writing the new state
// into the timestep's output buffer.
//
// The returned vector is a view of the instance's buffer;
// it stays valid until the same timestep is stepped again.
func (u *Unroller) Step(t, n int, state anyvec.Vector) anyvec.Vector {
	if n > u.maxBatch {
		panic("batch exceeds maximum batch size")
	}
	inst := u.Instance(t)
	stateIn := anydiff.NewVar(state.Slice(0, n*u.inSize))
	res := u.F(t, n, stateIn)
	if res.Output().Len() != n*u.outSize {
		panic("unexpected step output size")
	}
	out := inst.OutBuf.Slice(0, n*u.outSize)
	out.Set(res.Output())
	if u.training {
		inst.res = res
		inst.stateIn = stateIn
	} else {
		inst.res = nil
		inst.stateIn = nil
	}
	return out
}

// Propagate back-propagates one timestep.
//
// The upstream argument is the gradient of the step's flat
// output state; stateDst receives the gradient of the flat
// input state in its leading columns, with the rest of the
// buffer zeroed.
// Gradients for parameters (and for any pooled variables
// registered in g by the caller) accumulate into g.
//
// It panics if the timestep has no retained forward pass,
// which happens when Step was never called, was called in
// evaluation mode, or training mode was toggled since.
func (u *Unroller) Propagate(inst *Instance, upstream, stateDst anyvec.Vector,
	g anydiff.Grad) {
	if inst.res == nil {
		panic("no retained forward pass")
	}
	n := upstream.Len() / u.outSize
	dst := stateDst.Slice(0, n*u.outSize)
	dst.Scale(u.creator.MakeNumeric(0))
	g[inst.stateIn] = dst.Slice(0, n*u.inSize)
	inst.res.Propagate(upstream, g)
	delete(g, inst.stateIn)
}
