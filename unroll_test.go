package seq2seq

import (
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestUnrollerChain(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	const stateSize = 3
	const batch = 2
	const steps = 4

	fc := anynet.NewFC(c, stateSize, stateSize)
	step := func(t, n int, state anydiff.Res) anydiff.Res {
		return anydiff.Tanh(fc.Apply(state, n))
	}
	unroller := NewUnroller(c, step, stateSize, stateSize, batch)
	unroller.SetTraining(true)

	init := randUpstream(c, batch*stateSize, 3)
	state := unroller.CopyState(init, batch)
	for i := 0; i < steps; i++ {
		state = unroller.Step(i, batch, state)
	}
	actOut := state.Copy()

	upstream := randUpstream(c, batch*stateSize, 4)
	actGrad := anydiff.NewGrad(fc.Parameters()...)
	gradA := c.MakeVector(batch * stateSize)
	gradB := c.MakeVector(batch * stateSize)
	up := upstream.Copy()
	for i := steps - 1; i >= 0; i-- {
		unroller.Propagate(unroller.Instance(i), up, gradA, actGrad)
		up = gradA
		gradA, gradB = gradB, gradA
	}
	actInitGrad := up.Copy()

	initVar := anydiff.NewVar(init.Copy())
	var expRes anydiff.Res = initVar
	for i := 0; i < steps; i++ {
		expRes = anydiff.Tanh(fc.Apply(expRes, batch))
	}
	if !slicesClose(floatData(actOut), floatData(expRes.Output())) {
		t.Errorf("output mismatch: expected %v got %v", expRes.Output().Data(),
			actOut.Data())
	}

	expGrad := anydiff.NewGrad(append(fc.Parameters(), initVar)...)
	expRes.Propagate(upstream.Copy(), expGrad)
	gradientsEquivalent(t, actGrad, expGrad)
	if !slicesClose(floatData(actInitGrad), floatData(expGrad[initVar])) {
		t.Errorf("initial state gradient mismatch: expected %v got %v",
			expGrad[initVar].Data(), actInitGrad.Data())
	}
}

func TestUnrollerRetention(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	fc := anynet.NewFC(c, 2, 2)
	step := func(t, n int, state anydiff.Res) anydiff.Res {
		return anydiff.Tanh(fc.Apply(state, n))
	}

	t.Run("EvalMode", func(t *testing.T) {
		unroller := NewUnroller(c, step, 2, 2, 1)
		unroller.Step(0, 1, unroller.ResetState(1))
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		unroller.Propagate(unroller.Instance(0), c.MakeVector(2),
			c.MakeVector(2), anydiff.Grad{})
	})

	t.Run("Toggled", func(t *testing.T) {
		unroller := NewUnroller(c, step, 2, 2, 1)
		unroller.SetTraining(true)
		unroller.Step(0, 1, unroller.ResetState(1))
		unroller.SetTraining(false)
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		unroller.Propagate(unroller.Instance(0), c.MakeVector(2),
			c.MakeVector(2), anydiff.Grad{})
	})
}

func TestUnrollerCopyState(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	step := func(t, n int, state anydiff.Res) anydiff.Res {
		return state
	}
	unroller := NewUnroller(c, step, 3, 3, 2)

	src := c.MakeVectorData(c.MakeNumericList([]float64{1, 2, 3, 4}))
	state := unroller.CopyState(src, 2)
	expected := []float64{1, 2, 3, 4, 0, 0}
	if !slicesClose(floatData(state), expected) {
		t.Errorf("expected %v got %v", expected, state.Data())
	}

	state = unroller.ResetState(2)
	if !slicesClose(floatData(state), make([]float64, 6)) {
		t.Errorf("expected zero state, got %v", state.Data())
	}

	t.Run("TooLarge", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		unroller.CopyState(c.MakeVector(7), 2)
	})
	t.Run("TooManyRows", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		unroller.ResetState(3)
	})
}

func TestUnrollerInstances(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	step := func(t, n int, state anydiff.Res) anydiff.Res {
		return state
	}
	unroller := NewUnroller(c, step, 2, 5, 3)

	inst := unroller.Instance(3)
	if inst.T != 3 {
		t.Errorf("expected timestep 3, got %d", inst.T)
	}
	if inst.OutBuf.Len() != 15 {
		t.Errorf("expected buffer size 15, got %d", inst.OutBuf.Len())
	}
	if unroller.Instance(1).T != 1 {
		t.Error("intermediate instance has wrong timestep")
	}
	if unroller.Instance(3) != inst {
		t.Error("instance cache not stable")
	}
}
