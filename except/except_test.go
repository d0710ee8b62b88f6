package except

import "testing"

func TestTryCatchMatchesDescendant(t *testing.T) {
	var s Stack
	caught := false
	Try(&s, func() {
		Throw(InvalidPointer, "t", 1, "bad va %#x", 0x1000)
	}, nil, Handler{Type: RuntimeException, Do: func(c *Cause) {
		caught = true
		if c.Type != InvalidPointer {
			t.Fatalf("cause type = %v, want InvalidPointer", c.Type.Name)
		}
	}})
	if !caught {
		t.Fatal("handler for an ancestor type must catch a descendant's throw")
	}
}

func TestTryNoMatchingHandlerPropagates(t *testing.T) {
	var s Stack
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected the cause to propagate past Try")
		}
		if c, ok := r.(*Cause); !ok || c.Type != FileNotFound {
			t.Fatalf("recovered %v, want FileNotFound cause", r)
		}
	}()
	Try(&s, func() {
		Throw(FileNotFound, "t", 1, "missing")
	}, nil, Handler{Type: Timeout, Do: func(*Cause) {}})
}

func TestFinallyAlwaysRuns(t *testing.T) {
	var s Stack
	ranFinally := false
	func() {
		defer func() { recover() }()
		Try(&s, func() {
			Throw(Exception, "t", 1, "boom")
		}, func() { ranFinally = true })
	}()
	if !ranFinally {
		t.Fatal("finally must run even when no handler catches")
	}
}

func TestDestructorsRunInReverseOnUnwind(t *testing.T) {
	var s Stack
	var order []int
	Try(&s, func() {
		s.Defer(func() { order = append(order, 1) })
		s.Defer(func() { order = append(order, 2) })
		Throw(Exception, "t", 1, "boom")
	}, nil, Handler{Type: Exception, Do: func(*Cause) {}})

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("destructor order = %v, want [2 1]", order)
	}
}

func TestExceptionOnlyDestructorSkippedOnNormalReturn(t *testing.T) {
	var s Stack
	ran := false
	Try(&s, func() {
		s.DeferOnError(func() { ran = true })
	}, nil)
	if ran {
		t.Fatal("exception-only destructor must not run on normal return")
	}
}

func TestAlwaysDestructorRunsOnNormalReturn(t *testing.T) {
	var s Stack
	ran := false
	Try(&s, func() {
		s.Defer(func() { ran = true })
	}, nil)
	if !ran {
		t.Fatal("always destructor must run even without a throw")
	}
}
