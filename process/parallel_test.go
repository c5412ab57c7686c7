package process

import "testing"

func TestParallel_SuccessThresholdMet(t *testing.T) {
	p := New("t")
	root := newParallelNode("root", 0, DefaultPriority, PolicyNone, nil, ParallelParams{SuccessThreshold: 2})
	root.AddChild(newHandlerNode("a", 0, DefaultPriority, PolicyNone, nil, func(s *Session) Status { return StatusSuccess }))
	root.AddChild(newHandlerNode("b", 1, DefaultPriority, PolicyNone, nil, func(s *Session) Status { return StatusSuccess }))
	root.AddChild(newHandlerNode("c", 2, DefaultPriority, PolicyNone, nil, func(s *Session) Status { return StatusFailure }))

	s := newTestSession(p)
	if st := root.execute(s); st != StatusSuccess {
		t.Fatalf("expected SUCCESS, got %v", st)
	}
}

func TestParallel_ZeroThresholdMeansAll(t *testing.T) {
	p := New("t")
	root := newParallelNode("root", 0, DefaultPriority, PolicyNone, nil, ParallelParams{})
	root.AddChild(newHandlerNode("a", 0, DefaultPriority, PolicyNone, nil, func(s *Session) Status { return StatusSuccess }))
	root.AddChild(newHandlerNode("b", 1, DefaultPriority, PolicyNone, nil, func(s *Session) Status { return StatusFailure }))

	s := newTestSession(p)
	if st := root.execute(s); st != StatusFailure {
		t.Fatalf("expected a 0-threshold Parallel to require every child, got %v", st)
	}
}

func TestParallel_AllChildrenRunNoShortCircuitOnFailure(t *testing.T) {
	var ran int
	p := New("t")
	root := newParallelNode("root", 0, DefaultPriority, PolicyNone, nil, ParallelParams{SuccessThreshold: 3})
	for i, id := range []string{"a", "b", "c"} {
		st := StatusSuccess
		if id == "b" {
			st = StatusFailure
		}
		root.AddChild(newHandlerNode(id, i, DefaultPriority, PolicyNone, nil, func(result Status) HandlerFunc {
			return func(s *Session) Status { ran++; return result }
		}(st)))
	}
	s := newTestSession(p)
	root.execute(s)
	if ran != 3 {
		t.Fatalf("expected all 3 children to run, got %d", ran)
	}
}

func TestParallel_AnyCancelledShortCircuitsImmediately(t *testing.T) {
	var ran []string
	p := New("t")
	root := newParallelNode("root", 0, DefaultPriority, PolicyNone, nil, ParallelParams{})
	root.AddChild(newHandlerNode("a", 0, DefaultPriority, PolicyNone, nil, func(s *Session) Status {
		ran = append(ran, "a")
		return StatusCancelled
	}))
	root.AddChild(newHandlerNode("b", 1, DefaultPriority, PolicyNone, nil, func(s *Session) Status {
		ran = append(ran, "b")
		return StatusSuccess
	}))

	s := newTestSession(p)
	st := root.execute(s)
	if st != StatusCancelled {
		t.Fatalf("expected CANCELLED to short-circuit the whole Parallel, got %v", st)
	}
	if len(ran) != 1 || ran[0] != "a" {
		t.Fatalf("expected b to never run once a cancels, got %v", ran)
	}
}

func TestParallel_TieResolvedByMode(t *testing.T) {
	build := func(mode ThresholdMode) Status {
		p := New("t")
		root := newParallelNode("root", 0, DefaultPriority, PolicyNone, nil, ParallelParams{
			SuccessThreshold: 1,
			FailureThreshold: 1,
			Mode:             mode,
		})
		root.AddChild(newHandlerNode("a", 0, DefaultPriority, PolicyNone, nil, func(s *Session) Status { return StatusSuccess }))
		root.AddChild(newHandlerNode("b", 1, DefaultPriority, PolicyNone, nil, func(s *Session) Status { return StatusFailure }))
		s := newTestSession(p)
		return root.execute(s)
	}
	if st := build(ThresholdSuccessPriority); st != StatusSuccess {
		t.Fatalf("expected SuccessPriority tie to resolve SUCCESS, got %v", st)
	}
	if st := build(ThresholdFailurePriority); st != StatusFailure {
		t.Fatalf("expected FailurePriority tie to resolve FAILURE, got %v", st)
	}
}

func TestParallel_WaitingChildrenResumeByPath(t *testing.T) {
	p := New("t")
	root := newParallelNode("root", 0, DefaultPriority, PolicyNone, nil, ParallelParams{SuccessThreshold: 2})
	root.AddChild(newHandlerNode("w1", 0, DefaultPriority, PolicyNone, nil, func(s *Session) Status { return StatusWaiting }))
	root.AddChild(newHandlerNode("w2", 1, DefaultPriority, PolicyNone, nil, func(s *Session) Status { return StatusWaiting }))

	s := newTestSession(p)
	if st := root.execute(s); st != StatusWaiting {
		t.Fatalf("expected WAITING, got %v", st)
	}

	w1, _ := root.GetChild("w1")
	w1.(*handlerNode).fn = func(s *Session) Status { return StatusSuccess }
	if st := root.resume(s, NodePath{"w1"}); st != StatusWaiting {
		t.Fatalf("expected still WAITING with one child left, got %v", st)
	}

	w2, _ := root.GetChild("w2")
	w2.(*handlerNode).fn = func(s *Session) Status { return StatusSuccess }
	if st := root.resume(s, NodePath{"w2"}); st != StatusSuccess {
		t.Fatalf("expected SUCCESS once both resolve, got %v", st)
	}
}
