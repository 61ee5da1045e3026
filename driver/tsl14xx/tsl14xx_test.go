package tsl14xx

import "testing"

func TestAcquisitionCycle(t *testing.T) {
	sim := NewSim()
	sim.Edge = 100
	s := New(sim, NPixTSL1401CL)
	s.Init()

	if s.Ready() {
		t.Fatal("ready before first completion")
	}
	sim.Frame()
	if !s.Ready() {
		t.Fatal("not ready after completion")
	}
	buf, _ := s.Stable()
	if len(buf) != NPixTSL1401CL {
		t.Fatalf("frame size %d", len(buf))
	}
	if buf[0] != simBright || buf[99] != simBright || buf[100] != simDark {
		t.Errorf("scene: %d %d %d", buf[0], buf[99], buf[100])
	}
	s.Release()

	// Acquisition restarts without intervention.
	sim.Frame()
	if !s.Ready() {
		t.Fatal("continuous cycle stalled")
	}
}

func TestFrameDroppedWhileHeld(t *testing.T) {
	sim := NewSim()
	s := New(sim, NPixTSL1401CL)
	s.Init()
	sim.Frame()
	held, _ := s.Stable()

	sim.Frame() // completes while the client holds the stable buffer
	buf2, _ := s.Stable()
	if &held[0] != &buf2[0] {
		t.Error("held buffer was reassigned before release")
	}
	s.Release()
}

func TestTimestampIsIntegrationMidpoint(t *testing.T) {
	sim := NewSim()
	sim.ScanTime = 3000
	s := New(sim, NPixTSL1401CL)
	s.Init() // SI at t=0
	sim.Frame()
	s.Stable()
	s.Release()
	sim.Frame() // frame integrated between SI@0 and SI@3000
	_, ts := s.Stable()
	if ts != 1500 {
		t.Errorf("timestamp %d, want 1500", ts)
	}
	s.Release()
}

func TestMinIntegrationTimeDelaysRestart(t *testing.T) {
	sim := NewSim()
	sim.ScanTime = 2500
	s := New(sim, NPixTSL1401CL)
	s.SetMinIntegrationTime(10000)
	s.Init()
	sim.Frame()
	// The next cycle must not be armed yet: only 2.5ms of the 10ms
	// floor has elapsed.
	if sim.going {
		t.Fatal("restarted before integration floor")
	}
	sim.Advance(7500)
	if !sim.going {
		t.Fatal("not restarted after integration floor elapsed")
	}
}
