package vm

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestProfilerCallCount(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 3
	code := sumCode()

	var hot *Code
	p.OnHot = func(c *Code, _ *CodeProfile) { hot = c }

	if p.RecordCall(code) {
		t.Error("body should not be hot after 1 call")
	}
	profile := p.GetCodeProfile(code)
	if profile == nil {
		t.Fatal("profile should exist after a call")
	}
	if profile.CallCount != 1 {
		t.Errorf("Expected 1 call, got %d", profile.CallCount)
	}

	p.RecordCall(code)
	if !p.RecordCall(code) {
		t.Error("body should become hot at threshold")
	}
	if hot != code {
		t.Error("OnHot should fire with the body")
	}
	if p.RecordCall(code) {
		t.Error("hot should not re-trigger")
	}
}

func TestProfilerUnknownBody(t *testing.T) {
	p := NewProfiler()
	if p.GetCodeProfile(&Code{}) != nil {
		t.Error("unknown body should have no profile")
	}
	if p.RecordCall(nil) {
		t.Error("nil body should be ignored")
	}
}

func TestProfilerInstructionCounts(t *testing.T) {
	env, _ := testEnv()
	env.Profiler = NewProfiler()
	code := sumCode()
	vec := NewVectorVal(NewVectorType(countT))
	vec.Append(NewCount(1))
	vec.Append(NewCount(2))

	if _, err := code.Exec(env, []Val{vec}); err != nil {
		t.Fatal(err)
	}
	profile := env.Profiler.GetCodeProfile(code)
	// NEXT_ITER runs once per element plus once to exit.
	if got := profile.InstCounts[2]; got != 3 {
		t.Errorf("NEXT_ITER count = %d, want 3", got)
	}
	if got := profile.InstCounts[3]; got != 2 {
		t.Errorf("INDEX_GET count = %d, want 2", got)
	}

	var buf bytes.Buffer
	if err := env.Profiler.Report(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "sum: 1 calls") {
		t.Errorf("report = %q", buf.String())
	}
}

func TestProfilerConcurrentCalls(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 1 << 30
	code := sumCode()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.RecordCall(code)
				p.RecordInst(code, 0)
			}
		}()
	}
	wg.Wait()

	stats := p.Stats()
	if stats.TotalCalls != 800 {
		t.Errorf("TotalCalls = %d, want 800", stats.TotalCalls)
	}
	if stats.TotalExecuted != 800 {
		t.Errorf("TotalExecuted = %d, want 800", stats.TotalExecuted)
	}
}

func TestProfilerTopAndReset(t *testing.T) {
	p := NewProfiler()
	a := &Code{Name: "a", Insts: make([]ZInst, 1)}
	b := &Code{Name: "b", Insts: make([]ZInst, 1)}
	for i := 0; i < 5; i++ {
		p.RecordInst(b, 0)
	}
	p.RecordInst(a, 0)

	top := p.TopBodies(1)
	if len(top) != 1 || top[0] != b {
		t.Errorf("TopBodies(1) = %v, want [b]", top)
	}

	p.Reset()
	if p.Stats().TotalBodies != 0 {
		t.Error("Reset should clear profiles")
	}
}
