package vm

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// CodeProfile holds profiling data for a single compiled body.
type CodeProfile struct {
	CallCount  uint64   // Atomic counter for invocations
	InstCounts []uint64 // Per-instruction execution counts
	IsHot      bool     // True once CallCount reached the threshold
}

// Executed returns the total number of instructions executed.
func (p *CodeProfile) Executed() uint64 {
	var n uint64
	for i := range p.InstCounts {
		n += atomic.LoadUint64(&p.InstCounts[i])
	}
	return n
}

// Profiler counts calls and executed instructions per compiled body. It
// backs the execution profile report written at the end of a run.
type Profiler struct {
	profiles sync.Map // *Code -> *CodeProfile

	// HotThreshold is the call count after which a body counts as hot.
	HotThreshold uint64

	// OnHot is called once when a body becomes hot.
	OnHot func(code *Code, profile *CodeProfile)

	hotCount uint64
}

// NewProfiler creates a profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: 100}
}

func (p *Profiler) profile(code *Code) *CodeProfile {
	if val, ok := p.profiles.Load(code); ok {
		return val.(*CodeProfile)
	}
	val, _ := p.profiles.LoadOrStore(code, &CodeProfile{
		InstCounts: make([]uint64, len(code.Insts)),
	})
	return val.(*CodeProfile)
}

// RecordCall counts one invocation of code. It returns true if this call
// made the body hot.
func (p *Profiler) RecordCall(code *Code) bool {
	if code == nil {
		return false
	}
	profile := p.profile(code)
	count := atomic.AddUint64(&profile.CallCount, 1)

	if !profile.IsHot && count >= p.HotThreshold {
		profile.IsHot = true
		atomic.AddUint64(&p.hotCount, 1)
		if p.OnHot != nil {
			p.OnHot(code, profile)
		}
		return true
	}
	return false
}

// RecordInst counts one execution of instruction pc.
func (p *Profiler) RecordInst(code *Code, pc int) {
	profile := p.profile(code)
	if pc < len(profile.InstCounts) {
		atomic.AddUint64(&profile.InstCounts[pc], 1)
	}
}

// GetCodeProfile returns the profile for code, or nil if never run.
func (p *Profiler) GetCodeProfile(code *Code) *CodeProfile {
	if val, ok := p.profiles.Load(code); ok {
		return val.(*CodeProfile)
	}
	return nil
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	TotalBodies   int    // Number of bodies profiled
	HotBodies     int    // Number of hot bodies
	TotalCalls    uint64 // Total invocations
	TotalExecuted uint64 // Total instructions executed
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.profiles.Range(func(key, value any) bool {
		profile := value.(*CodeProfile)
		stats.TotalBodies++
		stats.TotalCalls += atomic.LoadUint64(&profile.CallCount)
		stats.TotalExecuted += profile.Executed()
		if profile.IsHot {
			stats.HotBodies++
		}
		return true
	})
	return stats
}

// TopBodies returns the n bodies that executed the most instructions.
func (p *Profiler) TopBodies(n int) []*Code {
	type codeCount struct {
		code  *Code
		count uint64
	}

	var all []codeCount
	p.profiles.Range(func(key, value any) bool {
		all = append(all, codeCount{key.(*Code), value.(*CodeProfile).Executed()})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].code.Name < all[j].code.Name
	})

	result := make([]*Code, 0, n)
	for i := 0; i < n && i < len(all); i++ {
		result = append(result, all[i].code)
	}
	return result
}

// Report writes per-body call and instruction counts, busiest first.
func (p *Profiler) Report(w io.Writer) error {
	stats := p.Stats()
	for _, code := range p.TopBodies(stats.TotalBodies) {
		profile := p.GetCodeProfile(code)
		_, err := fmt.Fprintf(w, "%s: %d calls, %d instructions\n",
			code.Name, atomic.LoadUint64(&profile.CallCount), profile.Executed())
		if err != nil {
			return err
		}
		for pc := range profile.InstCounts {
			n := atomic.LoadUint64(&profile.InstCounts[pc])
			if n == 0 {
				continue
			}
			if _, err := fmt.Fprintf(w, "  %8d  %s\n", n, DisassembleInstruction(pc, &code.Insts[pc])); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.profiles.Range(func(key, _ any) bool {
		p.profiles.Delete(key)
		return true
	})
	atomic.StoreUint64(&p.hotCount, 0)
}
