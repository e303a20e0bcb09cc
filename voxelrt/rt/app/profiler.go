package app

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Profiler collects named wall-clock scopes and counters for the CLI reports.
type Profiler struct {
	mu         sync.Mutex
	scopes     map[string]time.Duration
	startTimes map[string]time.Time
	calls      map[string]int
	counts     map[string]int
	order      []string
}

func NewProfiler() *Profiler {
	return &Profiler{
		scopes:     make(map[string]time.Duration),
		startTimes: make(map[string]time.Time),
		calls:      make(map[string]int),
		counts:     make(map[string]int),
	}
}

func (p *Profiler) BeginScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTimes[name] = time.Now()
	// Keep first-seen order for display
	if _, ok := p.calls[name]; !ok {
		p.order = append(p.order, name)
		p.calls[name] = 0
	}
}

// EndScope adds the time since the matching BeginScope. Unmatched calls are ignored.
func (p *Profiler) EndScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start, ok := p.startTimes[name]
	if !ok {
		return
	}
	delete(p.startTimes, name)
	p.scopes[name] += time.Since(start)
	p.calls[name]++
}

// Scope times fn under name.
func (p *Profiler) Scope(name string, fn func() error) error {
	p.BeginScope(name)
	defer p.EndScope(name)
	return fn()
}

func (p *Profiler) SetCount(name string, count int) {
	p.mu.Lock()
	p.counts[name] = count
	p.mu.Unlock()
}

func (p *Profiler) Duration(name string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scopes[name]
}

func (p *Profiler) Calls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.scopes {
		p.scopes[k] = 0
		p.calls[k] = 0
	}
}

// Table renders timings followed by counters.
func (p *Profiler) Table() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Scope", "Calls", "Total"})
	for _, name := range p.order {
		ms := float64(p.scopes[name].Microseconds()) / 1000.0
		t.AppendRow(table.Row{name, p.calls[name], fmt.Sprintf("%.2f ms", ms)})
	}

	if len(p.counts) > 0 {
		t.AppendSeparator()
		keys := make([]string, 0, len(p.counts))
		for k := range p.counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.AppendRow(table.Row{k, "", p.counts[k]})
		}
	}
	return t.Render()
}
