package thingshadow

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryMetrics keeps every metric in process. It backs the tests and the
// periodic stats line of the sample program.
type MemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]*memoryCounter
	gauges     map[string]*memoryGauge
	histograms map[string]*memoryHistogram
}

// NewMemoryMetrics creates an empty MemoryMetrics.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   make(map[string]*memoryCounter),
		gauges:     make(map[string]*memoryGauge),
		histograms: make(map[string]*memoryHistogram),
	}
}

// labelsKey renders name|k1=v1|k2=v2 with keys in sorted order.
func labelsKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("|" + k + "=" + labels[k])
	}

	return b.String()
}

func getOrCreate[T any](mu *sync.RWMutex, set map[string]*T, key string) *T {
	mu.RLock()
	v, ok := set[key]
	mu.RUnlock()
	if ok {
		return v
	}

	mu.Lock()
	defer mu.Unlock()

	if v, ok := set[key]; ok {
		return v
	}

	v = new(T)
	set[key] = v

	return v
}

func lookup[T any](mu *sync.RWMutex, set map[string]*T, key string) (*T, bool) {
	mu.RLock()
	defer mu.RUnlock()

	v, ok := set[key]
	return v, ok
}

// Counter returns the counter for name and labels, creating it on first use.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return getOrCreate(&m.mu, m.counters, labelsKey(name, labels))
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return getOrCreate(&m.mu, m.gauges, labelsKey(name, labels))
}

// Histogram returns the histogram for name and labels, creating it on first use.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	return getOrCreate(&m.mu, m.histograms, labelsKey(name, labels))
}

// GetCounter returns an existing counter or nil.
func (m *MemoryMetrics) GetCounter(name string, labels MetricLabels) Counter {
	if c, ok := lookup(&m.mu, m.counters, labelsKey(name, labels)); ok {
		return c
	}
	return nil
}

// GetGauge returns an existing gauge or nil.
func (m *MemoryMetrics) GetGauge(name string, labels MetricLabels) Gauge {
	if g, ok := lookup(&m.mu, m.gauges, labelsKey(name, labels)); ok {
		return g
	}
	return nil
}

// GetHistogram returns an existing histogram or nil.
func (m *MemoryMetrics) GetHistogram(name string, labels MetricLabels) Histogram {
	if h, ok := lookup(&m.mu, m.histograms, labelsKey(name, labels)); ok {
		return h
	}
	return nil
}

// Snapshot returns the current value of every metric keyed as labelsKey
// renders it. Histograms contribute <key>_count and <key>_sum.
func (m *MemoryMetrics) Snapshot() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]float64, len(m.counters)+len(m.gauges)+2*len(m.histograms))
	for k, c := range m.counters {
		out[k] = c.Value()
	}
	for k, g := range m.gauges {
		out[k] = g.Value()
	}
	for k, h := range m.histograms {
		out[k+"_count"] = float64(h.Count())
		out[k+"_sum"] = h.Sum()
	}

	return out
}

// atomicFloat is a float64 stored as its IEEE-754 bits.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) add(delta float64) {
	for {
		old := f.bits.Load()
		if f.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+delta)) {
			return
		}
	}
}

func (f *atomicFloat) load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *atomicFloat) store(v float64) { f.bits.Store(math.Float64bits(v)) }

type memoryCounter struct{ v atomicFloat }

func (c *memoryCounter) Inc()              { c.v.add(1) }
func (c *memoryCounter) Add(delta float64) { c.v.add(delta) }
func (c *memoryCounter) Value() float64    { return c.v.load() }

type memoryGauge struct{ v atomicFloat }

func (g *memoryGauge) Set(value float64) { g.v.store(value) }
func (g *memoryGauge) Inc()              { g.v.add(1) }
func (g *memoryGauge) Dec()              { g.v.add(-1) }
func (g *memoryGauge) Add(delta float64) { g.v.add(delta) }
func (g *memoryGauge) Value() float64    { return g.v.load() }

type memoryHistogram struct {
	count atomic.Uint64
	sum   atomicFloat
}

func (h *memoryHistogram) ObserveDuration(d time.Duration) {
	h.count.Add(1)
	h.sum.add(d.Seconds())
}

func (h *memoryHistogram) Count() uint64 { return h.count.Load() }
func (h *memoryHistogram) Sum() float64  { return h.sum.load() }
