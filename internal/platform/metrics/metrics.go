// Package metrics is a small Prometheus text-format registry.
package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Opts struct {
	Name string
	Help string
}

type collector interface {
	describe() Opts
	kind() string
	samples() []sample
}

type sample struct {
	labels string
	value  float64
}

type Registry struct {
	mu         sync.RWMutex
	collectors map[string]collector
}

func NewRegistry() *Registry {
	return &Registry{collectors: map[string]collector{}}
}

func (r *Registry) MustRegister(items ...collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		name := item.describe().Name
		if _, exists := r.collectors[name]; exists {
			panic("metrics collector already registered: " + name)
		}
		r.collectors[name] = item
	}
}

// Expose renders every registered collector sorted by name.
func (r *Registry) Expose() string {
	r.mu.RLock()
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	collectors := make([]collector, 0, len(names))
	for _, name := range names {
		collectors = append(collectors, r.collectors[name])
	}
	r.mu.RUnlock()

	var sb strings.Builder
	for _, c := range collectors {
		opts := c.describe()
		fmt.Fprintf(&sb, "# HELP %s %s\n", opts.Name, opts.Help)
		fmt.Fprintf(&sb, "# TYPE %s %s\n", opts.Name, c.kind())
		for _, s := range c.samples() {
			fmt.Fprintf(&sb, "%s%s %s\n", opts.Name, s.labels, strconv.FormatFloat(s.value, 'f', -1, 64))
		}
	}
	return sb.String()
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Expose()))
	})
}

var Default = NewRegistry()
var processStart = time.Now()

func DefaultHandler() http.Handler {
	return Default.Handler()
}

type Gauge struct {
	opts  Opts
	mu    sync.RWMutex
	value float64
}

func NewGauge(opts Opts) *Gauge {
	return &Gauge{opts: opts}
}

func (g *Gauge) describe() Opts { return g.opts }
func (g *Gauge) kind() string   { return "gauge" }

func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

func (g *Gauge) Inc() { g.Add(1) }
func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) Value() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

func (g *Gauge) samples() []sample {
	return []sample{{value: g.Value()}}
}

type GaugeFunc struct {
	opts Opts
	fn   func() float64
}

func NewGaugeFunc(opts Opts, fn func() float64) *GaugeFunc {
	return &GaugeFunc{opts: opts, fn: fn}
}

func (g *GaugeFunc) describe() Opts { return g.opts }
func (g *GaugeFunc) kind() string   { return "gauge" }

func (g *GaugeFunc) samples() []sample {
	v := 0.0
	if g.fn != nil {
		v = g.fn()
	}
	return []sample{{value: v}}
}

type CounterVec struct {
	opts       Opts
	labelNames []string

	mu     sync.RWMutex
	values map[string]float64
}

func NewCounterVec(opts Opts, labelNames ...string) *CounterVec {
	return &CounterVec{
		opts:       opts,
		labelNames: append([]string(nil), labelNames...),
		values:     map[string]float64{},
	}
}

func (c *CounterVec) describe() Opts { return c.opts }
func (c *CounterVec) kind() string   { return "counter" }

func (c *CounterVec) WithLabelValues(values ...string) Counter {
	return Counter{parent: c, labelValues: values}
}

// Value returns the current count for one label combination.
func (c *CounterVec) Value(values ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[strings.Join(values, "\xff")]
}

func (c *CounterVec) add(labelValues []string, delta float64) {
	if len(labelValues) != len(c.labelNames) {
		return
	}
	key := strings.Join(labelValues, "\xff")
	c.mu.Lock()
	c.values[key] += delta
	c.mu.Unlock()
}

func (c *CounterVec) samples() []sample {
	c.mu.RLock()
	keys := make([]string, 0, len(c.values))
	for key := range c.values {
		keys = append(keys, key)
	}
	values := make(map[string]float64, len(keys))
	for _, key := range keys {
		values[key] = c.values[key]
	}
	c.mu.RUnlock()
	sort.Strings(keys)

	out := make([]sample, 0, len(keys))
	for _, key := range keys {
		out = append(out, sample{labels: c.formatLabels(strings.Split(key, "\xff")), value: values[key]})
	}
	return out
}

func (c *CounterVec) formatLabels(values []string) string {
	if len(c.labelNames) == 0 {
		return ""
	}
	pairs := make([]string, len(c.labelNames))
	for i, name := range c.labelNames {
		pairs[i] = name + `="` + escapeLabelValue(values[i]) + `"`
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

type Counter struct {
	parent      *CounterVec
	labelValues []string
}

func (c Counter) Add(v float64) {
	if c.parent == nil || v < 0 {
		return
	}
	c.parent.add(c.labelValues, v)
}

func (c Counter) Inc() { c.Add(1) }

func escapeLabelValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return v
}

func init() {
	Default.MustRegister(
		NewGaugeFunc(Opts{
			Name: "process_uptime_seconds",
			Help: "Seconds since process start.",
		}, func() float64 {
			return time.Since(processStart).Seconds()
		}),
		NewGaugeFunc(Opts{
			Name: "go_goroutines",
			Help: "Number of goroutines.",
		}, func() float64 {
			return float64(runtime.NumGoroutine())
		}),
	)
}
