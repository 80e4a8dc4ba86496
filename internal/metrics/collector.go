// Package metrics is a small Prometheus text-format collector for mediabot.
// Series are created lazily and rendered in sorted order.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry served on the metrics path.
var Collector = NewMetricsCollector()

// MetricsCollector holds every series of the process, keyed by name and
// label set.
type MetricsCollector struct {
	counters   sync.Map // seriesKey -> *Counter
	gauges     sync.Map // seriesKey -> *Gauge
	histograms sync.Map // seriesKey -> *Histogram
	startTime  time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime is the time since the collector was created.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// meta identifies one series.
type meta struct {
	name   string
	help   string
	labels string
}

func (m meta) key() string { return m.name + "{" + m.labels + "}" }

// Counter only goes up: messages seen, jobs finished, retries spent.
type Counter struct {
	meta
	n atomic.Int64
}

func (c *Counter) Inc()         { c.n.Add(1) }
func (c *Counter) Add(n int64)  { c.n.Add(n) }
func (c *Counter) Value() int64 { return c.n.Load() }

// Gauge tracks a level such as the number of in-flight messages.
type Gauge struct {
	meta
	n atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.n.Store(v) }
func (g *Gauge) Inc()         { g.n.Add(1) }
func (g *Gauge) Dec()         { g.n.Add(-1) }
func (g *Gauge) Value() int64 { return g.n.Load() }

// Histogram records latencies in seconds against fixed upper bounds.
// Bucket counts are cumulative, as the exposition format expects.
type Histogram struct {
	meta
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count is the number of observations so far.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// labels renders key/value pairs as a Prometheus label set, in the order
// given: labels("kind", "mp3", "status", "done") is kind="mp3",status="done".
func labels(kv ...string) string {
	var sb strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=%q", kv[i], kv[i+1])
	}
	return sb.String()
}

// loadOrStore returns the series already registered under key, or stores
// fresh.
func loadOrStore[T any](m *sync.Map, key string, fresh func() *T) *T {
	if v, ok := m.Load(key); ok {
		return v.(*T)
	}
	v, _ := m.LoadOrStore(key, fresh())
	return v.(*T)
}

func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	m := meta{name: name, help: help, labels: labels}
	return loadOrStore(&c.counters, m.key(), func() *Counter { return &Counter{meta: m} })
}

func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	m := meta{name: name, help: help, labels: labels}
	return loadOrStore(&c.gauges, m.key(), func() *Gauge { return &Gauge{meta: m} })
}

// Histogram returns the series for name and labels. Buckets only apply when
// the series is first created.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	m := meta{name: name, help: help, labels: labels}
	return loadOrStore(&c.histograms, m.key(), func() *Histogram {
		bounds := append([]float64(nil), buckets...)
		sort.Float64s(bounds)
		return &Histogram{meta: m, bounds: bounds, counts: make([]int64, len(bounds))}
	})
}

// --- Prometheus text rendering ---

func sortedValues[T any](m *sync.Map) []T {
	var keys []string
	vals := map[string]T{}
	m.Range(func(k, v any) bool {
		keys = append(keys, k.(string))
		vals[k.(string)] = v.(T)
		return true
	})
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, vals[k])
	}
	return out
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

// Render writes every registered series in exposition format. HELP and TYPE
// lines appear once per metric name.
func (c *MetricsCollector) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP mediabot_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE mediabot_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "mediabot_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

	described := map[string]bool{}
	header := func(m meta, typ string) {
		if described[m.name] {
			return
		}
		described[m.name] = true
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", m.name, m.help, m.name, typ)
	}

	for _, ctr := range sortedValues[*Counter](&c.counters) {
		header(ctr.meta, "counter")
		fmt.Fprintf(&sb, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}
	for _, g := range sortedValues[*Gauge](&c.gauges) {
		header(g.meta, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}
	for _, h := range sortedValues[*Histogram](&c.histograms) {
		header(h.meta, "histogram")
		h.writeTo(&sb)
	}
	return sb.String()
}

func (h *Histogram) writeTo(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bucket := h.labels
	if bucket != "" {
		bucket += ","
	}
	for i, bound := range h.bounds {
		le := fmt.Sprintf("%g", bound)
		if math.IsInf(bound, 1) {
			le = "+Inf"
		}
		fmt.Fprintf(sb, "%s_bucket{%sle=%q} %d\n", h.name, bucket, le, h.counts[i])
	}
	fmt.Fprintf(sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
	fmt.Fprintf(sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
}

// Handler serves Render over HTTP.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// --- Pre-defined metrics used across the application ---

var (
	MessagesTotal    = Collector.Counter("mediabot_messages_total", "Inbound messages dispatched", "")
	RepliesTotal     = Collector.Counter("mediabot_replies_total", "Conversational replies sent", "")
	LLMRequestsTotal = Collector.Counter("mediabot_llm_requests_total", "Total LLM API requests", "")
	ImagesCollected  = Collector.Counter("mediabot_images_collected_total", "Images appended to combine buffers", "")
	FetchRetries     = Collector.Counter("mediabot_fetch_retries_total", "Media fetch attempts after the first", "")
	InflightMessages = Collector.Gauge("mediabot_inflight_messages", "Messages currently being dispatched", "")

	LLMLatency = Collector.Histogram("mediabot_llm_latency_seconds", "LLM request latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 8, 15, 30})
)

var jobBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300}

// NormalizeFallbacks counts failures of one normalization strategy.
func NormalizeFallbacks(strategy string) *Counter {
	return Collector.Counter("mediabot_normalize_fallbacks_total",
		"Image normalization strategy failures", labels("strategy", strategy))
}

func IntentsTotal(intent string) *Counter {
	return Collector.Counter("mediabot_intents_total",
		"Classified intents", labels("intent", intent))
}

// JobsTotal counts finished jobs by kind and terminal status.
func JobsTotal(kind, status string) *Counter {
	return Collector.Counter("mediabot_jobs_total",
		"Finished media jobs", labels("kind", kind, "status", status))
}

func JobLatency(kind string) *Histogram {
	return Collector.Histogram("mediabot_job_latency_seconds",
		"Media job latency in seconds", labels("kind", kind), jobBuckets)
}
