// Package telemetry records HTTP and flowsheet metrics in memory and serves
// them in Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// DefaultDurationBuckets are request duration boundaries, in seconds.
var DefaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := append([]int64(nil), h.bucketCounts...)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// requestKey labels one request series.
type requestKey struct {
	Method string
	Route  string
	Status string
}

type gauge struct {
	name string
	help string
	fn   func() float64
}

// Provider holds every metric the server exports.
type Provider struct {
	mu        sync.RWMutex
	requests  map[requestKey]*histogram
	mutations map[string]*int64
	gauges    []gauge

	active int64
}

func NewProvider() *Provider {
	return &Provider{
		requests:  make(map[requestKey]*histogram),
		mutations: make(map[string]*int64),
	}
}

// RegisterGauge adds a gauge whose value is read from fn at scrape time.
func (p *Provider) RegisterGauge(name, help string, fn func() float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gauges = append(p.gauges, gauge{name: name, help: help, fn: fn})
}

// CountMutation increments the ledger mutation counter for action.
func (p *Provider) CountMutation(action string) {
	p.mu.RLock()
	c, ok := p.mutations[action]
	p.mu.RUnlock()
	if !ok {
		p.mu.Lock()
		if c, ok = p.mutations[action]; !ok {
			c = new(int64)
			p.mutations[action] = c
		}
		p.mu.Unlock()
	}
	atomic.AddInt64(c, 1)
}

// Mutations returns the counter value for action.
func (p *Provider) Mutations(action string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if c, ok := p.mutations[action]; ok {
		return atomic.LoadInt64(c)
	}
	return 0
}

// Requests returns how many requests matched (method, route, status).
func (p *Provider) Requests(method, route string, status int) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if h, ok := p.requests[requestKey{method, route, strconv.Itoa(status)}]; ok {
		return h.Count()
	}
	return 0
}

func (p *Provider) ActiveRequests() int64 {
	return atomic.LoadInt64(&p.active)
}

func (p *Provider) requestHistogram(k requestKey) *histogram {
	p.mu.RLock()
	h, ok := p.requests[k]
	p.mu.RUnlock()
	if ok {
		return h
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok = p.requests[k]; !ok {
		h = newHistogram(DefaultDurationBuckets)
		p.requests[k] = h
	}
	return h
}

// Middleware records request duration by method, route pattern and status.
// Errors returned by the handler are counted under their HTTP status.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&p.active, 1)
			defer atomic.AddInt64(&p.active, -1)

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			k := requestKey{Method: c.Request().Method, Route: route, Status: strconv.Itoa(status)}
			p.requestHistogram(k).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves /metrics.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, p.Render())
	}
}

// Render writes every metric in Prometheus text format. Series are sorted so
// output is stable between scrapes.
func (p *Provider) Render() string {
	var b strings.Builder

	p.mu.RLock()
	keys := make([]requestKey, 0, len(p.requests))
	for k := range p.requests {
		keys = append(keys, k)
	}
	actions := make([]string, 0, len(p.mutations))
	for a := range p.mutations {
		actions = append(actions, a)
	}
	gauges := append([]gauge(nil), p.gauges...)
	p.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Route != keys[j].Route {
			return keys[i].Route < keys[j].Route
		}
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		return keys[i].Status < keys[j].Status
	})
	sort.Strings(actions)

	const durName = "http_server_request_duration_seconds"
	fmt.Fprintf(&b, "# HELP %s Duration of HTTP requests in seconds.\n", durName)
	fmt.Fprintf(&b, "# TYPE %s histogram\n", durName)
	for _, k := range keys {
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", k.Method, k.Route, k.Status)
		writeHistogram(&b, durName, labels, p.requestHistogram(k))
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(&b, "http_server_active_requests %d\n\n", p.ActiveRequests())

	b.WriteString("# HELP intake_output_mutations_total Committed ledger mutations by action.\n")
	b.WriteString("# TYPE intake_output_mutations_total counter\n")
	for _, a := range actions {
		fmt.Fprintf(&b, "intake_output_mutations_total{action=%q} %d\n", a, p.Mutations(a))
	}
	b.WriteByte('\n')

	for _, g := range gauges {
		fmt.Fprintf(&b, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(&b, "%s %g\n\n", g.name, g.fn())
	}
	return b.String()
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	total := h.Count()
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}
