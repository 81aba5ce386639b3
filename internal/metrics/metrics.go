// metrics.go - In-process metrics for wallet operations and sync.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
)

// histogramWindow is how many recent samples a histogram keeps.
const histogramWindow = 1000

// Metric represents a single metric
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Collector manages metrics collection. A nil *Collector is valid and records
// nothing, so components can take one optionally.
type Collector struct {
	mu         sync.RWMutex
	metrics    map[string]*Metric
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		metrics:    make(map[string]*Metric),
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

// IncrementCounter increments a counter metric
func (mc *Collector) IncrementCounter(name string, labels map[string]string) {
	mc.AddCounter(name, 1, labels)
}

// AddCounter adds delta to a counter metric
func (mc *Collector) AddCounter(name string, delta int64, labels map[string]string) {
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	mc.counters[key] += delta
	mc.updateMetric(key, name, Counter, float64(mc.counters[key]), labels)
}

// SetGauge sets a gauge metric value
func (mc *Collector) SetGauge(name string, value float64, labels map[string]string) {
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	mc.gauges[key] = value
	mc.updateMetric(key, name, Gauge, value, labels)
}

// RecordHistogram records a value in a histogram
func (mc *Collector) RecordHistogram(name string, value float64, labels map[string]string) {
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := makeKey(name, labels)
	h := append(mc.histograms[key], value)
	if len(h) > histogramWindow {
		h = h[len(h)-histogramWindow:]
	}
	mc.histograms[key] = h
	mc.updateMetric(key, name, Histogram, value, labels)
}

// GetMetric retrieves a metric by name and labels
func (mc *Collector) GetMetric(name string, labels map[string]string) *Metric {
	if mc == nil {
		return nil
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	m, ok := mc.metrics[makeKey(name, labels)]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Counter returns the current value of a counter, zero if unset.
func (mc *Collector) Counter(name string, labels map[string]string) int64 {
	if mc == nil {
		return 0
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.counters[makeKey(name, labels)]
}

// GetAllMetrics returns all collected metrics sorted by key
func (mc *Collector) GetAllMetrics() []*Metric {
	if mc == nil {
		return nil
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	keys := make([]string, 0, len(mc.metrics))
	for k := range mc.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Metric, 0, len(keys))
	for _, k := range keys {
		cp := *mc.metrics[k]
		out = append(out, &cp)
	}
	return out
}

// GetMetricsSummary returns a summary of all metrics
func (mc *Collector) GetMetricsSummary() map[string]interface{} {
	summary := make(map[string]interface{})
	if mc == nil {
		return summary
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	counters := make(map[string]int64, len(mc.counters))
	for key, v := range mc.counters {
		counters[key] = v
	}
	summary["counters"] = counters

	gauges := make(map[string]float64, len(mc.gauges))
	for key, v := range mc.gauges {
		gauges[key] = v
	}
	summary["gauges"] = gauges

	histograms := make(map[string]map[string]float64)
	for key, values := range mc.histograms {
		if len(values) == 0 {
			continue
		}
		h := map[string]float64{
			"count": float64(len(values)),
			"min":   values[0],
			"max":   values[0],
		}
		var sum float64
		for _, v := range values {
			if v < h["min"] {
				h["min"] = v
			}
			if v > h["max"] {
				h["max"] = v
			}
			sum += v
		}
		h["sum"] = sum
		h["avg"] = sum / h["count"]
		histograms[key] = h
	}
	summary["histograms"] = histograms

	return summary
}

// Reset resets all metrics
func (mc *Collector) Reset() {
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics = make(map[string]*Metric)
	mc.counters = make(map[string]int64)
	mc.gauges = make(map[string]float64)
	mc.histograms = make(map[string][]float64)
}

// makeKey creates a deterministic key from a name and sorted labels
func makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range names {
		b.WriteString("{" + k + "=" + labels[k] + "}")
	}
	return b.String()
}

func (mc *Collector) updateMetric(key, name string, metricType MetricType, value float64, labels map[string]string) {
	mc.metrics[key] = &Metric{
		Name:      name,
		Type:      metricType,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Predefined metric names
const (
	MetricDepositCount      = "deposit_count"
	MetricTransferCount     = "transfer_count"
	MetricWithdrawCount     = "withdraw_count"
	MetricProofTime         = "proof_generation_time"
	MetricConfirmationTime  = "confirmation_time"
	MetricSyncCount         = "sync_count"
	MetricSyncTime          = "sync_time"
	MetricNotesDiscovered   = "notes_discovered"
	MetricNotesSpent        = "notes_spent"
	MetricLastSyncedBlock   = "last_synced_block"
	MetricUnspentNotes      = "unspent_notes"
	MetricErrorCount        = "error_count"
	MetricCollaboratorError = "collaborator_error"
)

// Convenience methods for common metrics

func (mc *Collector) RecordDeposit(token string) {
	mc.IncrementCounter(MetricDepositCount, map[string]string{"token": token})
}

func (mc *Collector) RecordTransfer(token string, inputs, outputs int) {
	mc.IncrementCounter(MetricTransferCount, map[string]string{"token": token})
	mc.AddCounter(MetricNotesSpent, int64(inputs), nil)
	mc.RecordHistogram("transfer_outputs", float64(outputs), nil)
}

func (mc *Collector) RecordWithdraw(token string, inputs int) {
	mc.IncrementCounter(MetricWithdrawCount, map[string]string{"token": token})
	mc.AddCounter(MetricNotesSpent, int64(inputs), nil)
}

func (mc *Collector) RecordProofGeneration(duration time.Duration) {
	mc.RecordHistogram(MetricProofTime, duration.Seconds(), nil)
}

func (mc *Collector) RecordConfirmation(duration time.Duration) {
	mc.RecordHistogram(MetricConfirmationTime, duration.Seconds(), nil)
}

func (mc *Collector) RecordSync(duration time.Duration, discovered, spent int, watermark uint64) {
	mc.IncrementCounter(MetricSyncCount, nil)
	mc.RecordHistogram(MetricSyncTime, duration.Seconds(), nil)
	mc.AddCounter(MetricNotesDiscovered, int64(discovered), nil)
	mc.AddCounter(MetricNotesSpent, int64(spent), nil)
	mc.SetGauge(MetricLastSyncedBlock, float64(watermark), nil)
}

func (mc *Collector) RecordCollaboratorError(op string) {
	mc.IncrementCounter(MetricCollaboratorError, map[string]string{"op": op})
}

func (mc *Collector) RecordError(errorType string) {
	mc.IncrementCounter(MetricErrorCount, map[string]string{"type": errorType})
}
