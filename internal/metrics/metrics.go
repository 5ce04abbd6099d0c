// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "splist_mirror"

// File outcomes reported by the mirror pass.
const (
	OutcomeDownloaded = "downloaded"
	OutcomeExisting   = "existing"
	OutcomeIgnored    = "ignored"
	OutcomeFailed     = "failed"
)

// Collector holds the counters of a single mirror run. All methods are safe
// to call on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	pages   prometheus.Counter
	records prometheus.Counter
	exports *prometheus.CounterVec
	files   *prometheus.CounterVec
	lastRun prometheus.Gauge
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Item pages fetched from the remote site.",
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "List items read from the remote site.",
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csv_exports_total",
			Help:      "CSV export attempts by result.",
		}, []string{"result"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Document library items by mirror outcome.",
		}, []string{"outcome"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run finished without errors.",
		}),
	}
	c.registry.MustRegister(c.pages, c.records, c.exports, c.files, c.lastRun)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// PageFetched records one fetched page holding n items.
func (c *Collector) PageFetched(n int) {
	if c == nil {
		return
	}
	c.pages.Inc()
	c.records.Add(float64(n))
}

// CSVExport records an export attempt.
func (c *Collector) CSVExport(written bool) {
	if c == nil {
		return
	}
	result := "skipped"
	if written {
		result = "written"
	}
	c.exports.WithLabelValues(result).Inc()
}

// File records the mirror outcome of one document library item.
func (c *Collector) File(outcome string) {
	if c == nil {
		return
	}
	c.files.WithLabelValues(outcome).Inc()
}

// RunFinished sets the last run gauge.
func (c *Collector) RunFinished(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.lastRun.Set(1)
	} else {
		c.lastRun.Set(0)
	}
}

// WriteTextfile writes the current values in the text exposition format,
// suitable for the node exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
