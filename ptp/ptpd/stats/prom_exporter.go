/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stats

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter re-exports ptpd counters as prometheus gauges
type PrometheusExporter struct {
	registry *prometheus.Registry
	url      string
	interval time.Duration

	mu     sync.Mutex
	gauges map[string]prometheus.Gauge
}

// NewPrometheusExporter creates exporter scraping ptpd monitoring endpoint at url
func NewPrometheusExporter(url string, scrapeInterval time.Duration) *PrometheusExporter {
	return &PrometheusExporter{
		registry: prometheus.NewRegistry(),
		url:      url,
		interval: scrapeInterval,
		gauges:   map[string]prometheus.Gauge{},
	}
}

// Handler returns http handler serving the metrics
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(
		e.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	)
}

// Run scrapes ptpd every interval until ctx is cancelled
func (e *PrometheusExporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		counters, err := FetchCounters(e.url)
		if err != nil {
			log.Warningf("failed to fetch ptpd counters: %v", err)
		} else {
			e.Update(counters)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Update sets gauges to the counter values, registering new ones
func (e *PrometheusExporter) Update(counters Counters) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for mkey, mval := range counters {
		g, ok := e.gauges[mkey]
		if !ok {
			g = prometheus.NewGauge(prometheus.GaugeOpts{
				Name: flattenKey(mkey),
				Help: mkey,
			})
			if err := e.registry.Register(g); err != nil {
				log.Errorf("failed to register metric %s %v", mkey, err)
				continue
			}
			e.gauges[mkey] = g
		}
		g.Set(float64(mval))
	}
}

// ListenAndServe serves the metrics on /metrics
func (e *PrometheusExporter) ListenAndServe(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

func flattenKey(key string) string {
	return strings.NewReplacer(" ", "_", ".", "_", "-", "_", "=", "_", "/", "_").Replace(key)
}
