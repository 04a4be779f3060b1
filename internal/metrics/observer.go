// Package metrics exports the mirror's counters to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"

	"skymirror/internal/media"
	"skymirror/internal/publisher"
)

const namespace = "skymirror"

// Observer records cycle outcomes, posts, downloads and retries.
// A nil *Observer is valid and records nothing.
type Observer struct {
	cycles    *promclient.CounterVec
	posts     *promclient.CounterVec
	downloads *promclient.CounterVec
	retries   *promclient.CounterVec
	lastCycle promclient.Gauge
}

// NewObserver registers the mirror metrics on reg (the default registerer when nil).
// Registering twice on the same registry reuses the existing collectors.
func NewObserver(reg promclient.Registerer) (*Observer, error) {
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}
	o := &Observer{
		cycles: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Polling cycles by outcome.",
		}, []string{"outcome"}),
		posts: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "posts_total",
			Help:      "Destination post submissions by kind and result.",
		}, []string{"kind", "result"}),
		downloads: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "media_downloads_total",
			Help:      "Media downloads by kind and result.",
		}, []string{"kind", "result"}),
		retries: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried upstream calls by operation.",
		}, []string{"operation"}),
		lastCycle: promclient.NewGauge(promclient.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last polling cycle finished.",
		}),
	}

	var err error
	for _, vec := range []**promclient.CounterVec{&o.cycles, &o.posts, &o.downloads, &o.retries} {
		if *vec, err = register(reg, *vec); err != nil {
			return nil, err
		}
	}
	if o.lastCycle, err = register(reg, o.lastCycle); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C promclient.Collector](reg promclient.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are promclient.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("register metric: %w", err)
}

// ObserveCycle counts one finished cycle.
func (o *Observer) ObserveCycle(outcome string) {
	if o == nil {
		return
	}
	o.cycles.WithLabelValues(outcome).Inc()
	o.lastCycle.Set(float64(time.Now().Unix()))
}

// ObservePost implements publisher.PostObserver.
func (o *Observer) ObservePost(kind publisher.Kind, ok bool) {
	if o == nil {
		return
	}
	o.posts.WithLabelValues(string(kind), result(ok)).Inc()
}

// ObserveDownload implements media.DownloadObserver.
func (o *Observer) ObserveDownload(kind media.Kind, ok bool) {
	if o == nil {
		return
	}
	o.downloads.WithLabelValues(string(kind), result(ok)).Inc()
}

// ObserveRetry counts one retried call of operation.
func (o *Observer) ObserveRetry(operation string) {
	if o == nil {
		return
	}
	o.retries.WithLabelValues(operation).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

var (
	_ publisher.PostObserver = (*Observer)(nil)
	_ media.DownloadObserver = (*Observer)(nil)
)
