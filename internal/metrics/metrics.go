// Package metrics собирает метрики Prometheus по фоновым заданиям и переходам займов.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Результат запуска задания.
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultFailure = "failure"
)

// Collector хранит собственный реестр, чтобы тесты и несколько экземпляров не конфликтовали.
// Методы допускают nil-получатель.
type Collector struct {
	registry *prometheus.Registry

	jobRuns        *prometheus.CounterVec
	jobProcessed   *prometheus.CounterVec
	jobItemErrors  *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	transitions    *prometheus.CounterVec
	effectFailures *prometheus.CounterVec
	conflicts      prometheus.Counter
}

// NewCollector создаёт коллектор с новым реестром.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	f := promauto.With(registry)

	return &Collector{
		registry: registry,
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loanoffice_job_runs_total",
			Help: "Total number of escalation job runs by result",
		}, []string{"job", "result"}),
		jobProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loanoffice_job_processed_total",
			Help: "Total number of items changed by escalation jobs",
		}, []string{"job"}),
		jobItemErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loanoffice_job_item_errors_total",
			Help: "Total number of per-item failures in escalation jobs",
		}, []string{"job"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loanoffice_job_duration_seconds",
			Help:    "Time taken by an escalation job run",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loanoffice_loan_transitions_total",
			Help: "Total number of committed loan transitions",
		}, []string{"action"}),
		effectFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loanoffice_effect_failures_total",
			Help: "Total number of failed post-commit effects",
		}, []string{"effect"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "loanoffice_loan_version_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts on loan commits",
		}),
	}
}

// RecordJob учитывает один запуск задания.
func (c *Collector) RecordJob(job string, processed, itemErrors int, d time.Duration, result string) {
	if c == nil {
		return
	}
	c.jobRuns.WithLabelValues(job, result).Inc()
	c.jobProcessed.WithLabelValues(job).Add(float64(processed))
	c.jobItemErrors.WithLabelValues(job).Add(float64(itemErrors))
	c.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// RecordTransition учитывает зафиксированный переход займа.
func (c *Collector) RecordTransition(action string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(action).Inc()
}

// RecordEffectFailure учитывает сбой побочного действия: notify или activity.
func (c *Collector) RecordEffectFailure(effect string) {
	if c == nil {
		return
	}
	c.effectFailures.WithLabelValues(effect).Inc()
}

// RecordConflict учитывает конфликт версий при фиксации займа.
func (c *Collector) RecordConflict() {
	if c == nil {
		return
	}
	c.conflicts.Inc()
}

// Registry возвращает реестр коллектора.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler отдаёт метрики в формате Prometheus.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
