package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdf_stage_outcomes_total",
			Help: "Pipeline stage results by stage and data source (real or mock).",
		},
		[]string{"stage", "source"},
	)

	callPolls = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mdf_call_polls",
			Help:    "Number of status fetches made while waiting for a verification call.",
			Buckets: prometheus.LinearBuckets(1, 6, 10),
		},
	)

	pipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mdf_pipeline_duration_seconds",
			Help:    "Wall time of one document pipeline run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 180, 240, 300},
		},
	)

	recordsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdf_records_finalized_total",
			Help: "Records that reached a terminal processing status.",
		},
		[]string{"status"},
	)
)
