package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	//Metrics
	QueryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphql_query_count",
		Help: "We will count all the queries made by name.",
	}, []string{"query_name"})
	QueryAuthFailureCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphql_query_auth_failure_count",
		Help: "We will count all the operations rejected before execution.",
	}, []string{"kind"})
	QueryFailureCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphql_query_failure_count",
		Help: "We will count all the query failures by name.",
	}, []string{"query_name", "kind"})
	QueryTimer = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "graphql_query_duration_seconds",
		Help: "Execution time for each query.",
	}, []string{"query_name"})
	QueryHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "graphql_query_request_time_seconds",
		Help: "Histogram of execution time for each query.",
	}, []string{"query_name"})
)
