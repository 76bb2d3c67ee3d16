package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("banter/scheduler")

var tickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "banter_tick_duration_sec",
	Help: "Duration of a scheduler tick",
}, []string{"loop"})

var tickErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "banter_tick_errors",
	Help: "Number of ticks which failed as a whole",
}, []string{"loop"})

var candidatesFetched = promauto.NewCounter(prometheus.CounterOpts{
	Name: "banter_candidates_fetched",
	Help: "Number of candidate messages returned by search",
})

var candidateOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "banter_candidate_outcomes",
	Help: "Candidates considered, by filter outcome",
}, []string{"outcome"})

var postOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "banter_post_outcomes",
	Help: "Posting scheduler firings, by outcome",
}, []string{"outcome"})

var generationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "banter_generation_errors",
	Help: "Number of failed generation calls",
}, []string{"loop"})

var truncatedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "banter_truncated_texts",
	Help: "Generated texts cut down to the length limit, by cut type",
}, []string{"cut"})
