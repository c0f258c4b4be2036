package metrics

import (
	gometrics "github.com/hashicorp/go-metrics"
)

var (
	MetricConnectionAcceptedCount = []string{"dispatcher", "connection", "accepted", "count"}
	MetricBackendSelectedCount    = []string{"dispatcher", "backend", "selected", "count"}
	MetricDispatchCount           = []string{"dispatcher", "dispatch", "count"}
	MetricDispatchDurationMs      = []string{"dispatcher", "dispatch", "duration", "ms"}
	MetricBackendHealthy          = []string{"dispatcher", "backend", "healthy"}
	MetricBackendBreakerOpen      = []string{"dispatcher", "backend", "breaker", "open"}
)

type Label string

var (
	LabelBackend Label = "backend"
	LabelOutcome Label = "outcome"
	LabelCause   Label = "cause"
	LabelState   Label = "state"
)

func (l Label) M(val string) gometrics.Label {
	return gometrics.Label{Name: string(l), Value: val}
}
