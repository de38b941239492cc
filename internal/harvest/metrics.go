// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/pdiddy/ctmirror/internal/harvest")

// runMetrics mirrors the FetchEvent counters as otel instruments. Without
// an installed meter provider they are no-ops.
type runMetrics struct {
	checked    metric.Int64Counter
	downloaded metric.Int64Counter
	added      metric.Int64Counter
	failed     metric.Int64Counter
	attrs      metric.AddOption
}

func newRunMetrics(source string) *runMetrics {
	m := &runMetrics{attrs: metric.WithAttributes(attribute.String("source", source))}
	m.checked, _ = meter.Int64Counter("ctmirror.records.checked",
		metric.WithDescription("Candidate records compared against the ledger."))
	m.downloaded, _ = meter.Int64Counter("ctmirror.records.downloaded",
		metric.WithDescription("Records fetched and committed."))
	m.added, _ = meter.Int64Counter("ctmirror.records.added",
		metric.WithDescription("Records downloaded for the first time."))
	m.failed, _ = meter.Int64Counter("ctmirror.records.failed",
		metric.WithDescription("Records that could not be fetched or committed."))
	return m
}

func (m *runMetrics) inc(ctx context.Context, c metric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1, m.attrs)
	}
}
