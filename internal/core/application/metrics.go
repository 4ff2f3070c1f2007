package application

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/privrollup/walletd/application"

// tracer resolves against the global provider, spans are dropped until the
// daemon installs an exporter.
var tracer = otel.Tracer(meterName)

type metrics struct {
	blocksApplied  metric.Int64Counter
	blocksSkipped  metric.Int64Counter
	applyDuration  metric.Float64Histogram
	proofsCreated  metric.Int64Counter
	settlementWait metric.Float64Histogram
}

// newMetrics registers the instruments on the global meter provider, a
// no-op one unless the daemon installed an exporter.
func newMetrics() *metrics {
	m, err := registerMetrics(otel.Meter(meterName))
	if err != nil {
		log.WithError(err).Warn("failed to register metrics, falling back to no-op meter")
		// nolint
		m, _ = registerMetrics(noop.NewMeterProvider().Meter(meterName))
	}
	return m
}

func registerMetrics(meter metric.Meter) (*metrics, error) {
	blocksApplied, err := meter.Int64Counter(
		"walletd.blocks.applied", metric.WithDescription("rollup blocks applied to the local state"),
	)
	if err != nil {
		return nil, err
	}
	blocksSkipped, err := meter.Int64Counter(
		"walletd.blocks.skipped", metric.WithDescription("rollup blocks already applied elsewhere"),
	)
	if err != nil {
		return nil, err
	}
	applyDuration, err := meter.Float64Histogram(
		"walletd.blocks.apply_duration", metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	proofsCreated, err := meter.Int64Counter("walletd.proofs.created")
	if err != nil {
		return nil, err
	}
	settlementWait, err := meter.Float64Histogram(
		"walletd.txs.settlement_wait", metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &metrics{
		blocksApplied:  blocksApplied,
		blocksSkipped:  blocksSkipped,
		applyDuration:  applyDuration,
		proofsCreated:  proofsCreated,
		settlementWait: settlementWait,
	}, nil
}

func (m *metrics) blockApplied(ctx context.Context, started time.Time) {
	m.blocksApplied.Add(ctx, 1)
	m.applyDuration.Record(ctx, time.Since(started).Seconds())
}

func (m *metrics) blockSkipped(ctx context.Context) {
	m.blocksSkipped.Add(ctx, 1)
}

func (m *metrics) proofCreated(ctx context.Context, proofId string) {
	m.proofsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("proof_id", proofId)))
}

func (m *metrics) settled(ctx context.Context, started time.Time) {
	m.settlementWait.Record(ctx, time.Since(started).Seconds())
}
