package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "walletd"

type collector struct {
	host     string
	insecure bool
}

func parseEndpoint(endpoint string) (*collector, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid otel collector endpoint %s", endpoint)
	}
	return &collector{host: u.Host, insecure: u.Scheme != "https"}, nil
}

func (c collector) metricOptions() []otlpmetrichttp.Option {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(c.host)}
	if c.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return opts
}

func (c collector) logOptions() []otlploghttp.Option {
	opts := []otlploghttp.Option{otlploghttp.WithEndpoint(c.host)}
	if c.insecure {
		opts = append(opts, otlploghttp.WithInsecure())
	}
	return opts
}

func (c collector) traceOptions() []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.host)}
	if c.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

// InitOtelSDK installs global meter and tracer providers exporting to the
// given collector and hooks logrus to export log entries there too. The
// returned func flushes and stops every exporter.
func InitOtelSDK(
	ctx context.Context, endpoint string, pushInterval time.Duration,
) (func(context.Context) error, error) {
	c, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if pushInterval <= 0 {
		pushInterval = 10 * time.Second
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	metricExporter, err := otlpmetrichttp.New(ctx, c.metricOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(pushInterval)),
		),
	)
	otel.SetMeterProvider(meterProvider)

	traceExporter, err := otlptracehttp.New(ctx, c.traceOptions()...)
	if err != nil {
		// nolint
		meterProvider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create otlp trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(tracerProvider)

	logExporter, err := otlploghttp.New(ctx, c.logOptions()...)
	if err != nil {
		// nolint
		meterProvider.Shutdown(ctx)
		// nolint
		tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create otlp log exporter: %w", err)
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	log.AddHook(NewOTelHook(loggerProvider))

	log.Debugf("exporting telemetry to %s every %s", endpoint, pushInterval)

	return func(ctx context.Context) error {
		if err := meterProvider.ForceFlush(ctx); err != nil {
			log.WithError(err).Warn("failed to flush metrics")
		}
		return errors.Join(
			meterProvider.Shutdown(ctx),
			tracerProvider.Shutdown(ctx),
			loggerProvider.Shutdown(ctx),
		)
	}, nil
}
