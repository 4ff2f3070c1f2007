package telemetry

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
)

var severities = map[log.Level]otellog.Severity{
	log.TraceLevel: otellog.SeverityTrace,
	log.DebugLevel: otellog.SeverityDebug,
	log.InfoLevel:  otellog.SeverityInfo,
	log.WarnLevel:  otellog.SeverityWarn,
	log.ErrorLevel: otellog.SeverityError,
	log.FatalLevel: otellog.SeverityFatal,
	log.PanicLevel: otellog.SeverityFatal4,
}

// OTelHook forwards logrus entries to an otel logger.
type OTelHook struct {
	logger otellog.Logger
}

func NewOTelHook(provider otellog.LoggerProvider) *OTelHook {
	return &OTelHook{logger: provider.Logger(serviceName)}
}

func (h *OTelHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *OTelHook) Fire(entry *log.Entry) error {
	h.logger.Emit(entryContext(entry), newRecord(entry))
	return nil
}

func newRecord(entry *log.Entry) otellog.Record {
	var record otellog.Record
	record.SetTimestamp(entry.Time)
	record.SetSeverity(severities[entry.Level])
	record.SetSeverityText(entry.Level.String())
	record.SetBody(otellog.StringValue(entry.Message))

	attrs := make([]otellog.KeyValue, 0, len(entry.Data))
	for key, value := range entry.Data {
		if err, ok := value.(error); ok {
			attrs = append(attrs, otellog.String(key, err.Error()))
			continue
		}
		attrs = append(attrs, otellog.String(key, fmt.Sprint(value)))
	}
	record.AddAttributes(attrs...)
	return record
}

func entryContext(entry *log.Entry) context.Context {
	if entry.Context != nil {
		return entry.Context
	}
	return context.Background()
}
