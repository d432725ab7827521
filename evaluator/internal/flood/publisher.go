package flood

import (
	"context"
	"encoding/json"
	"log/slog"

	"riverpulse/shared/events"
	"riverpulse/shared/logx"
	"riverpulse/shared/metricsx"
)

// AlertStore persists one alert record.
type AlertStore interface {
	Insert(ctx context.Context, alert events.Alert) error
}

// BackbonePublisher writes one alert to the backbone's alert topic.
type BackbonePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// Publisher dual-writes alerts: once to the backbone for downstream
// subscribers, once to durable storage for retrieval. The two sinks are
// independent; neither failure prevents or rolls back the other.
type Publisher struct {
	backbone BackbonePublisher
	store    AlertStore
	topic    string
	log      logx.Logger
}

func NewPublisher(backbone BackbonePublisher, store AlertStore, topic string, log logx.Logger) *Publisher {
	return &Publisher{backbone: backbone, store: store, topic: topic, log: log}
}

func (p *Publisher) Publish(ctx context.Context, alert events.Alert) {
	body, err := json.Marshal(alert)
	if err != nil {
		p.log.Error(ctx, "alert_encode_failed", "failed to encode alert",
			slog.String("device_id", alert.GaugeID), slog.String("error", err.Error()))
		return
	}

	if p.backbone != nil {
		headers := map[string]string{
			"severity":          alert.Severity,
			events.AttrDeviceID: alert.GaugeID,
		}
		if err := p.backbone.Publish(ctx, p.topic, []byte(alert.GaugeID), body, headers); err != nil {
			metricsx.IncAlertSinkFailure("backbone")
			p.log.Error(ctx, "alert_publish_failed", "failed to publish alert to backbone",
				slog.String("device_id", alert.GaugeID),
				slog.String("severity", alert.Severity),
				slog.String("error", err.Error()))
		}
	}

	if p.store != nil {
		if err := p.store.Insert(ctx, alert); err != nil {
			metricsx.IncAlertSinkFailure("storage")
			p.log.Error(ctx, "alert_store_failed", "failed to persist alert",
				slog.String("device_id", alert.GaugeID),
				slog.String("severity", alert.Severity),
				slog.String("error", err.Error()))
		}
	}
}
