package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"PredPulse/internal/domain/models"
	domrepo "PredPulse/internal/domain/repository"
	"PredPulse/internal/pipeline"
	pkgkafka "PredPulse/pkg/kafka"
	"PredPulse/pkg/logger"
)

// EventCollector consumes market events from Kafka and feeds the
// inference pipeline.
type EventCollector struct {
	topic    string
	pipeline *pipeline.Pipeline
	metrics  domrepo.Metrics
	log      *logger.Logger
}

func NewEventCollector(topic string, p *pipeline.Pipeline, metrics domrepo.Metrics, log *logger.Logger) *EventCollector {
	return &EventCollector{topic: topic, pipeline: p, metrics: metrics, log: log}
}

func (c *EventCollector) Topic() string { return c.topic }

// incoming message schema: {symbol, t, price, volume, change_pct, session}
func (c *EventCollector) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol    string  `json:"symbol"`
		T         int64   `json:"t"`
		Price     float64 `json:"price"`
		Volume    float64 `json:"volume"`
		ChangePct float64 `json:"change_pct"`
		Session   string  `json:"session"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		c.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if m.T > 1e11 { // ms
		m.T = m.T / 1000
	}
	c.metrics.RecordLatency("ingest_e2e", time.Since(time.Unix(m.T, 0)).Seconds())

	_, err := c.pipeline.Process(ctx, &models.MarketEvent{
		Symbol:    m.Symbol,
		Timestamp: m.T,
		Price:     m.Price,
		Volume:    m.Volume,
		ChangePct: m.ChangePct,
		Session:   m.Session,
	})
	if err != nil {
		var perr *models.PredictionError
		if errors.As(err, &perr) && perr.Code == models.CodeInvalidInput {
			// Malformed events are terminal, log and move on.
			c.log.Warn("dropped invalid event",
				logger.String("symbol", m.Symbol),
				logger.Error(err),
			)
			return nil
		}
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*EventCollector)(nil)
