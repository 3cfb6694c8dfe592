// Package publisher announces settled payments to downstream order
// processing.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/Alturino/storefront/checkout/internal/common/otel"
	"github.com/Alturino/storefront/checkout/pkg/session"
	commonErrors "github.com/Alturino/storefront/internal/common/errors"
	"github.com/Alturino/storefront/internal/config"
	"github.com/Alturino/storefront/internal/log"
)

const EventTypeSettled = "checkout.settled"

type Writer interface {
	WriteMessages(c context.Context, msgs ...kafka.Message) error
	Close() error
}

type Kafka struct {
	writer Writer
	topic  string
}

func NewKafka(cfg config.Kafka) *Kafka {
	return NewKafkaWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}, cfg.Topic)
}

func NewKafkaWithWriter(writer Writer, topic string) *Kafka {
	return &Kafka{writer: writer, topic: topic}
}

func (p *Kafka) Publish(c context.Context, settlement session.Settlement) error {
	return p.PublishBatch(c, []session.Settlement{settlement})
}

// PublishBatch writes the settlements in one request, keyed by reference code
// so every event of a payment lands on the same partition.
func (p *Kafka) PublishBatch(c context.Context, settlements []session.Settlement) error {
	c, span := otel.Tracer.Start(c, "Kafka PublishBatch")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Kafka PublishBatch").
		Str(log.KeyTopic, p.topic).
		Int("count", len(settlements)).
		Logger()

	headers := []kafka.Header{{Key: "event_type", Value: []byte(EventTypeSettled)}}
	if requestID := log.RequestIDFromContext(c); requestID != "" {
		headers = append(headers, kafka.Header{Key: "request_id", Value: []byte(requestID)})
	}

	logger = logger.With().Str(log.KeyProcess, "marshaling settlements").Logger()
	logger.Debug().Msg("marshaling settlements")
	msgs := make([]kafka.Message, 0, len(settlements))
	for _, settlement := range settlements {
		payload, err := json.Marshal(settlement)
		if err != nil {
			err = fmt.Errorf("failed marshaling settlement reference=%s with error=%w", settlement.ReferenceCode, err)
			commonErrors.HandleError(err, span)
			logger.Error().Err(err).Msg(err.Error())
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(settlement.ReferenceCode),
			Value:   payload,
			Headers: headers,
			Time:    settlement.SettledAt,
		})
	}
	logger.Debug().Msg("marshaled settlements")

	logger = logger.With().Str(log.KeyProcess, "writing settlements").Logger()
	logger.Info().Msg("writing settlements")
	if err := p.writer.WriteMessages(c, msgs...); err != nil {
		err = fmt.Errorf("failed writing settlements with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return err
	}
	logger.Info().Msg("wrote settlements")

	return nil
}

func (p *Kafka) Close() error {
	return p.writer.Close()
}
