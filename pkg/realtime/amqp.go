package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type Meta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	TenantID string    `json:"tenant_id"`
	Producer string    `json:"producer"`
	Time     time.Time `json:"time"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// AMQPPublisher copies realtime events onto a topic exchange with routing key
// "<tenant>.<event>" for downstream consumers.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	producer string
	log      zerolog.Logger
}

func NewAMQPPublisher(url, exchange, producer string, log zerolog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQPPublisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		producer: producer,
		log:      log.With().Str("component", "amqp_events").Logger(),
	}, nil
}

func (p *AMQPPublisher) Emit(tenantID, event string, payload any) {
	env := Envelope{
		Meta: Meta{ID: uuid.NewString(), Type: event, TenantID: tenantID, Producer: p.producer, Time: time.Now().UTC()},
		Data: payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		p.log.Warn().Err(err).Str("event", event).Msg("marshal envelope")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = p.channel.PublishWithContext(ctx, p.exchange, tenantID+"."+event, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   env.Meta.ID,
		Body:        body,
		Timestamp:   env.Meta.Time,
	})
	if err != nil {
		p.log.Warn().Err(err).Str("tenant_id", tenantID).Str("event", event).Msg("publish failed")
	}
}

func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
