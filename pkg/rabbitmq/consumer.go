package rabbitmq

import (
	"fmt"
	"net/url"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes one delivery. Returning false re-queues the message.
type Handler func(body []byte) bool

type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *zap.Logger
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

func NewConsumer(amqpURL string, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	// Donations are processed one at a time per consumer.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch, logger: logger.With(zap.String("component", "rabbitmq_consumer"))}, nil
}

func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	handlers := make(map[string]Handler)
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go c.dispatch(msgs, handlers)
	return nil
}

func (c *Consumer) dispatch(msgs <-chan amqp.Delivery, handlers map[string]Handler) {
	for d := range msgs {
		handler, ok := handlers[d.RoutingKey]
		if !ok {
			c.logger.Warn("no handler for routing key; acknowledging to drop", zap.String("routing_key", d.RoutingKey))
			_ = d.Ack(false)
			continue
		}
		if handler(d.Body) {
			_ = d.Ack(false)
			continue
		}
		c.logger.Warn("handler failed; re-queuing", zap.String("routing_key", d.RoutingKey))
		_ = d.Nack(false, true)
	}
	c.logger.Info("delivery channel closed")
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
