package events

import (
	"context"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HandlerFunc processes one message body; a returned error nacks the message.
type HandlerFunc func(ctx context.Context, body []byte) error

// Consumer runs one goroutine per registered queue.
type Consumer struct {
	conn     *amqp.Connection
	logger   *log.Logger
	handlers map[string]HandlerFunc
}

func NewConsumer(conn *amqp.Connection, logger *log.Logger) *Consumer {
	return &Consumer{
		conn:     conn,
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
	}
}

func (c *Consumer) Register(queue string, h HandlerFunc) {
	c.handlers[queue] = h
}

func (c *Consumer) Start(ctx context.Context) error {
	for queue, handler := range c.handlers {
		if err := c.consume(ctx, queue, handler); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) consume(ctx context.Context, queue string, handler HandlerFunc) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("queue declare %s: %w", queue, err)
	}

	msgs, err := ch.Consume(
		queue,
		paymentServiceName, // consumer tag
		false,              // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Printf("stopping %s consumer", queue)
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Printf("%s messages channel closed", queue)
					return
				}

				if err := handler(ctx, msg.Body); err != nil {
					c.logger.Printf("handle %s message: %v", queue, err)
					_ = msg.Nack(false, false) // drop for now
					continue
				}
				_ = msg.Ack(false)
			}
		}
	}()

	return nil
}
