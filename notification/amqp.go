package notification

import (
	"context"
	"encoding/json"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const (
	notificationExchange  string = "notifications"
	vpsProvisionedKey            = "vps.provisioned"
	vpsProvisionedQueue          = "notification_vps_provisioned"
)

var _ Notifier = &AMQPNotifier{}

// AMQPNotifier publishes notification events to a durable queue consumed by
// the mail worker
type AMQPNotifier struct {
	connection *amqp.Connection
	channel    *amqp.Channel
	logger     *zap.Logger
}

// NewAMQPNotifier returns a Notifier over RabbitMQ
func NewAMQPNotifier(logger *zap.Logger, amqpURI string) (*AMQPNotifier, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	n := &AMQPNotifier{
		connection: amqpConn,
		channel:    amqpChan,
		logger:     logger,
	}
	if err := n.setup(); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare notification exchange")
	}
	return n, nil
}

func (n *AMQPNotifier) setup() error {
	if err := n.channel.ExchangeDeclare(
		notificationExchange, // name
		"direct",             // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	); err != nil {
		return err
	}
	if _, err := n.channel.QueueDeclare(
		vpsProvisionedQueue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}
	return n.channel.QueueBind(
		vpsProvisionedQueue,
		vpsProvisionedKey,
		notificationExchange,
		false,
		nil,
	)
}

// Close will close the channel and connection to release resources
func (n *AMQPNotifier) Close() {
	n.channel.Close()
	n.connection.Close()
}

// SendVpsProvisioned publishes the event to the notification queue
func (n *AMQPNotifier) SendVpsProvisioned(ctx context.Context, event ProvisionedEvent) error {
	encoded, err := json.Marshal(&event)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode notification event")
	}
	if err := n.channel.Publish(
		notificationExchange,
		vpsProvisionedKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         encoded,
		},
	); err != nil {
		return extErrors.Wrap(err, "Cannot publish notification event")
	}
	return nil
}

// ReceiveProvisioned returns a channel of events for the mail worker
func (n *AMQPNotifier) ReceiveProvisioned(ctx context.Context) (<-chan ProvisionedEvent, error) {
	deliveries, err := n.channel.Consume(
		vpsProvisionedQueue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot consume notification queue")
	}

	events := make(chan ProvisionedEvent)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				var event ProvisionedEvent
				if err := json.Unmarshal(delivery.Body, &event); err != nil {
					n.logger.Error("Discarding malformed notification event",
						zap.Error(err),
					)
					delivery.Nack(false, false)
					continue
				}
				delivery.Ack(false)
				events <- event
			}
		}
	}()
	return events, nil
}
