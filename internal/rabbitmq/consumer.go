package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"chat-broker/internal/models"
)

const (
	RoutingFriendAdded   = "friendship.added"
	RoutingFriendRemoved = "friendship.removed"
)

var errUnknownRoutingKey = errors.New("unknown routing key")

// FriendNotifier receives committed friend-graph changes.
type FriendNotifier interface {
	FriendAdded(ctx context.Context, p models.FriendAddedPayload) (int, error)
	FriendRemoved(ctx context.Context, p models.FriendRemovedPayload) (int, error)
}

// FriendConsumer feeds friendship events from the relationship service into the bridge.
type FriendConsumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	queue    string
	notifier FriendNotifier
	wg       sync.WaitGroup
}

// NewFriendConsumer declares the queue, binds it to both friendship routing
// keys and returns a consumer ready to Start.
func NewFriendConsumer(amqpURL, exchange, queue string, notifier FriendNotifier) (*FriendConsumer, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	closeAll := func() {
		_ = ch.Close()
		_ = conn.Close()
	}
	if err := declareExchange(ch, exchange); err != nil {
		closeAll()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		closeAll()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range []string{RoutingFriendAdded, RoutingFriendRemoved} {
		if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
			closeAll()
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	if err := ch.Qos(32, 0, false); err != nil {
		closeAll()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	log.Printf("rabbitmq consumer ready queue=%s exchange=%s", queue, exchange)
	return &FriendConsumer{conn: conn, ch: ch, queue: queue, notifier: notifier}, nil
}

// Start consumes until ctx is cancelled or the channel closes.
func (c *FriendConsumer) Start(ctx context.Context) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for d := range deliveries {
			handleDelivery(ctx, c.notifier, d)
		}
		log.Printf("rabbitmq consumer stopped queue=%s", c.queue)
	}()
	return nil
}

// Close stops consuming and releases the connection.
func (c *FriendConsumer) Close() error {
	_ = c.ch.Close()
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

// handleDelivery acks processed events and rejects, without requeue, any
// delivery that can never be processed.
func handleDelivery(ctx context.Context, notifier FriendNotifier, d amqp.Delivery) {
	if err := dispatch(ctx, notifier, d.RoutingKey, d.Body); err != nil {
		log.Printf("rabbitmq rejecting delivery routing_key=%s: %v", d.RoutingKey, err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Printf("rabbitmq nack failed: %v", nackErr)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.Printf("rabbitmq ack failed: %v", err)
	}
}

func dispatch(ctx context.Context, notifier FriendNotifier, routingKey string, body []byte) error {
	switch routingKey {
	case RoutingFriendAdded:
		var p models.FriendAddedPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("decode friend added: %w", err)
		}
		_, err := notifier.FriendAdded(ctx, p)
		return err
	case RoutingFriendRemoved:
		var p models.FriendRemovedPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("decode friend removed: %w", err)
		}
		_, err := notifier.FriendRemoved(ctx, p)
		return err
	default:
		return fmt.Errorf("%w: %s", errUnknownRoutingKey, routingKey)
	}
}
