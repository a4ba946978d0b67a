package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"mediavault/internal/config"
	"mediavault/internal/vault"
)

// Wire envelopes. The gateway process that speaks the actual bot protocol
// publishes inbound updates to the updates queue and consumes deliveries
// from the delivery exchange; this side never interprets payload refs.

type wireMedia struct {
	Kind       string `json:"kind"`
	PayloadRef string `json:"payload_ref,omitempty"`
	Text       string `json:"text,omitempty"`
	Caption    string `json:"caption,omitempty"`
}

type wireUpdate struct {
	UserID    int64      `json:"user_id"`
	ChatID    int64      `json:"chat_id"`
	FirstName string     `json:"first_name,omitempty"`
	Command   string     `json:"command,omitempty"`
	Arg       string     `json:"arg,omitempty"`
	Media     *wireMedia `json:"media,omitempty"`
}

type wireDelivery struct {
	MessageID string      `json:"message_id"`
	ChatID    int64       `json:"chat_id"`
	Text      string      `json:"text,omitempty"`
	Media     *wireMedia  `json:"media,omitempty"`
	Group     []wireMedia `json:"group,omitempty"`
}

type wireDelete struct {
	MessageID string `json:"message_id"`
	ChatID    int64  `json:"chat_id"`
}

// Routing keys on the delivery exchange.
const (
	routeText   = "delivery.text"
	routeMedia  = "delivery.media"
	routeGroup  = "delivery.media_group"
	routeDelete = "delivery.delete"
)

// AMQPTransport bridges the vault to the messaging system over RabbitMQ.
// It implements both vault.Transport (outbound) and vault.EventSource
// (inbound).
type AMQPTransport struct {
	conn   *amqp.Connection
	cfg    config.TransportConfig
	idgen  vault.IDGenerator
	logger vault.Logger

	pubMu sync.Mutex // amqp channels are not safe for concurrent publish
	pubCh *amqp.Channel
}

var (
	_ vault.Transport   = (*AMQPTransport)(nil)
	_ vault.EventSource = (*AMQPTransport)(nil)
)

// NewAMQPTransport dials RabbitMQ, declares the delivery exchange and the
// updates queue, and opens the publish channel.
func NewAMQPTransport(ctx context.Context, cfg config.TransportConfig, idgen vault.IDGenerator, logger vault.Logger) (*AMQPTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("transport url is required")
	}
	if cfg.UpdatesQueue == "" {
		cfg.UpdatesQueue = "mediavault.updates"
	}
	if cfg.DeliveryExchange == "" {
		cfg.DeliveryExchange = "mediavault.delivery"
	}

	// The dial API takes no ctx; the Dial hook's timeout covers both the
	// TCP connect and the protocol handshake.
	timeoutSec := cfg.ConnTimeoutSecs
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	deadline := time.Now().Add(time.Duration(timeoutSec) * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil, fmt.Errorf("context deadline exceeded before connection attempt")
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(remaining),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.DeliveryExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare delivery exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.UpdatesQueue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare updates queue: %w", err)
	}

	logger.Info("transport ready", "exchange", cfg.DeliveryExchange, "queue", cfg.UpdatesQueue)

	return &AMQPTransport{
		conn:   conn,
		cfg:    cfg,
		idgen:  idgen,
		logger: logger,
		pubCh:  ch,
	}, nil
}

func (t *AMQPTransport) publish(ctx context.Context, route string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", route, err)
	}

	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	err = t.pubCh.PublishWithContext(ctx, t.cfg.DeliveryExchange, route, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", route, err)
	}
	return nil
}

func (t *AMQPTransport) SendText(ctx context.Context, chatID int64, text string) (vault.MessageRef, error) {
	ref := vault.MessageRef{ChatID: chatID, MessageID: t.idgen.New()}
	err := t.publish(ctx, routeText, wireDelivery{MessageID: ref.MessageID, ChatID: chatID, Text: text})
	if err != nil {
		return vault.MessageRef{}, err
	}
	return ref, nil
}

func (t *AMQPTransport) SendMedia(ctx context.Context, chatID int64, item vault.MediaItem) (vault.MessageRef, error) {
	ref := vault.MessageRef{ChatID: chatID, MessageID: t.idgen.New()}
	err := t.publish(ctx, routeMedia, wireDelivery{
		MessageID: ref.MessageID,
		ChatID:    chatID,
		Media:     toWire(item),
	})
	if err != nil {
		return vault.MessageRef{}, err
	}
	return ref, nil
}

func (t *AMQPTransport) SendMediaGroup(ctx context.Context, chatID int64, items []vault.MediaItem) ([]vault.MessageRef, error) {
	group := make([]wireMedia, len(items))
	for i, item := range items {
		group[i] = *toWire(item)
	}

	ref := vault.MessageRef{ChatID: chatID, MessageID: t.idgen.New()}
	err := t.publish(ctx, routeGroup, wireDelivery{MessageID: ref.MessageID, ChatID: chatID, Group: group})
	if err != nil {
		return nil, err
	}
	// The batch is one outbound message; one ref covers it.
	return []vault.MessageRef{ref}, nil
}

func (t *AMQPTransport) DeleteMessage(ctx context.Context, ref vault.MessageRef) error {
	return t.publish(ctx, routeDelete, wireDelete{MessageID: ref.MessageID, ChatID: ref.ChatID})
}

func toWire(item vault.MediaItem) *wireMedia {
	return &wireMedia{
		Kind:       string(item.Kind),
		PayloadRef: item.PayloadRef,
		Text:       item.Text,
		Caption:    item.Caption,
	}
}

// Consume reads inbound updates until ctx is cancelled, invoking handle
// once per event. Undecodable messages are acked and dropped: poison
// content never wedges the queue.
func (t *AMQPTransport) Consume(ctx context.Context, handle func(context.Context, vault.InboundEvent)) error {
	ch, err := t.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	defer ch.Close()

	prefetch := t.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 16
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(t.cfg.UpdatesQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("updates channel closed")
			}

			var upd wireUpdate
			if err := json.Unmarshal(d.Body, &upd); err != nil {
				t.logger.Warn("dropping undecodable update", "error", err)
				_ = d.Ack(false)
				continue
			}

			handle(ctx, toEvent(upd))
			_ = d.Ack(false)
		}
	}
}

func toEvent(upd wireUpdate) vault.InboundEvent {
	ev := vault.InboundEvent{
		UserID:    upd.UserID,
		ChatID:    upd.ChatID,
		FirstName: upd.FirstName,
		Command:   upd.Command,
		Arg:       upd.Arg,
	}
	if upd.Media != nil {
		ev.Media = &vault.MediaItem{
			Kind:       vault.Kind(upd.Media.Kind),
			PayloadRef: upd.Media.PayloadRef,
			Text:       upd.Media.Text,
			Caption:    upd.Media.Caption,
		}
	}
	return ev
}

// Close shuts the publish channel and the connection.
func (t *AMQPTransport) Close() {
	t.pubMu.Lock()
	if t.pubCh != nil {
		_ = t.pubCh.Close()
		t.pubCh = nil
	}
	t.pubMu.Unlock()

	if t.conn != nil {
		_ = t.conn.Close()
	}
}
