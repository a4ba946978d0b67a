package vault

import "context"

// MessageRef identifies a delivered copy so it can be removed later.
type MessageRef struct {
	ChatID    int64
	MessageID string
}

// MediaItem is one outbound payload hand-off to the transport.
type MediaItem struct {
	Kind       Kind
	PayloadRef string
	Text       string
	Caption    string
}

// Transport is the messaging system the vault delivers through. It is an
// external collaborator: the core never interprets payload references, it
// only passes them back to the transport that issued them.
// All methods must honor the context deadline; the Resolver bounds every
// send so a slow transport cannot stall event handling.
type Transport interface {
	// SendText delivers a plain text message.
	SendText(ctx context.Context, chatID int64, text string) (MessageRef, error)

	// SendMedia delivers a single media payload.
	SendMedia(ctx context.Context, chatID int64, item MediaItem) (MessageRef, error)

	// SendMediaGroup delivers up to ten groupable payloads as one batch.
	SendMediaGroup(ctx context.Context, chatID int64, items []MediaItem) ([]MessageRef, error)

	// DeleteMessage removes a previously delivered copy. Deleting a copy
	// that is already gone is not an error worth surfacing.
	DeleteMessage(ctx context.Context, ref MessageRef) error
}

// InboundEvent is one message event arriving from the transport. Exactly
// one of Command or Media is meaningful per event.
type InboundEvent struct {
	UserID    int64
	ChatID    int64
	FirstName string
	Command   string // "start", "help", "stats", ... without the slash
	Arg       string // deep-link argument for "start"
	Media     *MediaItem
}

// EventSource produces inbound events. Consume blocks until ctx is
// cancelled, invoking handle once per event. Handlers run on the caller's
// scheduling terms; the source must not require them to finish in order.
type EventSource interface {
	Consume(ctx context.Context, handle func(context.Context, InboundEvent)) error
}
