package testutil

import (
	"context"
	"fmt"
	"sync"

	"mediavault/internal/vault"
)

// SentText is a recorded SendText call.
type SentText struct {
	ChatID int64
	Text   string
}

// SentMedia is a recorded SendMedia call.
type SentMedia struct {
	ChatID int64
	Item   vault.MediaItem
}

// SentGroup is a recorded SendMediaGroup call.
type SentGroup struct {
	ChatID int64
	Items  []vault.MediaItem
}

// FakeTransport records outbound sends and can be scripted to fail.
// Safe for concurrent use.
type FakeTransport struct {
	mu      sync.Mutex
	counter int

	Texts   []SentText
	Media   []SentMedia
	Groups  []SentGroup
	Deleted []vault.MessageRef

	// Scripted failures. When set, the corresponding method returns the
	// error without recording the send.
	SendTextErr  error
	SendMediaErr error
	SendGroupErr error
	DeleteErr    error
}

var _ vault.Transport = (*FakeTransport)(nil)

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

func (t *FakeTransport) nextRef(chatID int64) vault.MessageRef {
	t.counter++
	return vault.MessageRef{ChatID: chatID, MessageID: fmt.Sprintf("msg-%d", t.counter)}
}

func (t *FakeTransport) SendText(_ context.Context, chatID int64, text string) (vault.MessageRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendTextErr != nil {
		return vault.MessageRef{}, t.SendTextErr
	}
	t.Texts = append(t.Texts, SentText{ChatID: chatID, Text: text})
	return t.nextRef(chatID), nil
}

func (t *FakeTransport) SendMedia(_ context.Context, chatID int64, item vault.MediaItem) (vault.MessageRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendMediaErr != nil {
		return vault.MessageRef{}, t.SendMediaErr
	}
	t.Media = append(t.Media, SentMedia{ChatID: chatID, Item: item})
	return t.nextRef(chatID), nil
}

func (t *FakeTransport) SendMediaGroup(_ context.Context, chatID int64, items []vault.MediaItem) ([]vault.MessageRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendGroupErr != nil {
		return nil, t.SendGroupErr
	}
	cp := make([]vault.MediaItem, len(items))
	copy(cp, items)
	t.Groups = append(t.Groups, SentGroup{ChatID: chatID, Items: cp})

	refs := make([]vault.MessageRef, len(items))
	for i := range items {
		refs[i] = t.nextRef(chatID)
	}
	return refs, nil
}

func (t *FakeTransport) DeleteMessage(_ context.Context, ref vault.MessageRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.DeleteErr != nil {
		return t.DeleteErr
	}
	t.Deleted = append(t.Deleted, ref)
	return nil
}

// LastText returns the most recent text sent to chatID, or "".
func (t *FakeTransport) LastText(chatID int64) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.Texts) - 1; i >= 0; i-- {
		if t.Texts[i].ChatID == chatID {
			return t.Texts[i].Text
		}
	}
	return ""
}

// TextCount returns the number of recorded SendText calls.
func (t *FakeTransport) TextCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Texts)
}

// DeletedCount returns the number of recorded DeleteMessage calls.
func (t *FakeTransport) DeletedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Deleted)
}
