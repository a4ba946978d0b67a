package vault

import "time"

// Kind identifies how a stored payload is delivered on redemption.
// It is a dispatch tag only; the core never inspects payload content.
type Kind string

const (
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindAudio    Kind = "audio"
	KindGroup    Kind = "group"
)

// IsValid reports whether k is one of the known media kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindText, KindPhoto, KindVideo, KindDocument, KindAudio, KindGroup:
		return true
	}
	return false
}

// Groupable reports whether items of this kind may be batched into a
// single grouped delivery.
func (k Kind) Groupable() bool {
	return k == KindPhoto || k == KindVideo
}

// MediaRecord is one entry in the vault: a token mapped to an externally
// hosted payload reference. Views is the only field mutated after creation.
type MediaRecord struct {
	ID         int64  // autoincrement row id, legacy share_<id> addressing
	Token      string // 32 hex chars, unique, immutable
	Kind       Kind
	PayloadRef string // transport-issued file reference; empty for text
	Text       string // inline content for text records
	Caption    string
	Title      string
	CreatorID  int64
	Views      int64
	CreatedAt  time.Time
}

// GroupItem is one payload within a LinkGroup. Position preserves the
// insertion order, which is also the delivery order.
type GroupItem struct {
	Token      string
	Position   int
	Kind       Kind
	PayloadRef string
	Caption    string
}

// ViewEvent is an append-only redemption record used for reporting.
type ViewEvent struct {
	ID       string // UUID
	UserID   int64
	Token    string
	ViewedAt time.Time
}

// Stats is the aggregate reporting surface exposed to admins.
type Stats struct {
	TotalRecords int64
	TotalViews   int64
	ByKind       map[Kind]int64
	Top          []*MediaRecord
	Views24h     int64
	Viewers24h   int64
}
