package vault

import "context"

// RedeemAction is the verdict kind of a RedeemDecision.
type RedeemAction int

const (
	// RedeemGrant allows delivery of the payload.
	RedeemGrant RedeemAction = iota

	// RedeemIndirect withholds the payload and sends the user through an
	// external gate first. RedirectURL carries the gate link.
	RedeemIndirect

	// RedeemDeny refuses the redemption outright.
	RedeemDeny
)

// RedeemDecision is the outcome of a redeem-side policy check.
type RedeemDecision struct {
	Action      RedeemAction
	RedirectURL string
}

// AccessPolicy decides who may create entries and who may redeem them.
// The ingest check happens at creation time only; a record approved at
// ingest stays publicly redeemable regardless of later policy changes.
type AccessPolicy interface {
	// CanIngest reports whether the identity may deposit new records.
	CanIngest(userID int64) bool

	// CanRedeem decides how a redemption request by this identity for this
	// token should proceed.
	CanRedeem(ctx context.Context, userID int64, token string) (RedeemDecision, error)
}

// MemberSet is the premium/allow-list store consumed by gated redeem
// policies: a flat membership check.
type MemberSet interface {
	IsMember(userID int64) bool
}
