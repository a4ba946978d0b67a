package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mediavault/internal/config"
	"mediavault/internal/vault"
)

// StaticMemberSet is a flat membership set held in memory, built from
// configuration.
type StaticMemberSet struct {
	members map[int64]struct{}
}

var _ vault.MemberSet = (*StaticMemberSet)(nil)

// NewStaticMemberSet builds a member set from a list of ids.
func NewStaticMemberSet(ids []int64) *StaticMemberSet {
	members := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		members[id] = struct{}{}
	}
	return &StaticMemberSet{members: members}
}

func (s *StaticMemberSet) IsMember(userID int64) bool {
	_, ok := s.members[userID]
	return ok
}

// OpenPolicy admits any token holder on redeem; ingest stays restricted to
// the admin set.
type OpenPolicy struct {
	admins *StaticMemberSet
}

var _ vault.AccessPolicy = (*OpenPolicy)(nil)

// NewOpenPolicy creates a policy with the given admin ids.
func NewOpenPolicy(adminIDs []int64) *OpenPolicy {
	return &OpenPolicy{admins: NewStaticMemberSet(adminIDs)}
}

func (p *OpenPolicy) CanIngest(userID int64) bool {
	return p.admins.IsMember(userID)
}

func (p *OpenPolicy) CanRedeem(context.Context, int64, string) (vault.RedeemDecision, error) {
	return vault.RedeemDecision{Action: vault.RedeemGrant}, nil
}

// PremiumPolicy grants members directly and sends everyone else through an
// indirection gate first. A non-member who got the gate link is granted on
// a retry of the same token within the gate window.
//
// The policy cannot verify that the gate was actually completed; trust is
// by elapsed possession of the token+identity pair.
type PremiumPolicy struct {
	admins     *StaticMemberSet
	premium    vault.MemberSet
	gateURL    string
	gateWindow time.Duration
	clock      vault.Clock

	mu      sync.Mutex
	pending map[pendingKey]time.Time // when the gate link was handed out
}

type pendingKey struct {
	userID int64
	token  string
}

var _ vault.AccessPolicy = (*PremiumPolicy)(nil)

// NewPremiumPolicy creates a premium-gated policy.
func NewPremiumPolicy(adminIDs []int64, premium vault.MemberSet, gateURL string, gateWindow time.Duration, clock vault.Clock) *PremiumPolicy {
	return &PremiumPolicy{
		admins:     NewStaticMemberSet(adminIDs),
		premium:    premium,
		gateURL:    gateURL,
		gateWindow: gateWindow,
		clock:      clock,
		pending:    make(map[pendingKey]time.Time),
	}
}

func (p *PremiumPolicy) CanIngest(userID int64) bool {
	return p.admins.IsMember(userID)
}

func (p *PremiumPolicy) CanRedeem(_ context.Context, userID int64, token string) (vault.RedeemDecision, error) {
	if p.premium.IsMember(userID) || p.admins.IsMember(userID) {
		return vault.RedeemDecision{Action: vault.RedeemGrant}, nil
	}

	now := p.clock.Now()
	key := pendingKey{userID: userID, token: token}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Abandoned gate links would otherwise pin map entries forever.
	for k, issued := range p.pending {
		if now.Sub(issued) > p.gateWindow {
			delete(p.pending, k)
		}
	}

	if _, ok := p.pending[key]; ok {
		// Second pass with the same token: honor the grant.
		delete(p.pending, key)
		return vault.RedeemDecision{Action: vault.RedeemGrant}, nil
	}

	p.pending[key] = now
	return vault.RedeemDecision{
		Action:      vault.RedeemIndirect,
		RedirectURL: p.gateURL,
	}, nil
}

// NewPolicyFromConfig creates an AccessPolicy based on the policy config.
func NewPolicyFromConfig(cfg config.PolicyConfig, clock vault.Clock) (vault.AccessPolicy, error) {
	if len(cfg.AdminIDs) == 0 {
		return nil, fmt.Errorf("at least one admin id is required")
	}

	switch cfg.Redeem {
	case "", "open":
		return NewOpenPolicy(cfg.AdminIDs), nil
	case "premium":
		if cfg.GateURL == "" {
			return nil, fmt.Errorf("gate_url required for premium redeem policy")
		}
		window := time.Duration(cfg.GateWindowMins) * time.Minute
		if window <= 0 {
			window = 30 * time.Minute
		}
		return NewPremiumPolicy(cfg.AdminIDs, NewStaticMemberSet(cfg.PremiumIDs), cfg.GateURL, window, clock), nil
	default:
		return nil, fmt.Errorf("unknown redeem policy: %s", cfg.Redeem)
	}
}
