package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Reply texts. Policy and not-found conditions are the only ones that give
// the user specifics; everything else collapses into the generic apology.
const (
	msgNotFound     = "File not found."
	msgInvalidLink  = "That link is not valid."
	msgUnauthorized = "Only admins can do that."
	msgApology      = "Something went wrong. Please try again later."
	msgThrottled    = "You already opened a link recently. Try again in a while."
	msgDeliveryFail = "Could not deliver the file. Please try again later."
	msgUnsupported  = "Unsupported message. Send one photo, video, document, audio or text."

	msgHelp = "Commands:\n" +
		"/start - open a shared file\n" +
		"/help - show this message\n" +
		"/stats - usage report (admins)\n" +
		"/newgroup - start a multi-file link (admins)\n" +
		"/done - finish the multi-file link (admins)\n" +
		"/cancel - discard the open multi-file link (admins)\n\n" +
		"Admins store new media by sending it to the bot.\n" +
		"Everyone else opens files through share links."
)

// ResolverConfig carries the deployment profile of a Resolver.
type ResolverConfig struct {
	BotHost string // deep-link host, e.g. "t.me"
	BotName string

	// AdminChatID receives minted links instead of the uploader when
	// ReportToAdmin is set.
	AdminChatID   int64
	ReportToAdmin bool

	// SessionWindow is the per-user re-use window. Zero disables session
	// throttling entirely.
	SessionWindow time.Duration

	// EphemeralTTL is how long delivered copies live before deletion.
	// Zero disables ephemeral delivery.
	EphemeralTTL time.Duration

	// BatchLimit caps grouped deliveries. Zero means the default of 10.
	BatchLimit int

	SendTimeout    time.Duration // per transport send, default 10s
	ShortenTimeout time.Duration // per shortener call, default 5s
	MirrorTimeout  time.Duration // per mirror snapshot, default 30s
	ReportTopN     int           // top-by-views rows in reports, default 5
}

func (c *ResolverConfig) applyDefaults() {
	if c.BatchLimit <= 0 {
		c.BatchLimit = 10
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.ShortenTimeout <= 0 {
		c.ShortenTimeout = 5 * time.Second
	}
	if c.MirrorTimeout <= 0 {
		c.MirrorTimeout = 30 * time.Second
	}
	if c.ReportTopN <= 0 {
		c.ReportTopN = 5
	}
}

// Resolver is the orchestration layer: it mints tokens on ingest, resolves
// tokens on redemption, and applies policy and ledger checks in between.
// One HandleEvent call per inbound event; the only shared mutable state is
// behind the Store, the Ledger and the pending-group map.
type Resolver struct {
	cfg       ResolverConfig
	store     Store
	ledger    Ledger
	policy    AccessPolicy
	transport Transport
	shortener Shortener
	mirror    Mirror
	scheduler *DeleteScheduler
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	tokens    TokenGenerator

	pendingMu sync.Mutex
	pending   map[int64][]*GroupItem // creator id -> open multi-file group

	mirrorWG sync.WaitGroup
}

// NewResolver creates a Resolver. shortener, mirror and scheduler may be
// nil; the corresponding steps are skipped.
func NewResolver(
	cfg ResolverConfig,
	store Store,
	ledger Ledger,
	policy AccessPolicy,
	transport Transport,
	shortener Shortener,
	mirror Mirror,
	scheduler *DeleteScheduler,
	logger Logger,
	clock Clock,
	idgen IDGenerator,
	tokens TokenGenerator,
) *Resolver {
	cfg.applyDefaults()
	return &Resolver{
		cfg:       cfg,
		store:     store,
		ledger:    ledger,
		policy:    policy,
		transport: transport,
		shortener: shortener,
		mirror:    mirror,
		scheduler: scheduler,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		tokens:    tokens,
		pending:   make(map[int64][]*GroupItem),
	}
}

// HandleEvent processes one inbound event end to end. It never returns an
// error: every fault is logged here and answered with a user-safe reply,
// so a bad event can never take the serve loop down.
func (r *Resolver) HandleEvent(ctx context.Context, ev InboundEvent) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic handling event", "user", ev.UserID, "panic", p)
			r.reply(ctx, ev.ChatID, msgApology)
		}
	}()

	switch ev.Command {
	case "start":
		if strings.TrimSpace(ev.Arg) == "" {
			r.greet(ctx, ev)
			return
		}
		r.redeem(ctx, ev)
	case "help":
		r.reply(ctx, ev.ChatID, msgHelp)
	case "stats":
		r.report(ctx, ev)
	case "newgroup":
		r.beginGroup(ctx, ev)
	case "done":
		r.finishGroup(ctx, ev)
	case "cancel":
		r.cancelGroup(ctx, ev)
	case "":
		if ev.Media != nil {
			r.ingest(ctx, ev)
			return
		}
		r.reply(ctx, ev.ChatID, msgUnsupported)
	default:
		r.reply(ctx, ev.ChatID, msgHelp)
	}
}

func (r *Resolver) greet(ctx context.Context, ev InboundEvent) {
	name := ev.FirstName
	if name == "" {
		name = "there"
	}
	r.reply(ctx, ev.ChatID, fmt.Sprintf(
		"Hello %s!\n\nOpen a share link to receive its file.\nAdmins store new media by sending it here.\nUse /help to see the commands.", name))
}

// Ingest path

func (r *Resolver) ingest(ctx context.Context, ev InboundEvent) {
	if !r.policy.CanIngest(ev.UserID) {
		r.reply(ctx, ev.ChatID, msgUnauthorized)
		return
	}

	m := ev.Media
	if m == nil || !m.Kind.IsValid() || m.Kind == KindGroup {
		r.reply(ctx, ev.ChatID, msgUnsupported)
		return
	}

	// An open multi-file group swallows uploads until /done.
	if n, ok := r.appendPending(ev.UserID, m); ok {
		r.reply(ctx, ev.ChatID, fmt.Sprintf("Added to the open group (%d items). Send /done to mint the link.", n))
		return
	}

	token, err := r.tokens.NewToken()
	if err != nil {
		r.logger.Error("token generation failed", "error", err)
		r.reply(ctx, ev.ChatID, msgApology)
		return
	}

	rec := &MediaRecord{
		Token:      token,
		Kind:       m.Kind,
		PayloadRef: m.PayloadRef,
		Text:       m.Text,
		Caption:    m.Caption,
		CreatorID:  ev.UserID,
		CreatedAt:  r.clock.Now(),
	}

	if err := r.store.Put(ctx, rec); err != nil {
		r.logger.Error("storing record failed", "error", err)
		r.reply(ctx, ev.ChatID, "Saving failed. Nothing was stored.")
		return
	}

	r.mirrorRecord(rec, nil)
	r.announceLink(ctx, ev, rec)
}

// announceLink shortens the deep link and sends it to the uploader, or
// privately to the admin when the deployment asks for that.
func (r *Resolver) announceLink(ctx context.Context, ev InboundEvent, rec *MediaRecord) {
	link := r.shorten(ctx, DeepLink(r.cfg.BotHost, r.cfg.BotName, rec.Token))
	text := fmt.Sprintf("Saved.\nShare link:\n%s", link)

	chatID := ev.ChatID
	if r.cfg.ReportToAdmin && r.cfg.AdminChatID != 0 {
		chatID = r.cfg.AdminChatID
	}
	r.reply(ctx, chatID, text)
	r.logger.Info("record ingested", "token", rec.Token, "kind", rec.Kind, "creator", rec.CreatorID)
}

// mirrorRecord snapshots the record (and group items, if any) to the
// backing mirror. Fire and forget: failure is logged, never blocks token
// creation.
func (r *Resolver) mirrorRecord(rec *MediaRecord, items []*GroupItem) {
	if r.mirror == nil {
		return
	}

	snapshot, err := json.Marshal(struct {
		Record *MediaRecord `json:"record"`
		Items  []*GroupItem `json:"items,omitempty"`
	}{rec, items})
	if err != nil {
		r.logger.Warn("mirror snapshot encode failed", "token", rec.Token, "error", err)
		return
	}

	r.mirrorWG.Add(1)
	go func() {
		defer r.mirrorWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.MirrorTimeout)
		defer cancel()
		if err := r.mirror.PutSnapshot(ctx, rec.Token, snapshot); err != nil {
			r.logger.Warn("mirror snapshot failed", "token", rec.Token, "error", err)
		}
	}()
}

// Multi-file groups

func (r *Resolver) beginGroup(ctx context.Context, ev InboundEvent) {
	if !r.policy.CanIngest(ev.UserID) {
		r.reply(ctx, ev.ChatID, msgUnauthorized)
		return
	}

	r.pendingMu.Lock()
	r.pending[ev.UserID] = []*GroupItem{}
	r.pendingMu.Unlock()

	r.reply(ctx, ev.ChatID, "Group opened. Send the files in order, then /done.")
}

// appendPending adds a payload to the creator's open group, if one exists.
func (r *Resolver) appendPending(userID int64, m *MediaItem) (int, bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	items, ok := r.pending[userID]
	if !ok {
		return 0, false
	}
	r.pending[userID] = append(items, &GroupItem{
		Position:   len(items),
		Kind:       m.Kind,
		PayloadRef: m.PayloadRef,
		Caption:    m.Caption,
	})
	return len(items) + 1, true
}

func (r *Resolver) finishGroup(ctx context.Context, ev InboundEvent) {
	if !r.policy.CanIngest(ev.UserID) {
		r.reply(ctx, ev.ChatID, msgUnauthorized)
		return
	}

	r.pendingMu.Lock()
	items, ok := r.pending[ev.UserID]
	delete(r.pending, ev.UserID)
	r.pendingMu.Unlock()

	if !ok {
		r.reply(ctx, ev.ChatID, "No group is open. Send /newgroup first.")
		return
	}
	if len(items) == 0 {
		r.reply(ctx, ev.ChatID, "The group was empty; nothing stored.")
		return
	}

	token, err := r.tokens.NewToken()
	if err != nil {
		r.logger.Error("token generation failed", "error", err)
		r.reply(ctx, ev.ChatID, msgApology)
		return
	}

	rec := &MediaRecord{
		Token:     token,
		Kind:      KindGroup,
		CreatorID: ev.UserID,
		CreatedAt: r.clock.Now(),
	}
	for _, it := range items {
		it.Token = token
	}

	if err := r.store.PutGroup(ctx, rec, items); err != nil {
		r.logger.Error("storing group failed", "error", err)
		r.reply(ctx, ev.ChatID, "Saving failed. Nothing was stored.")
		return
	}

	r.mirrorRecord(rec, items)
	r.announceLink(ctx, ev, rec)
}

func (r *Resolver) cancelGroup(ctx context.Context, ev InboundEvent) {
	if !r.policy.CanIngest(ev.UserID) {
		r.reply(ctx, ev.ChatID, msgUnauthorized)
		return
	}

	r.pendingMu.Lock()
	_, ok := r.pending[ev.UserID]
	delete(r.pending, ev.UserID)
	r.pendingMu.Unlock()

	if !ok {
		r.reply(ctx, ev.ChatID, "No group is open.")
		return
	}
	r.reply(ctx, ev.ChatID, "Group discarded.")
}

// Redeem path

func (r *Resolver) redeem(ctx context.Context, ev InboundEvent) {
	key, err := ParseRecordKey(ev.Arg)
	if err != nil {
		r.reply(ctx, ev.ChatID, msgInvalidLink)
		return
	}

	decision, err := r.policy.CanRedeem(ctx, ev.UserID, key.GateKey())
	if err != nil {
		r.logger.Error("redeem policy check failed", "user", ev.UserID, "error", err)
		r.reply(ctx, ev.ChatID, msgApology)
		return
	}

	switch decision.Action {
	case RedeemDeny:
		r.reply(ctx, ev.ChatID, msgNotFound)
		return
	case RedeemIndirect:
		// No view accounting on the indirection leg.
		gate := r.shorten(ctx, decision.RedirectURL)
		r.reply(ctx, ev.ChatID, fmt.Sprintf("Open this link first, then tap the share link again:\n%s", gate))
		return
	}

	now := r.clock.Now()
	outcome := SessionNew
	if r.ledger != nil && r.cfg.SessionWindow > 0 {
		outcome, err = r.ledger.Touch(ctx, ev.UserID, key.GateKey(), now)
		if err != nil {
			r.logger.Error("session check failed", "user", ev.UserID, "error", err)
			r.reply(ctx, ev.ChatID, msgApology)
			return
		}
		if outcome == SessionThrottled {
			r.reply(ctx, ev.ChatID, msgThrottled)
			return
		}
	}

	rec, err := r.lookup(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.reply(ctx, ev.ChatID, msgNotFound)
			return
		}
		r.logger.Error("record lookup failed", "error", err)
		r.reply(ctx, ev.ChatID, msgApology)
		return
	}

	refs, err := r.deliver(ctx, ev.ChatID, rec)
	if err != nil {
		r.logger.Warn("delivery failed", "token", rec.Token, "user", ev.UserID, "error", err)
		r.reply(ctx, ev.ChatID, msgDeliveryFail)
		return
	}

	// A cache re-serve inside the session window does not consume a grant.
	if outcome == SessionNew {
		r.account(ctx, ev.UserID, rec.Token, now)
	}

	if r.scheduler != nil && r.cfg.EphemeralTTL > 0 {
		for _, ref := range refs {
			r.scheduler.Schedule(ref, r.cfg.EphemeralTTL)
		}
	}
}

// lookup resolves a parsed key to its record.
func (r *Resolver) lookup(ctx context.Context, key RecordKey) (*MediaRecord, error) {
	if key.Token != "" {
		return r.store.Get(ctx, key.Token)
	}
	return r.store.GetByID(ctx, key.ID)
}

// deliver dispatches a record to the transport by kind. For groups,
// groupable runs (photo/video) are batched up to the batch limit; overflow
// past a full batch and non-groupable items go out one by one, and a failed
// item never aborts the remainder. Returns the refs of everything actually
// delivered; errors only when nothing was.
func (r *Resolver) deliver(ctx context.Context, chatID int64, rec *MediaRecord) ([]MessageRef, error) {
	if rec.Kind == KindGroup {
		items, err := r.store.GetGroupItems(ctx, rec.Token)
		if err != nil {
			return nil, fmt.Errorf("loading group items: %w", err)
		}
		return r.deliverGroup(ctx, chatID, items)
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()

	var ref MessageRef
	var err error
	if rec.Kind == KindText {
		text := rec.Text
		if text == "" {
			text = "(empty text)"
		}
		ref, err = r.transport.SendText(sendCtx, chatID, text)
	} else {
		ref, err = r.transport.SendMedia(sendCtx, chatID, MediaItem{
			Kind:       rec.Kind,
			PayloadRef: rec.PayloadRef,
			Caption:    rec.Caption,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
	}
	return []MessageRef{ref}, nil
}

func (r *Resolver) deliverGroup(ctx context.Context, chatID int64, items []*GroupItem) ([]MessageRef, error) {
	var refs []MessageRef
	var batch []MediaItem
	full := false

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// One full batch is the ceiling; whatever follows goes individually.
		if len(batch) == r.cfg.BatchLimit {
			full = true
		}
		sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
		defer cancel()
		got, err := r.transport.SendMediaGroup(sendCtx, chatID, batch)
		if err != nil {
			r.logger.Warn("group batch delivery failed", "size", len(batch), "error", err)
		} else {
			refs = append(refs, got...)
		}
		batch = nil
	}

	for _, it := range items {
		item := MediaItem{Kind: it.Kind, PayloadRef: it.PayloadRef, Caption: it.Caption}
		if it.Kind.Groupable() && !full {
			batch = append(batch, item)
			if len(batch) == r.cfg.BatchLimit {
				flush()
			}
			continue
		}

		flush()
		sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
		ref, err := r.transport.SendMedia(sendCtx, chatID, item)
		cancel()
		if err != nil {
			r.logger.Warn("group item delivery failed", "position", it.Position, "error", err)
			continue
		}
		refs = append(refs, ref)
	}
	flush()

	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: no group item delivered", ErrDeliveryFailure)
	}
	return refs, nil
}

// account appends the view event and bumps the counter. Neither failure is
// surfaced: the payload is already with the user.
func (r *Resolver) account(ctx context.Context, userID int64, token string, now time.Time) {
	ev := &ViewEvent{
		ID:       r.idgen.New(),
		UserID:   userID,
		Token:    token,
		ViewedAt: now,
	}
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		r.logger.Warn("recording view event failed", "token", token, "error", err)
	}
	if err := r.store.IncrementView(ctx, token); err != nil {
		r.logger.Warn("incrementing views failed", "token", token, "error", err)
	}
}

// Reporting

func (r *Resolver) report(ctx context.Context, ev InboundEvent) {
	if !r.policy.CanIngest(ev.UserID) {
		r.reply(ctx, ev.ChatID, msgUnauthorized)
		return
	}

	stats, err := r.Stats(ctx)
	if err != nil {
		r.logger.Error("stats query failed", "error", err)
		r.reply(ctx, ev.ChatID, msgApology)
		return
	}
	r.reply(ctx, ev.ChatID, FormatStats(stats))
}

// Stats runs the read-only aggregate queries for the reporting surface.
func (r *Resolver) Stats(ctx context.Context) (*Stats, error) {
	records, views, err := r.store.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("totals: %w", err)
	}

	byKind, err := r.store.CountByKind(ctx)
	if err != nil {
		return nil, fmt.Errorf("per-kind counts: %w", err)
	}

	top, err := r.store.TopByViews(ctx, r.cfg.ReportTopN)
	if err != nil {
		return nil, fmt.Errorf("top records: %w", err)
	}

	views24h, viewers24h, err := r.store.ActivitySince(ctx, r.clock.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}

	return &Stats{
		TotalRecords: records,
		TotalViews:   views,
		ByKind:       byKind,
		Top:          top,
		Views24h:     views24h,
		Viewers24h:   viewers24h,
	}, nil
}

// FormatStats renders a Stats as the admin-facing report text.
func FormatStats(s *Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Vault status\n\nFiles: %d\nTotal views: %d\n", s.TotalRecords, s.TotalViews)

	if len(s.ByKind) > 0 {
		b.WriteString("\nBy kind:\n")
		for _, k := range []Kind{KindText, KindPhoto, KindVideo, KindDocument, KindAudio, KindGroup} {
			if n, ok := s.ByKind[k]; ok && n > 0 {
				fmt.Fprintf(&b, "  %s: %d\n", k, n)
			}
		}
	}

	if len(s.Top) > 0 {
		b.WriteString("\nMost viewed:\n")
		for _, rec := range s.Top {
			fmt.Fprintf(&b, "  %s (%s): %d\n", rec.Token, rec.Kind, rec.Views)
		}
	}

	fmt.Fprintf(&b, "\nLast 24h: %d views by %d users\n", s.Views24h, s.Viewers24h)
	return b.String()
}

// Close waits for in-flight mirror snapshots and disarms pending deletes.
func (r *Resolver) Close() {
	r.mirrorWG.Wait()
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
}

// shorten runs the URL through the shortener, falling back to the
// original on any error or timeout. Never fatal.
func (r *Resolver) shorten(ctx context.Context, longURL string) string {
	if r.shortener == nil {
		return longURL
	}

	shortCtx, cancel := context.WithTimeout(ctx, r.cfg.ShortenTimeout)
	defer cancel()

	short, err := r.shortener.Shorten(shortCtx, longURL)
	if err != nil {
		r.logger.Warn("shortener failed, using long link", "error", err)
		return longURL
	}
	return short
}

// reply sends a plain text response with the standard bound. Failures are
// logged only; there is no one to tell.
func (r *Resolver) reply(ctx context.Context, chatID int64, text string) {
	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()

	if _, err := r.transport.SendText(sendCtx, chatID, text); err != nil {
		r.logger.Warn("reply failed", "chat", chatID, "error", err)
	}
}
