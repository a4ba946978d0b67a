package vault_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"mediavault/internal/ledger"
	"mediavault/internal/mirror"
	"mediavault/internal/policy"
	"mediavault/internal/testutil"
	"mediavault/internal/vault"
)

const (
	adminID   int64 = 1
	adminChat int64 = 100
	userID    int64 = 2
	userChat  int64 = 200
	otherID   int64 = 3
	otherChat int64 = 300
)

type fixture struct {
	store     vault.Store
	transport *testutil.FakeTransport
	clock     *testutil.StubClock
	mirror    *mirror.MemoryMirror
	scheduler *vault.DeleteScheduler
	resolver  *vault.Resolver
}

// newFixture wires a resolver over in-memory collaborators. pol may be nil
// for the default open policy with adminID as the only admin.
func newFixture(t *testing.T, cfg vault.ResolverConfig, pol vault.AccessPolicy) *fixture {
	t.Helper()

	if cfg.BotHost == "" {
		cfg.BotHost = "t.me"
	}
	if cfg.BotName == "" {
		cfg.BotName = "vaultbot"
	}
	if pol == nil {
		pol = policy.NewOpenPolicy([]int64{adminID})
	}

	st := testutil.NewTestStore()
	tr := testutil.NewFakeTransport()
	clock := testutil.FixedClock()
	mir := mirror.NewMemoryMirror()
	logger := vault.NewNopLogger()

	var led vault.Ledger
	if cfg.SessionWindow > 0 {
		led = ledger.NewMemoryLedger(cfg.SessionWindow)
	}

	var sched *vault.DeleteScheduler
	if cfg.EphemeralTTL > 0 {
		sched = vault.NewDeleteScheduler(tr, logger, time.Second)
	}

	f := &fixture{
		store:     st,
		transport: tr,
		clock:     clock,
		mirror:    mir,
		scheduler: sched,
	}
	f.resolver = vault.NewResolver(cfg, st, led, pol, tr, nil, mir, sched,
		logger, clock, testutil.NewStubIDGenerator(), testutil.NewStubTokenGenerator())

	t.Cleanup(f.resolver.Close)
	return f
}

func (f *fixture) handle(ev vault.InboundEvent) {
	f.resolver.HandleEvent(context.Background(), ev)
}

func (f *fixture) upload(userID, chatID int64, kind vault.Kind, payloadRef string) {
	f.handle(vault.InboundEvent{
		UserID: userID,
		ChatID: chatID,
		Media:  &vault.MediaItem{Kind: kind, PayloadRef: payloadRef},
	})
}

func (f *fixture) command(userID, chatID int64, cmd, arg string) {
	f.handle(vault.InboundEvent{UserID: userID, ChatID: chatID, Command: cmd, Arg: arg})
}

// lastMintedToken extracts the token from the most recent share-link reply.
func (f *fixture) lastMintedToken(t *testing.T, chatID int64) string {
	t.Helper()
	text := f.transport.LastText(chatID)
	i := strings.LastIndex(text, "start=")
	if i < 0 {
		t.Fatalf("no share link in reply: %q", text)
	}
	return strings.TrimSpace(text[i+len("start="):])
}

func TestResolver_IngestAndRedeem_RoundTrip(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{SessionWindow: 24 * time.Hour}, nil)

	f.upload(adminID, adminChat, vault.KindPhoto, "file-abc")

	token := f.lastMintedToken(t, adminChat)
	if len(token) != 32 {
		t.Fatalf("minted token %q, want 32 hex chars", token)
	}

	f.command(userID, userChat, "start", token)

	if len(f.transport.Media) != 1 {
		t.Fatalf("delivered media = %d, want 1", len(f.transport.Media))
	}
	got := f.transport.Media[0]
	if got.ChatID != userChat || got.Item.PayloadRef != "file-abc" || got.Item.Kind != vault.KindPhoto {
		t.Errorf("delivered %+v, want photo file-abc to chat %d", got, userChat)
	}

	rec, err := f.store.Get(context.Background(), token)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Views != 1 {
		t.Errorf("Views = %d, want 1", rec.Views)
	}
	if n, _ := f.store.CountEvents(context.Background(), token); n != 1 {
		t.Errorf("view events = %d, want 1", n)
	}
}

func TestResolver_Ingest_Unauthorized(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.upload(userID, userChat, vault.KindPhoto, "file-abc")

	if got := f.transport.LastText(userChat); got != "Only admins can do that." {
		t.Errorf("reply = %q, want unauthorized message", got)
	}
	if n, _, _ := f.store.Totals(context.Background()); n != 0 {
		t.Errorf("records stored = %d, want 0", n)
	}
}

func TestResolver_Ingest_UnsupportedKind(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.upload(adminID, adminChat, vault.Kind("sticker"), "x")

	if got := f.transport.LastText(adminChat); !strings.HasPrefix(got, "Unsupported message") {
		t.Errorf("reply = %q, want unsupported message", got)
	}
}

func TestResolver_Ingest_MirrorsSnapshot(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.upload(adminID, adminChat, vault.KindDocument, "doc-1")
	token := f.lastMintedToken(t, adminChat)

	f.resolver.Close()
	snap := f.mirror.GetSnapshot(token)
	if snap == nil {
		t.Fatal("no mirror snapshot stored")
	}
	if !strings.Contains(string(snap), token) {
		t.Errorf("snapshot %s does not mention token %s", snap, token)
	}
}

func TestResolver_Redeem_SessionReuse(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{SessionWindow: 24 * time.Hour}, nil)

	f.upload(adminID, adminChat, vault.KindVideo, "vid-1")
	token := f.lastMintedToken(t, adminChat)

	f.command(userID, userChat, "start", token)
	f.command(userID, userChat, "start", token)

	if len(f.transport.Media) != 2 {
		t.Fatalf("deliveries = %d, want 2 (re-serve inside window)", len(f.transport.Media))
	}

	rec, _ := f.store.Get(context.Background(), token)
	if rec.Views != 1 {
		t.Errorf("Views = %d, want 1 (reuse does not consume a grant)", rec.Views)
	}
	if n, _ := f.store.CountEvents(context.Background(), token); n != 1 {
		t.Errorf("view events = %d, want 1", n)
	}
}

func TestResolver_Redeem_ThrottledAcrossTokens(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{SessionWindow: 24 * time.Hour}, nil)

	f.upload(adminID, adminChat, vault.KindPhoto, "p1")
	first := f.lastMintedToken(t, adminChat)
	f.upload(adminID, adminChat, vault.KindPhoto, "p2")
	second := f.lastMintedToken(t, adminChat)

	f.command(userID, userChat, "start", first)
	f.command(userID, userChat, "start", second)

	if len(f.transport.Media) != 1 {
		t.Fatalf("deliveries = %d, want 1 (second token throttled)", len(f.transport.Media))
	}
	if got := f.transport.LastText(userChat); !strings.Contains(got, "already opened a link") {
		t.Errorf("reply = %q, want throttle message", got)
	}

	// The window eventually expires and the second token goes through.
	f.clock.Advance(25 * time.Hour)
	f.command(userID, userChat, "start", second)
	if len(f.transport.Media) != 2 {
		t.Errorf("deliveries after window = %d, want 2", len(f.transport.Media))
	}
}

func TestResolver_Redeem_SessionsAreIndependentPerUser(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{SessionWindow: 24 * time.Hour}, nil)

	f.upload(adminID, adminChat, vault.KindPhoto, "p1")
	token := f.lastMintedToken(t, adminChat)

	f.command(userID, userChat, "start", token)
	f.command(otherID, otherChat, "start", token)

	if len(f.transport.Media) != 2 {
		t.Fatalf("deliveries = %d, want 2 (one per user)", len(f.transport.Media))
	}
	rec, _ := f.store.Get(context.Background(), token)
	if rec.Views != 2 {
		t.Errorf("Views = %d, want 2", rec.Views)
	}
}

func TestResolver_Redeem_UnknownToken(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.command(userID, userChat, "start", strings.Repeat("ef", 16))

	if got := f.transport.LastText(userChat); got != "File not found." {
		t.Errorf("reply = %q, want not-found message", got)
	}
}

func TestResolver_Redeem_InvalidArg(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.command(userID, userChat, "start", "not-a-token")

	if got := f.transport.LastText(userChat); got != "That link is not valid." {
		t.Errorf("reply = %q, want invalid-link message", got)
	}
}

func TestResolver_Redeem_LegacyShareID(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.upload(adminID, adminChat, vault.KindDocument, "doc-7")
	token := f.lastMintedToken(t, adminChat)
	rec, err := f.store.Get(context.Background(), token)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	f.command(userID, userChat, "start", "share_1")

	if len(f.transport.Media) != 1 || f.transport.Media[0].Item.PayloadRef != "doc-7" {
		t.Fatalf("legacy redemption did not deliver doc-7: %+v", f.transport.Media)
	}

	got, _ := f.store.GetByID(context.Background(), rec.ID)
	if got.Views != 1 {
		t.Errorf("Views = %d, want 1", got.Views)
	}
}

func TestResolver_Redeem_TextRecord(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.handle(vault.InboundEvent{
		UserID: adminID,
		ChatID: adminChat,
		Media:  &vault.MediaItem{Kind: vault.KindText, Text: "the secret phrase"},
	})
	token := f.lastMintedToken(t, adminChat)

	f.command(userID, userChat, "start", token)

	if got := f.transport.LastText(userChat); got != "the secret phrase" {
		t.Errorf("delivered text = %q, want the stored text", got)
	}
}

func TestResolver_Redeem_DeliveryFailure(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.upload(adminID, adminChat, vault.KindPhoto, "p1")
	token := f.lastMintedToken(t, adminChat)

	f.transport.SendMediaErr = errors.New("boom")
	f.command(userID, userChat, "start", token)

	if got := f.transport.LastText(userChat); !strings.Contains(got, "Could not deliver") {
		t.Errorf("reply = %q, want delivery failure message", got)
	}
	rec, _ := f.store.Get(context.Background(), token)
	if rec.Views != 0 {
		t.Errorf("Views = %d, want 0 (failed delivery must not count)", rec.Views)
	}
}

func TestResolver_GroupFlow(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.command(adminID, adminChat, "newgroup", "")
	f.upload(adminID, adminChat, vault.KindPhoto, "p1")
	f.upload(adminID, adminChat, vault.KindPhoto, "p2")
	f.upload(adminID, adminChat, vault.KindVideo, "v1")
	f.command(adminID, adminChat, "done", "")

	token := f.lastMintedToken(t, adminChat)

	f.command(userID, userChat, "start", token)

	if len(f.transport.Groups) != 1 {
		t.Fatalf("grouped deliveries = %d, want 1", len(f.transport.Groups))
	}
	items := f.transport.Groups[0].Items
	if len(items) != 3 {
		t.Fatalf("batch size = %d, want 3", len(items))
	}
	for i, want := range []string{"p1", "p2", "v1"} {
		if items[i].PayloadRef != want {
			t.Errorf("items[%d] = %q, want %q (insertion order)", i, items[i].PayloadRef, want)
		}
	}
}

func TestResolver_GroupFlow_MixedKinds(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.command(adminID, adminChat, "newgroup", "")
	f.upload(adminID, adminChat, vault.KindPhoto, "p1")
	f.upload(adminID, adminChat, vault.KindDocument, "d1")
	f.upload(adminID, adminChat, vault.KindPhoto, "p2")
	f.command(adminID, adminChat, "done", "")
	token := f.lastMintedToken(t, adminChat)

	f.command(userID, userChat, "start", token)

	// The document interrupts the groupable run: two batches, one single.
	if len(f.transport.Groups) != 2 {
		t.Errorf("grouped deliveries = %d, want 2", len(f.transport.Groups))
	}
	if len(f.transport.Media) != 1 || f.transport.Media[0].Item.PayloadRef != "d1" {
		t.Errorf("individual deliveries = %+v, want just d1", f.transport.Media)
	}
}

func TestResolver_GroupFlow_BatchCeiling(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.command(adminID, adminChat, "newgroup", "")
	for i := 1; i <= 12; i++ {
		f.upload(adminID, adminChat, vault.KindPhoto, fmt.Sprintf("p%d", i))
	}
	f.command(adminID, adminChat, "done", "")
	token := f.lastMintedToken(t, adminChat)

	f.command(userID, userChat, "start", token)

	// One full batch of 10, then the two overflow items one by one.
	if len(f.transport.Groups) != 1 {
		t.Fatalf("grouped deliveries = %d, want 1", len(f.transport.Groups))
	}
	if n := len(f.transport.Groups[0].Items); n != 10 {
		t.Errorf("batch size = %d, want 10", n)
	}
	if len(f.transport.Media) != 2 {
		t.Fatalf("individual deliveries = %d, want 2 overflow items", len(f.transport.Media))
	}
	for i, want := range []string{"p11", "p12"} {
		if got := f.transport.Media[i].Item.PayloadRef; got != want {
			t.Errorf("overflow[%d] = %q, want %q", i, got, want)
		}
	}
}

func TestResolver_GroupFlow_EmptyAndMissing(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.command(adminID, adminChat, "done", "")
	if got := f.transport.LastText(adminChat); !strings.Contains(got, "No group is open") {
		t.Errorf("reply = %q, want no-group message", got)
	}

	f.command(adminID, adminChat, "newgroup", "")
	f.command(adminID, adminChat, "done", "")
	if got := f.transport.LastText(adminChat); !strings.Contains(got, "empty") {
		t.Errorf("reply = %q, want empty-group message", got)
	}
	if n, _, _ := f.store.Totals(context.Background()); n != 0 {
		t.Errorf("records stored = %d, want 0", n)
	}
}

func TestResolver_GroupFlow_Cancel(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.command(adminID, adminChat, "newgroup", "")
	f.upload(adminID, adminChat, vault.KindPhoto, "p1")
	f.command(adminID, adminChat, "cancel", "")

	if got := f.transport.LastText(adminChat); got != "Group discarded." {
		t.Errorf("reply = %q, want discard confirmation", got)
	}

	// The next upload mints a normal single-file link.
	f.upload(adminID, adminChat, vault.KindPhoto, "p2")
	if got := f.transport.LastText(adminChat); !strings.Contains(got, "start=") {
		t.Errorf("reply = %q, want a share link", got)
	}
}

func TestResolver_EphemeralDelivery(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{EphemeralTTL: 10 * time.Millisecond}, nil)

	f.upload(adminID, adminChat, vault.KindPhoto, "p1")
	token := f.lastMintedToken(t, adminChat)

	f.command(userID, userChat, "start", token)

	deadline := time.Now().Add(2 * time.Second)
	for f.transport.DeletedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("delivered copy was never deleted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if f.scheduler.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", f.scheduler.Pending())
	}
}

func TestResolver_IndirectRedemption(t *testing.T) {
	clock := testutil.FixedClock()
	pol := policy.NewPremiumPolicy([]int64{adminID}, policy.NewStaticMemberSet(nil),
		"https://gate.example/go", 30*time.Minute, clock)
	f := newFixture(t, vault.ResolverConfig{}, pol)

	f.upload(adminID, adminChat, vault.KindPhoto, "p1")
	token := f.lastMintedToken(t, adminChat)

	// First pass: gate link, no payload, no accounting.
	f.command(userID, userChat, "start", token)
	if got := f.transport.LastText(userChat); !strings.Contains(got, "https://gate.example/go") {
		t.Fatalf("reply = %q, want gate link", got)
	}
	if len(f.transport.Media) != 0 {
		t.Fatalf("deliveries = %d, want 0 before the gate", len(f.transport.Media))
	}
	if n, _ := f.store.CountEvents(context.Background(), token); n != 0 {
		t.Errorf("view events = %d, want 0 on the indirection leg", n)
	}

	// Second pass with the same token: granted and counted.
	f.command(userID, userChat, "start", token)
	if len(f.transport.Media) != 1 {
		t.Fatalf("deliveries = %d, want 1 after the gate", len(f.transport.Media))
	}
	if n, _ := f.store.CountEvents(context.Background(), token); n != 1 {
		t.Errorf("view events = %d, want 1", n)
	}
}

func TestResolver_ReportToAdmin(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{AdminChatID: adminChat, ReportToAdmin: true}, nil)

	f.upload(adminID, otherChat, vault.KindPhoto, "p1")

	if got := f.transport.LastText(adminChat); !strings.Contains(got, "start=") {
		t.Errorf("admin chat reply = %q, want the share link", got)
	}
	if got := f.transport.LastText(otherChat); got != "" {
		t.Errorf("uploader chat got %q, want the link routed away", got)
	}
}

func TestResolver_Shortener(t *testing.T) {
	newShortenedFixture := func(t *testing.T, sh vault.Shortener) (*testutil.FakeTransport, *vault.Resolver) {
		t.Helper()
		tr := testutil.NewFakeTransport()
		r := vault.NewResolver(
			vault.ResolverConfig{BotHost: "t.me", BotName: "vaultbot"},
			testutil.NewTestStore(), nil, policy.NewOpenPolicy([]int64{adminID}),
			tr, sh, nil, nil,
			vault.NewNopLogger(), testutil.FixedClock(),
			testutil.NewStubIDGenerator(), testutil.NewStubTokenGenerator())
		t.Cleanup(r.Close)
		return tr, r
	}

	t.Run("short link used when available", func(t *testing.T) {
		sh := testutil.NewStubShortener("https://sho.rt/x")
		tr, r := newShortenedFixture(t, sh)

		r.HandleEvent(context.Background(), vault.InboundEvent{
			UserID: adminID, ChatID: adminChat,
			Media: &vault.MediaItem{Kind: vault.KindPhoto, PayloadRef: "p1"},
		})

		if got := tr.LastText(adminChat); !strings.Contains(got, "https://sho.rt/x") {
			t.Errorf("reply = %q, want short link", got)
		}
		if calls := sh.Calls(); len(calls) != 1 || !strings.Contains(calls[0], "start=") {
			t.Errorf("shortener calls = %v, want one deep link", calls)
		}
	})

	t.Run("falls back to long link on error", func(t *testing.T) {
		sh := testutil.NewStubShortener("")
		sh.Err = errors.New("shortener down")
		tr, r := newShortenedFixture(t, sh)

		r.HandleEvent(context.Background(), vault.InboundEvent{
			UserID: adminID, ChatID: adminChat,
			Media: &vault.MediaItem{Kind: vault.KindPhoto, PayloadRef: "p1"},
		})

		if got := tr.LastText(adminChat); !strings.Contains(got, "https://t.me/vaultbot?start=") {
			t.Errorf("reply = %q, want long deep link fallback", got)
		}
	})
}

func TestResolver_Greeting(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.handle(vault.InboundEvent{UserID: userID, ChatID: userChat, FirstName: "Alice", Command: "start"})

	if got := f.transport.LastText(userChat); !strings.HasPrefix(got, "Hello Alice!") {
		t.Errorf("greeting = %q, want personalized hello", got)
	}
}

func TestResolver_Help(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.command(userID, userChat, "help", "")

	if got := f.transport.LastText(userChat); !strings.Contains(got, "/stats") {
		t.Errorf("help = %q, want command list", got)
	}
}

func TestResolver_Stats(t *testing.T) {
	f := newFixture(t, vault.ResolverConfig{}, nil)

	f.upload(adminID, adminChat, vault.KindPhoto, "p1")
	token := f.lastMintedToken(t, adminChat)
	f.command(userID, userChat, "start", token)

	f.command(adminID, adminChat, "stats", "")
	report := f.transport.LastText(adminChat)
	for _, want := range []string{"Files: 1", "Total views: 1", "photo: 1", token} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}

	// Non-admins do not get the report.
	f.command(userID, userChat, "stats", "")
	if got := f.transport.LastText(userChat); got != "Only admins can do that." {
		t.Errorf("reply = %q, want unauthorized message", got)
	}
}
