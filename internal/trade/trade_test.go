package trade

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/card"
	"github.com/zulandar/tradepost/internal/config"
	"github.com/zulandar/tradepost/internal/db"
	"github.com/zulandar/tradepost/internal/models"
	"github.com/zulandar/tradepost/internal/notify"
	"github.com/zulandar/tradepost/internal/pairlock"
)

const (
	seller = uint(1)
	buyer  = uint(2)
	other  = uint(3)
)

type harness struct {
	svc   *Service
	rec   *notify.Recorder
	item  *models.InventoryItem
	clock time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb, err := db.OpenMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	seed := config.SeedConfig{
		Users: []config.SeedUser{
			{ID: seller, DisplayName: "Sam"},
			{ID: buyer, DisplayName: "Bea"},
			{ID: other, DisplayName: "Oli"},
		},
		Items: []config.SeedItem{
			{ID: 10, SellerID: seller, Title: "Mini fridge", Price: 35, PriceNegotiable: true, AcceptsTrades: true, Location: "Hall C"},
		},
	}
	if err := db.SeedDemo(gdb, seed); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}

	cfg := config.Default()
	cfg.Locking.Timeout = 100 * time.Millisecond
	h := &harness{
		rec:   &notify.Recorder{},
		clock: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
	}
	h.svc = New(gdb, pairlock.NewMemoryLocker(), h.rec, cfg)
	h.svc.Clock = func() time.Time { return h.clock }

	var item models.InventoryItem
	if err := gdb.First(&item, 10).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	h.item = &item
	return h
}

func (h *harness) reloadItem(t *testing.T) models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	if err := h.svc.DB.First(&item, h.item.ID).Error; err != nil {
		t.Fatalf("reload item: %v", err)
	}
	return item
}

func (h *harness) thread(t *testing.T, buyerID uint) *models.Conversation {
	t.Helper()
	conv, err := h.svc.EnsureConversation(context.Background(), buyerID, 0, &h.item.ID)
	if err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	return conv
}

func price(v float64) *float64 { return &v }

func TestEndToEnd_AutoFinalizedSale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.thread(t, buyer)

	req, err := h.svc.CreateSchedule(ctx, seller, ScheduleInput{
		ItemID:          h.item.ID,
		ConversationID:  conv.ID,
		BuyerID:         buyer,
		MeetLocation:    "North Campus",
		MeetingAt:       h.clock.Add(24 * time.Hour),
		NegotiatedPrice: price(20),
	})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	if _, err := h.svc.RespondSchedule(ctx, buyer, req.ID, "accept"); err != nil {
		t.Fatalf("RespondSchedule: %v", err)
	}
	item := h.reloadItem(t)
	if item.Status != models.ItemPending || item.Price != 20 {
		t.Fatalf("after accept item = %s at %v, want Pending at 20", item.Status, item.Price)
	}

	c, err := h.svc.CreateConfirm(ctx, seller, ConfirmInput{ScheduledRequestID: req.ID, IsSuccessful: true})
	if err != nil {
		t.Fatalf("CreateConfirm: %v", err)
	}

	h.clock = h.clock.Add(25 * time.Hour)
	got, err := h.svc.ConfirmStatus(ctx, buyer, c.ID)
	if err != nil {
		t.Fatalf("ConfirmStatus: %v", err)
	}
	if got.Status != models.ConfirmAutoAccepted {
		t.Fatalf("Status = %s, want auto_accepted", got.Status)
	}

	item = h.reloadItem(t)
	if item.Status != models.ItemSold {
		t.Errorf("item status = %s, want Sold", item.Status)
	}
	if item.SoldPrice == nil || *item.SoldPrice != 20 {
		t.Errorf("SoldPrice = %v, want 20", item.SoldPrice)
	}
	var history []models.PurchaseHistory
	h.svc.DB.Where("buyer_id = ?", buyer).Find(&history)
	if len(history) != 1 || history[0].Price != 20 || history[0].ItemID != h.item.ID {
		t.Errorf("purchase history = %+v", history)
	}

	want := []notify.Kind{
		notify.ConversationCreated,
		notify.ScheduleCreated,
		notify.ScheduleAccepted,
		notify.ConfirmCreated,
		notify.ConfirmAutoAccepted,
	}
	kinds := h.rec.Kinds()
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestHistory_FinalizesExpiredAndMarksRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.thread(t, buyer)

	req, err := h.svc.CreateSchedule(ctx, seller, ScheduleInput{
		ItemID: h.item.ID, ConversationID: conv.ID, BuyerID: buyer,
		MeetLocation: "Library", MeetingAt: h.clock.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if _, err := h.svc.RespondSchedule(ctx, buyer, req.ID, "accept"); err != nil {
		t.Fatalf("RespondSchedule: %v", err)
	}
	if _, err := h.svc.CreateConfirm(ctx, seller, ConfirmInput{ScheduledRequestID: req.ID, IsSuccessful: true}); err != nil {
		t.Fatalf("CreateConfirm: %v", err)
	}

	h.clock = h.clock.Add(48 * time.Hour)
	entries, err := h.svc.History(ctx, buyer, conv.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var auto int
	for _, e := range entries {
		if e.Card != nil && e.Card.Type() == card.TypeConfirmAutoAccepted {
			auto++
		}
		if e.Card != nil && e.Card.Type() == card.TypeConfirmRequest {
			t.Error("stale confirm_request card still in history")
		}
	}
	if auto != 1 {
		t.Errorf("confirm_auto_accepted cards = %d, want 1", auto)
	}

	u, err := h.svc.Unread(ctx, buyer, conv.ID)
	if err != nil {
		t.Fatalf("Unread: %v", err)
	}
	if u.UnreadCount != 0 {
		t.Errorf("buyer unread = %d after History, want 0", u.UnreadCount)
	}
}

func TestPostText_BusyPairTimesOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.thread(t, buyer)

	release, err := h.svc.Locker.Acquire(ctx, pairlock.Key(buyer, seller))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	_, err = h.svc.PostText(ctx, buyer, conv.ID, "hello?")
	if !apperr.Is(err, apperr.KindBusy) {
		t.Fatalf("err = %v, want busy", err)
	}
	if apperr.CodeOf(err) != "lock_timeout" {
		t.Errorf("code = %q, want lock_timeout", apperr.CodeOf(err))
	}

	_, err = h.svc.PostText(ctx, buyer, conv.ID, "   ")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("invalid text under a held lock: err = %v, want validation before locking", err)
	}

	release()
	if _, err := h.svc.PostText(ctx, buyer, conv.ID, "hello?"); err != nil {
		t.Errorf("PostText after release: %v", err)
	}
}

func TestPostImage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.thread(t, buyer)

	msg, err := h.svc.PostImage(ctx, seller, conv.ID, "img/fridge.jpg", "")
	if err != nil {
		t.Fatalf("PostImage: %v", err)
	}
	if msg.ImageRef != "img/fridge.jpg" || msg.ReceiverID != buyer {
		t.Errorf("msg = %+v", msg)
	}
	_, err = h.svc.PostImage(ctx, seller, conv.ID, "", "caption")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
	_, err = h.svc.PostText(ctx, other, conv.ID, "let me in")
	if !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("non-participant post: err = %v, want authorization", err)
	}
}

func TestCancelSchedule_FinalizesStaleConfirmFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.thread(t, buyer)

	req, err := h.svc.CreateSchedule(ctx, seller, ScheduleInput{
		ItemID: h.item.ID, ConversationID: conv.ID, BuyerID: buyer,
		MeetLocation: "Gym", MeetingAt: h.clock.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if _, err := h.svc.RespondSchedule(ctx, buyer, req.ID, "accept"); err != nil {
		t.Fatalf("RespondSchedule: %v", err)
	}
	if _, err := h.svc.CreateConfirm(ctx, seller, ConfirmInput{ScheduledRequestID: req.ID, IsSuccessful: true}); err != nil {
		t.Fatalf("CreateConfirm: %v", err)
	}

	_, err = h.svc.CancelSchedule(ctx, buyer, req.ID)
	if apperr.CodeOf(err) != "confirm_pending" {
		t.Errorf("cancel with pending confirm: err = %v, want confirm_pending", err)
	}

	h.clock = h.clock.Add(30 * time.Hour)
	_, err = h.svc.CancelSchedule(ctx, buyer, req.ID)
	if apperr.CodeOf(err) != "purchase_finalized" {
		t.Errorf("cancel after expiry: err = %v, want purchase_finalized", err)
	}
}

func TestMarkItemDeleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.thread(t, buyer)
	h.thread(t, other)

	req, err := h.svc.CreateSchedule(ctx, seller, ScheduleInput{
		ItemID: h.item.ID, ConversationID: conv.ID, BuyerID: buyer,
		MeetLocation: "Gym", MeetingAt: h.clock.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	err = h.svc.MarkItemDeleted(ctx, buyer, h.item.ID)
	if !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("non-seller delete: err = %v, want authorization", err)
	}
	if err := h.svc.MarkItemDeleted(ctx, seller, h.item.ID); err != nil {
		t.Fatalf("MarkItemDeleted: %v", err)
	}

	got, _ := h.svc.GetSchedule(ctx, buyer, req.ID)
	if got.Status != models.ScheduleCancelled {
		t.Errorf("pending request status = %s, want cancelled", got.Status)
	}
	_, err = h.svc.PostText(ctx, buyer, conv.ID, "is it gone?")
	if apperr.CodeOf(err) != "conversation_frozen" {
		t.Errorf("post to frozen thread: err = %v, want conversation_frozen", err)
	}
	_, err = h.svc.EnsureConversation(ctx, other, 0, &h.item.ID)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("ensure on deleted item: err = %v, want not found", err)
	}

	var deleted int
	for _, k := range h.rec.Kinds() {
		if k == notify.ItemDeleted {
			deleted++
		}
	}
	if deleted != 2 {
		t.Errorf("item.deleted events = %d, want 2", deleted)
	}
	if err := h.svc.MarkItemDeleted(ctx, seller, h.item.ID); apperr.CodeOf(err) != "item_deleted" {
		t.Errorf("second delete: err = %v, want item_deleted", err)
	}
}

func TestDeleteConversation_PublishesOnPurge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.thread(t, buyer)

	purged, err := h.svc.DeleteConversation(ctx, buyer, conv.ID)
	if err != nil || purged {
		t.Fatalf("first delete = %v, %v", purged, err)
	}
	list, _ := h.svc.ListConversations(ctx, buyer)
	if len(list) != 0 {
		t.Errorf("buyer list = %d, want 0", len(list))
	}
	purged, err = h.svc.DeleteConversation(ctx, seller, conv.ID)
	if err != nil || !purged {
		t.Fatalf("second delete = %v, %v", purged, err)
	}
	kinds := h.rec.Kinds()
	if kinds[len(kinds)-1] != notify.ConversationDeleted {
		t.Errorf("last event = %s, want conversation.deleted", kinds[len(kinds)-1])
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, notify.Event) error { return errors.New("down") }
func (failingPublisher) Close() error                                { return nil }

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness(t)
	h.svc.Publisher = failingPublisher{}
	if _, err := h.svc.EnsureConversation(context.Background(), buyer, 0, &h.item.ID); err != nil {
		t.Errorf("EnsureConversation with failing publisher: %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(nil, nil, nil, nil)
	if s.Locker == nil || s.Publisher == nil {
		t.Error("New left locker or publisher nil")
	}
	if now := s.now(); now.Location() != time.UTC {
		t.Errorf("now() location = %v, want UTC", now.Location())
	}
}
