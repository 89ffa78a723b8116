package confirm

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/card"
	"github.com/zulandar/tradepost/internal/conversation"
	"github.com/zulandar/tradepost/internal/db"
	"github.com/zulandar/tradepost/internal/messaging"
	"github.com/zulandar/tradepost/internal/models"
	"github.com/zulandar/tradepost/internal/pairlock"
	"github.com/zulandar/tradepost/internal/schedule"
	"gorm.io/gorm"
)

const (
	seller = uint(1)
	buyer  = uint(2)
	other  = uint(3)
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db   *gorm.DB
	item *models.InventoryItem
	conv *models.Conversation
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.OpenMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	users := []models.User{
		{ID: seller, DisplayName: "Sam"},
		{ID: buyer, DisplayName: "Bea"},
		{ID: other, DisplayName: "Oli"},
	}
	if err := gdb.Create(&users).Error; err != nil {
		t.Fatalf("seed users: %v", err)
	}
	item := models.InventoryItem{
		SellerID:        seller,
		Title:           "Road bike",
		Price:           55,
		PriceNegotiable: true,
		AcceptsTrades:   true,
		Location:        "Garage",
	}
	if err := gdb.Create(&item).Error; err != nil {
		t.Fatalf("create item: %v", err)
	}
	conv, _, err := conversation.Ensure(context.Background(), gdb, pairlock.NewMemoryLocker(), conversation.EnsureOpts{
		BuyerID: buyer,
		ItemID:  &item.ID,
		Now:     now,
	})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	return &fixture{db: gdb, item: &item, conv: conv}
}

// accepted creates and accepts a scheduled request.
func (f *fixture) accepted(t *testing.T, negotiated *float64) *models.ScheduledPurchaseRequest {
	t.Helper()
	req, err := schedule.Create(f.db, schedule.CreateOpts{
		SellerID:        seller,
		BuyerID:         buyer,
		ItemID:          f.item.ID,
		ConversationID:  f.conv.ID,
		MeetLocation:    "North Campus",
		MeetingAt:       now.Add(48 * time.Hour),
		NegotiatedPrice: negotiated,
		Now:             now,
	})
	if err != nil {
		t.Fatalf("schedule.Create: %v", err)
	}
	req, err = schedule.Respond(f.db, schedule.RespondOpts{RequestID: req.ID, BuyerID: buyer, Action: schedule.Accept, Now: now})
	if err != nil {
		t.Fatalf("schedule.Respond: %v", err)
	}
	return req
}

func successOpts(sched *models.ScheduledPurchaseRequest) CreateOpts {
	return CreateOpts{
		SellerID:           seller,
		ScheduledRequestID: sched.ID,
		IsSuccessful:       true,
		Now:                now,
	}
}

func (f *fixture) create(t *testing.T, opts CreateOpts) *models.ConfirmPurchaseRequest {
	t.Helper()
	c, err := Create(f.db, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}

func (f *fixture) reloadItem(t *testing.T) models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	if err := f.db.First(&item, f.item.ID).Error; err != nil {
		t.Fatalf("reload item: %v", err)
	}
	return item
}

func (f *fixture) cardCount(ct card.Type) int64 {
	var n int64
	f.db.Model(&models.Message{}).Where("conversation_id = ? AND card_type = ?", f.conv.ID, string(ct)).Count(&n)
	return n
}

func (f *fixture) purchases() []models.PurchaseHistory {
	var rows []models.PurchaseHistory
	f.db.Find(&rows)
	return rows
}

func price(v float64) *float64 { return &v }

func assertCode(t *testing.T, err error, kind apperr.Kind, code string) {
	t.Helper()
	if !apperr.Is(err, kind) {
		t.Fatalf("err = %v, want kind %s", err, kind)
	}
	if got := apperr.CodeOf(err); got != code {
		t.Errorf("code = %q, want %q", got, code)
	}
}

// --- Create ---

func TestCreate_SnapshotsAndPostsCard(t *testing.T) {
	f := setup(t)
	sched := f.accepted(t, price(40))

	c := f.create(t, successOpts(sched))

	if c.Status != models.ConfirmPending {
		t.Errorf("Status = %s, want pending", c.Status)
	}
	if !c.ExpiresAt.Equal(now.Add(DefaultWindow)) {
		t.Errorf("ExpiresAt = %v, want %v", c.ExpiresAt, now.Add(DefaultWindow))
	}
	if c.ItemID != f.item.ID || c.ConversationID != f.conv.ID || c.BuyerID != buyer {
		t.Errorf("refs = item %d conv %d buyer %d", c.ItemID, c.ConversationID, c.BuyerID)
	}
	p := c.Payload
	if p.ItemTitle != "Road bike" || p.MeetLocation != "North Campus" || p.VerificationCode != sched.VerificationCode {
		t.Errorf("payload = %+v", p)
	}
	if p.NegotiatedPrice == nil || *p.NegotiatedPrice != 40 {
		t.Errorf("payload negotiated price = %v, want 40", p.NegotiatedPrice)
	}

	stored, _ := Load(f.db, c.ID)
	if stored.Payload.VerificationCode != sched.VerificationCode {
		t.Errorf("stored payload = %+v, want round-tripped snapshot", stored.Payload)
	}
	if n := f.cardCount(card.TypeConfirmRequest); n != 1 {
		t.Errorf("confirm_request cards = %d, want 1", n)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := setup(t)
	sched := f.accepted(t, nil)

	tests := []struct {
		name   string
		modify func(*CreateOpts)
		code   string
	}{
		{"no reason", func(o *CreateOpts) { o.IsSuccessful = false }, "failure_reason_required"},
		{"unknown reason", func(o *CreateOpts) {
			o.IsSuccessful = false
			o.FailureReason = "weather"
		}, "invalid_failure_reason"},
		{"other without notes", func(o *CreateOpts) {
			o.IsSuccessful = false
			o.FailureReason = ReasonOther
		}, "failure_notes_required"},
		{"price on failure", func(o *CreateOpts) {
			o.IsSuccessful = false
			o.FailureReason = ReasonBuyerNoShow
			o.FinalPrice = price(10)
		}, "final_price_unsuccessful"},
		{"negative price", func(o *CreateOpts) { o.FinalPrice = price(-5) }, "invalid_price"},
		{"long notes", func(o *CreateOpts) { o.SellerNotes = strings.Repeat("n", MaxNotesLength+1) }, "notes_too_long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := successOpts(sched)
			tt.modify(&opts)
			_, err := Create(f.db, opts)
			assertCode(t, err, apperr.KindValidation, tt.code)
		})
	}
	var n int64
	f.db.Model(&models.ConfirmPurchaseRequest{}).Count(&n)
	if n != 0 {
		t.Errorf("confirm requests = %d, want 0", n)
	}
}

func TestCreate_Rejections(t *testing.T) {
	f := setup(t)
	sched := f.accepted(t, nil)

	opts := successOpts(sched)
	opts.SellerID = buyer
	_, err := Create(f.db, opts)
	assertCode(t, err, apperr.KindAuthorization, "not_request_seller")

	opts = successOpts(sched)
	opts.ItemID = f.item.ID + 100
	_, err = Create(f.db, opts)
	assertCode(t, err, apperr.KindValidation, "request_mismatch")

	opts = successOpts(sched)
	opts.ScheduledRequestID = 999
	_, err = Create(f.db, opts)
	assertCode(t, err, apperr.KindNotFound, "request_not_found")

	f.create(t, successOpts(sched))
	_, err = Create(f.db, successOpts(sched))
	assertCode(t, err, apperr.KindConflict, "confirm_pending")
}

func TestCreate_RequiresAcceptedSchedule(t *testing.T) {
	f := setup(t)
	req, err := schedule.Create(f.db, schedule.CreateOpts{
		SellerID:       seller,
		BuyerID:        buyer,
		ItemID:         f.item.ID,
		ConversationID: f.conv.ID,
		MeetLocation:   "Library",
		MeetingAt:      now.Add(time.Hour),
		Now:            now,
	})
	if err != nil {
		t.Fatalf("schedule.Create: %v", err)
	}
	_, err = Create(f.db, successOpts(req))
	assertCode(t, err, apperr.KindConflict, "request_not_accepted")
}

func TestCreate_ReproposalAfterDeclineOrCancel(t *testing.T) {
	f := setup(t)
	sched := f.accepted(t, nil)

	first := f.create(t, successOpts(sched))
	if _, err := Respond(f.db, RespondOpts{ConfirmID: first.ID, BuyerID: buyer, Action: Decline, Now: now}); err != nil {
		t.Fatalf("decline: %v", err)
	}
	second := f.create(t, successOpts(sched))
	if _, err := Cancel(f.db, second.ID, seller, now); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	third := f.create(t, successOpts(sched))
	if _, err := Respond(f.db, RespondOpts{ConfirmID: third.ID, BuyerID: buyer, Action: Accept, Now: now}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	_, err := Create(f.db, successOpts(sched))
	if !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("after acceptance: err = %v, want conflict", err)
	}
}

func TestCreate_FinalizesStalePendingFirst(t *testing.T) {
	f := setup(t)
	sched := f.accepted(t, nil)
	f.create(t, successOpts(sched))

	opts := successOpts(sched)
	opts.Now = now.Add(25 * time.Hour)
	_, err := Create(f.db, opts)
	assertCode(t, err, apperr.KindConflict, "purchase_finalized")

	if item := f.reloadItem(t); item.Status != models.ItemSold {
		t.Errorf("item status = %s, want Sold", item.Status)
	}
}

// --- Respond ---

func TestRespond_AcceptSellsItem(t *testing.T) {
	f := setup(t)
	sched := f.accepted(t, price(40))
	c := f.create(t, successOpts(sched))

	got, err := Respond(f.db, RespondOpts{ConfirmID: c.ID, BuyerID: buyer, Action: Accept, Now: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got.Status != models.ConfirmBuyerAccepted || got.BuyerRespondedAt == nil {
		t.Errorf("Status = %s, BuyerRespondedAt = %v", got.Status, got.BuyerRespondedAt)
	}

	item := f.reloadItem(t)
	if item.Status != models.ItemSold {
		t.Fatalf("item status = %s, want Sold", item.Status)
	}
	if item.SoldPrice == nil || *item.SoldPrice != 40 {
		t.Errorf("SoldPrice = %v, want 40", item.SoldPrice)
	}
	if item.SoldToID == nil || *item.SoldToID != buyer {
		t.Errorf("SoldToID = %v, want %d", item.SoldToID, buyer)
	}

	rows := f.purchases()
	if len(rows) != 1 {
		t.Fatalf("purchase history = %d rows, want 1", len(rows))
	}
	if rows[0].BuyerID != buyer || rows[0].Price != 40 || len(rows[0].ID) != 26 {
		t.Errorf("purchase = %+v", rows[0])
	}

	for ct, want := range map[card.Type]int64{
		card.TypeConfirmRequest:    0,
		card.TypeConfirmAccepted:   1,
		card.TypeReviewPrompt:      1,
		card.TypeBuyerRatingPrompt: 1,
	} {
		if n := f.cardCount(ct); n != want {
			t.Errorf("%s cards = %d, want %d", ct, n, want)
		}
	}
}

func TestRespond_DeclineKeepsClaim(t *testing.T) {
	f := setup(t)
	sched := f.accepted(t, nil)
	c := f.create(t, successOpts(sched))

	if _, err := Respond(f.db, RespondOpts{ConfirmID: c.ID, BuyerID: buyer, Action: Decline, Now: now}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	item := f.reloadItem(t)
	if item.Status != models.ItemPending {
		t.Errorf("item status = %s, want Pending", item.Status)
	}
	if n := f.cardCount(card.TypeConfirmDenied); n != 1 {
		t.Errorf("confirm_denied cards = %d, want 1", n)
	}
	if len(f.purchases()) != 0 {
		t.Error("purchase recorded for a declined confirmation")
	}
}

func TestRespond_AcceptedFailureReleasesItem(t *testing.T) {
	f := setup(t)
	sched := f.accepted(t, price(40))
	opts := successOpts(sched)
	opts.IsSuccessful = false
	opts.FailureReason = ReasonBuyerNoShow
	c := f.create(t, opts)

	if _, err := Respond(f.db, RespondOpts{ConfirmID: c.ID, BuyerID: buyer, Action: Accept, Now: now}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	item := f.reloadItem(t)
	if item.Status != models.ItemActive {
		t.Errorf("item status = %s, want Active", item.Status)
	}
	if item.Price != 55 {
		t.Errorf("price = %v, want listing price 55 restored", item.Price)
	}
	if len(f.purchases()) != 0 {
		t.Error("purchase recorded for an unsuccessful meetup")
	}
}

func TestRespond_Rejections(t *testing.T) {
	f := setup(t)
	sched := f.accepted(t, nil)
	c := f.create(t, successOpts(sched))

	_, err := Respond(f.db, RespondOpts{ConfirmID: c.ID, BuyerID: buyer, Action: "later"})
	assertCode(t, err, apperr.KindValidation, "invalid_action")

	_, err = Respond(f.db, RespondOpts{ConfirmID: c.ID, BuyerID: seller, Action: Accept, Now: now})
	assertCode(t, err, apperr.KindAuthorization, "not_request_buyer")

	_, err = Respond(f.db, RespondOpts{ConfirmID: 999, BuyerID: buyer, Action: Accept, Now: now})
	assertCode(t, err, apperr.KindNotFound, "confirm_not_found")
}

func TestRespond_AfterExpiryIsFinalizedFirst(t *testing.T) {
	f := setup(t)
	sched := f.accepted(t, nil)
	c := f.create(t, successOpts(sched))

	_, err := Respond(f.db, RespondOpts{ConfirmID: c.ID, BuyerID: buyer, Action: Decline, Now: now.Add(25 * time.Hour)})
	assertCode(t, err, apperr.KindConflict, "confirm_not_pending")

	got, _ := Load(f.db, c.ID)
	if got.Status != models.ConfirmAutoAccepted || got.AutoProcessedAt == nil {
		t.Errorf("Status = %s, AutoProcessedAt = %v", got.Status, got.AutoProcessedAt)
	}
	if item := f.reloadItem(t); item.Status != models.ItemSold {
		t.Errorf("item status = %s, want Sold", item.Status)
	}
}

// --- Auto-finalize ---

func TestFinalizeIfExpired_NotYetExpired(t *testing.T) {
	f := setup(t)
	c := f.create(t, successOpts(f.accepted(t, nil)))

	got, finalized, err := FinalizeIfExpired(f.db, c.ID, c.ExpiresAt)
	if err != nil {
		t.Fatalf("FinalizeIfExpired: %v", err)
	}
	if finalized || got.Status != models.ConfirmPending {
		t.Errorf("finalized = %v, Status = %s at the deadline itself", finalized, got.Status)
	}
}

func TestFinalizeIfExpired_ExactlyOnce(t *testing.T) {
	f := setup(t)
	c := f.create(t, successOpts(f.accepted(t, price(40))))
	later := now.Add(25 * time.Hour)

	const n = 8
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok, err := FinalizeIfExpired(f.db, c.ID, later)
			if err != nil {
				t.Errorf("FinalizeIfExpired: %v", err)
				return
			}
			if got.Status != models.ConfirmAutoAccepted {
				t.Errorf("Status = %s, want auto_accepted", got.Status)
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("winners = %d, want 1", wins)
	}
	if got := f.cardCount(card.TypeConfirmAutoAccepted); got != 1 {
		t.Errorf("confirm_auto_accepted cards = %d, want 1", got)
	}
	if got := len(f.purchases()); got != 1 {
		t.Errorf("purchase history = %d rows, want 1", got)
	}
	if item := f.reloadItem(t); item.Status != models.ItemSold || *item.SoldPrice != 40 {
		t.Errorf("item = %s at %v, want Sold at 40", item.Status, item.SoldPrice)
	}
}

func TestFinalizeExpiredInConversation(t *testing.T) {
	f := setup(t)
	c := f.create(t, successOpts(f.accepted(t, nil)))

	ids, err := FinalizeExpiredInConversation(f.db, f.conv.ID, now.Add(time.Hour))
	if err != nil || len(ids) != 0 {
		t.Fatalf("before expiry: ids = %v, err = %v", ids, err)
	}
	ids, err = FinalizeExpiredInConversation(f.db, f.conv.ID, now.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("FinalizeExpiredInConversation: %v", err)
	}
	if len(ids) != 1 || ids[0] != c.ID {
		t.Errorf("ids = %v, want [%d]", ids, c.ID)
	}

	entries, err := messaging.Fetch(f.db, f.conv.ID, buyer)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	for _, e := range entries {
		if cr, ok := e.Card.(*card.ConfirmRequest); ok && cr.Status == models.ConfirmPending {
			t.Error("history still shows a pending confirm card after expiry")
		}
	}
}

// --- Status / Cancel ---

func TestStatus_PartiesOnlyAndFinalizes(t *testing.T) {
	f := setup(t)
	c := f.create(t, successOpts(f.accepted(t, nil)))

	_, err := Status(f.db, c.ID, other, now)
	assertCode(t, err, apperr.KindAuthorization, "not_participant")

	got, err := Status(f.db, c.ID, seller, now)
	if err != nil || got.Status != models.ConfirmPending {
		t.Fatalf("Status before expiry = %v, %v", got, err)
	}
	got, err = Status(f.db, c.ID, buyer, now.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.Status != models.ConfirmAutoAccepted {
		t.Errorf("Status = %s, want auto_accepted", got.Status)
	}
}

func TestCancel_SellerWithdraws(t *testing.T) {
	f := setup(t)
	c := f.create(t, successOpts(f.accepted(t, nil)))

	_, err := Cancel(f.db, c.ID, buyer, now)
	assertCode(t, err, apperr.KindAuthorization, "not_request_seller")

	got, err := Cancel(f.db, c.ID, seller, now)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != models.ConfirmSellerCancelled || got.SellerCanceledAt == nil {
		t.Errorf("Status = %s, SellerCanceledAt = %v", got.Status, got.SellerCanceledAt)
	}
	if n := f.cardCount(card.TypeConfirmRequest); n != 0 {
		t.Errorf("confirm_request cards = %d, want 0", n)
	}
	if n := f.cardCount(card.TypeConfirmCancelled); n != 1 {
		t.Errorf("confirm_cancelled cards = %d, want 1", n)
	}
	if item := f.reloadItem(t); item.Status != models.ItemPending {
		t.Errorf("item status = %s, want Pending", item.Status)
	}

	_, err = Cancel(f.db, c.ID, seller, now)
	assertCode(t, err, apperr.KindConflict, "confirm_not_pending")
}

// --- Price resolution ---

func TestResolveFinalPrice_Order(t *testing.T) {
	f := setup(t)
	c := &models.ConfirmPurchaseRequest{
		ItemID:  f.item.ID,
		Payload: models.ConfirmPayload{NegotiatedPrice: price(40)},
	}

	got, err := ResolveFinalPrice(f.db, c)
	if err != nil || got != 40 {
		t.Errorf("negotiated: got %v, %v; want 40", got, err)
	}

	c.Payload.NegotiatedPrice = nil
	if got, _ := ResolveFinalPrice(f.db, c); got != 55 {
		t.Errorf("listing: got %v, want 55", got)
	}

	c.FinalPrice = price(35)
	c.Payload.NegotiatedPrice = price(40)
	if got, _ := ResolveFinalPrice(f.db, c); got != 35 {
		t.Errorf("explicit: got %v, want 35", got)
	}
}

func TestFailureReason_Valid(t *testing.T) {
	for _, r := range []FailureReason{ReasonBuyerNoShow, ReasonSellerNoShow, ReasonNotAsDescribed,
		ReasonPriceDisagreement, ReasonChangedMind, ReasonOther} {
		if !r.Valid() {
			t.Errorf("%q not valid", r)
		}
	}
	if FailureReason("late").Valid() {
		t.Error(`"late" reported valid`)
	}
}
