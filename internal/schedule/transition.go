package schedule

import (
	"fmt"
	"time"

	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/card"
	"github.com/zulandar/tradepost/internal/inventory"
	"github.com/zulandar/tradepost/internal/messaging"
	"github.com/zulandar/tradepost/internal/models"
	"gorm.io/gorm"
)

// RespondOpts is the buyer's answer to a pending request.
type RespondOpts struct {
	RequestID uint
	BuyerID   uint
	Action    Action
	Now       time.Time
}

// Respond accepts or declines a pending request. Accepting claims the item;
// a claim already held by another request fails the whole response.
func Respond(db *gorm.DB, opts RespondOpts) (*models.ScheduledPurchaseRequest, error) {
	if opts.Action != Accept && opts.Action != Decline {
		return nil, apperr.Validation("invalid_action", "action must be accept or decline")
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var req *models.ScheduledPurchaseRequest
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = Load(tx, opts.RequestID)
		if err != nil {
			return err
		}
		if req.BuyerID != opts.BuyerID {
			return apperr.Authorization("not_request_buyer", "only the buyer may respond to request %d", req.ID)
		}
		if req.Status != models.SchedulePending {
			return apperr.Conflict("request_not_pending", "request %d is %s", req.ID, req.Status)
		}

		next := models.ScheduleDeclined
		if opts.Action == Accept {
			next = models.ScheduleAccepted
		}
		result := tx.Model(&models.ScheduledPurchaseRequest{}).
			Where("id = ? AND status = ?", req.ID, models.SchedulePending).
			Updates(map[string]interface{}{
				"status":             next,
				"buyer_responded_at": now,
				"updated_at":         now,
			})
		if result.Error != nil {
			return apperr.Internal(result.Error, "schedule: respond to %d", req.ID)
		}
		if result.RowsAffected == 0 {
			return apperr.Conflict("request_not_pending", "request %d was answered concurrently", req.ID)
		}
		req.Status = next
		req.BuyerRespondedAt = &now
		req.UpdatedAt = now

		if next == models.ScheduleAccepted {
			if err := inventory.Claim(tx, req); err != nil {
				return err
			}
		} else if _, err := inventory.Reconcile(tx, req.ItemID); err != nil {
			return err
		}

		if _, err := messaging.ReplaceCard(tx, req.ConversationID, card.TypeScheduleRequest, req.ID); err != nil {
			return err
		}

		if next == models.ScheduleDeclined {
			_, err := messaging.Post(tx, messaging.PostOpts{
				ConversationID: req.ConversationID,
				SenderID:       req.BuyerID,
				Content:        fmt.Sprintf("Meetup for %q declined.", req.SnapshotItemTitle),
				Card:           &card.ScheduleDenied{RequestID: req.ID, ItemID: req.ItemID},
				Now:            now,
			})
			return err
		}

		if _, err := messaging.Post(tx, messaging.PostOpts{
			ConversationID: req.ConversationID,
			SenderID:       req.BuyerID,
			Content:        fmt.Sprintf("Meetup for %q accepted.", req.SnapshotItemTitle),
			Card: &card.ScheduleAccepted{
				RequestID:        req.ID,
				ItemID:           req.ItemID,
				VerificationCode: req.VerificationCode,
			},
			Now: now,
		}); err != nil {
			return err
		}
		_, err = messaging.Post(tx, messaging.PostOpts{
			ConversationID: req.ConversationID,
			SenderID:       req.BuyerID,
			Content:        "Next steps: meet at the agreed place and time and exchange the verification code.",
			Card: &card.NextSteps{
				RequestID:        req.ID,
				MeetingAt:        req.MeetingAt,
				MeetLocation:     req.MeetLocation,
				VerificationCode: req.VerificationCode,
			},
			Now: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Cancel withdraws a pending or accepted request on behalf of either party.
// An accepted request can no longer be cancelled once a confirm request is
// pending for it or a purchase was finalized from it; callers finalize
// expired confirm requests first.
func Cancel(db *gorm.DB, requestID, callerID uint, now time.Time) (*models.ScheduledPurchaseRequest, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var req *models.ScheduledPurchaseRequest
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = Load(tx, requestID)
		if err != nil {
			return err
		}
		if callerID == 0 || (callerID != req.SellerID && callerID != req.BuyerID) {
			return apperr.Authorization("not_participant", "user %d is not a party to request %d", callerID, req.ID)
		}
		if req.Status != models.SchedulePending && req.Status != models.ScheduleAccepted {
			return apperr.Conflict("request_closed", "request %d is already %s", req.ID, req.Status)
		}
		if req.Status == models.ScheduleAccepted {
			if err := checkNoConfirm(tx, req.ID); err != nil {
				return err
			}
		}

		prior := req.Status
		if err := cancel(tx, req, callerID, now); err != nil {
			return err
		}
		if _, err := inventory.Reconcile(tx, req.ItemID); err != nil {
			return err
		}
		if prior == models.SchedulePending {
			if _, err := messaging.ReplaceCard(tx, req.ConversationID, card.TypeScheduleRequest, req.ID); err != nil {
				return err
			}
		}
		return postCancelled(tx, req, callerID, now)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func checkNoConfirm(tx *gorm.DB, requestID uint) error {
	var confirms []models.ConfirmPurchaseRequest
	if err := tx.Select("id", "status").
		Where("scheduled_request_id = ?", requestID).Find(&confirms).Error; err != nil {
		return apperr.Internal(err, "schedule: confirms of %d", requestID)
	}
	for _, c := range confirms {
		switch {
		case c.Status == models.ConfirmPending:
			return apperr.Conflict("confirm_pending", "a purchase confirmation for request %d awaits the buyer", requestID)
		case c.Status.Accepted():
			return apperr.Conflict("purchase_finalized", "the purchase from request %d is already final", requestID)
		}
	}
	return nil
}

// cancel moves req to cancelled if it is still in the state it was read in.
func cancel(tx *gorm.DB, req *models.ScheduledPurchaseRequest, callerID uint, now time.Time) error {
	result := tx.Model(&models.ScheduledPurchaseRequest{}).
		Where("id = ? AND status = ?", req.ID, req.Status).
		Updates(map[string]interface{}{
			"status":      models.ScheduleCancelled,
			"canceled_by": callerID,
			"canceled_at": now,
			"updated_at":  now,
		})
	if result.Error != nil {
		return apperr.Internal(result.Error, "schedule: cancel %d", req.ID)
	}
	if result.RowsAffected == 0 {
		return apperr.Conflict("request_closed", "request %d changed concurrently", req.ID)
	}
	req.Status = models.ScheduleCancelled
	req.CanceledBy = &callerID
	req.CanceledAt = &now
	req.UpdatedAt = now
	return nil
}

func postCancelled(tx *gorm.DB, req *models.ScheduledPurchaseRequest, callerID uint, now time.Time) error {
	_, err := messaging.Post(tx, messaging.PostOpts{
		ConversationID: req.ConversationID,
		SenderID:       callerID,
		Content:        fmt.Sprintf("Meetup for %q cancelled.", req.SnapshotItemTitle),
		Card: &card.ScheduleCancelled{
			RequestID:   req.ID,
			ItemID:      req.ItemID,
			CancelledBy: callerID,
		},
		Now: now,
	})
	return err
}

// CancelPendingForItem cancels every pending request for itemID on behalf
// of its seller. It runs inside the caller's transaction.
func CancelPendingForItem(tx *gorm.DB, itemID uint, now time.Time) ([]models.ScheduledPurchaseRequest, error) {
	var pending []models.ScheduledPurchaseRequest
	if err := tx.Where("item_id = ? AND status = ?", itemID, models.SchedulePending).
		Order("id ASC").Find(&pending).Error; err != nil {
		return nil, apperr.Internal(err, "schedule: pending for item %d", itemID)
	}
	for i := range pending {
		req := &pending[i]
		if err := cancel(tx, req, req.SellerID, now); err != nil {
			return nil, err
		}
		if _, err := messaging.ReplaceCard(tx, req.ConversationID, card.TypeScheduleRequest, req.ID); err != nil {
			return nil, err
		}
		if err := postCancelled(tx, req, req.SellerID, now); err != nil {
			return nil, err
		}
	}
	return pending, nil
}
