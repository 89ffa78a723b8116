package messaging

import (
	"encoding/json"
	"time"

	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/card"
	"github.com/zulandar/tradepost/internal/logging"
	"github.com/zulandar/tradepost/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Entry is a message with its card decoded. Card is nil for plain messages
// and for stored metadata that no longer decodes.
type Entry struct {
	models.Message
	Card card.Card `json:"metadata,omitempty"`
}

// MarshalJSON renders the card with its type discriminator under "metadata".
func (e Entry) MarshalJSON() ([]byte, error) {
	var meta json.RawMessage
	if e.Card != nil {
		data, err := card.Encode(e.Card)
		if err != nil {
			return nil, err
		}
		meta = data
	}
	return json.Marshal(struct {
		models.Message
		Metadata json.RawMessage `json:"metadata,omitempty"`
	}{e.Message, meta})
}

// Since selects the incremental window. AfterID wins when both are set.
type Since struct {
	AfterID uint
	After   time.Time
}

// Fetch returns the full history in id order and resets the caller's
// unread counter.
func Fetch(db *gorm.DB, conversationID, callerID uint) ([]Entry, error) {
	if _, err := participantConversation(db, conversationID, callerID); err != nil {
		return nil, err
	}

	var msgs []models.Message
	if err := db.Where("conversation_id = ?", conversationID).
		Order("id ASC").Find(&msgs).Error; err != nil {
		return nil, apperr.Internal(err, "messaging: fetch %d", conversationID)
	}

	entries, err := decorate(db, msgs)
	if err != nil {
		return nil, err
	}
	if err := resetUnread(db, conversationID, callerID); err != nil {
		return nil, err
	}
	return entries, nil
}

// FetchSince returns messages after the given id or timestamp without
// touching the unread counter.
func FetchSince(db *gorm.DB, conversationID, callerID uint, since Since) ([]Entry, error) {
	if _, err := participantConversation(db, conversationID, callerID); err != nil {
		return nil, err
	}

	q := db.Where("conversation_id = ?", conversationID)
	switch {
	case since.AfterID > 0:
		q = q.Where("id > ?", since.AfterID)
	case !since.After.IsZero():
		q = q.Where("created_at > ?", since.After.UTC())
	}

	var msgs []models.Message
	if err := q.Order("id ASC").Find(&msgs).Error; err != nil {
		return nil, apperr.Internal(err, "messaging: fetch since %d", conversationID)
	}
	return decorate(db, msgs)
}

// decorate decodes cards and overlays live negotiation status onto request
// cards. Nothing is written back.
func decorate(db *gorm.DB, msgs []models.Message) ([]Entry, error) {
	entries := make([]Entry, len(msgs))
	var scheduleIDs, confirmIDs []uint

	for i, m := range msgs {
		entries[i].Message = m
		if len(m.Metadata) == 0 {
			continue
		}
		c, err := card.Decode(m.Metadata)
		if err != nil {
			logging.L().Warn("messaging: undecodable card",
				zap.Uint("message_id", m.ID), zap.String("card_type", m.CardType), zap.Error(err))
			continue
		}
		entries[i].Card = c
		switch v := c.(type) {
		case *card.ScheduleRequest:
			scheduleIDs = append(scheduleIDs, v.RequestID)
		case *card.ConfirmRequest:
			confirmIDs = append(confirmIDs, v.ConfirmID)
		}
	}

	schedules := map[uint]models.ScheduledPurchaseRequest{}
	if len(scheduleIDs) > 0 {
		var rows []models.ScheduledPurchaseRequest
		if err := db.Where("id IN ?", scheduleIDs).Find(&rows).Error; err != nil {
			return nil, apperr.Internal(err, "messaging: enrich schedule cards")
		}
		for _, r := range rows {
			schedules[r.ID] = r
		}
	}
	confirms := map[uint]models.ConfirmPurchaseRequest{}
	if len(confirmIDs) > 0 {
		var rows []models.ConfirmPurchaseRequest
		if err := db.Where("id IN ?", confirmIDs).Find(&rows).Error; err != nil {
			return nil, apperr.Internal(err, "messaging: enrich confirm cards")
		}
		for _, r := range rows {
			confirms[r.ID] = r
		}
	}

	for i := range entries {
		switch v := entries[i].Card.(type) {
		case *card.ScheduleRequest:
			if r, ok := schedules[v.RequestID]; ok {
				v.Status = r.Status
				v.RespondedAt = firstTime(r.BuyerRespondedAt, r.CanceledAt)
			}
		case *card.ConfirmRequest:
			if r, ok := confirms[v.ConfirmID]; ok {
				v.Status = r.Status
				v.RespondedAt = firstTime(r.BuyerRespondedAt, r.AutoProcessedAt, r.SellerCanceledAt)
			}
		}
	}
	return entries, nil
}

func firstTime(ts ...*time.Time) *time.Time {
	for _, t := range ts {
		if t != nil {
			return t
		}
	}
	return nil
}
