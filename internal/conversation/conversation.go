// Package conversation is the conversation directory: find-or-create under
// the pair lock, participant-scoped reads and per-participant deletion.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/card"
	"github.com/zulandar/tradepost/internal/inventory"
	"github.com/zulandar/tradepost/internal/messaging"
	"github.com/zulandar/tradepost/internal/models"
	"github.com/zulandar/tradepost/internal/pairlock"
	"gorm.io/gorm"
)

// errLostRace marks a create that lost to a concurrent creator elsewhere.
var errLostRace = errors.New("conversation: lost create race")

// EnsureOpts identifies the conversation to find or create. SellerID may be
// zero for item threads; it is then taken from the item.
type EnsureOpts struct {
	BuyerID     uint
	SellerID    uint
	ItemID      *uint
	LockTimeout time.Duration
	Now         time.Time
}

// Ensure returns the single conversation for the pair and item, creating it
// on first contact. created reports whether this call created it.
func Ensure(ctx context.Context, db *gorm.DB, locker pairlock.Locker, opts EnsureOpts) (*models.Conversation, bool, error) {
	if opts.BuyerID == 0 {
		return nil, false, apperr.Validation("participant_required", "buyer is required")
	}

	var item *models.InventoryItem
	if opts.ItemID != nil {
		it, err := inventory.Load(db, *opts.ItemID)
		if err != nil {
			return nil, false, err
		}
		if it.Deleted {
			return nil, false, apperr.NotFound("item_not_found", "item %d not found", it.ID)
		}
		if opts.SellerID == 0 {
			opts.SellerID = it.SellerID
		}
		if opts.SellerID != it.SellerID {
			return nil, false, apperr.Authorization("not_item_seller", "user %d does not sell item %d", opts.SellerID, it.ID)
		}
		item = it
	}
	if opts.SellerID == 0 {
		return nil, false, apperr.Validation("participant_required", "seller is required")
	}
	if opts.BuyerID == opts.SellerID {
		return nil, false, apperr.Validation("self_contact", "cannot start a conversation with yourself")
	}

	names, err := userNames(db, opts.BuyerID, opts.SellerID)
	if err != nil {
		return nil, false, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	key := pairlock.Key(opts.BuyerID, opts.SellerID)
	var scope uint
	if item != nil {
		scope = item.ID
	}

	var conv *models.Conversation
	var created bool
	err = pairlock.With(ctx, locker, key, opts.LockTimeout, func() error {
		return db.Transaction(func(tx *gorm.DB) error {
			existing, err := find(tx, key, scope)
			if err != nil {
				return err
			}
			if existing != nil {
				conv = existing
				return restore(tx, conv, opts.BuyerID)
			}

			conv = &models.Conversation{
				PairKey:          key,
				ItemScope:        scope,
				ItemID:           opts.ItemID,
				ParticipantAID:   opts.BuyerID,
				ParticipantBID:   opts.SellerID,
				ParticipantAName: names[opts.BuyerID],
				ParticipantBName: names[opts.SellerID],
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := tx.Create(conv).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return errLostRace
				}
				return apperr.Internal(err, "conversation: create %s/%d", key, scope)
			}
			rows := []models.ParticipantUnread{
				{ConversationID: conv.ID, UserID: opts.BuyerID},
				{ConversationID: conv.ID, UserID: opts.SellerID},
			}
			if err := tx.Create(&rows).Error; err != nil {
				return apperr.Internal(err, "conversation: create unread rows for %d", conv.ID)
			}
			created = true

			if item == nil {
				return nil
			}
			_, err = messaging.Post(tx, messaging.PostOpts{
				ConversationID: conv.ID,
				SenderID:       opts.BuyerID,
				Content:        fmt.Sprintf("Hi! I'm interested in %q.", item.Title),
				Card: &card.ListingIntro{
					ItemID:    item.ID,
					ItemTitle: item.Title,
					Price:     item.Price,
					Location:  item.Location,
				},
				Now: now,
			})
			return err
		})
	})
	if errors.Is(err, errLostRace) {
		winner, ferr := find(db, key, scope)
		if ferr != nil {
			return nil, false, ferr
		}
		if winner == nil {
			return nil, false, apperr.Internal(err, "conversation: winner of %s/%d vanished", key, scope)
		}
		return winner, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

func find(db *gorm.DB, key string, scope uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := db.Where("pair_key = ? AND item_scope = ?", key, scope).Take(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "conversation: find %s/%d", key, scope)
	}
	return &conv, nil
}

// restore clears userID's soft-delete flag on a conversation it reopens.
func restore(tx *gorm.DB, conv *models.Conversation, userID uint) error {
	if !conv.DeletedFor(userID) {
		return nil
	}
	col := conv.DeletedColumn(userID)
	if err := tx.Model(conv).Update(col, false).Error; err != nil {
		return apperr.Internal(err, "conversation: restore %d for %d", conv.ID, userID)
	}
	return nil
}

func userNames(db *gorm.DB, ids ...uint) (map[uint]string, error) {
	var users []models.User
	if err := db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, apperr.Internal(err, "conversation: load users")
	}
	names := make(map[uint]string, len(users))
	for _, u := range users {
		names[u.ID] = u.DisplayName
	}
	for _, id := range ids {
		if _, ok := names[id]; !ok {
			return nil, apperr.NotFound("user_not_found", "user %d not found", id)
		}
	}
	return names, nil
}

// Get returns a conversation the caller participates in and has not hidden.
func Get(db *gorm.DB, id, callerID uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := db.First(&conv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("conversation_not_found", "conversation %d not found", id)
		}
		return nil, apperr.Internal(err, "conversation: get %d", id)
	}
	if !conv.HasParticipant(callerID) {
		return nil, apperr.Authorization("not_participant", "user %d is not in conversation %d", callerID, id)
	}
	if conv.DeletedFor(callerID) {
		return nil, apperr.NotFound("conversation_not_found", "conversation %d not found", id)
	}
	return &conv, nil
}

// Summary is one row of a participant's conversation list.
type Summary struct {
	models.Conversation
	UnreadCount int `json:"unread_count"`
}

// List returns the caller's visible conversations, most recently active
// first.
func List(db *gorm.DB, callerID uint) ([]Summary, error) {
	var convs []models.Conversation
	err := db.Where("(participant_a_id = ? AND participant_a_deleted = ?) OR (participant_b_id = ? AND participant_b_deleted = ?)",
		callerID, false, callerID, false).
		Order("updated_at DESC, id DESC").Find(&convs).Error
	if err != nil {
		return nil, apperr.Internal(err, "conversation: list for %d", callerID)
	}
	if len(convs) == 0 {
		return nil, nil
	}

	ids := make([]uint, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	var unread []models.ParticipantUnread
	if err := db.Where("user_id = ? AND conversation_id IN ?", callerID, ids).Find(&unread).Error; err != nil {
		return nil, apperr.Internal(err, "conversation: unread for %d", callerID)
	}
	counts := make(map[uint]int, len(unread))
	for _, u := range unread {
		counts[u.ConversationID] = u.UnreadCount
	}

	out := make([]Summary, len(convs))
	for i, c := range convs {
		out[i] = Summary{Conversation: c, UnreadCount: counts[c.ID]}
	}
	return out, nil
}
