package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestConversation_Fields(t *testing.T) {
	typ := reflect.TypeOf(Conversation{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "PairKey", "uniqueIndex:idx_conversation_pair_item")
	assertGormTag(t, typ, "ItemScope", "uniqueIndex:idx_conversation_pair_item")
	assertGormTag(t, typ, "ItemScope", "default:0")
	assertGormTag(t, typ, "ItemID", "index")

	assertFieldType(t, typ, "ItemID", "*uint")
	assertFieldType(t, typ, "ParticipantADeleted", "bool")
	assertFieldType(t, typ, "ParticipantBDeleted", "bool")
	assertFieldType(t, typ, "ItemDeleted", "bool")
}

func TestConversation_Participants(t *testing.T) {
	c := &Conversation{
		ParticipantAID:      3,
		ParticipantBID:      9,
		ParticipantAName:    "ann",
		ParticipantBName:    "bob",
		ParticipantBDeleted: true,
	}

	if !c.HasParticipant(3) || !c.HasParticipant(9) {
		t.Error("HasParticipant = false for a participant")
	}
	if c.HasParticipant(4) || c.HasParticipant(0) {
		t.Error("HasParticipant = true for an outsider")
	}
	if got := c.Other(3); got != 9 {
		t.Errorf("Other(3) = %d, want 9", got)
	}
	if got := c.Other(9); got != 3 {
		t.Errorf("Other(9) = %d, want 3", got)
	}
	if c.DeletedFor(3) {
		t.Error("DeletedFor(3) = true, want false")
	}
	if !c.DeletedFor(9) {
		t.Error("DeletedFor(9) = false, want true")
	}
	if got := c.NameOf(9); got != "bob" {
		t.Errorf("NameOf(9) = %q, want %q", got, "bob")
	}
	if got := c.DeletedColumn(3); got != "participant_a_deleted" {
		t.Errorf("DeletedColumn(3) = %q, want participant_a_deleted", got)
	}
}

func TestParticipantUnread_CompositeKey(t *testing.T) {
	typ := reflect.TypeOf(ParticipantUnread{})

	assertGormTag(t, typ, "ConversationID", "primaryKey")
	assertGormTag(t, typ, "ConversationID", "autoIncrement:false")
	assertGormTag(t, typ, "UserID", "primaryKey")
	assertFieldType(t, typ, "FirstUnreadMessageID", "*uint")
}

func TestMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(Message{})

	assertGormTag(t, typ, "ConversationID", "index:idx_message_card")
	assertGormTag(t, typ, "CardType", "index:idx_message_card")
	assertGormTag(t, typ, "CardRefID", "index:idx_message_card")
	assertGormTag(t, typ, "Content", "type:text")

	assertFieldType(t, typ, "Metadata", "datatypes.JSON")
	assertFieldType(t, typ, "CardRefID", "*uint")
	assertFieldType(t, typ, "EditedAt", "*time.Time")
}

func TestScheduledPurchaseRequest_Fields(t *testing.T) {
	typ := reflect.TypeOf(ScheduledPurchaseRequest{})

	assertGormTag(t, typ, "VerificationCode", "size:4")
	assertGormTag(t, typ, "VerificationCode", "uniqueIndex")
	assertGormTag(t, typ, "Status", "default:pending")
	assertGormTag(t, typ, "Status", "index")
	assertGormTag(t, typ, "MeetLocation", "size:255")

	assertFieldType(t, typ, "NegotiatedPrice", "*float64")
	assertFieldType(t, typ, "Status", "models.ScheduleStatus")
	assertFieldType(t, typ, "CanceledBy", "*uint")
	assertFieldType(t, typ, "BuyerRespondedAt", "*time.Time")
}

func TestConfirmPurchaseRequest_Fields(t *testing.T) {
	typ := reflect.TypeOf(ConfirmPurchaseRequest{})

	assertGormTag(t, typ, "Payload", "serializer:json")
	assertGormTag(t, typ, "Status", "default:pending")
	assertGormTag(t, typ, "ExpiresAt", "not null")

	assertFieldType(t, typ, "FinalPrice", "*float64")
	assertFieldType(t, typ, "Payload", "models.ConfirmPayload")
	assertFieldType(t, typ, "ExpiresAt", "time.Time")
	assertFieldType(t, typ, "AutoProcessedAt", "*time.Time")
}

func TestConfirmStatus_Accepted(t *testing.T) {
	accepted := map[ConfirmStatus]bool{
		ConfirmPending:         false,
		ConfirmBuyerAccepted:   true,
		ConfirmBuyerDeclined:   false,
		ConfirmAutoAccepted:    true,
		ConfirmSellerCancelled: false,
	}
	for s, want := range accepted {
		if got := s.Accepted(); got != want {
			t.Errorf("%s.Accepted() = %v, want %v", s, got, want)
		}
	}
	if len(AcceptedConfirmStatuses) != 2 {
		t.Errorf("len(AcceptedConfirmStatuses) = %d, want 2", len(AcceptedConfirmStatuses))
	}
}

func TestInventoryItem_Fields(t *testing.T) {
	typ := reflect.TypeOf(InventoryItem{})

	assertGormTag(t, typ, "Status", "default:Active")
	assertGormTag(t, typ, "SellerID", "index")
	assertFieldType(t, typ, "Status", "models.ItemStatus")
	assertFieldType(t, typ, "ReservedRequestID", "*uint")
	assertFieldType(t, typ, "SoldPrice", "*float64")
}

func TestPurchaseHistory_Table(t *testing.T) {
	if got := (PurchaseHistory{}).TableName(); got != "purchase_history" {
		t.Errorf("TableName() = %q, want purchase_history", got)
	}
	typ := reflect.TypeOf(PurchaseHistory{})
	assertGormTag(t, typ, "ID", "size:26")
	assertGormTag(t, typ, "ConfirmRequestID", "uniqueIndex")
}
