package card

import (
	"encoding/json"
	"fmt"
)

// Encode serializes c as a JSON object with its "type" discriminator.
func Encode(c Card) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("card: encode nil card")
	}
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("card: encode %s: %w", c.Type(), err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("card: encode %s: %w", c.Type(), err)
	}
	typ, _ := json.Marshal(c.Type())
	fields["type"] = typ
	return json.Marshal(fields)
}

// Decode parses data produced by Encode back into its variant.
func Decode(data []byte) (Card, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("card: decode: %w", err)
	}

	var c Card
	switch head.Type {
	case TypeListingIntro:
		c = &ListingIntro{}
	case TypeScheduleRequest:
		c = &ScheduleRequest{}
	case TypeScheduleAccepted:
		c = &ScheduleAccepted{}
	case TypeScheduleDenied:
		c = &ScheduleDenied{}
	case TypeScheduleCancelled:
		c = &ScheduleCancelled{}
	case TypeNextSteps:
		c = &NextSteps{}
	case TypeConfirmRequest:
		c = &ConfirmRequest{}
	case TypeConfirmAccepted:
		c = &ConfirmAccepted{}
	case TypeConfirmDenied:
		c = &ConfirmDenied{}
	case TypeConfirmAutoAccepted:
		c = &ConfirmAutoAccepted{}
	case TypeConfirmCancelled:
		c = &ConfirmCancelled{}
	case TypeReviewPrompt:
		c = &ReviewPrompt{}
	case TypeBuyerRatingPrompt:
		c = &BuyerRatingPrompt{}
	case TypeItemDeleted:
		c = &ItemDeleted{}
	case "":
		return nil, fmt.Errorf("card: decode: missing type")
	default:
		return nil, fmt.Errorf("card: decode: unknown type %q", head.Type)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("card: decode %s: %w", head.Type, err)
	}
	return c, nil
}

// Valid reports whether t names a known variant.
func Valid(t Type) bool {
	switch t {
	case TypeListingIntro, TypeScheduleRequest, TypeScheduleAccepted,
		TypeScheduleDenied, TypeScheduleCancelled, TypeNextSteps,
		TypeConfirmRequest, TypeConfirmAccepted, TypeConfirmDenied,
		TypeConfirmAutoAccepted, TypeConfirmCancelled, TypeReviewPrompt,
		TypeBuyerRatingPrompt, TypeItemDeleted:
		return true
	}
	return false
}
