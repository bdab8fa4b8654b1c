package entities

import (
	"strings"
	"unicode"
)

// DeliveryID identifies a delivery as written in the submission message,
// e.g. "DEL-12345".
type DeliveryID string

// ParseDeliveryID extracts the identifier written between the first and
// second asterisk of a message ("New delivery *DEL-12345* has arrived").
// With a single asterisk the remainder of the text is used.
func ParseDeliveryID(text string) (DeliveryID, error) {
	parts := strings.Split(text, "*")
	if len(parts) < 2 {
		return "", ParseError("delivery id marker not found in message text", map[string]any{
			"text": text,
		})
	}
	id := strings.TrimSpace(parts[1])
	if id == "" {
		return "", ParseError("delivery id is empty", map[string]any{
			"text": text,
		})
	}
	return DeliveryID(id), nil
}

func (id DeliveryID) String() string {
	return string(id)
}

// OrderNumber is the digit-only projection of the identifier used as the
// order lookup key. It may be empty.
func (id DeliveryID) OrderNumber() string {
	var b strings.Builder
	for _, r := range string(id) {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
