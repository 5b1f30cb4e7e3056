package docstore

import (
	"encoding/base64"
	"fmt"
)

// Cursor marks the last document of a page. The next page starts strictly
// after it in the same ordering.
type Cursor struct {
	ID     string
	Values []any
}

func CursorAfter(doc Document, orders []Order) Cursor {
	values := make([]any, len(orders))
	for i, o := range orders {
		values[i] = doc.Fields[o.Field]
	}
	return Cursor{ID: doc.Ref.ID, Values: values}
}

// Before reports whether doc sorts strictly after the cursor position.
func (c Cursor) Before(doc Document, orders []Order) bool {
	pivot := Document{Ref: Ref{ID: c.ID}, Fields: make(map[string]any, len(orders))}
	for i, o := range orders {
		pivot.Fields[o.Field] = c.Values[i]
	}
	return CompareDocs(pivot, doc, orders) < 0
}

func (c Cursor) Check(orders []Order) error {
	if c.ID == "" || len(c.Values) != len(orders) {
		return ErrInvalidCursor
	}
	return nil
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() (string, error) {
	data, err := EncodeFields(map[string]any{"id": c.ID, "values": c.Values}, Timestamp{})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func DecodeCursor(token string) (Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	fields, err := DecodeFields(data)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	id, _ := String(fields, "id")
	values, ok := fields["values"].([]any)
	if id == "" || !ok {
		return Cursor{}, ErrInvalidCursor
	}
	return Cursor{ID: id, Values: values}, nil
}
