package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ListEntry is one item on a user's watch list.
type ListEntry struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"userId"`
	ItemID    string    `db:"item_id" json:"animeId"`
	Title     string    `db:"title" json:"title"`
	ImageRef  string    `db:"image_ref" json:"image"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// ListFields are the mutable fields of a list entry.
type ListFields struct {
	Title    string
	ImageRef string
	Status   string
}

// UpsertListRequest is the body of PUT /list. UserID is optional and, when
// present, must match the authenticated user.
type UpsertListRequest struct {
	UserID *int64 `json:"userId"`
	ItemID ItemID `json:"animeId" validate:"required,max=64"`
	Title  string `json:"title" validate:"max=512"`
	Image  string `json:"image" validate:"max=2048"`
	Status string `json:"status" validate:"max=64"`
}

// UpsertResult reports the stored entry and whether it was newly created.
type UpsertResult struct {
	Entry   ListEntry `json:"entry"`
	Created bool      `json:"created"`
}

// ItemID is a catalog id. Clients send it either as a JSON string or number.
type ItemID string

func (id *ItemID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ItemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("animeId must be a string or number: %w", err)
	}
	*id = ItemID(n.String())
	return nil
}
