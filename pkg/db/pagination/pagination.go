// Package pagination implements cursor-based paging for list endpoints.
package pagination

import (
	"encoding/base64"
	"encoding/json"
)

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=10" validate:"gte=1,lte=250"` // Min 1, Max 250
}

// Cursor is the decoded form of a page token. It points at the last row
// of the previous page.
type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

// EncodeCursor serializes a cursor into an opaque page token.
func EncodeCursor(cursor Cursor) (string, error) {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func DecodeCursor(token string) (*Cursor, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	cursor := &Cursor{}
	if err := json.Unmarshal(raw, cursor); err != nil {
		return nil, err
	}
	return cursor, nil
}

// BuildCursorPageInfo derives paging info from a result set fetched with
// limit+1 rows: the extra row signals another page exists.
func BuildCursorPageInfo[T any](rows []*T, limit int32, tokenFor func(*T) string) *PageInfo {
	if len(rows) == 0 {
		return &PageInfo{}
	}
	info := &PageInfo{}
	if len(rows) > int(limit) {
		info.HasMore = true
		rows = rows[:limit]
	}
	info.NextPageToken = tokenFor(rows[len(rows)-1])
	return info
}
