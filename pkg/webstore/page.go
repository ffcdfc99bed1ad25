package webstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	errs "crxharvest/pkg/errors"
	"crxharvest/pkg/models"
)

// Fixed offsets of the fields inside one catalog row
const (
	colID                = 0
	colName              = 1
	colDeveloper         = 2
	colDescription       = 6
	colPrimaryCategory   = 9
	colSecondaryCategory = 10
	colURL               = 11
	colRating            = 12
	colStarCount         = 22
	colUserCount         = 23

	// MinRowLength is the shortest row that carries every column above
	MinRowLength = colUserCount + 1
)

// antiHijackChars are stripped from the front of every catalog response
const antiHijackChars = ")]}'\n"

// Page is one decoded catalog page
type Page struct {
	Rows []json.RawMessage
	// NextToken is empty when there is no following page
	NextToken string
}

// HasNext reports whether the page names a successor
func (p *Page) HasNext() bool {
	return p.NextToken != ""
}

// DecodePage strips the response prefix and extracts the row list and cursor.
// Rows live at root[0][1][1] and the cursor at root[0][1][4]; a cursor equal
// to endSentinel, missing or not a string means there is no next page.
func DecodePage(body []byte, endSentinel string) (*Page, error) {
	trimmed := bytes.TrimLeft(body, antiHijackChars)
	if len(bytes.TrimSpace(trimmed)) == 0 {
		return nil, errs.Decode("decode page", fmt.Errorf("empty response body"))
	}

	var root []json.RawMessage
	if err := json.Unmarshal(trimmed, &root); err != nil {
		return nil, errs.Decode("decode page", err)
	}

	section, err := index(root, 0, "root")
	if err != nil {
		return nil, err
	}
	var outer []json.RawMessage
	if err := json.Unmarshal(section, &outer); err != nil {
		return nil, errs.Decode("decode page", fmt.Errorf("root[0] is not a list: %w", err))
	}
	body1, err := index(outer, 1, "root[0]")
	if err != nil {
		return nil, err
	}
	var listing []json.RawMessage
	if err := json.Unmarshal(body1, &listing); err != nil {
		return nil, errs.Decode("decode page", fmt.Errorf("root[0][1] is not a list: %w", err))
	}

	rowsRaw, err := index(listing, 1, "root[0][1]")
	if err != nil {
		return nil, err
	}
	page := &Page{}
	if !isNull(rowsRaw) {
		if err := json.Unmarshal(rowsRaw, &page.Rows); err != nil {
			return nil, errs.Decode("decode page", fmt.Errorf("root[0][1][1] is not a list: %w", err))
		}
	}

	if len(listing) > 4 {
		var token string
		if err := json.Unmarshal(listing[4], &token); err == nil && token != endSentinel {
			page.NextToken = token
		}
	}

	return page, nil
}

func index(list []json.RawMessage, i int, where string) (json.RawMessage, error) {
	if i >= len(list) {
		return nil, errs.Decode("decode page", fmt.Errorf("%s has %d elements, need index %d", where, len(list), i))
	}
	return list[i], nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// RowResult is the outcome of decoding a single row
type RowResult struct {
	Record models.CatalogRecord
	// Users is the parsed user count
	Users int
	// SkipReason is set when the row could not be decoded
	SkipReason string
}

// Ok reports whether the row produced a record
func (r RowResult) Ok() bool {
	return r.SkipReason == ""
}

func skip(format string, args ...interface{}) RowResult {
	return RowResult{SkipReason: fmt.Sprintf(format, args...)}
}

// DecodeRow extracts a CatalogRecord from one positional row
func DecodeRow(raw json.RawMessage) RowResult {
	var cols []json.RawMessage
	if err := json.Unmarshal(raw, &cols); err != nil {
		return skip("row is not a list: %v", err)
	}
	if len(cols) < MinRowLength {
		return skip("row has %d columns, need %d", len(cols), MinRowLength)
	}

	id, ok := text(cols[colID])
	if !ok || strings.TrimSpace(id) == "" {
		return skip("row has no id")
	}
	if err := models.CheckID(id); err != nil {
		return skip("unsafe id: %v", err)
	}

	userCount, ok := text(cols[colUserCount])
	if !ok {
		return skip("user count is not a string")
	}
	users, err := models.ParseUserCount(userCount)
	if err != nil {
		return skip("%v", err)
	}

	rec := models.CatalogRecord{
		ID:                id,
		UserCount:         userCount,
		RatingScore:       append(json.RawMessage(nil), bytes.TrimSpace(cols[colRating])...),
		StarCount:         append(json.RawMessage(nil), bytes.TrimSpace(cols[colStarCount])...),
		Name:              optionalText(cols[colName]),
		Developer:         optionalText(cols[colDeveloper]),
		Description:       optionalText(cols[colDescription]),
		PrimaryCategory:   optionalText(cols[colPrimaryCategory]),
		SecondaryCategory: optionalText(cols[colSecondaryCategory]),
		URL:               optionalText(cols[colURL]),
	}

	if !isNull(cols[colRating]) {
		var n json.Number
		if err := json.Unmarshal(cols[colRating], &n); err != nil {
			return skip("rating is not a number: %v", err)
		}
	}

	return RowResult{Record: rec, Users: users}
}

func text(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func optionalText(raw json.RawMessage) string {
	s, _ := text(raw)
	return s
}
