package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CatalogRecord is one extension entry as written to the record log.
// Field order matches the log's historical column order.
type CatalogRecord struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Developer         string          `json:"developer"`
	Description       string          `json:"description"`
	PrimaryCategory   string          `json:"primary_category"`
	SecondaryCategory string          `json:"secondary_category"`
	RatingScore       json.RawMessage `json:"rating_score"`
	StarCount         json.RawMessage `json:"star_count"`
	UserCount         string          `json:"user_count"`
	URL               string          `json:"url"`
}

// CheckID rejects ids that cannot be used as a single path element.
// Every on-disk name of an extension is derived from its id alone.
func CheckID(id string) error {
	switch {
	case id == "":
		return errors.New("empty id")
	case id == "." || id == "..":
		return fmt.Errorf("id %q is a relative path element", id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("id %q contains a path separator or NUL", id)
	case strings.Contains(id, ".."):
		return fmt.Errorf("id %q contains \"..\"", id)
	}
	return nil
}

// ParseUserCount converts the catalog's display form ("10,000+") to an integer
func ParseUserCount(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "+")
	if s == "" {
		return 0, fmt.Errorf("empty user count %q", raw)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid user count %q: %w", raw, err)
	}
	return n, nil
}
