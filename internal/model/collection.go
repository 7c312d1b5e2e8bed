package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// ErrValidation marks malformed client input.
var ErrValidation = errors.New("validation failed")

const (
	MaxItemsPerCollection = 1000
	MaxItemContentBytes   = 64 * 1024
	MaxDisplayNameLength  = 80

	// MaxCollectionBytes bounds the JSON encoding of a whole collection. It
	// keeps one collection under DynamoDB's 400 KB item limit.
	MaxCollectionBytes = 350 * 1024
)

// ItemType discriminates the four kinds of collection items.
type ItemType string

const (
	ItemLink    ItemType = "link"
	ItemNote    ItemType = "note"
	ItemSnippet ItemType = "snippet"
	ItemStatus  ItemType = "status"
)

// CollectionKey names one of the four collections of a workspace.
type CollectionKey string

const (
	Links    CollectionKey = "links"
	Notes    CollectionKey = "notes"
	Snippets CollectionKey = "snippets"
	Statuses CollectionKey = "statuses"
)

// CollectionKeys lists every key in a stable order.
var CollectionKeys = []CollectionKey{Links, Notes, Snippets, Statuses}

// ParseCollectionKey validates a key taken from a URL path.
func ParseCollectionKey(s string) (CollectionKey, error) {
	k := CollectionKey(s)
	if !slices.Contains(CollectionKeys, k) {
		return "", fmt.Errorf("%w: unknown collection %q", ErrValidation, s)
	}
	return k, nil
}

// ItemType returns the item type stored under the key.
func (k CollectionKey) ItemType() ItemType {
	switch k {
	case Links:
		return ItemLink
	case Notes:
		return ItemNote
	case Snippets:
		return ItemSnippet
	default:
		return ItemStatus
	}
}

// Item is one entry of a collection. Which fields are meaningful depends on
// Type: link uses Category and URL, note uses Category and Content, snippet
// uses Language and Content, status uses URL, State and Variant.
type Item struct {
	ID       string   `json:"id" dynamodbav:"id"`
	Type     ItemType `json:"type" dynamodbav:"type"`
	Title    string   `json:"title,omitempty" dynamodbav:"title,omitempty"`
	Category string   `json:"category,omitempty" dynamodbav:"category,omitempty"`
	URL      string   `json:"url,omitempty" dynamodbav:"url,omitempty"`
	Content  string   `json:"content,omitempty" dynamodbav:"content,omitempty"`
	Language string   `json:"language,omitempty" dynamodbav:"language,omitempty"`
	State    string   `json:"state,omitempty" dynamodbav:"state,omitempty"`
	Variant  string   `json:"variant,omitempty" dynamodbav:"variant,omitempty"`
}

// NewItemID returns a collision-resistant identifier for a new item.
func NewItemID() string {
	return uuid.NewString()
}

func (it Item) validate(want ItemType) error {
	if it.ID == "" {
		return fmt.Errorf("%w: item without id", ErrValidation)
	}
	if it.Type != want {
		return fmt.Errorf("%w: item %s has type %q, want %q", ErrValidation, it.ID, it.Type, want)
	}
	if len(it.Content) > MaxItemContentBytes {
		return fmt.Errorf("%w: item %s content too large", ErrValidation, it.ID)
	}
	missing := ""
	switch want {
	case ItemLink:
		if it.URL == "" {
			missing = "url"
		}
	case ItemSnippet:
		if it.Language == "" {
			missing = "language"
		}
	case ItemStatus:
		switch {
		case it.URL == "":
			missing = "url"
		case it.State == "":
			missing = "state"
		case it.Variant == "":
			missing = "variant"
		}
	}
	if missing != "" {
		return fmt.Errorf("%w: %s item %s missing %s", ErrValidation, want, it.ID, missing)
	}
	return nil
}

// ValidateItems checks a complete collection array destined for key.
func ValidateItems(key CollectionKey, items []Item) error {
	if len(items) > MaxItemsPerCollection {
		return fmt.Errorf("%w: %s has %d items (max %d)", ErrValidation, key, len(items), MaxItemsPerCollection)
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if err := it.validate(key.ItemType()); err != nil {
			return err
		}
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("%w: duplicate item id %s in %s", ErrValidation, it.ID, key)
		}
		seen[it.ID] = struct{}{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidation, key, err)
	}
	if len(data) > MaxCollectionBytes {
		return fmt.Errorf("%w: %s is %d bytes encoded (max %d)", ErrValidation, key, len(data), MaxCollectionBytes)
	}
	return nil
}

// Collections holds the four ordered collections of a workspace.
type Collections struct {
	Links    []Item `json:"links"`
	Notes    []Item `json:"notes"`
	Snippets []Item `json:"snippets"`
	Statuses []Item `json:"statuses"`
}

// Get returns the items stored under key. The slice is shared.
func (c *Collections) Get(key CollectionKey) []Item {
	switch key {
	case Links:
		return c.Links
	case Notes:
		return c.Notes
	case Snippets:
		return c.Snippets
	case Statuses:
		return c.Statuses
	}
	return nil
}

// Set replaces the items stored under key.
func (c *Collections) Set(key CollectionKey, items []Item) {
	if items == nil {
		items = []Item{}
	}
	switch key {
	case Links:
		c.Links = items
	case Notes:
		c.Notes = items
	case Snippets:
		c.Snippets = items
	case Statuses:
		c.Statuses = items
	}
}

// Clone deep-copies the collections, turning nil slices into empty ones so
// they serialize as [].
func (c Collections) Clone() Collections {
	var out Collections
	for _, k := range CollectionKeys {
		out.Set(k, CloneItems(c.Get(k)))
	}
	return out
}

// Validate checks every collection.
func (c *Collections) Validate() error {
	for _, k := range CollectionKeys {
		if err := ValidateItems(k, c.Get(k)); err != nil {
			return err
		}
	}
	return nil
}

// CloneItems copies an item slice; Item has no reference fields.
func CloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// EqualItems reports whether two collection arrays are identical, order included.
func EqualItems(a, b []Item) bool {
	return slices.Equal(a, b)
}

// Snapshot is a consistent view of all four collections at one revision.
type Snapshot struct {
	Revision int64 `json:"revision"`
	Collections
}
