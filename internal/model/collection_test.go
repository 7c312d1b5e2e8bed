package model

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func note(id, content string) Item {
	return Item{ID: id, Type: ItemNote, Content: content}
}

func TestValidateItems(t *testing.T) {
	tests := []struct {
		name    string
		key     CollectionKey
		items   []Item
		wantErr string
	}{
		{"empty", Links, nil, ""},
		{"valid link", Links, []Item{{ID: "a", Type: ItemLink, URL: "https://example.com"}}, ""},
		{"wrong type", Links, []Item{note("a", "x")}, "has type"},
		{"missing url", Links, []Item{{ID: "a", Type: ItemLink}}, "missing url"},
		{"duplicate id", Notes, []Item{note("a", "x"), note("a", "y")}, "duplicate item id a"},
		{"content too large", Notes, []Item{note("a", strings.Repeat("x", MaxItemContentBytes+1))}, "content too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateItems(tt.key, tt.items)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateItems_CollectionByteBudget(t *testing.T) {
	full := strings.Repeat("x", MaxItemContentBytes)
	var items []Item
	for i := 0; i < 5; i++ {
		items = append(items, note(fmt.Sprintf("n%d", i), full))
	}
	require.NoError(t, ValidateItems(Notes, items))

	// every item is individually valid; together they exceed the budget
	items = append(items, note("n5", full))
	err := ValidateItems(Notes, items)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "bytes encoded")
}
