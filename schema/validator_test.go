package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
		ok      bool
	}{
		{
			name:    "minimal valid library",
			content: `{"id":"weapons","compilationMode":"item","items":{}}`,
			ok:      true,
		},
		{
			name:    "library with items",
			content: `{"id":"weapons","compilationMode":"variable","editor":"modlink 0.3.0","items":{"sword":{"version":4,"data":"{\"id\":\"iron_sword\"}"}}}`,
			ok:      true,
		},
		{
			name:    "missing compilationMode",
			content: `{"id":"weapons","items":{}}`,
			ok:      false,
		},
		{
			name:    "bad compilationMode",
			content: `{"id":"weapons","compilationMode":"banana","items":{}}`,
			ok:      false,
		},
		{
			name:    "uppercase id rejected",
			content: `{"id":"Weapons","compilationMode":"item","items":{}}`,
			ok:      false,
		},
		{
			name:    "item missing data",
			content: `{"id":"weapons","compilationMode":"item","items":{"sword":{"version":4}}}`,
			ok:      false,
		},
		{
			name:    "not json",
			content: `]`,
			ok:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateBytes([]byte(tt.content))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
