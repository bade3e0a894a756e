package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/modlink/core/errors"
	"github.com/modlink/core/tag"
)

func TestValidateItemID(t *testing.T) {
	tests := []struct {
		id string
		ok bool
	}{
		{"sword", true},
		{"iron_sword", true},
		{"weapons:sword", true},
		{"a.b-c_1", true},
		{"", false},
		{"Sword", false},
		{"has space", false},
		{"too:many:colons", false},
		{"bad!char", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateItemID(tt.id)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, errors.ErrCodeInvalidItemID))
			}
		})
	}
}

func TestValidateItemData(t *testing.T) {
	assert.NoError(t, ValidateItemData("sword", tag.Tag{"id": "sword"}))

	// Namespaced and bare ids are interchangeable.
	assert.NoError(t, ValidateItemData("weapons:sword", tag.Tag{"id": "sword"}))

	err := ValidateItemData("sword", tag.Tag{"count": float64(1)})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidItemData), "missing id field")

	err = ValidateItemData("sword", tag.Tag{"id": float64(7)})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidItemData), "wrong-typed id field")

	err = ValidateItemData("sword", tag.Tag{"id": "axe"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidItemData), "mismatched id")

	embedded := tag.Tag{"id": "sword"}
	embedded.SetImportMarker(9)
	err = ValidateItemData("sword", embedded)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidItemData), "embedded code values rejected")
}

func TestQualifiedID(t *testing.T) {
	assert.Equal(t, "weapons:sword", QualifiedID("weapons", "sword"))
	assert.Equal(t, "custom:sword", QualifiedID("weapons", "custom:sword"))
}
