package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherArgs struct {
	City    string   `json:"city" description:"City to look up"`
	Days    int      `json:"days"`
	Units   *string  `json:"units,omitempty"`
	Details []string `json:"details,omitempty"`
	hidden  string
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(weatherArgs{})

	assert.Equal(t, "object", schema["type"])

	properties, ok := schema["properties"].(map[string]any)
	require.True(t, ok)

	city, ok := properties["city"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", city["type"])
	assert.Equal(t, "City to look up", city["description"])

	days := properties["days"].(map[string]any)
	assert.Equal(t, "integer", days["type"])

	details := properties["details"].(map[string]any)
	assert.Equal(t, "array", details["type"])

	// omitempty and pointer fields are optional, unexported fields skipped.
	assert.Equal(t, []string{"city", "days"}, schema["required"])
	assert.NotContains(t, properties, "hidden")
}

func TestCreateSchemaFromPointer(t *testing.T) {
	schema := CreateSchema(&weatherArgs{})
	assert.Equal(t, "object", schema["type"])
}

func TestCreateSchemaNonStruct(t *testing.T) {
	schema := CreateSchema("not a struct")
	assert.Equal(t, "object", schema["type"])
	assert.Empty(t, schema["properties"])
}

func TestValidateParameters(t *testing.T) {
	schema := CreateSchema(weatherArgs{})

	// Happy path, with a JSON-decoded whole number for the integer field.
	err := ValidateParameters(map[string]any{"city": "Berlin", "days": float64(3)}, schema)
	assert.NoError(t, err)

	// Missing required field.
	err = ValidateParameters(map[string]any{"city": "Berlin"}, schema)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "days", ve.Field)

	// Type mismatch.
	err = ValidateParameters(map[string]any{"city": 42, "days": float64(1)}, schema)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "city", ve.Field)

	// Fractional number for an integer field.
	err = ValidateParameters(map[string]any{"city": "Berlin", "days": 1.5}, schema)
	assert.Error(t, err)

	// Extra fields pass through.
	err = ValidateParameters(map[string]any{"city": "Berlin", "days": float64(1), "stray": true}, schema)
	assert.NoError(t, err)

	// Nil values are accepted for any type.
	err = ValidateParameters(map[string]any{"city": nil, "days": float64(1)}, schema)
	assert.NoError(t, err)
}

func TestValidateParametersRequiredAsAnySlice(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []any{"name"},
	}
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"name": "x"}, schema))
}
