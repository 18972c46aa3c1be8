package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("Hello {{.name}}, you are a {{.role}}.", map[string]any{
		"name": "Ada",
		"role": "researcher",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, you are a researcher.", out)
}

func TestRenderTemplatePlainText(t *testing.T) {
	out, err := RenderTemplate("no markers here", nil)
	require.NoError(t, err)
	assert.Equal(t, "no markers here", out)
}

func TestRenderTemplateMissingKey(t *testing.T) {
	out, err := RenderTemplate("Docs: {{.documents}}", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Docs: ", out)
}

func TestRenderTemplateFuncs(t *testing.T) {
	out, err := RenderTemplate("{{upper .name}} / {{lower .name}}", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "ADA / ada", out)

	out, err = RenderTemplate(`{{join .items ", "}}`, map[string]any{"items": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "a, b", out)
}

func TestRenderTemplateParseError(t *testing.T) {
	_, err := RenderTemplate("{{.broken", nil)
	assert.Error(t, err)
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
