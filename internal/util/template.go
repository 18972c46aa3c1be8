package util

import (
	"bytes"
	"strings"
	"text/template"
)

// RenderTemplate substitutes template variables in text using Go's
// text/template syntax ({{.name}}). Missing keys render as empty strings so a
// system message template that references documents or delegates stays valid
// when neither is configured.
func RenderTemplate(text string, vars map[string]any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	tmpl, err := template.New("prompt").Option("missingkey=zero").Funcs(template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"join":  strings.Join,
	}).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", err
	}

	// missingkey=zero renders untyped nil values as "<no value>".
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}
