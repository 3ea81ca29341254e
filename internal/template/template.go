// Package template renders Go template strings against a parameter map.
// Config file templates, hook commands and app commands all use {{ .param }}
// syntax.
package template

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"default": func(def, v any) any {
		if v == nil || v == "" {
			return def
		}
		return v
	},
}

// Render executes the Go template string s with params as the data object.
// Referencing a key that params does not define is an error.
func Render(s string, params map[string]any) (string, error) {
	return render("", s, params)
}

// RenderFile reads the template at path and renders it.
func RenderFile(path string, params map[string]any) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	return render(path, string(data), params)
}

// RenderArgs renders every element of an argv list.
func RenderArgs(args []string, params map[string]any) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if !strings.Contains(a, "{{") {
			out = append(out, a)
			continue
		}
		r, err := Render(a, params)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func render(name, s string, params map[string]any) (string, error) {
	label := name
	if label == "" {
		label = s
	}
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", label, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("execute template %q: %w", label, err)
	}
	return buf.String(), nil
}
