// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"os"
	texttemplate "text/template"

	"github.com/samber/oops"
)

//go:embed templates/*
var templateFiles embed.FS

var subjects = map[Kind]string{
	KindPasswordChanged: "Your password was changed",
	KindResetRequested:  "Reset your password",
	KindResetSucceeded:  "Your password was reset",
}

// Renderer turns a notification into a Message.
type Renderer interface {
	Render(kind Kind, to string, data TemplateData) (Message, error)
}

// TemplateOverrides points kinds at plain-text template files on disk that
// replace the embedded defaults. The HTML part is dropped for overridden kinds.
type TemplateOverrides map[Kind]string

type kindTemplates struct {
	text *texttemplate.Template
	html *htmltemplate.Template
}

// TemplateRenderer renders the embedded templates.
type TemplateRenderer struct {
	templates map[Kind]kindTemplates
}

// NewTemplateRenderer parses every template up front so that a broken
// template fails at startup rather than on first delivery.
func NewTemplateRenderer(overrides TemplateOverrides) (*TemplateRenderer, error) {
	r := &TemplateRenderer{templates: make(map[Kind]kindTemplates, len(subjects))}

	for _, kind := range Kinds() {
		var (
			kt  kindTemplates
			err error
		)
		if path := overrides[kind]; path != "" {
			src, readErr := os.ReadFile(path) //nolint:gosec // operator-supplied template path
			if readErr != nil {
				return nil, oops.Code("TEMPLATE_LOAD_FAILED").
					With("kind", string(kind)).
					With("path", path).
					Wrap(readErr)
			}
			kt.text, err = texttemplate.New(string(kind)).Option("missingkey=error").Parse(string(src))
		} else {
			kt.text, err = texttemplate.New(string(kind)+".txt").Option("missingkey=error").
				ParseFS(templateFiles, "templates/"+string(kind)+".txt")
			if err == nil {
				kt.html, err = htmltemplate.New(string(kind)+".html").
					ParseFS(templateFiles, "templates/"+string(kind)+".html")
			}
		}
		if err != nil {
			return nil, oops.Code("TEMPLATE_PARSE_FAILED").
				With("kind", string(kind)).
				Wrap(err)
		}
		r.templates[kind] = kt
	}

	return r, nil
}

// Render implements Renderer.
func (r *TemplateRenderer) Render(kind Kind, to string, data TemplateData) (Message, error) {
	kt, ok := r.templates[kind]
	if !ok {
		return Message{}, oops.Code("TEMPLATE_UNKNOWN").
			With("kind", string(kind)).
			Errorf("no template for notification kind")
	}

	msg := Message{ToAddress: to, Subject: subjects[kind]}

	var buf bytes.Buffer
	if err := kt.text.Execute(&buf, data); err != nil {
		return Message{}, oops.Code("TEMPLATE_RENDER_FAILED").
			With("kind", string(kind)).
			Wrap(err)
	}
	msg.PlainBody = buf.String()

	if kt.html != nil {
		buf.Reset()
		if err := kt.html.Execute(&buf, data); err != nil {
			return Message{}, oops.Code("TEMPLATE_RENDER_FAILED").
				With("kind", string(kind)).
				With("part", "html").
				Wrap(err)
		}
		msg.HTMLBody = buf.String()
	}

	return msg, nil
}

// Compile-time interface check.
var _ Renderer = (*TemplateRenderer)(nil)
