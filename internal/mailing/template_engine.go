// Package mailing turns a drip step and an enrollment into a ready-to-send
// message: Liquid personalization, the signed unsubscribe link and the
// one-click unsubscribe headers.
package mailing

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/drip-engine/internal/domain"
)

// Sender identity applied to every composed message.
type Sender struct {
	FromName  string
	FromEmail string
	ReplyTo   string
}

// Renderer composes drip emails. Parsed templates are cached by content
// hash, so edited steps are reparsed automatically. Safe for concurrent use.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // md5(template) -> *liquid.Template
	signer *UnsubscribeSigner
	from   Sender
}

// NewRenderer creates a renderer with the drip filters registered.
func NewRenderer(signer *UnsubscribeSigner, from Sender) *Renderer {
	r := &Renderer{engine: liquid.NewEngine(), signer: signer, from: from}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ first_name | default: "Friend" }}
	r.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})
	r.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})
}

// Variables builds the template bindings for an enrollment.
func (r *Renderer) Variables(e *domain.Enrollment) map[string]interface{} {
	first := "there"
	if f := strings.Fields(e.Name); len(f) > 0 {
		first = f[0]
	}
	name := e.Name
	if strings.TrimSpace(name) == "" {
		name = "there"
	}
	link := r.signer.URL(e.Email)
	meta := map[string]interface{}{}
	for k, v := range e.Metadata {
		meta[k] = v
	}
	return map[string]interface{}{
		"firstName":        first,
		"first_name":       first,
		"name":             name,
		"email":            e.Email,
		"unsubscribeLink":  link,
		"unsubscribe_link": link,
		"metadata":         meta,
	}
}

// Render parses (or reuses) tpl and renders it. Missing variables render
// as empty strings.
func (r *Renderer) Render(tpl string, vars map[string]interface{}) (string, error) {
	if tpl == "" {
		return "", nil
	}
	sum := md5.Sum([]byte(tpl))
	key := hex.EncodeToString(sum[:])

	var t *liquid.Template
	if cached, ok := r.cache.Load(key); ok {
		t = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(tpl)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		r.cache.Store(key, parsed)
		t = parsed
	}
	out, err := t.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// Compose renders a step for one enrollment.
func (r *Renderer) Compose(e *domain.Enrollment, st *domain.Step) (*domain.EmailMessage, error) {
	vars := r.Variables(e)
	link := vars["unsubscribeLink"].(string)

	subject, err := r.Render(st.Subject, vars)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	html, err := r.Render(st.HTMLContent, vars)
	if err != nil {
		return nil, fmt.Errorf("html: %w", err)
	}
	text, err := r.Render(st.TextContent, vars)
	if err != nil {
		return nil, fmt.Errorf("text: %w", err)
	}

	if !strings.Contains(strings.ToLower(html), "unsubscribe") {
		html += unsubscribeFooter(link)
	}
	if text != "" && !strings.Contains(strings.ToLower(text), "unsubscribe") {
		text += "\n\nUnsubscribe: " + link + "\n"
	}

	return &domain.EmailMessage{
		EnrollmentID: e.ID,
		CampaignID:   e.CampaignID,
		StepNumber:   st.StepNumber,
		Email:        e.Email,
		FromName:     r.from.FromName,
		FromEmail:    r.from.FromEmail,
		ReplyTo:      r.from.ReplyTo,
		Subject:      subject,
		HTMLContent:  html,
		TextContent:  text,
		Headers: map[string]string{
			"List-Unsubscribe":      "<" + link + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		},
	}, nil
}

func unsubscribeFooter(link string) string {
	return `<div style="margin-top:20px;padding-top:20px;border-top:1px solid #eee;font-size:12px;color:#666;">` +
		`<a href="` + link + `" style="color:#666;">Unsubscribe</a></div>`
}
