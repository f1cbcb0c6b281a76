// Package templates renders the HTML served by the web package as templ
// components.
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/tableload/internal/core"
)

// StatusData is everything the status page shows.
type StatusData struct {
	Target  string
	Drivers []string
	Limiter core.LimiterStatus
	Runs    []core.Outcome
}

// htmlWriter stops at the first write error.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

// Layout wraps body in the page chrome.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>`)
		h.text(title)
		h.raw(`</title><style>body{font-family:sans-serif;margin:2rem}table{border-collapse:collapse}` +
			`td,th{border:1px solid #ccc;padding:.25rem .5rem;text-align:left}.failure{color:#b00}.success{color:#070}` +
			`.alert{border:1px solid #b00;padding:.5rem 1rem;background:#fee}</style></head><body>`)
		if h.err != nil {
			return h.err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		h.raw(`</body></html>`)
		return h.err
	})
}

// StatusPage lists recent ingestions and the limiter state.
func StatusPage(d StatusData) templ.Component {
	return Layout("tableload", templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<h1>tableload</h1><p>Target: <code>`)
		h.text(d.Target)
		h.raw(`</code></p><p>Drivers: `)
		h.text(strings.Join(d.Drivers, ", "))
		h.raw(`</p><p>Running: `)
		h.text(fmt.Sprintf("%d of %d", d.Limiter.Active, d.Limiter.MaxConcurrent))
		h.raw(`</p><h2>Recent ingestions</h2>`)

		if len(d.Runs) == 0 {
			h.raw(`<p>No ingestions yet.</p>`)
			return h.err
		}
		h.raw(`<table><thead><tr><th>Started</th><th>Table</th><th>File</th><th>Status</th><th>Rows</th><th>Detail</th></tr></thead><tbody>`)
		for _, o := range d.Runs {
			h.raw(`<tr><td>`)
			h.text(o.StartedAt.Format("2006-01-02 15:04:05"))
			h.raw(`</td><td>`)
			h.text(o.Table.String())
			h.raw(`</td><td>`)
			h.text(o.FilePath)
			h.raw(`</td><td class="`)
			h.text(string(o.Status))
			h.raw(`">`)
			h.text(string(o.Status))
			h.raw(`</td><td>`)
			h.text(fmt.Sprint(o.Rows))
			h.raw(`</td><td>`)
			if o.Succeeded() {
				h.text(string(o.Action))
			} else {
				h.text(core.FormatUserError(o.Err()))
			}
			h.raw(`</td></tr>`)
		}
		h.raw(`</tbody></table>`)
		return h.err
	}))
}

// ErrorAlert renders a user-facing error fragment.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<div class="alert" role="alert"><strong>`)
		h.text(message)
		h.raw(`</strong>`)
		if action != "" {
			h.raw(`<p>`)
			h.text(action)
			h.raw(`</p>`)
		}
		h.raw(`<small>Code: `)
		h.text(code)
		h.raw(`</small></div>`)
		return h.err
	})
}
