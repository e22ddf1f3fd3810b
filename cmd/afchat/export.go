// ABOUTME: HTML export of the local transcript archive.
// ABOUTME: Renders archived rich text as markdown via goldmark.

package main

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"os"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/agentforce-go/store"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

const exportHeader = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Transcript %s</title>
<style>
body { font-family: sans-serif; max-width: 48em; margin: 2em auto; }
.user { color: #555; border-left: 3px solid #aaa; padding-left: 1em; }
.agent { border-left: 3px solid #2a7; padding-left: 1em; }
.meta { color: #999; font-size: 0.8em; }
</style>
</head>
<body>
<h1>Transcript</h1>
<p class="meta">Session %s</p>
`

// exportHTML writes the archived session transcript to an HTML file. Agent
// messages are treated as markdown; user utterances are escaped verbatim.
func exportHTML(ctx context.Context, archive store.Transcript, sessionID, path string) error {
	entries, err := archive.ListEntries(ctx, sessionID, 0)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, exportHeader, html.EscapeString(sessionID), html.EscapeString(sessionID))

	for _, e := range entries {
		switch e.Kind {
		case store.EntryUtterance:
			fmt.Fprintf(&buf, "<div class=\"user\"><p>%s</p></div>\n", html.EscapeString(e.Text))
		case store.EntryMessage:
			buf.WriteString("<div class=\"agent\">\n")
			if err := markdown.Convert([]byte(e.Text), &buf); err != nil {
				return fmt.Errorf("rendering message %s: %w", e.ID, err)
			}
			buf.WriteString("</div>\n")
		}
		fmt.Fprintf(&buf, "<p class=\"meta\">%s</p>\n", e.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	buf.WriteString("</body>\n</html>\n")
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
