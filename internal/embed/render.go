package embed

import (
	"fmt"
	"html"
	"strings"
)

const (
	audioPlayerHeight = 152
	iframeSandbox     = "allow-scripts allow-same-origin allow-presentation allow-popups"
	iframeAllow       = "accelerometer; autoplay; clipboard-write; encrypted-media; gyroscope; picture-in-picture"
)

// RenderHTML renders parsed content as an HTML fragment: the prose as escaped
// text with its line breaks kept, then one sandboxed player per embed.
func RenderHTML(content Content) string {
	var builder strings.Builder
	if prose := strings.TrimSpace(content.Text); prose != "" {
		builder.WriteString(`<p class="whitespace-pre-wrap">`)
		builder.WriteString(html.EscapeString(prose))
		builder.WriteString(`</p>`)
	}
	for _, item := range content.Embeds {
		builder.WriteString(renderPlayer(item))
	}
	return builder.String()
}

func renderPlayer(item Embed) string {
	source := html.EscapeString(item.URL)
	title := html.EscapeString(item.Title)
	if item.Kind == KindAudio {
		return fmt.Sprintf(
			`<div class="embed embed-audio"><iframe src="%s" title="%s" width="100%%" height="%d" style="border:0" sandbox="%s" allow="%s" loading="lazy"></iframe></div>`,
			source, title, audioPlayerHeight, iframeSandbox, iframeAllow,
		)
	}
	return fmt.Sprintf(
		`<div class="embed embed-video" style="position:relative;width:100%%;padding-bottom:56.25%%"><iframe src="%s" title="%s" style="position:absolute;inset:0;width:100%%;height:100%%;border:0" sandbox="%s" allow="%s" allowfullscreen loading="lazy"></iframe></div>`,
		source, title, iframeSandbox, iframeAllow,
	)
}
