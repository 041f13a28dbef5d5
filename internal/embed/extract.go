package embed

import (
	"sort"
	"strings"
)

// Embed is a structured reference to external media found in text.
type Embed struct {
	Platform Platform `json:"type"`
	Kind     Kind     `json:"kind"`
	ID       string   `json:"id"`
	URL      string   `json:"embed_url"`
	Title    string   `json:"title"`
}

// Content is post text split into residual prose and the media it links to.
type Content struct {
	Text   string  `json:"text"`
	Embeds []Embed `json:"embeds"`
}

// ExtractEmbeds returns the embeds found in text. Matchers run in priority order
// and each contributes its matches in position order. Repeats of the same
// platform and id are dropped; the first occurrence wins.
func ExtractEmbeds(text string) []Embed {
	embeds := make([]Embed, 0)
	seen := make(map[Platform]map[string]struct{})
	for _, matcher := range defaultMatchers {
		for _, match := range matcher.find(text) {
			ids, ok := seen[match.embed.Platform]
			if !ok {
				ids = make(map[string]struct{})
				seen[match.embed.Platform] = ids
			}
			if _, duplicate := ids[match.embed.ID]; duplicate {
				continue
			}
			ids[match.embed.ID] = struct{}{}
			embeds = append(embeds, match.embed)
		}
	}
	return embeds
}

// StripEmbedURLs removes every embeddable link from text. The spaces or tabs on
// either side of a removed link collapse to one space, and the result is trimmed.
func StripEmbedURLs(text string) string {
	spans := allSpans(text)
	if len(spans) == 0 {
		return strings.TrimSpace(text)
	}

	var builder strings.Builder
	builder.Grow(len(text))
	cursor := 0
	for index, match := range spans {
		if match.start < cursor {
			continue
		}
		builder.WriteString(strings.TrimRight(text[cursor:match.start], " \t"))
		cursor = match.end
		for cursor < len(text) && (text[cursor] == ' ' || text[cursor] == '\t') {
			cursor++
		}
		nextIsLink := index+1 < len(spans) && spans[index+1].start == cursor
		if !nextIsLink && needsSeparator(builder.String(), text[cursor:]) {
			builder.WriteByte(' ')
		}
	}
	builder.WriteString(text[cursor:])
	return strings.TrimSpace(builder.String())
}

// Parse splits text into residual prose and embeds.
func Parse(text string) Content {
	return Content{
		Text:   StripEmbedURLs(text),
		Embeds: ExtractEmbeds(text),
	}
}

func allSpans(text string) []span {
	var spans []span
	for _, matcher := range defaultMatchers {
		spans = append(spans, matcher.find(text)...)
	}
	sort.SliceStable(spans, func(left, right int) bool {
		return spans[left].start < spans[right].start
	})
	return spans
}

// needsSeparator keeps words on both sides of a removed link apart without
// introducing spaces at line boundaries.
func needsSeparator(written, rest string) bool {
	if written == "" || rest == "" {
		return false
	}
	last := written[len(written)-1]
	next := rest[0]
	return last != ' ' && last != '\n' && last != '\r' && next != '\n' && next != '\r'
}
