// Package embed finds embeddable media links in post text and renders them as
// sandboxed players. Stored content is never rewritten; extraction happens each
// time a post is displayed.
package embed

import (
	"net/url"
	"regexp"
)

// Platform names the media host an embed points at.
type Platform string

const (
	PlatformYouTube    Platform = "youtube"
	PlatformVimeo      Platform = "vimeo"
	PlatformSpotify    Platform = "spotify"
	PlatformSoundCloud Platform = "soundcloud"
)

// Kind selects the player layout.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Matcher recognises one platform's shareable URLs.
type Matcher struct {
	Platform Platform
	Kind     Kind
	Title    string

	// pattern captures the id groups followed by a final group holding the rest of the link.
	pattern *regexp.Regexp
	// idChar reports whether a character could continue the id; a match whose
	// tail starts with one is a lookalike, not a link.
	idChar   func(r byte) bool
	id       func(groups []string) string
	embedURL func(id string) string
}

// EmbedURL returns the player URL for an id extracted by this matcher.
func (matcher Matcher) EmbedURL(id string) string {
	return matcher.embedURL(id)
}

func isWordOrDash(r byte) bool {
	return r == '-' || r == '_' || isAlphanumeric(r)
}

func isAlphanumeric(r byte) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func firstGroup(groups []string) string {
	return groups[0]
}

var defaultMatchers = []Matcher{
	{
		Platform: PlatformYouTube,
		Kind:     KindVideo,
		Title:    "YouTube video",
		pattern:  regexp.MustCompile(`(?:https?://)?(?:www\.|m\.)?(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/shorts/)([\w-]{11})(\S*)`),
		idChar:   isWordOrDash,
		id:       firstGroup,
		embedURL: func(id string) string {
			return "https://www.youtube-nocookie.com/embed/" + id
		},
	},
	{
		Platform: PlatformVimeo,
		Kind:     KindVideo,
		Title:    "Vimeo video",
		pattern:  regexp.MustCompile(`(?:https?://)?(?:www\.|player\.)?vimeo\.com/(?:video/)?(\d+)(\S*)`),
		idChar:   isWordOrDash,
		id:       firstGroup,
		embedURL: func(id string) string {
			return "https://player.vimeo.com/video/" + id
		},
	},
	{
		Platform: PlatformSpotify,
		Kind:     KindAudio,
		Title:    "Spotify player",
		pattern:  regexp.MustCompile(`(?:https?://)?open\.spotify\.com/(?:intl-[a-z]{2}/)?(track|album|playlist|episode|show)/([A-Za-z0-9]{22})(\S*)`),
		idChar:   isAlphanumeric,
		id: func(groups []string) string {
			return groups[0] + "/" + groups[1]
		},
		embedURL: func(id string) string {
			return "https://open.spotify.com/embed/" + id
		},
	},
	{
		Platform: PlatformSoundCloud,
		Kind:     KindAudio,
		Title:    "SoundCloud player",
		pattern:  regexp.MustCompile(`(?:https?://)?(?:www\.|m\.)?soundcloud\.com/([\w-]+/(?:sets/)?[\w-]+)(\S*)`),
		idChar:   isWordOrDash,
		id:       firstGroup,
		embedURL: func(id string) string {
			return "https://w.soundcloud.com/player/?url=" + url.QueryEscape("https://soundcloud.com/"+id)
		},
	},
}

// Matchers returns the built-in matchers in priority order.
func Matchers() []Matcher {
	matchers := make([]Matcher, len(defaultMatchers))
	copy(matchers, defaultMatchers)
	return matchers
}

// span is one accepted match: the byte range to strip and the embed it yields.
type span struct {
	start int
	end   int
	embed Embed
}

func (matcher Matcher) find(text string) []span {
	indexes := matcher.pattern.FindAllStringSubmatchIndex(text, -1)
	spans := make([]span, 0, len(indexes))
	for _, index := range indexes {
		groupCount := len(index)/2 - 1
		groups := make([]string, 0, groupCount-1)
		for group := 1; group < groupCount; group++ {
			groups = append(groups, text[index[2*group]:index[2*group+1]])
		}
		tailStart, tailEnd := index[2*groupCount], index[2*groupCount+1]
		if tailEnd > tailStart && matcher.idChar(text[tailStart]) {
			continue
		}
		id := matcher.id(groups)
		spans = append(spans, span{
			start: index[0],
			end:   index[1],
			embed: Embed{
				Platform: matcher.Platform,
				Kind:     matcher.Kind,
				ID:       id,
				URL:      matcher.embedURL(id),
				Title:    matcher.Title,
			},
		})
	}
	return spans
}
