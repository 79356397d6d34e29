package engine

import "regexp"

// mdStrip removes markdown artifacts that a TTS voice would otherwise read
// aloud: emphasis markers, headings, code fences and list prefixes.
var mdStrip = regexp.MustCompile(`(?m)\*{1,2}|#{1,6}\s?|` + "`{1,3}" + `|^-\s|^\d+\.\s`)

// stripMarkdown cleans a streamed content delta before it reaches synthesis.
func stripMarkdown(s string) string {
	return mdStrip.ReplaceAllString(s, "")
}
