// Package clean turns the inline markup of a paragraph into readable text,
// lifting structural references into a registry as it goes.
package clean

import "regexp"

// attrs matches the attribute run of a start tag. Quoted values may hold '>'
// or the other quote character.
const attrs = `(?:[^>"']|"[^"]*"|'[^']*')*`

// tail completes a start tag after its name: optional attributes after
// whitespace, then '>' or '/>'.
const tail = `(?:\s` + attrs + `)?/?>`

var (
	styleOpenRe   = regexp.MustCompile(`(?i)<(?:italic|i|bold|b|underline|u)` + tail)
	styleCloseRe  = regexp.MustCompile(`(?i)</(?:italic|i|bold|b|underline|u)\s*>`)
	subOpenRe     = regexp.MustCompile(`(?i)<sub` + tail)
	supOpenRe     = regexp.MustCompile(`(?i)<sup` + tail)
	subSupCloseRe = regexp.MustCompile(`(?i)</su[bp]\s*>`)
	extLinkOpenRe = regexp.MustCompile(`(?i)<ext-link` + tail)
	extLinkClose  = regexp.MustCompile(`(?i)</ext-link\s*>`)
)

// ExternalURIMarker replaces the start of an ext-link element.
const ExternalURIMarker = "[External URI:]"

// StripStyling removes presentational markup from text. Italic, bold and
// underline tags are dropped, subscripts become '_', superscripts become '^'
// and external links are announced with ExternalURIMarker. Text between the
// tags is kept.
func StripStyling(text string) string {
	text = styleOpenRe.ReplaceAllString(text, "")
	text = styleCloseRe.ReplaceAllString(text, "")
	text = subOpenRe.ReplaceAllString(text, "_")
	text = supOpenRe.ReplaceAllString(text, "^")
	text = subSupCloseRe.ReplaceAllString(text, "")
	text = extLinkOpenRe.ReplaceAllLiteralString(text, ExternalURIMarker)
	text = extLinkClose.ReplaceAllString(text, "")
	return text
}
