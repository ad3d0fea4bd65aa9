// Prompt construction and validation.
//
// Style enhancement works off a fixed table: each known style contributes a
// suffix for the positive prompt and a set of default negative terms. Unknown
// styles pass the user's prompt through unchanged rather than failing, since
// the style list grows independently of this code.
package provider

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Prompt length bounds, in runes, applied after markup stripping.
const (
	MinPromptLen = 3
	MaxPromptLen = 2000
)

// styleEntry holds the per-style prompt additions.
type styleEntry struct {
	suffix   string
	negative string
}

// styleTable maps style identifiers to their prompt additions.
var styleTable = map[string]styleEntry{
	"watercolor": {
		suffix:   "soft watercolor illustration, gentle brush strokes, pastel palette",
		negative: "photo, photorealistic, harsh lines",
	},
	"cartoon": {
		suffix:   "vibrant cartoon style, bold outlines, flat colors, playful",
		negative: "realistic, gritty, muted colors",
	},
	"storybook": {
		suffix:   "classic children's storybook illustration, warm lighting, whimsical",
		negative: "dark, frightening, photorealistic",
	},
	"pixel": {
		suffix:   "retro pixel art, 16-bit, crisp dithering",
		negative: "smooth gradients, photorealistic, blur",
	},
	"sketch": {
		suffix:   "hand-drawn pencil sketch, cross-hatching, monochrome",
		negative: "color, photo, digital painting",
	},
}

// BuildEnhancedPrompt appends the style's suffix to the user prompt. Unknown
// or empty styles return the prompt unchanged.
func BuildEnhancedPrompt(userPrompt, style string) string {
	userPrompt = strings.TrimSpace(userPrompt)
	entry, ok := styleTable[strings.ToLower(strings.TrimSpace(style))]
	if !ok {
		return userPrompt
	}
	if userPrompt == "" {
		return entry.suffix
	}
	return userPrompt + ", " + entry.suffix
}

// BuildNegativePrompt concatenates the user's negative terms with the style's
// default negative terms, either side optional.
func BuildNegativePrompt(userNegative, style string) string {
	userNegative = strings.TrimSpace(userNegative)
	entry, ok := styleTable[strings.ToLower(strings.TrimSpace(style))]
	if !ok || entry.negative == "" {
		return userNegative
	}
	if userNegative == "" {
		return entry.negative
	}
	return userNegative + ", " + entry.negative
}

// Styles returns the identifiers of all known styles. Useful for request
// validation messages and documentation.
func Styles() []string {
	out := make([]string, 0, len(styleTable))
	for k := range styleTable {
		out = append(out, k)
	}
	return out
}

// markupRE matches HTML-ish tags so pasted rich text cannot smuggle markup
// into provider prompts.
var markupRE = regexp.MustCompile(`<[^>]*>`)

// ValidatePrompt sanitises and bounds-checks a user prompt. It strips markup,
// collapses whitespace, and rejects prompts that are empty, shorter than
// MinPromptLen, or longer than MaxPromptLen runes. The sanitised prompt is
// returned alongside any validation errors.
func ValidatePrompt(text string) (valid bool, sanitised string, errs []string) {
	sanitised = markupRE.ReplaceAllString(text, " ")
	sanitised = strings.Join(strings.Fields(sanitised), " ")

	n := utf8.RuneCountInString(sanitised)
	switch {
	case n == 0:
		errs = append(errs, "prompt is empty")
	case n < MinPromptLen:
		errs = append(errs, "prompt is too short")
	case n > MaxPromptLen:
		errs = append(errs, "prompt is too long")
	}
	return len(errs) == 0, sanitised, errs
}
