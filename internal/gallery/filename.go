package gallery

import (
	"strings"
	"time"
	"unicode"
)

// FilenameFor builds a readable filename from the first three words of the
// prompt and a minute-resolution timestamp, e.g. "red_fox_0314_0926.png".
// Two submissions of the same prompt within one minute collide.
func FilenameFor(prompt string, now time.Time) string {
	var b strings.Builder
	for _, r := range prompt {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	words := strings.Fields(b.String())
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.ToLower(strings.Join(words, "_")) + "_" + now.Format("0102_1504") + ".png"
}
