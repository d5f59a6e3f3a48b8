package feed

import "strings"

// badCharacters are stripped from titles so the result is safe to use
// as a filename on every supported platform
const badCharacters = `\/:.+?*`

// CleanTitle removes characters from a show title that are unsafe in
// filenames. The mapping is deterministic: the same title always yields
// the same cleaned form.
func CleanTitle(title string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(badCharacters, r) {
			return -1
		}
		return r
	}, title)
}
