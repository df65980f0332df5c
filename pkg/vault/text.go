package vault

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

const snippetContext = 60

// Checksum is a 31-multiplier rolling hash over UTF-16 code units, wrapped to 32 bits
// and rendered in signed hex. It only detects change; it is not collision resistant.
func Checksum(text string) string {
	var h int32
	for _, unit := range utf16.Encode([]rune(text)) {
		h = h*31 + int32(unit)
	}
	return strconv.FormatInt(int64(h), 16)
}

// lowerRunes lowercases rune by rune so indices line up with the original text.
func lowerRunes(text []rune) []rune {
	out := make([]rune, len(text))
	for i, r := range text {
		out[i] = unicode.ToLower(r)
	}
	return out
}

// indexRunes finds needle in haystack and returns the rune offset and rune length of the
// match, or -1.
func indexRunes(haystack []rune, needle string) (int, int) {
	h := string(haystack)
	byteAt := strings.Index(h, needle)
	if byteAt < 0 {
		return -1, 0
	}
	return utf8.RuneCountInString(h[:byteAt]), utf8.RuneCountInString(needle)
}

// snippet returns the text around [at, at+length) with up to 60 runes either side,
// ellipsized where cut and with whitespace runs collapsed.
func snippet(text []rune, at, length int) string {
	start := at - snippetContext
	if start < 0 {
		start = 0
	}
	end := at + length + snippetContext
	if end > len(text) {
		end = len(text)
	}

	s := string(text[start:end])
	if start > 0 {
		s = "..." + s
	}
	if end < len(text) {
		s += "..."
	}
	return strings.Join(strings.Fields(s), " ")
}

func leading(text []rune, n int) string {
	if len(text) <= n {
		return string(text)
	}
	return string(text[:n]) + "..."
}
