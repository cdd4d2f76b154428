package identity

import (
	"errors"
	"unicode/utf8"
)

var ErrInvalidUTF8 = errors.New("content is not valid UTF-8")

// Encode returns the canonical bytes signed for content: its UTF-8 encoding,
// verbatim. No normalization is applied, so "\r\n" and "\n" sign differently.
func Encode(content string) ([]byte, error) {
	if !utf8.ValidString(content) {
		return nil, ErrInvalidUTF8
	}
	return []byte(content), nil
}
