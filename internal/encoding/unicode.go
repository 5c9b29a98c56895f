package encoding

import (
	"unicode/utf16"
)

// ToUTF16LE converts a Go string to UTF-16LE encoded bytes.
// MINIDUMP_STRING buffers and wide strings in process memory use this form.
func ToUTF16LE(s string) []byte {
	runes := utf16.Encode([]rune(s))

	b := make([]byte, len(runes)*2)
	for i, r := range runes {
		b[i*2] = byte(r)
		b[i*2+1] = byte(r >> 8)
	}
	return b
}

// FromUTF16LE converts UTF-16LE encoded bytes to a Go string, stopping at
// the first NUL code unit. A trailing odd byte is ignored.
func FromUTF16LE(b []byte) string {
	if len(b) < 2 {
		return ""
	}

	u16s := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		c := uint16(b[i]) | uint16(b[i+1])<<8
		if c == 0 {
			break
		}
		u16s = append(u16s, c)
	}

	return string(utf16.Decode(u16s))
}
