package envelope

// Decode converts percent-encoded sequences like %2f into their byte values.
// It matches the browser's decodeURIComponent byte-wise: '+' is left as-is
// and stray '%' without two trailing hex digits passes through unchanged.
func Decode(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			hi := fromHex(s[i+1])
			lo := fromHex(s[i+2])
			b = append(b, hi<<4|lo)
			i += 2
		} else {
			b = append(b, c)
		}
	}
	return string(b)
}

// Encode percent-encodes s the way encodeURIComponent does: every byte
// outside A-Za-z0-9 and -_.!~*'() becomes %XX with uppercase hex.
func Encode(s string) string {
	b := make([]byte, 0, len(s)+len(s)/4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b = append(b, c)
			continue
		}
		b = append(b, '%', toHex(c>>4), toHex(c&0x0f))
	}
	return string(b)
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

func toHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + n - 10
}
