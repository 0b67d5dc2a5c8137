// Package lines splits text on every line boundary Python's str.splitlines knows:
// \n, \r, \r\n, \v, \f, \x1c-\x1e, U+0085, U+2028 and U+2029.
package lines

import (
	"bufio"
	"strings"
	"unicode/utf8"
)

func isBreak(r rune) bool {
	switch r {
	case '\n', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}

// ScanLines is a bufio.SplitFunc. Terminators are not part of the token and a
// final line without one is still returned.
func ScanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for i := 0; i < len(data); {
		if data[i] == '\r' {
			switch {
			case i+1 < len(data) && data[i+1] == '\n':
				return i + 2, data[:i], nil
			case i+1 < len(data) || atEOF:
				return i + 1, data[:i], nil
			default:
				// a \n may follow in the next read
				return 0, nil, nil
			}
		}
		r, size := utf8.DecodeRune(data[i:])
		if isBreak(r) {
			return i + size, data[:i], nil
		}
		i += size
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Split returns the lines of s
func Split(s string) []string {
	out := make([]string, 0)

	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 0, 64*1024), len(s)+1)
	sc.Split(ScanLines)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}
