package pdftext

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// kerningGap is the TJ displacement (thousandths of an em) treated as a word gap.
const kerningGap = -250

// contentText collects the strings shown by text operators in a page content stream.
func contentText(data []byte) string {
	var (
		b        strings.Builder
		operands []string
		inArray  bool
	)
	emit := func(parts ...string) {
		for _, p := range parts {
			b.WriteString(p)
		}
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case isWhite(c):
			i++
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			s, n := readLiteral(data[i:])
			operands = append(operands, decodeString(s))
			i += n
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i += 2
		case c == '<':
			s, n := readHex(data[i:])
			operands = append(operands, decodeString(s))
			i += n
		case c == '>':
			i++
		case c == '[':
			inArray = true
			i++
		case c == ']':
			inArray = false
			i++
		case c == '/':
			i++
			for i < len(data) && !isWhite(data[i]) && !isDelim(data[i]) {
				i++
			}
		default:
			start := i
			for i < len(data) && !isWhite(data[i]) && !isDelim(data[i]) {
				i++
			}
			if i == start {
				// Unbalanced delimiter such as ')' or '{'.
				i++
				continue
			}
			tok := string(data[start:i])
			if v, err := strconv.ParseFloat(tok, 64); err == nil {
				if inArray && v <= kerningGap {
					operands = append(operands, " ")
				}
				continue
			}
			switch tok {
			case "Tj", "TJ":
				emit(operands...)
			case "'", `"`:
				b.WriteByte('\n')
				if len(operands) > 0 {
					emit(operands[len(operands)-1])
				}
			case "T*", "ET":
				b.WriteByte('\n')
			case "Td", "TD", "Tm":
				b.WriteByte(' ')
			case "BI":
				i = skipInlineImage(data, i)
			}
			operands = operands[:0]
		}
	}
	return b.String()
}

func isWhite(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// readLiteral decodes a balanced (...) string starting at data[0] and returns the
// bytes and the number of input bytes consumed.
func readLiteral(data []byte) ([]byte, int) {
	var out []byte
	depth := 0
	for i := 0; i < len(data); i++ {
		c := data[i]
		switch {
		case c == '(':
			depth++
			if depth > 1 {
				out = append(out, c)
			}
		case c == ')':
			depth--
			if depth == 0 {
				return out, i + 1
			}
			out = append(out, c)
		case c == '\\' && i+1 < len(data):
			i++
			switch e := data[i]; e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if i+1 < len(data) && data[i+1] == '\n' {
					i++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for k := 0; k < 2 && i+1 < len(data) && data[i+1] >= '0' && data[i+1] <= '7'; k++ {
						i++
						val = val*8 + int(data[i]-'0')
					}
					out = append(out, byte(val))
				} else {
					out = append(out, e)
				}
			}
		default:
			out = append(out, c)
		}
	}
	return out, len(data)
}

// readHex decodes a <...> string starting at data[0].
func readHex(data []byte) ([]byte, int) {
	end := bytes.IndexByte(data, '>')
	if end < 0 {
		end = len(data)
	}
	var digits []byte
	for _, c := range data[1:end] {
		if !isWhite(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for k := 0; k+1 < len(digits); k += 2 {
		v, err := strconv.ParseUint(string(digits[k:k+2]), 16, 8)
		if err != nil {
			continue
		}
		out = append(out, byte(v))
	}
	return out, min(end+1, len(data))
}

// decodeString maps PDF string bytes to text: UTF-16BE with a BOM, UTF-8 when
// valid, otherwise one rune per byte.
func decodeString(raw []byte) string {
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		units := make([]uint16, 0, (len(raw)-2)/2)
		for k := 2; k+1 < len(raw); k += 2 {
			units = append(units, uint16(raw[k])<<8|uint16(raw[k+1]))
		}
		return string(utf16.Decode(units))
	}
	if utf8.Valid(raw) {
		return string(raw)
	}
	runes := make([]rune, len(raw))
	for k, c := range raw {
		runes[k] = rune(c)
	}
	return string(runes)
}

// skipInlineImage advances past the binary data of an inline image.
func skipInlineImage(data []byte, i int) int {
	for j := i; j+2 < len(data); j++ {
		if isWhite(data[j]) && data[j+1] == 'E' && data[j+2] == 'I' && (j+3 == len(data) || isWhite(data[j+3])) {
			return j + 3
		}
	}
	return len(data)
}
