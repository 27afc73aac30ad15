package carddav

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-vcard"
)

// maxLineOctets is the longest line a vCard producer should emit, excluding
// the line break.
const maxLineOctets = 75

// contentLine is an unfolded vCard content line,
// [group "."] name *(";" param) ":" value.
type contentLine struct {
	// line is the physical line the content line starts on.
	line   int
	group  string
	name   string
	params vcard.Params
	// value is the raw value, escape sequences included.
	value string
}

// lineReader unfolds physical lines into logical content lines. CRLF and bare
// LF line breaks are both accepted.
type lineReader struct {
	sc      *bufio.Scanner
	physNum int

	pending    string
	pendingNum int
	hasPending bool
}

func newLineReader(r io.Reader) *lineReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &lineReader{sc: sc}
}

// next returns the next non-empty unfolded line and the number of the
// physical line it starts on. It returns io.EOF at the end of the input.
func (lr *lineReader) next() (string, int, error) {
	for {
		if !lr.sc.Scan() {
			if err := lr.sc.Err(); err != nil {
				return "", 0, err
			}
			if lr.hasPending {
				lr.hasPending = false
				return lr.pending, lr.pendingNum, nil
			}
			return "", 0, io.EOF
		}
		lr.physNum++
		l := strings.TrimSuffix(lr.sc.Text(), "\r")

		if l != "" && (l[0] == ' ' || l[0] == '\t') {
			if lr.hasPending {
				lr.pending += l[1:]
				continue
			}
			return "", 0, &CodecError{Line: lr.physNum, Err: fmt.Errorf("continuation line without a content line")}
		}

		prev, prevNum, hadPrev := lr.pending, lr.pendingNum, lr.hasPending
		lr.pending, lr.pendingNum, lr.hasPending = l, lr.physNum, l != ""
		if hadPrev {
			return prev, prevNum, nil
		}
	}
}

func parseContentLine(s string, num int) (*contentLine, error) {
	cl := &contentLine{line: num}
	fail := func(format string, a ...interface{}) (*contentLine, error) {
		return nil, &CodecError{Line: num, Err: fmt.Errorf(format, a...)}
	}

	i := strings.IndexAny(s, ";:")
	if i < 0 {
		return fail("missing ':' in content line")
	}
	name := s[:i]
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		cl.group, name = name[:dot], name[dot+1:]
	}
	if name == "" {
		return fail("empty property name")
	}
	cl.name = strings.ToUpper(name)
	s = s[i:]

	for s[0] == ';' {
		s = s[1:]
		i := strings.IndexAny(s, "=;:")
		if i < 0 {
			return fail("unterminated parameter in %v", cl.name)
		}
		pname := strings.ToUpper(s[:i])
		if s[i] != '=' {
			// vCard 2.1 style bare parameter, e.g. TEL;CELL:
			cl.addParam(vcard.ParamType, s[:i])
			s = s[i:]
			continue
		}
		s = s[i+1:]

		for {
			var value string
			if strings.HasPrefix(s, `"`) {
				end := strings.IndexByte(s[1:], '"')
				if end < 0 {
					return fail("unterminated quoted value for parameter %v", pname)
				}
				value, s = s[1:end+1], s[end+2:]
			} else {
				end := strings.IndexAny(s, ",;:")
				if end < 0 {
					return fail("unterminated parameter %v", pname)
				}
				value, s = s[:end], s[end:]
			}
			cl.addParam(pname, value)
			if s == "" {
				return fail("missing ':' in content line")
			}
			if s[0] != ',' {
				break
			}
			s = s[1:]
		}
		if s[0] != ';' && s[0] != ':' {
			return fail("unexpected %q after parameter %v", s[0], pname)
		}
	}

	cl.value = s[1:]
	return cl, nil
}

func (cl *contentLine) addParam(name, value string) {
	if cl.params == nil {
		cl.params = make(vcard.Params)
	}
	cl.params[name] = append(cl.params[name], value)
}

// types returns the TYPE parameter values joined with commas.
func (cl *contentLine) types() string {
	return strings.Join(cl.params[vcard.ParamType], ",")
}

// lineWriter writes folded content lines terminated by CRLF.
type lineWriter struct {
	w   io.Writer
	err error
}

func (lw *lineWriter) writeLine(s string) {
	if lw.err != nil {
		return
	}
	var sb strings.Builder
	limit := maxLineOctets
	for len(s) > limit {
		n := limit
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		sb.WriteString(s[:n])
		sb.WriteString("\r\n ")
		s = s[n:]
		// The leading space of continuation lines counts towards the limit.
		limit = maxLineOctets - 1
	}
	sb.WriteString(s)
	sb.WriteString("\r\n")
	_, lw.err = io.WriteString(lw.w, sb.String())
}

// writeProp writes one property. value must already be escaped. Names that
// are not vCard names and values that can't be written on one content line
// are rejected.
func (lw *lineWriter) writeProp(group, name string, params vcard.Params, value string) {
	if lw.err != nil {
		return
	}
	if lw.err = checkProp(group, name, params, value); lw.err != nil {
		return
	}

	var sb strings.Builder
	if group != "" {
		sb.WriteString(group)
		sb.WriteByte('.')
	}
	sb.WriteString(name)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values := params[k]
		if len(values) == 0 {
			continue
		}
		sb.WriteByte(';')
		sb.WriteString(k)
		sb.WriteByte('=')
		for i, v := range values {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(formatParamValue(v))
		}
	}

	sb.WriteByte(':')
	sb.WriteString(value)
	lw.writeLine(sb.String())
}

func checkProp(group, name string, params vcard.Params, value string) error {
	if group != "" && !isName(group) {
		return fmt.Errorf("carddav: invalid group %q for property %v", group, name)
	}
	if !isName(name) {
		return fmt.Errorf("carddav: invalid property name %q", name)
	}
	for k, values := range params {
		if !isName(k) {
			return fmt.Errorf("carddav: invalid parameter name %q in %v", k, name)
		}
		for _, v := range values {
			if strings.ContainsAny(v, "\r\n\"") {
				return fmt.Errorf("carddav: parameter %v of %v can't hold %q", k, name, v)
			}
		}
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("carddav: value of %v contains a line break", name)
	}
	return nil
}

// isName reports whether s is a vCard name: letters, digits and '-'.
func isName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' || c == '-') {
			return false
		}
	}
	return true
}

func formatParamValue(v string) string {
	if strings.ContainsAny(v, ";:,") {
		return `"` + v + `"`
	}
	return v
}

// typeParams turns a comma-joined type list back into a TYPE parameter.
func typeParams(types string) vcard.Params {
	if types == "" {
		return nil
	}
	return vcard.Params{vcard.ParamType: strings.Split(types, ",")}
}

// textEscaper escapes a text value. Line breaks, including a bare CR, become
// "\n".
var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\r\n", `\n`,
	"\n", `\n`,
	"\r", `\n`,
	",", `\,`,
	";", `\;`,
)

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

// escapeComponent escapes a component of a structured value, leaving the
// ';' separators of s intact.
func escapeComponent(s string) string {
	parts := strings.Split(s, ";")
	for i, p := range parts {
		parts[i] = escapeText(p)
	}
	return strings.Join(parts, ";")
}

func unescapeText(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			sb.WriteByte('\n')
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// splitStructured splits a structured value on unescaped semicolons and
// unescapes each component.
func splitStructured(s string) []string {
	var (
		parts []string
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case ';':
			parts = append(parts, unescapeText(s[start:i]))
			start = i + 1
		}
	}
	return append(parts, unescapeText(s[start:]))
}
