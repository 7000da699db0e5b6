// Package naming parses FMU structured variable names.
//
// A structured name is a '.'-separated path such as vehicle.body.speed.
// Segments containing separators or other special characters are quoted with
// single quotes (a.'x.y'.c); inside a quoted segment \' is a literal quote.
package naming

import (
	"fmt"
	"strings"

	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
)

const (
	separator = '.'
	quote     = '\''
	escape    = '\\'
)

// Parse splits name into its path segments.
func Parse(name string) ([]string, error) {
	if name == "" {
		return nil, malformed(name, 0, "empty name")
	}
	if name[0] == separator {
		return nil, malformed(name, 0, "name starts with a separator")
	}

	var (
		path    []string
		segment strings.Builder
		i       int
	)
	for i < len(name) {
		c := name[i]
		switch {
		case c == quote && segment.Len() == 0:
			end, err := readQuoted(name, i, &segment)
			if err != nil {
				return nil, err
			}
			i = end
			if i < len(name) && name[i] != separator {
				return nil, malformed(name, i, "unexpected character after quoted segment")
			}
			if segment.Len() == 0 {
				return nil, malformed(name, i, "empty quoted segment")
			}
		case c == separator:
			if segment.Len() == 0 {
				return nil, malformed(name, i, "two consecutive separators")
			}
			path = append(path, segment.String())
			segment.Reset()
			i++
			if i == len(name) {
				return nil, malformed(name, i-1, "name ends with a separator")
			}
		default:
			segment.WriteByte(c)
			i++
		}
	}
	return append(path, segment.String()), nil
}

// readQuoted consumes a quoted segment starting at the opening quote at
// position start and returns the index just past the closing quote.
func readQuoted(name string, start int, segment *strings.Builder) (int, error) {
	for i := start + 1; i < len(name); i++ {
		switch name[i] {
		case escape:
			if i+1 < len(name) && name[i+1] == quote {
				segment.WriteByte(quote)
				i++
				continue
			}
			segment.WriteByte(escape)
		case quote:
			return i + 1, nil
		default:
			segment.WriteByte(name[i])
		}
	}
	return 0, malformed(name, start, "unterminated quoted segment")
}

func malformed(name string, pos int, reason string) error {
	return bridgeerrors.Configurationf(fmt.Sprintf("name %q", name), bridgeerrors.ErrMalformedName, "%s at position %d", reason, pos)
}

// Root returns the first segment of path.
func Root(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return path[0]
}

// Join renders path back into a structured name, quoting segments that need it.
func Join(path []string) string {
	var sb strings.Builder
	for i, seg := range path {
		if i > 0 {
			sb.WriteByte(separator)
		}
		if strings.ContainsAny(seg, ".'") {
			sb.WriteByte(quote)
			sb.WriteString(strings.ReplaceAll(seg, "'", `\'`))
			sb.WriteByte(quote)
			continue
		}
		sb.WriteString(seg)
	}
	return sb.String()
}

// MustParse is like Parse but panics on error.
func MustParse(name string) []string {
	p, err := Parse(name)
	if err != nil {
		panic(err)
	}
	return p
}
