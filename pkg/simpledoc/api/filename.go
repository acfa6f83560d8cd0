package api

import (
	"net/url"
	"strings"
	"unicode"
)

// latinFold maps accented Latin letters to their ASCII base letter.
var latinFold = []struct {
	lo, hi rune
	ascii  rune
}{
	{'À', 'Å', 'A'},
	{'à', 'å', 'a'},
	{'È', 'Ë', 'E'},
	{'è', 'ë', 'e'},
	{'Ì', 'Ï', 'I'},
	{'ì', 'ï', 'i'},
	{'Ò', 'Ö', 'O'},
	{'ò', 'ö', 'o'},
	{'Ù', 'Ü', 'U'},
	{'ù', 'ü', 'u'},
	{'Ç', 'Ç', 'C'},
	{'ç', 'ç', 'c'},
	{'Ñ', 'Ñ', 'N'},
	{'ñ', 'ñ', 'n'},
}

// asciiFilename converts a document name to a printable ASCII filename safe
// inside a quoted header parameter. Accented Latin letters lose their
// diacritics; anything else becomes '-'.
func asciiFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '"' || r == '\\':
			b.WriteRune('-')
		case r < 128 && unicode.IsPrint(r):
			b.WriteRune(r)
		default:
			b.WriteRune(foldLatin(r))
		}
	}
	return b.String()
}

func foldLatin(r rune) rune {
	if !unicode.Is(unicode.Latin, r) {
		return '-'
	}
	for _, f := range latinFold {
		if r >= f.lo && r <= f.hi {
			return f.ascii
		}
	}
	return '-'
}

// contentDisposition builds an attachment header carrying both the ASCII
// fallback and the RFC 5987 UTF-8 name.
func contentDisposition(name string) string {
	ascii := asciiFilename(name)
	header := `attachment; filename="` + ascii + `"`
	if ascii != name {
		header += "; filename*=UTF-8''" + url.PathEscape(name)
	}
	return header
}
