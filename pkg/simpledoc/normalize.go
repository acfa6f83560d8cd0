package simpledoc

import (
	"sort"
	"strings"
)

// NormalizeTags lowercases, trims and deduplicates tags, returning them sorted.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NormalizeFileType lowercases a file type and drops a leading dot.
func NormalizeFileType(s string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
}

// NormalizeFileTypes applies NormalizeFileType to each entry, dropping blanks.
func NormalizeFileTypes(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		if n := NormalizeFileType(t); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func (u MetadataUpdate) apply(m Metadata) Metadata {
	out := m.Clone()
	if u.Name != nil {
		out.Name = strings.TrimSpace(*u.Name)
	}
	if u.FileType != nil {
		out.FileType = NormalizeFileType(*u.FileType)
	}
	if u.Tags != nil {
		out.Tags = NormalizeTags(u.Tags)
	}
	if u.Extra != nil {
		out.Extra = make(map[string]string, len(u.Extra))
		for k, v := range u.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
