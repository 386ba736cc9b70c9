package facet

import "strings"

// FormatIdentity renders Kind:name1=value1,name2=value2 using the order of
// names. values is looked up by name; absent names render empty.
func FormatIdentity(kind string, names []string, values func(string) string) string {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte(':')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(values(name))
	}
	return b.String()
}

// SplitURL returns the address part of search-service URL strings of the
// form address|mime-type|service. Plain addresses are returned unchanged.
func SplitURL(raw string) string {
	addr, _, _ := strings.Cut(strings.TrimSpace(raw), "|")
	return addr
}
