// Package attrs reads values back out of slog-style attribute lists.
package attrs

import "log/slog"

// ExtractString returns the string stored under key in a list of alternating
// keys and values, which may also hold slog.Attr entries. The first match
// wins; a missing key or a non-string value yields "".
func ExtractString(list []any, key string) string {
	for i := 0; i < len(list); i++ {
		switch k := list[i].(type) {
		case slog.Attr:
			if k.Key == key && k.Value.Kind() == slog.KindString {
				return k.Value.String()
			}
		case string:
			if i+1 >= len(list) {
				return ""
			}
			if k == key {
				v, _ := list[i+1].(string)
				return v
			}
			i++
		}
	}
	return ""
}
