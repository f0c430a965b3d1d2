package main

import (
	"fmt"
	"sort"
	"strings"
)

var nameReplacer = strings.NewReplacer(" ", "_", "-", "_", ".", "_")

func normalizeName(name string) string {
	name = nameReplacer.Replace(strings.ToLower(strings.TrimSpace(name)))
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return strings.Trim(name, "_")
}

// resolveNamedID maps user input to an ID. options is label -> ID. Input
// may be an ID, a label in any case or separator style, or a prefix that
// matches exactly one label.
func resolveNamedID(kind, input string, options map[string]string) (string, error) {
	needle := normalizeName(input)
	var prefixed []string
	for label, id := range options {
		if id == input || normalizeName(label) == needle {
			return id, nil
		}
		if needle != "" && strings.HasPrefix(normalizeName(label), needle) {
			prefixed = append(prefixed, label)
		}
	}
	if len(prefixed) == 1 {
		return options[prefixed[0]], nil
	}

	available := make([]string, 0, len(options))
	for label := range options {
		available = append(available, label)
	}
	sort.Strings(available)
	if len(prefixed) > 1 {
		sort.Strings(prefixed)
		return "", fmt.Errorf("%s %q is ambiguous: %s", kind, input, strings.Join(prefixed, ", "))
	}
	return "", fmt.Errorf("%s %q not found. Available: %s", kind, input, strings.Join(available, ", "))
}
