package component

import (
	"fmt"
	"strings"
)

// adjuster rewrites rendered config contents before they are written.
type adjuster func(contents string) string

var adjusters = map[string]adjuster{
	"":               func(s string) string { return s },
	"strip-comments": stripComments,
}

func lookupAdjuster(name string) (adjuster, error) {
	a, ok := adjusters[name]
	if !ok {
		return nil, fmt.Errorf("unknown config adjustment %q", name)
	}
	return a, nil
}

// stripComments drops blank lines and lines starting with '#' or ';'.
func stripComments(contents string) string {
	var b strings.Builder
	for _, line := range strings.Split(contents, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
