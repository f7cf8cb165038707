package jobanalysis

import (
	"encoding/json"
	"regexp"
	"strings"
)

var reBullet = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)])\s*`)

// stringList tolerates list-shaped fields coming back from the model as a
// newline-delimited string instead of a JSON array, and normalizes either form
// into a clean slice. Kept deliberately lenient; see DESIGN.md.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = cleanLines(arr)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = cleanLines(strings.Split(s, "\n"))
	return nil
}

// cleanLines trims whitespace, strips leading bullet/numbering markers and
// drops empty entries.
func cleanLines(in []string) []string {
	out := make([]string, 0, len(in))
	for _, line := range in {
		line = reBullet.ReplaceAllString(strings.TrimSpace(line), "")
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
