package extractor

import (
	"regexp"
)

// findRegex returns every match of re in body. When the pattern has a capture
// group, the first group is used, otherwise the full match.
func findRegex(body []byte, re *regexp.Regexp) []string {
	matches := re.FindAllSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	values := make([]string, 0, len(matches))
	for _, match := range matches {
		if len(match) > 1 {
			values = append(values, string(match[1]))
			continue
		}
		values = append(values, string(match[0]))
	}
	return values
}
