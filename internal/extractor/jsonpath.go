package extractor

import (
	"github.com/tidwall/gjson"
)

// findJSONPath evaluates path with gjson, accepting both "$.field" and
// "field" syntax. Arrays yield one candidate per non-null element.
func findJSONPath(body []byte, path string) ([]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrUnparseable
	}

	if len(path) > 0 && path[0] == '$' {
		if len(path) > 1 && path[1] == '.' {
			path = path[2:]
		} else if len(path) == 1 {
			path = "@this"
		}
	}

	result := gjson.GetBytes(body, path)
	if !result.Exists() || result.Type == gjson.Null {
		return nil, nil
	}
	if !result.IsArray() {
		return []string{result.String()}, nil
	}

	var values []string
	for _, item := range result.Array() {
		if item.Type == gjson.Null {
			continue
		}
		values = append(values, item.String())
	}
	return values, nil
}

// Exists reports whether path resolves to a value in a JSON body.
func Exists(body []byte, path string) bool {
	values, err := findJSONPath(body, path)
	return err == nil && len(values) > 0
}
