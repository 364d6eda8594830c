// Package config provides configuration loading and parsing for stagefire.
package config

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// node is one decoded value of the config file and the field path it was
// found at, such as "steps[2].depends_on". Decode errors name that path, the
// same way validation issues do.
type node struct {
	path  string
	value interface{}
}

func (n node) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %s", n.path, fmt.Sprintf(format, args...))
}

func (n node) child(key string) string {
	if n.path == "" {
		return key
	}
	return n.path + "." + key
}

// object is a mapping node. Keys are lowercased unless the mapping is keyed
// by user-chosen names.
type object struct {
	node
	fields map[string]interface{}
}

func (n node) object() (object, error) { return n.mapping(true) }

// namedObject keeps key case, for mappings keyed by metric names.
func (n node) namedObject() (object, error) { return n.mapping(false) }

func (n node) mapping(fold bool) (object, error) {
	normalize := func(key string) string {
		key = strings.TrimSpace(key)
		if fold {
			key = strings.ToLower(key)
		}
		return key
	}
	fields := map[string]interface{}{}
	switch v := n.value.(type) {
	case map[string]interface{}:
		for key, val := range v {
			fields[normalize(key)] = val
		}
	case map[interface{}]interface{}:
		for key, val := range v {
			fields[normalize(fmt.Sprint(key))] = val
		}
	default:
		return object{}, n.errorf("expected a mapping, got %s", describe(n.value))
	}
	return object{node: n, fields: fields}, nil
}

// get returns the first of keys present; the node's path uses keys[0].
func (o object) get(keys ...string) (node, bool) {
	for _, key := range keys {
		if val, ok := o.fields[strings.ToLower(key)]; ok {
			return node{path: o.child(keys[0]), value: val}, true
		}
	}
	return node{}, false
}

// keys lists the mapping's keys in sorted order.
func (o object) keys() []string {
	keys := make([]string, 0, len(o.fields))
	for key := range o.fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (o object) field(key string) node {
	return node{path: o.child(key), value: o.fields[key]}
}

func (o object) setString(target *string, keys ...string) error {
	n, ok := o.get(keys...)
	if !ok {
		return nil
	}
	val, err := n.text()
	if err != nil {
		return err
	}
	*target = strings.TrimSpace(val)
	return nil
}

func (o object) setInt(target *int, keys ...string) error {
	n, ok := o.get(keys...)
	if !ok {
		return nil
	}
	val, err := n.integer()
	if err != nil {
		return err
	}
	*target = val
	return nil
}

func (o object) setBool(target *bool, keys ...string) error {
	n, ok := o.get(keys...)
	if !ok {
		return nil
	}
	val, err := n.boolean()
	if err != nil {
		return err
	}
	*target = val
	return nil
}

func (o object) setDuration(target *time.Duration, keys ...string) error {
	n, ok := o.get(keys...)
	if !ok {
		return nil
	}
	val, err := n.duration()
	if err != nil {
		return err
	}
	*target = val
	return nil
}

// list returns the elements of a sequence node, each addressed as path[i].
func (n node) list() ([]node, error) {
	var items []interface{}
	switch v := n.value.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		items = v
	case []map[string]interface{}:
		for _, item := range v {
			items = append(items, item)
		}
	case []map[interface{}]interface{}:
		for _, item := range v {
			items = append(items, item)
		}
	default:
		return nil, n.errorf("expected a list, got %s", describe(n.value))
	}
	nodes := make([]node, len(items))
	for i, item := range items {
		nodes[i] = node{path: fmt.Sprintf("%s[%d]", n.path, i), value: item}
	}
	return nodes, nil
}

func (n node) text() (string, error) {
	switch v := n.value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	case map[string]interface{}, map[interface{}]interface{}, []interface{}:
		return "", n.errorf("expected a string, got %s", describe(v))
	default:
		return fmt.Sprint(v), nil
	}
}

func (n node) integer() (int, error) {
	switch v := n.value.(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint:
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float32:
		return n.wholeNumber(float64(v))
	case float64:
		return n.wholeNumber(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, n.errorf("%q is not an integer", v)
		}
		return i, nil
	default:
		return 0, n.errorf("expected an integer, got %s", describe(v))
	}
}

func (n node) wholeNumber(f float64) (int, error) {
	if f != math.Trunc(f) {
		return 0, n.errorf("%g is not a whole number", f)
	}
	return int(f), nil
}

func (n node) number() (float64, error) {
	switch v := n.value.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, n.errorf("%q is not a number", v)
		}
		return f, nil
	default:
		i, err := n.integer()
		if err != nil {
			return 0, n.errorf("expected a number, got %s", describe(v))
		}
		return float64(i), nil
	}
}

func (n node) boolean() (bool, error) {
	switch v := n.value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return false, n.errorf("%q is not a boolean", v)
		}
		return b, nil
	default:
		return false, n.errorf("expected a boolean, got %s", describe(v))
	}
}

// duration accepts Go duration strings; bare numbers are seconds.
func (n node) duration() (time.Duration, error) {
	switch v := n.value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, n.errorf("%q is not a duration", v)
		}
		return d, nil
	case float32, float64:
		f, _ := n.number()
		return time.Duration(f * float64(time.Second)), nil
	default:
		secs, err := n.integer()
		if err != nil {
			return 0, n.errorf("expected a duration, got %s", describe(v))
		}
		return time.Duration(secs) * time.Second, nil
	}
}

// strs accepts a list of strings or a single string.
func (n node) strs() ([]string, error) {
	switch v := n.value.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), v...), nil
	case string:
		return []string{v}, nil
	}
	items, err := n.list()
	if err != nil {
		return nil, n.errorf("expected a string or a list of strings, got %s", describe(n.value))
	}
	out := make([]string, len(items))
	for i, item := range items {
		if out[i], err = item.text(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ints accepts a list of integers or a single integer.
func (n node) ints() ([]int, error) {
	switch v := n.value.(type) {
	case nil:
		return nil, nil
	case []int:
		return append([]int(nil), v...), nil
	}
	items, err := n.list()
	if err != nil {
		i, err := n.integer()
		if err != nil {
			return nil, err
		}
		return []int{i}, nil
	}
	out := make([]int, len(items))
	for i, item := range items {
		if out[i], err = item.integer(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// headers decodes a name -> value mapping into canonical header names.
func (n node) headers() (map[string]string, error) {
	if n.value == nil {
		return nil, nil
	}
	if given, ok := n.value.(map[string]string); ok {
		m := make(map[string]interface{}, len(given))
		for k, v := range given {
			m[k] = v
		}
		n = node{path: n.path, value: m}
	}
	obj, err := n.namedObject()
	if err != nil {
		return nil, err
	}
	if len(obj.fields) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(obj.fields))
	for _, key := range obj.keys() {
		if key == "" {
			return nil, n.errorf("header name cannot be empty")
		}
		val, err := obj.field(key).text()
		if err != nil {
			return nil, err
		}
		out[http.CanonicalHeaderKey(key)] = val
	}
	return out, nil
}

func describe(value interface{}) string {
	switch value.(type) {
	case map[string]interface{}, map[interface{}]interface{}:
		return "a mapping"
	case []interface{}:
		return "a list"
	case string:
		return fmt.Sprintf("%q", value)
	default:
		return fmt.Sprintf("%v (%T)", value, value)
	}
}

func sortMetricDecls(decls []MetricDecl) {
	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
}
