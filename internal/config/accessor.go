package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Setting is one leaf of the config tree, addressed by its JSON path.
type Setting struct {
	Path  string
	Value any
}

// tree returns the config as generic JSON, the form paths are resolved in.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath returns the value at a dot path such as "relay.concurrency" or
// "telegram.allowFrom.0".
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	var cur any = m
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("%s: %q is a value, not a section", path, key)
		}
	}
	return cur, nil
}

// SetByPath assigns a CLI-provided value. The value is typed from its text
// (bool, integer, float, string); a string that does not fit a list field is
// retried as a comma separated list. Unknown keys are rejected and cfg is
// left untouched on error.
func SetByPath(cfg *Config, path string, value string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("empty path")
	}
	m, err := tree(cfg)
	if err != nil {
		return err
	}

	keys := strings.Split(path, ".")
	section := m
	for _, key := range keys[:len(keys)-1] {
		next, ok := section[key].(map[string]any)
		if !ok {
			return fmt.Errorf("set %s: no section %q", path, key)
		}
		section = next
	}
	leaf := keys[len(keys)-1]

	section[leaf] = typedValue(value)
	updated, err := decodeStrict(m)
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		section[leaf] = splitList(value)
		updated, err = decodeStrict(m)
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	*cfg = *updated
	return nil
}

func decodeStrict(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var out Config
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func typedValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Sanitize returns a copy with the bot token masked, safe to print.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Telegram.AllowFrom = slices.Clone(cfg.Telegram.AllowFrom)
	if c.Telegram.Token != "" {
		c.Telegram.Token = maskString(c.Telegram.Token)
	}
	return &c
}

// maskString keeps the first and last four characters.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf setting, sorted by path.
func ListPaths(cfg *Config) []Setting {
	m, err := tree(cfg)
	if err != nil {
		return nil
	}
	var out []Setting
	collectLeaves("", m, &out)
	slices.SortFunc(out, func(a, b Setting) int { return strings.Compare(a.Path, b.Path) })
	return out
}

func collectLeaves(prefix string, m map[string]any, out *[]Setting) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			collectLeaves(path, sub, out)
			continue
		}
		*out = append(*out, Setting{Path: path, Value: v})
	}
}
