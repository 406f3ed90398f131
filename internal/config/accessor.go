package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// GetByPath retrieves a config value by dot-notation path (e.g. "relay.historyLimit").
func GetByPath(cfg *Config, path string) (any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	parts := strings.Split(path, ".")
	var current any = m
	for _, key := range parts {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path. The raw string is
// converted to the type of the current value (comma-separated for lists), so
// a numeric Telegram token stays a string. Paths that do not map to a config
// field are rejected instead of being silently dropped.
func SetByPath(cfg *Config, path string, raw string) error {
	parts := strings.Split(path, ".")
	if path == "" {
		return fmt.Errorf("empty path")
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok || child == nil {
			// Map-valued sections (providers, selectors) may gain new keys.
			next := make(map[string]any)
			parent[key] = next
			parent = next
			continue
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot traverse into %T at %s", child, key)
		}
		parent = childMap
	}

	last := parts[len(parts)-1]
	current := parent[last]
	value, err := coerce(current, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	parent[last] = value

	updated, err := decodeMap(m)
	if err != nil && current == nil {
		// Empty optional fields are omitted or null, so a guessed type can
		// miss. Retry as a plain string and then as a list.
		for _, alt := range []any{raw, splitList(raw)} {
			parent[last] = alt
			if updated, err = decodeMap(m); err == nil {
				break
			}
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if raw != "" {
		if _, err := GetByPath(updated, path); err != nil {
			return fmt.Errorf("unknown config key: %s", path)
		}
	}
	*cfg = *updated
	return nil
}

func splitList(raw string) []any {
	items := []any{}
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func decodeMap(m map[string]any) (*Config, error) {
	out, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(out, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// coerce converts raw to the JSON type of current. Without a current value
// the type is guessed from the text.
func coerce(current any, raw string) (any, error) {
	switch current.(type) {
	case string:
		return raw, nil
	case bool:
		return strconv.ParseBool(raw)
	case float64:
		return strconv.ParseFloat(raw, 64)
	case []any:
		return splitList(raw), nil
	}

	if b, err := strconv.ParseBool(raw); err == nil {
		return b, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, nil
	}
	return raw, nil
}

// Sanitize returns a copy of the config with credentials masked, for `config list` and `status`.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg
	}

	for name, prov := range out.Providers {
		prov.APIKey = maskString(prov.APIKey)
		out.Providers[name] = prov
	}
	out.Transcription.APIKey = maskString(out.Transcription.APIKey)
	out.Channels.Telegram.Token = maskString(out.Channels.Telegram.Token)
	out.Channels.WhatsApp.AccessToken = maskString(out.Channels.WhatsApp.AccessToken)
	out.Channels.WhatsApp.AppSecret = maskString(out.Channels.WhatsApp.AppSecret)
	out.Channels.WhatsApp.VerifyToken = maskString(out.Channels.WhatsApp.VerifyToken)
	if out.RelayLog.Driver == "postgres" {
		out.RelayLog.DSN = maskDSN(out.RelayLog.DSN)
	}

	return &out
}

// maskDSN hides the password of a postgres URL.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns all settable config paths with their current values.
func ListPaths(cfg *Config) map[string]any {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	result := make(map[string]any)
	flattenMap("", m, result)
	return result
}

// SortedPaths returns the keys of ListPaths in lexical order.
func SortedPaths(paths map[string]any) []string {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flattenMap(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flattenMap(path, val, result)
		default:
			result[path] = val
		}
	}
}
