package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrSecretLiteral is returned when a credential is set to a literal value
// instead of an environment reference.
var ErrSecretLiteral = errors.New("credentials must be set as an environment reference like ${OPENAI_API_KEY}")

// Document is a config file held as raw JSON. Edits go through it rather than
// a loaded Config so that ${VAR} references are written back unexpanded.
type Document struct {
	path string
	tree map[string]any
}

// OpenDocument reads the config file at path without expanding environment
// references.
func OpenDocument(path string) (*Document, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	d := &Document{path: path}
	if err := json.Unmarshal(data, &d.tree); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if d.tree == nil {
		d.tree = make(map[string]any)
	}
	return d, nil
}

// isSecretPath reports whether a dot path names a credential, e.g.
// "llm.apiKey", "graph.password" or "llm.failoverChain.0.apiKey".
func isSecretPath(path string) bool {
	last := path[strings.LastIndexByte(path, '.')+1:]
	return last == "apiKey" || last == "password"
}

func isEnvReference(s string) bool {
	return s != "" && envVarPattern.FindString(s) == s
}

// Get returns the value at a dot path. Credentials are masked unless they are
// environment references.
func (d *Document) Get(path string) (any, error) {
	var current any = d.tree
	for _, key := range strings.Split(path, ".") {
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
				return nil, fmt.Errorf("invalid array index %q in %s", key, path)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	if s, ok := current.(string); ok && isSecretPath(path) {
		return maskSecret(s), nil
	}
	return current, nil
}

// Set stores value at a dot path, creating intermediate objects. Strings that
// look like booleans or numbers are stored as such. The result must still
// decode into a valid Config. Credentials only accept ${VAR} references, and
// general.domainsFile must name an existing file.
func (d *Document) Set(path, value string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if isSecretPath(path) && !isEnvReference(value) {
		return fmt.Errorf("%s: %w", path, ErrSecretLiteral)
	}
	if path == "general.domainsFile" {
		resolved := resolveRelative(ExpandPath(value), filepath.Dir(d.path))
		if _, err := os.Stat(resolved); err != nil {
			return fmt.Errorf("domains file: %w", err)
		}
	}

	parts := strings.Split(path, ".")
	var parent any = d.tree
	for _, key := range parts[:len(parts)-1] {
		switch v := parent.(type) {
		case map[string]any:
			child, ok := v[key]
			if !ok {
				child = make(map[string]any)
				v[key] = child
			}
			parent = child
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return fmt.Errorf("invalid array index %q in %s", key, path)
			}
			parent = v[idx]
		default:
			return fmt.Errorf("cannot traverse into %T at %s", parent, key)
		}
	}

	last := parts[len(parts)-1]
	switch v := parent.(type) {
	case map[string]any:
		v[last] = parseValue(value)
	case []any:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(v) {
			return fmt.Errorf("invalid array index %q in %s", last, path)
		}
		v[idx] = parseValue(value)
	default:
		return fmt.Errorf("cannot set %s inside %T", last, parent)
	}

	if _, err := d.decode(); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

// decode resolves the document the way Load does and validates the result.
// Unknown keys are rejected so a mistyped path is not saved silently.
func (d *Document) decode() (*Config, error) {
	data, err := json.Marshal(d.tree)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(ExpandEnvVars(string(data)))))
	dec.DisallowUnknownFields()
	cfg := Defaults()
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	cfg.General.DomainsFile = resolveRelative(ExpandPath(cfg.General.DomainsFile), filepath.Dir(d.path))
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the document back to its file.
func (d *Document) Save() error {
	data, err := json.MarshalIndent(d.tree, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(d.path, data, 0o600)
}

// List returns every leaf path with its value, credentials masked.
func (d *Document) List() map[string]any {
	out := make(map[string]any)
	flatten("", d.tree, out)
	for p, v := range out {
		if s, ok := v.(string); ok && isSecretPath(p) {
			out[p] = maskSecret(s)
		}
	}
	return out
}

// Paths returns the leaf paths of List in sorted order.
func (d *Document) Paths() []string {
	list := d.List()
	keys := make([]string, 0, len(list))
	for k := range list {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flatten(prefix string, v any, out map[string]any) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			flatten(join(k), child, out)
		}
	case []any:
		for i, child := range val {
			flatten(join(strconv.Itoa(i)), child, out)
		}
	default:
		out[prefix] = val
	}
}

func parseValue(s string) any {
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

func maskSecret(s string) string {
	switch {
	case s == "" || isEnvReference(s):
		return s
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
