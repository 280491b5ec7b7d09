package msgcat

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var defaultMessages []byte

// Notice keys rendered for user-visible failures.
const (
	KeyCreateFailed = "notice.create_failed"
	KeyAcceptFailed = "notice.accept_failed"
	KeyStartFailed  = "notice.start_failed"
	KeyCancelled    = "notice.cancelled"

	KeyMatchFound   = "quickmatch.found"
	KeyMatchBot     = "quickmatch.bot"
	KeyMatchStarted = "quickmatch.started"
	KeyInvited      = "challenge.invited"
)

var requiredKeys = []string{
	KeyCreateFailed, KeyAcceptFailed, KeyStartFailed, KeyCancelled,
	KeyMatchFound, KeyMatchBot, KeyMatchStarted, KeyInvited,
}

// Catalog holds parsed notice templates keyed by dotted path
// (notice.cancelled, quickmatch.found, ...). It is read-only after New.
type Catalog struct {
	templates map[string]*template.Template
}

// New parses the embedded English messages, then lays every *.yaml/*.yml
// file of overrideDir on top. A key may be overridden by one file only.
func New(overrideDir string) (*Catalog, error) {
	texts, err := flatten(defaultMessages)
	if err != nil {
		return nil, fmt.Errorf("embedded messages: %w", err)
	}
	if dir := strings.TrimSpace(overrideDir); dir != "" {
		overrides, err := loadOverrides(dir)
		if err != nil {
			return nil, err
		}
		for k, v := range overrides {
			texts[k] = v
		}
	}

	c := &Catalog{templates: make(map[string]*template.Template, len(texts))}
	for key, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		tpl, err := template.New(key).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", key, err)
		}
		c.templates[key] = tpl
	}
	for _, key := range requiredKeys {
		if _, ok := c.templates[key]; !ok {
			return nil, fmt.Errorf("message %s missing", key)
		}
	}
	return c, nil
}

func loadOverrides(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read template dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)

	out := make(map[string]string)
	origin := make(map[string]string)
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		flat, err := flatten(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		for k, v := range flat {
			if prev, dup := origin[k]; dup {
				return nil, fmt.Errorf("message %s set in both %s and %s", k, prev, name)
			}
			origin[k] = name
			out[k] = v
		}
	}
	return out, nil
}

// flatten turns nested YAML maps into dotted keys; leaves must be strings.
func flatten(raw []byte) (map[string]string, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	var walk func(prefix string, node any) error
	walk = func(prefix string, node any) error {
		switch v := node.(type) {
		case map[string]any:
			for k, child := range v {
				if err := walk(joinKey(prefix, k), child); err != nil {
					return err
				}
			}
		case string:
			out[prefix] = v
		case nil:
		default:
			return fmt.Errorf("%s: expected string, got %T", prefix, v)
		}
		return nil
	}
	for k, v := range tree {
		if err := walk(k, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func joinKey(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + "." + k
}

// Render executes the template for key. Fields the template needs but data
// lacks are an error.
func (c *Catalog) Render(key string, data any) (string, error) {
	tpl, ok := c.templates[strings.TrimSpace(key)]
	if !ok {
		return "", fmt.Errorf("template not found: %s", key)
	}
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Notice renders key, falling back to a plain line if the template fails.
// A nil catalog always falls back.
func (c *Catalog) Notice(key string, data map[string]any) string {
	if c != nil {
		if s, err := c.Render(key, data); err == nil {
			return s
		}
	}
	if reason, ok := data["Reason"]; ok {
		return fmt.Sprintf("%s: %v", key, reason)
	}
	return key
}
