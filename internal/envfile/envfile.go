// Package envfile turns a configuration profile payload into name/value pairs.
//
// Plain text payloads follow dotenv rules: one KEY=VALUE per line, blank lines
// and lines starting with # skipped, lines without = skipped. Names and values are
// trimmed and surrounding quotes removed from values. JSON and YAML profiles are
// read as a flat top-level object, in document order.
package envfile

import (
	"mime"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/UKHomeOffice/albsync/internal/fault"
	"github.com/UKHomeOffice/albsync/internal/lines"
)

// Entry is one environment variable
type Entry struct {
	Name  string
	Value string
}

// Parse picks a parser from the AppConfig content type
func Parse(contentType string, payload []byte) ([]Entry, error) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch mt {
	case "application/json":
		return parseJSON(payload)
	case "application/x-yaml", "application/yaml", "text/yaml":
		return parseYAML(payload)
	default:
		return ParseDotenv(string(payload)), nil
	}
}

// ParseDotenv never fails; unusable lines are dropped
func ParseDotenv(s string) []Entry {
	entries := make([]Entry, 0)
	for _, line := range lines.Split(s) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.Index(line, "=")
		if i < 0 {
			continue
		}
		name := strings.TrimSpace(line[:i])
		if name == "" {
			continue
		}
		value := strings.TrimSpace(line[i+1:])
		value = strings.Trim(value, "'")
		value = strings.Trim(value, `"`)
		entries = append(entries, Entry{Name: name, Value: value})
	}
	return entries
}

func parseJSON(payload []byte) ([]Entry, error) {
	if len(strings.TrimSpace(string(payload))) == 0 {
		return []Entry{}, nil
	}
	if !gjson.ValidBytes(payload) {
		return nil, fault.Invalid("configuration is not valid JSON")
	}
	doc := gjson.ParseBytes(payload)
	if !doc.IsObject() {
		return nil, fault.Invalid("JSON configuration must be an object, got %v", doc.Type)
	}

	entries := make([]Entry, 0)
	doc.ForEach(func(key, value gjson.Result) bool {
		e := Entry{Name: key.String()}
		switch value.Type {
		case gjson.String:
			e.Value = value.Str
		case gjson.Null:
		default:
			e.Value = value.Raw
		}
		entries = append(entries, e)
		return true
	})
	return entries, nil
}

func parseYAML(payload []byte) ([]Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return nil, fault.Invalid("configuration is not valid YAML: %v", err)
	}

	entries := make([]Entry, 0)
	if len(doc.Content) == 0 {
		return entries, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fault.Invalid("YAML configuration must be a mapping")
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if value.Kind == yaml.AliasNode {
			value = value.Alias
		}
		v, err := yamlValue(value)
		if err != nil {
			return nil, fault.Invalid("could not encode value of %s: %v", key.Value, err)
		}
		entries = append(entries, Entry{Name: key.Value, Value: v})
	}
	return entries, nil
}

func yamlValue(n *yaml.Node) (string, error) {
	if n.Kind == yaml.ScalarNode {
		if n.ShortTag() == "!!null" {
			return "", nil
		}
		return n.Value, nil
	}
	// nested values are flattened to flow style, e.g. [a, b] or {k: v}
	n.Style = yaml.FlowStyle
	out, err := yaml.Marshal(n)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
