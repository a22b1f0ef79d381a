package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	ssoerrors "github.com/space-rocks/rocks/pkg/ssodnet/errors"
)

// Template is the versioned reference schema for ssoCards: the full set of
// attribute paths the service knows about, with default values and
// unit/uncertainty metadata. Merging any retrieved card against it yields a
// tree with the exact same shape every time.
type Template struct {
	version string
	root    map[string]any
	paths   []string
}

func NewTemplate(payload json.RawMessage, version string) (*Template, error) {
	root := map[string]any{}

	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("failed to decode template: %s (%w)", err.Error(), ssoerrors.ErrMalformedDocument)
	}

	t := &Template{
		version: version,
		root:    SanitizeKeys(root),
	}
	t.paths = flatten("", t.root)

	return t, nil
}

func (t *Template) Version() string {
	return t.version
}

// Paths returns every attribute path in the template as a sorted list of
// dotted leaf paths.
func (t *Template) Paths() []string {
	return t.paths
}

// Merge combines a retrieved card with the template. Document values win
// over template defaults, keys unknown to the template are dropped, and the
// result always carries every template key. Merging is idempotent.
func (t *Template) Merge(payload json.RawMessage) (map[string]any, error) {
	doc := map[string]any{}

	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %s (%w)", err.Error(), ssoerrors.ErrMalformedDocument)
	}

	return mergeTrees(t.root, SanitizeKeys(doc)), nil
}

func mergeTrees(template, doc map[string]any) map[string]any {
	merged := make(map[string]any, len(template))

	for key, defaultValue := range template {
		templateChild, templateIsTree := defaultValue.(map[string]any)
		docValue, inDoc := doc[key]

		if !inDoc {
			if templateIsTree {
				merged[key] = mergeTrees(templateChild, map[string]any{})
			} else {
				merged[key] = defaultValue
			}
			continue
		}

		docChild, docIsTree := docValue.(map[string]any)

		if templateIsTree && docIsTree {
			merged[key] = mergeTrees(templateChild, docChild)
			continue
		}

		if templateIsTree != docIsTree {
			// Structural conflict: the template defines the shape, so the
			// incompatible document value can not win here.
			if templateIsTree {
				merged[key] = mergeTrees(templateChild, map[string]any{})
			} else {
				merged[key] = defaultValue
			}
			continue
		}

		merged[key] = docValue
	}

	return merged
}

// reservedWords are attribute names that collide with identifier-like words
// in consumer path expressions. They get an underscore suffix, so the ssoCard
// taxonomy class becomes class_.
var reservedWords = map[string]struct{}{
	"break": {}, "case": {}, "chan": {}, "class": {}, "const": {},
	"continue": {}, "default": {}, "defer": {}, "else": {}, "fallthrough": {},
	"for": {}, "func": {}, "go": {}, "goto": {}, "if": {}, "import": {},
	"interface": {}, "map": {}, "package": {}, "range": {}, "return": {},
	"select": {}, "struct": {}, "switch": {}, "type": {}, "var": {},
}

// Reserved reports whether an attribute name collides with a reserved word
// and is therefore stored with an underscore suffix.
func Reserved(word string) bool {
	_, reserved := reservedWords[word]
	return reserved
}

// SanitizeKeys renames reserved attribute names throughout a document tree,
// including inside lists of measurement records.
func SanitizeKeys(tree map[string]any) map[string]any {
	sanitized := make(map[string]any, len(tree))

	for key, value := range tree {
		if _, reserved := reservedWords[key]; reserved {
			key = key + "_"
		}

		switch typed := value.(type) {
		case map[string]any:
			sanitized[key] = SanitizeKeys(typed)
		case []any:
			list := make([]any, len(typed))
			for i, item := range typed {
				if record, ok := item.(map[string]any); ok {
					list[i] = SanitizeKeys(record)
				} else {
					list[i] = item
				}
			}
			sanitized[key] = list
		default:
			sanitized[key] = value
		}
	}

	return sanitized
}

func flatten(prefix string, tree map[string]any) []string {
	paths := make([]string, 0, len(tree))

	for key, value := range tree {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		if child, ok := value.(map[string]any); ok {
			paths = append(paths, flatten(path, child)...)
			continue
		}

		paths = append(paths, path)
	}

	if prefix == "" {
		sort.Strings(paths)
	}

	return paths
}

// Shortcuts builds the alias table that lets consumers omit the parameter
// group prefixes, mapping e.g. albedo to parameters.physical.albedo. Built
// once per template; ambiguous names keep their first mapping in path order.
func (t *Template) Shortcuts() map[string]string {
	aliases := map[string]string{}

	for _, prefix := range []string{"parameters.physical.", "parameters.dynamical."} {
		for _, path := range t.paths {
			if !strings.HasPrefix(path, prefix) {
				continue
			}

			rest := strings.TrimPrefix(path, prefix)
			name := rest
			if idx := strings.Index(rest, "."); idx >= 0 {
				name = rest[:idx]
			}

			if _, taken := aliases[name]; !taken {
				aliases[name] = prefix + name
			}
		}
	}

	return aliases
}
