package rocks

import (
	"strings"
)

// Materialize converts a merged attribute tree into its typed form: scalar
// leaves become properties, nested mappings become nested collections and
// lists of measurement records are transposed into column catalogues. The
// template paths drive a second pass that re-parents unit and uncertainty
// leaves onto their sibling value nodes.
func Materialize(tree map[string]any, templatePaths []string) *PropertyCollection {
	collection := materializeTree(tree)
	attachMetadata(collection, templatePaths)
	return collection
}

func materializeTree(tree map[string]any) *PropertyCollection {
	collection := NewPropertyCollection()

	for name, value := range tree {
		collection.Set(name, materializeNode(name, value))
	}

	return collection
}

func materializeNode(name string, value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return materializeTree(typed)
	case []any:
		if records, ok := recordList(typed); ok {
			return NewColumnCatalogue(name, records)
		}
		return propertyFromScalar(typed)
	default:
		return propertyFromScalar(value)
	}
}

// recordList reports whether a list is a datacloud style list of uniform
// records. An empty list counts and yields an empty catalogue, keeping the
// attribute usable for aggregation.
func recordList(list []any) ([]map[string]any, bool) {
	if len(list) == 0 {
		return nil, true
	}

	records := make([]map[string]any, len(list))
	for i, item := range list {
		record, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		records[i] = record
	}

	return records, true
}

// attachMetadata walks every template path containing a unit or uncertainty
// segment and re-parents the found value onto the sibling value node. Some
// metadata paths are structurally absent from a given card, so lookup
// misses are swallowed.
func attachMetadata(collection *PropertyCollection, templatePaths []string) {
	for _, meta := range []string{"unit", "uncertainty"} {
		for _, path := range templatePaths {
			if !hasSegment(path, meta) {
				continue
			}

			parentPath := stripSegment(path, meta)

			member, err := collection.Lookup(parentPath)
			if err != nil {
				continue
			}

			parent, ok := member.(*PropertyCollection)
			if !ok {
				continue
			}

			sibling, ok := parent.Get("value")
			if !ok {
				continue
			}

			target, ok := sibling.(*NumberProperty)
			if !ok {
				continue
			}

			metaMember, err := collection.Lookup(path)
			if err != nil {
				continue
			}

			switch meta {
			case "unit":
				if tp, ok := metaMember.(*TextProperty); ok && tp.Val != "" {
					target.UnitCode = &tp.Val
				}
			case "uncertainty":
				if np, ok := metaMember.(*NumberProperty); ok {
					target.Uncertainty_ = np
				}
			}
		}
	}
}

// stripSegment removes the first path segment that matches exactly, so a
// segment like units never loses part of its name to a unit match.
func stripSegment(path, segment string) string {
	segments := strings.Split(path, ".")

	kept := make([]string, 0, len(segments))
	removed := false

	for _, s := range segments {
		if !removed && s == segment {
			removed = true
			continue
		}
		kept = append(kept, s)
	}

	return strings.Join(kept, ".")
}

func hasSegment(path, segment string) bool {
	for _, s := range strings.Split(path, ".") {
		if s == segment {
			return true
		}
	}
	return false
}
