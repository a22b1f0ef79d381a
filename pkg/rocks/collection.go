package rocks

import (
	"fmt"
	"sort"
	"strings"

	ssoerrors "github.com/space-rocks/rocks/pkg/ssodnet/errors"
)

func notFoundf(format string, args ...any) error {
	return ssoerrors.NewNotFoundError(fmt.Sprintf(format, args...))
}

// PropertyCollection groups named attributes: scalar properties, nested
// collections and column catalogues. It mirrors the nesting of the merged
// attribute tree.
type PropertyCollection struct {
	members map[string]any
}

func NewPropertyCollection() *PropertyCollection {
	return &PropertyCollection{
		members: map[string]any{},
	}
}

func (pc *PropertyCollection) Set(name string, member any) {
	pc.members[name] = member
}

func (pc *PropertyCollection) Get(name string) (any, bool) {
	member, ok := pc.members[name]
	return member, ok
}

func (pc *PropertyCollection) Names() []string {
	names := make([]string, 0, len(pc.members))
	for name := range pc.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (pc *PropertyCollection) ForEachAttribute(callback func(name string, member any)) {
	for _, name := range pc.Names() {
		callback(name, pc.members[name])
	}
}

// Lookup walks a dot separated attribute path and returns whatever node it
// ends on: a Property, a nested *PropertyCollection or a *ColumnCatalogue.
func (pc *PropertyCollection) Lookup(path string) (any, error) {
	current := pc
	segments := strings.Split(path, ".")

	for i, segment := range segments {
		member, ok := current.Get(segment)
		if !ok {
			return nil, ssoerrors.NewNotFoundError(fmt.Sprintf("unknown attribute %s", path))
		}

		if i == len(segments)-1 {
			return member, nil
		}

		next, ok := member.(*PropertyCollection)
		if !ok {
			return nil, ssoerrors.NewNotFoundError(fmt.Sprintf("attribute %s has no members below %s", path, segment))
		}

		current = next
	}

	return current, nil
}

// LookupProperty is Lookup restricted to scalar leaves.
func (pc *PropertyCollection) LookupProperty(path string) (Property, error) {
	member, err := pc.Lookup(path)
	if err != nil {
		return nil, err
	}

	property, ok := member.(Property)
	if !ok {
		return nil, ssoerrors.NewNotFoundError(fmt.Sprintf("attribute %s is not a scalar property", path))
	}

	return property, nil
}
