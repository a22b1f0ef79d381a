package rocks

import (
	"fmt"
	"strings"

	"github.com/space-rocks/rocks/pkg/ssodnet"
)

// Rock is a fully materialized minor body: its canonical identity, the
// typed attribute tree of its ssoCard, and any datacloud catalogues that
// were requested. A Rock is immutable once constructed, except that later
// catalogue requests may add catalogues.
type Rock struct {
	Name   string
	Number *int64
	ID     string

	Attributes *PropertyCollection
	Catalogues map[string]*ColumnCatalogue

	Advisories []Advisory

	aliases map[string]string
}

func newRock(identity ssodnet.Identification) *Rock {
	return &Rock{
		Name:       identity.Name,
		Number:     identity.Number,
		ID:         identity.ID,
		Catalogues: map[string]*ColumnCatalogue{},
	}
}

// Found reports whether the identifier resolved to a known minor body.
func (r *Rock) Found() bool {
	return r.ID != ""
}

func (r *Rock) String() string {
	if r.Number != nil {
		return fmt.Sprintf("(%d) %s", *r.Number, r.Name)
	}
	return r.Name
}

// Equal compares by name only. This matches the historical behavior where
// two records of the same body compare equal regardless of numbering state.
func (r *Rock) Equal(other *Rock) bool {
	if other == nil {
		return false
	}
	return r.Name == other.Name
}

// Less orders primarily by number, with unnumbered bodies after all
// numbered ones, and breaks ties by name.
func (r *Rock) Less(other *Rock) bool {
	switch {
	case r.Number != nil && other.Number == nil:
		return true
	case r.Number == nil && other.Number != nil:
		return false
	case r.Number != nil && other.Number != nil && *r.Number != *other.Number:
		return *r.Number < *other.Number
	default:
		return r.Name < other.Name
	}
}

// Lookup resolves a dot separated attribute path against the Rock. The
// first segment may name a catalogue; otherwise the attribute tree is
// walked, with a fallback to the shortcut alias table so that the parameter
// group prefixes can be omitted (albedo instead of
// parameters.physical.albedo).
func (r *Rock) Lookup(path string) (any, error) {
	segments := strings.SplitN(path, ".", 2)

	if catalogue, ok := r.Catalogues[segments[0]]; ok {
		if catalogue == nil {
			return nil, notFoundf("catalogue %s holds no data for %s", segments[0], r.Name)
		}

		if len(segments) == 1 {
			return catalogue, nil
		}

		column, ok := catalogue.Column(segments[1])
		if !ok {
			return nil, notFoundf("catalogue %s has no column %s", segments[0], segments[1])
		}

		return column, nil
	}

	if r.Attributes == nil {
		return nil, notFoundf("no attributes materialized for %s", path)
	}

	member, err := r.Attributes.Lookup(path)
	if err == nil {
		return member, nil
	}

	if canonical, ok := r.aliases[segments[0]]; ok {
		aliased := canonical
		if len(segments) == 2 {
			aliased = canonical + "." + segments[1]
		}
		return r.Attributes.Lookup(aliased)
	}

	return nil, err
}

func (r *Rock) advise(code, message string) {
	r.Advisories = append(r.Advisories, Advisory{Code: code, Message: message})
}
