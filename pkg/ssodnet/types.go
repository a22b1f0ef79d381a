package ssodnet

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind selects which class of document a fetch operates on.
type Kind string

const (
	KindCard      Kind = "card"
	KindCatalogue Kind = "catalogue"
	KindMeta      Kind = "meta"
)

func (k Kind) Valid() bool {
	return k == KindCard || k == KindCatalogue || k == KindMeta
}

// Identification is the canonical identity triple for a minor body. All
// aliases of the same physical object resolve to the same triple. A zero
// value means the identifier could not be resolved.
type Identification struct {
	Name   string `json:"name"`
	Number *int64 `json:"number,omitempty"`
	ID     string `json:"id"`
}

func (i Identification) Found() bool {
	return i.ID != ""
}

func (i Identification) String() string {
	if i.Number != nil {
		return fmt.Sprintf("(%d) %s", *i.Number, i.Name)
	}
	return i.Name
}

// Document is one raw payload as emitted by SsODNet, stamped with the
// structure version it was generated from.
type Document struct {
	Key     string          `json:"key"`
	Version string          `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

// HasData reports whether the service had any data for the requested key.
// A null payload is the service's way of saying "known key, no data".
func (d Document) HasData() bool {
	return len(d.Payload) > 0 && !bytes.Equal(d.Payload, []byte("null"))
}
