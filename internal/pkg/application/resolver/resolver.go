package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/space-rocks/rocks/internal/pkg/infrastructure/storage"
	"github.com/space-rocks/rocks/pkg/ssodnet"
	ssoerrors "github.com/space-rocks/rocks/pkg/ssodnet/errors"
)

const indexDocumentKey string = "index"

// resolveChunkSize bounds how many unresolved identifiers go into a single
// remote batch; chunks resolve in parallel on the worker pool.
const resolveChunkSize int = 100

func MaxWorkers(count int) func(*Resolver) {
	return func(r *Resolver) {
		if count > 0 {
			r.maxWorkers = count
		}
	}
}

// Resolver maps raw identifiers (names, designations, numbers) to canonical
// identities. The persisted name index is consulted first; anything it does
// not know goes to the remote service in bounded parallel batches.
type Resolver struct {
	client ssodnet.Client
	store  storage.Store

	maxWorkers int

	mu    sync.RWMutex
	index map[string]ssodnet.Identification
}

func New(client ssodnet.Client, store storage.Store, options ...func(*Resolver)) *Resolver {
	r := &Resolver{
		client:     client,
		store:      store,
		maxWorkers: 4,
	}

	for _, option := range options {
		option(r)
	}

	return r
}

// LoadIndex reads the persisted name index, fetching and persisting it in
// bulk from the remote service if no copy exists yet. Resolution never
// updates the index; RebuildIndex is the only way to refresh it.
func (r *Resolver) LoadIndex(ctx context.Context) error {
	doc, err := r.store.GetOrFetch(ctx, storage.KindMeta, indexDocumentKey, "", func(ctx context.Context) (json.RawMessage, string, error) {
		fetched, err := r.client.FetchMetadata(ctx, indexDocumentKey)
		if err != nil {
			return nil, "", err
		}
		return fetched.Payload, fetched.Version, nil
	})
	if err != nil {
		return fmt.Errorf("failed to load name index: %w", err)
	}

	return r.replaceIndex(doc.Payload)
}

// RebuildIndex bulk rebuilds the persisted name index from the remote
// service. This is an explicit maintenance operation.
func (r *Resolver) RebuildIndex(ctx context.Context) error {
	doc, err := r.client.FetchMetadata(ctx, indexDocumentKey)
	if err != nil {
		return fmt.Errorf("failed to retrieve name index: %w", err)
	}

	if err := r.store.Put(ctx, storage.KindMeta, indexDocumentKey, doc.Payload, doc.Version); err != nil {
		return err
	}

	return r.replaceIndex(doc.Payload)
}

func (r *Resolver) replaceIndex(payload json.RawMessage) error {
	index := map[string]ssodnet.Identification{}

	if err := json.Unmarshal(payload, &index); err != nil {
		return fmt.Errorf("failed to decode name index: %s (%w)", err.Error(), ssoerrors.ErrMalformedDocument)
	}

	normalized := make(map[string]ssodnet.Identification, len(index))
	for alias, identity := range index {
		normalized[normalize(alias)] = identity
	}

	r.mu.Lock()
	r.index = normalized
	r.mu.Unlock()

	return nil
}

// Resolve maps every identifier to its canonical identity, preserving input
// order. Identifiers the index (when enabled) does not know are resolved
// remotely in parallel chunks. A failed or ambiguous lookup yields a zero
// value identification, never an error; only transport failures are errors.
func (r *Resolver) Resolve(ctx context.Context, identifiers []string, useIndex bool) ([]ssodnet.Identification, error) {
	resolved := make([]ssodnet.Identification, len(identifiers))
	misses := make([]int, 0, len(identifiers))

	for i, identifier := range identifiers {
		if useIndex {
			if identity, ok := r.lookup(identifier); ok {
				resolved[i] = identity
				continue
			}
		}
		misses = append(misses, i)
	}

	if len(misses) == 0 {
		return resolved, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxWorkers)

	for _, chunk := range chunkedIndices(misses, resolveChunkSize) {
		g.Go(func() error {
			batch := make([]string, len(chunk))
			for j, idx := range chunk {
				batch[j] = identifiers[idx]
			}

			identities, err := r.client.ResolveIdentities(ctx, batch)
			if err != nil {
				return err
			}

			for j, identity := range identities {
				resolved[chunk[j]] = identity
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return resolved, nil
}

// ConfirmIdentity re-resolves a set of service identifiers directly against
// the remote service, bypassing the index. Used before a cache update to
// verify that cached keys are still current.
func (r *Resolver) ConfirmIdentity(ctx context.Context, ids []string) ([]ssodnet.Identification, error) {
	return r.Resolve(ctx, ids, false)
}

func (r *Resolver) lookup(identifier string) (ssodnet.Identification, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.index == nil {
		return ssodnet.Identification{}, false
	}

	identity, ok := r.index[normalize(identifier)]
	if !ok {
		return ssodnet.Identification{}, false
	}

	return identity, true
}

// IndexSize returns the number of known aliases, or zero if no index is
// loaded.
func (r *Resolver) IndexSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.index)
}

// IsNotFound reports whether an error signals a missing index document, as
// opposed to a transport failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ssoerrors.ErrNotFound)
}

// normalize folds an alias into its index form: lower case, with blanks,
// underscores and designation parentheses removed.
func normalize(alias string) string {
	alias = strings.ToLower(strings.TrimSpace(alias))

	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '(', ')':
			return -1
		}
		return r
	}, alias)
}

func chunkedIndices(indices []int, size int) [][]int {
	chunks := make([][]int, 0, (len(indices)+size-1)/size)

	for size < len(indices) {
		chunks = append(chunks, indices[:size])
		indices = indices[size:]
	}

	if len(indices) > 0 {
		chunks = append(chunks, indices)
	}

	return chunks
}
