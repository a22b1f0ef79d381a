package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/space-rocks/rocks/pkg/ssodnet"
	ssoerrors "github.com/space-rocks/rocks/pkg/ssodnet/errors"
)

// Kind partitions the cache into its three artifact classes.
type Kind string

const (
	KindCard      Kind = "card"
	KindCatalogue Kind = "catalogue"
	KindMeta      Kind = "meta"
)

func (k Kind) directory() string {
	switch k {
	case KindCard:
		return "cards"
	case KindCatalogue:
		return "catalogues"
	default:
		return "meta"
	}
}

var Kinds = []Kind{KindCard, KindCatalogue, KindMeta}

// Entry describes one cached document without its payload.
type Entry struct {
	Kind    Kind
	Key     string
	Version string
}

// Fetcher retrieves a document from the remote service when the cache can
// not serve it. It returns the raw payload and the version it was stamped with.
type Fetcher func(ctx context.Context) (json.RawMessage, string, error)

// Store is the persistent keyed cache shared by all pipeline runs. Writes
// are atomic per (kind,key) and concurrent fetches of the same entry are
// collapsed into a single remote call.
type Store interface {
	Get(ctx context.Context, kind Kind, key string) (ssodnet.Document, error)
	Put(ctx context.Context, kind Kind, key string, payload json.RawMessage, version string) error
	GetOrFetch(ctx context.Context, kind Kind, key, version string, fetch Fetcher) (ssodnet.Document, error)
	Inventory(ctx context.Context) ([]Entry, error)
	Clear(ctx context.Context, kinds []Kind, keys []string) (int, error)
	ModTime(kind Kind, key string) (time.Time, error)
}

func New(directory string) (Store, error) {
	for _, kind := range Kinds {
		err := os.MkdirAll(filepath.Join(directory, kind.directory()), 0o755)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return &fileStore{directory: directory}, nil
}

type fileStore struct {
	directory string
	flight    singleflight.Group
}

// envelope is the on-disk shape of every cache file: the raw document and
// the version tag it was produced under.
type envelope struct {
	Version string          `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

func (s *fileStore) Get(ctx context.Context, kind Kind, key string) (ssodnet.Document, error) {
	contents, err := os.ReadFile(s.path(kind, key))
	if err != nil {
		if os.IsNotExist(err) {
			return ssodnet.Document{}, ssoerrors.NewNotFoundError(fmt.Sprintf("no cached %s document for %s", kind, key))
		}
		return ssodnet.Document{}, fmt.Errorf("failed to read cache entry: %w", err)
	}

	e := envelope{}
	if err := json.Unmarshal(contents, &e); err != nil {
		return ssodnet.Document{}, fmt.Errorf("failed to decode cache entry for %s: %s (%w)", key, err.Error(), ssoerrors.ErrMalformedDocument)
	}

	return ssodnet.Document{Key: key, Version: e.Version, Payload: e.Payload}, nil
}

func (s *fileStore) Put(ctx context.Context, kind Kind, key string, payload json.RawMessage, version string) error {
	contents, err := json.Marshal(envelope{Version: version, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry for %s: %w", key, err)
	}

	path := s.path(kind, key)

	// Stage under a unique name, then commit with a single rename so that
	// a concurrent reader never observes a partially written entry.
	staging := path + "." + uuid.NewString() + ".tmp"

	if err := os.WriteFile(staging, contents, 0o644); err != nil {
		return fmt.Errorf("failed to stage cache entry for %s: %w", key, err)
	}

	if err := os.Rename(staging, path); err != nil {
		os.Remove(staging)
		return fmt.Errorf("failed to commit cache entry for %s: %w", key, err)
	}

	return nil
}

func (s *fileStore) GetOrFetch(ctx context.Context, kind Kind, key, version string, fetch Fetcher) (ssodnet.Document, error) {
	cached, cacheErr := s.Get(ctx, kind, key)

	if cacheErr == nil && (version == "" || cached.Version == version) {
		return cached, nil
	}

	doc, err, _ := s.flight.Do(string(kind)+"/"+key, func() (any, error) {
		// An earlier flight may have committed the entry between our cache
		// check above and this call.
		if committed, err := s.Get(ctx, kind, key); err == nil && (version == "" || committed.Version == version) {
			return committed, nil
		}

		payload, fetchedVersion, err := fetch(ctx)
		if err != nil {
			return ssodnet.Document{}, err
		}

		if err := s.Put(ctx, kind, key, payload, fetchedVersion); err != nil {
			return ssodnet.Document{}, err
		}

		return ssodnet.Document{Key: key, Version: fetchedVersion, Payload: payload}, nil
	})

	if err != nil {
		// A stale entry is better than nothing when the service is down.
		if cacheErr == nil && errors.Is(err, ssoerrors.ErrUnavailable) {
			log := logging.GetFromContext(ctx)
			log.Warn("returning stale cached document after failed fetch",
				"kind", string(kind), "key", key, "cached_version", cached.Version, "err", err.Error())
			return cached, nil
		}

		return ssodnet.Document{}, err
	}

	return doc.(ssodnet.Document), nil
}

func (s *fileStore) Inventory(ctx context.Context) ([]Entry, error) {
	inventory := make([]Entry, 0, 64)

	for _, kind := range Kinds {
		dir := filepath.Join(s.directory, kind.directory())

		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate cache directory: %w", err)
		}

		for _, file := range files {
			name := file.Name()
			if file.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}

			version, err := s.readVersion(filepath.Join(dir, name))
			if err != nil {
				return nil, err
			}

			key, err := keyFromFileName(strings.TrimSuffix(name, ".json"))
			if err != nil {
				return nil, fmt.Errorf("failed to decode cache entry name %s: %w", name, err)
			}

			inventory = append(inventory, Entry{
				Kind:    kind,
				Key:     key,
				Version: version,
			})
		}
	}

	return inventory, nil
}

func (s *fileStore) Clear(ctx context.Context, kinds []Kind, keys []string) (int, error) {
	if len(kinds) == 0 {
		kinds = Kinds
	}

	var wanted map[string]struct{}
	if len(keys) > 0 {
		wanted = make(map[string]struct{}, len(keys))
		for _, key := range keys {
			wanted[fileName(key)] = struct{}{}
		}
	}

	removed := 0

	for _, kind := range kinds {
		dir := filepath.Join(s.directory, kind.directory())

		files, err := os.ReadDir(dir)
		if err != nil {
			return removed, fmt.Errorf("failed to enumerate cache directory: %w", err)
		}

		for _, file := range files {
			name := file.Name()
			if file.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}

			if wanted != nil {
				if _, ok := wanted[strings.TrimSuffix(name, ".json")]; !ok {
					continue
				}
			}

			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return removed, fmt.Errorf("failed to remove cache entry %s: %w", name, err)
			}

			removed++
		}
	}

	return removed, nil
}

func (s *fileStore) ModTime(kind Kind, key string) (time.Time, error) {
	info, err := os.Stat(s.path(kind, key))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, ssoerrors.NewNotFoundError(fmt.Sprintf("no cached %s document for %s", kind, key))
		}
		return time.Time{}, err
	}

	return info.ModTime(), nil
}

func (s *fileStore) path(kind Kind, key string) string {
	return filepath.Join(s.directory, kind.directory(), fileName(key)+".json")
}

// readVersion decodes only the version tag of an envelope, leaving the
// payload untouched.
func (s *fileStore) readVersion(path string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read cache entry: %w", err)
	}

	header := struct {
		Version string `json:"version"`
	}{}

	if err := json.Unmarshal(contents, &header); err != nil {
		return "", fmt.Errorf("failed to decode cache entry %s: %s (%w)", path, err.Error(), ssoerrors.ErrMalformedDocument)
	}

	return header.Version, nil
}

// fileName encodes a document key into a safe file name. The encoding is
// reversible so that Inventory can hand back the original keys.
func fileName(key string) string {
	return url.PathEscape(key)
}

func keyFromFileName(name string) (string, error) {
	return url.PathUnescape(name)
}
