package rocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/space-rocks/rocks/internal/pkg/application/resolver"
	"github.com/space-rocks/rocks/internal/pkg/application/schema"
	"github.com/space-rocks/rocks/internal/pkg/infrastructure/storage"
	"github.com/space-rocks/rocks/pkg/ssodnet"
	ssoerrors "github.com/space-rocks/rocks/pkg/ssodnet/errors"
)

const templateDocumentKey string = "template"

// MetadataDocuments are the shared metadata documents the service keeps in
// the meta section of the cache, next to the name index.
var MetadataDocuments = []string{"template", "units", "description"}

func WithClient(client ssodnet.Client) func(*Service) {
	return func(s *Service) {
		s.client = client
	}
}

func WithStore(store storage.Store) func(*Service) {
	return func(s *Service) {
		s.store = store
	}
}

func WithCacheDir(directory string) func(*Service) {
	return func(s *Service) {
		s.cacheDir = directory
	}
}

func WithMaxWorkers(count int) func(*Service) {
	return func(s *Service) {
		if count > 0 {
			s.maxWorkers = count
		}
	}
}

// Service is the materialization pipeline: identifier resolution, cached
// document retrieval, template merge and typed materialization. Construct
// one Service and share it; the template and name index load lazily on
// first use.
type Service struct {
	client ssodnet.Client
	store  storage.Store
	res    *resolver.Resolver
	cats   *schema.CatalogueConfig

	cacheDir   string
	maxWorkers int

	initOnce sync.Once
	initErr  error
	template *schema.Template
	aliases  map[string]string
}

func New(options ...func(*Service)) (*Service, error) {
	s := &Service{
		maxWorkers: 4,
		cats:       schema.DefaultCatalogueConfig(),
	}

	for _, option := range options {
		option(s)
	}

	if s.client == nil {
		s.client = ssodnet.NewClient(ssodnet.DefaultServiceURL)
	}

	if s.store == nil {
		if s.cacheDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to locate home directory: %w", err)
			}
			s.cacheDir = filepath.Join(home, ".cache", "rocks")
		}

		store, err := storage.New(s.cacheDir)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	s.res = resolver.New(s.client, s.store, resolver.MaxWorkers(s.maxWorkers))

	return s, nil
}

// init loads the template and the name index exactly once per Service.
func (s *Service) init(ctx context.Context) error {
	s.initOnce.Do(func() {
		doc, err := s.store.GetOrFetch(ctx, storage.KindMeta, templateDocumentKey, "", func(ctx context.Context) (json.RawMessage, string, error) {
			fetched, err := s.client.FetchMetadata(ctx, templateDocumentKey)
			if err != nil {
				return nil, "", err
			}
			return fetched.Payload, fetched.Version, nil
		})
		if err != nil {
			s.initErr = fmt.Errorf("failed to load ssoCard template: %w", err)
			return
		}

		template, err := schema.NewTemplate(doc.Payload, doc.Version)
		if err != nil {
			s.initErr = err
			return
		}

		s.template = template
		s.aliases = template.Shortcuts()

		if err := s.res.LoadIndex(ctx); err != nil {
			s.initErr = err
		}
	})

	return s.initErr
}

// Identify resolves raw identifiers to canonical identities, in input
// order. Unresolvable identifiers yield zero value identifications.
func (s *Service) Identify(ctx context.Context, identifiers ...string) ([]ssodnet.Identification, error) {
	if err := s.init(ctx); err != nil {
		return nil, err
	}

	return s.res.Resolve(ctx, identifiers, true)
}

// Single identifies one minor body and materializes it, attaching the
// requested datacloud catalogues. An unresolvable identifier yields a Rock
// with empty identity and no attributes rather than an error.
func (s *Service) Single(ctx context.Context, identifier string, catalogues ...string) (*Rock, error) {
	if err := s.init(ctx); err != nil {
		return nil, err
	}

	identities, err := s.res.Resolve(ctx, []string{identifier}, true)
	if err != nil {
		return nil, err
	}

	return s.build(ctx, identifier, identities[0], catalogues)
}

// Result holds one entry of a batch materialization. Failures local to one
// entity never abort the batch.
type Result struct {
	Rock *Rock
	Err  error
}

// Many materializes a batch of minor bodies on a bounded worker pool,
// preserving input order regardless of completion order.
func (s *Service) Many(ctx context.Context, identifiers []string, catalogues ...string) ([]Result, error) {
	if err := s.init(ctx); err != nil {
		return nil, err
	}

	identities, err := s.res.Resolve(ctx, identifiers, true)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(identifiers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)

	for i := range identifiers {
		g.Go(func() error {
			rock, err := s.build(gctx, identifiers[i], identities[i], catalogues)
			results[i] = Result{Rock: rock, Err: err}
			return nil
		})
	}

	g.Wait()

	return results, nil
}

func (s *Service) build(ctx context.Context, identifier string, identity ssodnet.Identification, catalogues []string) (*Rock, error) {
	rock := newRock(identity)

	if !identity.Found() {
		rock.advise(AdvisoryIdentifierNotFound, fmt.Sprintf("could not identify %q", identifier))
		return rock, nil
	}

	doc, err := s.store.GetOrFetch(ctx, storage.KindCard, identity.ID, s.template.Version(), func(ctx context.Context) (json.RawMessage, string, error) {
		return s.fetchCard(ctx, identity.ID)
	})

	if err != nil {
		if errors.Is(err, ssoerrors.ErrNotFound) {
			rock.advise(AdvisoryNoCard, fmt.Sprintf("no ssoCard exists for %s", identity.ID))
			return rock, nil
		}
		return rock, err
	}

	if !doc.HasData() {
		rock.advise(AdvisoryNoCard, fmt.Sprintf("no ssoCard exists for %s", identity.ID))
		return rock, nil
	}

	if doc.Version != s.template.Version() {
		rock.advise(AdvisorySchemaVersionMismatch,
			fmt.Sprintf("ssoCard version %s differs from template version %s", doc.Version, s.template.Version()))
	}

	tree, err := s.template.Merge(doc.Payload)
	if err != nil {
		return rock, fmt.Errorf("failed to merge ssoCard for %s: %w", identity.ID, err)
	}

	rock.Attributes = Materialize(tree, s.template.Paths())
	rock.aliases = s.aliases

	for _, catalogue := range catalogues {
		if err := s.AddCatalogue(ctx, rock, catalogue); err != nil {
			return rock, err
		}
	}

	return rock, nil
}

func (s *Service) fetchCard(ctx context.Context, id string) (json.RawMessage, string, error) {
	docs, err := s.client.FetchDocuments(ctx, ssodnet.KindCard, []string{id})
	if err != nil {
		return nil, "", err
	}

	return docs[0].Payload, docs[0].Version, nil
}

// AddCatalogue fetches one datacloud catalogue and attaches its column form
// to the Rock. Catalogues are only ever added, existing attributes are
// never mutated. An unknown catalogue name or a null payload yields a null
// attribute and an advisory, not an error.
func (s *Service) AddCatalogue(ctx context.Context, rock *Rock, name string) error {
	if !rock.Found() {
		return nil
	}

	info, ok := s.cats.Resolve(name)
	if !ok {
		rock.advise(AdvisoryMissingCatalogue, fmt.Sprintf("unknown datacloud catalogue requested: %s", name))
		return nil
	}

	key := rock.ID + ":" + info.Name

	doc, err := s.store.GetOrFetch(ctx, storage.KindCatalogue, key, s.template.Version(), func(ctx context.Context) (json.RawMessage, string, error) {
		docs, err := s.client.FetchDocuments(ctx, ssodnet.KindCatalogue, []string{key})
		if err != nil {
			return nil, "", err
		}
		return docs[0].Payload, docs[0].Version, nil
	})
	if err != nil {
		return err
	}

	if !doc.HasData() {
		rock.Catalogues[info.Attribute] = nil
		rock.advise(AdvisoryMissingCatalogue, fmt.Sprintf("catalogue %s holds no data for %s", info.Name, rock.ID))
		return nil
	}

	records := []map[string]any{}
	if err := json.Unmarshal(doc.Payload, &records); err != nil {
		return fmt.Errorf("failed to decode catalogue %s for %s: %s (%w)", info.Name, rock.ID, err.Error(), ssoerrors.ErrMalformedDocument)
	}

	for i, record := range records {
		records[i] = schema.SanitizeKeys(record)
	}

	rock.Catalogues[info.Attribute] = NewColumnCatalogue(info.Attribute, records)

	return nil
}

// IsCatalogueAttribute reports whether a name refers to a datacloud
// catalogue (by service name or attribute alias) in the default registry.
func IsCatalogueAttribute(name string) bool {
	return schema.DefaultCatalogueConfig().Known(name)
}

// RebuildIndex bulk rebuilds the persisted name index from the remote
// service. Explicit maintenance; resolution never does this implicitly.
func (s *Service) RebuildIndex(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return err
	}

	return s.res.RebuildIndex(ctx)
}

// Inventory enumerates all cached documents without loading payloads.
func (s *Service) Inventory(ctx context.Context) ([]storage.Entry, error) {
	return s.store.Inventory(ctx)
}

// ClearCache deletes cached documents of the given kinds (all kinds when
// none are given).
func (s *Service) ClearCache(ctx context.Context, kinds ...storage.Kind) (int, error) {
	return s.store.Clear(ctx, kinds, nil)
}

// CurrentVersion asks the remote service for the ssoCard structure version
// currently in effect.
func (s *Service) CurrentVersion(ctx context.Context) (string, error) {
	return s.client.CurrentVersion(ctx)
}

// UpdateCache re-resolves the identity of every cached ssoCard, refetches
// the cards and catalogues that are still current, and refreshes the shared
// metadata documents.
func (s *Service) UpdateCache(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return err
	}

	inventory, err := s.store.Inventory(ctx)
	if err != nil {
		return err
	}

	cardKeys := make([]string, 0, len(inventory))
	catalogueKeys := make([]string, 0, len(inventory))

	for _, entry := range inventory {
		switch entry.Kind {
		case storage.KindCard:
			cardKeys = append(cardKeys, entry.Key)
		case storage.KindCatalogue:
			catalogueKeys = append(catalogueKeys, entry.Key)
		}
	}

	identities, err := s.res.ConfirmIdentity(ctx, cardKeys)
	if err != nil {
		return err
	}

	current := make([]string, 0, len(cardKeys))
	outdated := make([]string, 0)

	for i, identity := range identities {
		if identity.Found() && identity.ID == cardKeys[i] {
			current = append(current, cardKeys[i])
		} else {
			outdated = append(outdated, cardKeys[i])
		}
	}

	if len(outdated) > 0 {
		if _, err := s.store.Clear(ctx, []storage.Kind{storage.KindCard}, outdated); err != nil {
			return err
		}
	}

	if len(current) > 0 {
		docs, err := s.client.FetchDocuments(ctx, ssodnet.KindCard, current)
		if err != nil {
			return err
		}

		for _, doc := range docs {
			if !doc.HasData() {
				continue
			}
			if err := s.store.Put(ctx, storage.KindCard, doc.Key, doc.Payload, doc.Version); err != nil {
				return err
			}
		}
	}

	if len(catalogueKeys) > 0 {
		docs, err := s.client.FetchDocuments(ctx, ssodnet.KindCatalogue, catalogueKeys)
		if err != nil {
			return err
		}

		for _, doc := range docs {
			if !doc.HasData() {
				continue
			}
			if err := s.store.Put(ctx, storage.KindCatalogue, doc.Key, doc.Payload, doc.Version); err != nil {
				return err
			}
		}
	}

	for _, which := range MetadataDocuments {
		doc, err := s.client.FetchMetadata(ctx, which)
		if err != nil {
			return err
		}
		if err := s.store.Put(ctx, storage.KindMeta, which, doc.Payload, doc.Version); err != nil {
			return err
		}
	}

	return nil
}

// RawCard returns the raw cached (or freshly fetched) ssoCard document for
// an already resolved identity.
func (s *Service) RawCard(ctx context.Context, id string) (ssodnet.Document, error) {
	if err := s.init(ctx); err != nil {
		return ssodnet.Document{}, err
	}

	return s.store.GetOrFetch(ctx, storage.KindCard, id, s.template.Version(), func(ctx context.Context) (json.RawMessage, string, error) {
		return s.fetchCard(ctx, id)
	})
}

// IndexModTime returns when the persisted name index was last rebuilt.
func (s *Service) IndexModTime() (string, error) {
	t, err := s.store.ModTime(storage.KindMeta, "index")
	if err != nil {
		return "", err
	}

	return t.Format("02 Jan 2006"), nil
}
