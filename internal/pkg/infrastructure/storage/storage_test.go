package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"

	ssoerrors "github.com/space-rocks/rocks/pkg/ssodnet/errors"
)

func testStore(t *testing.T) Store {
	t.Helper()

	store, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	return store
}

func TestPutThenGetRoundTrip(t *testing.T) {
	is := is.New(t)
	store := testStore(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"parameters":{"physical":{"albedo":{"value":0.048}}}}`)

	err := store.Put(ctx, KindCard, "Ceres", payload, "v1")
	is.NoErr(err)

	doc, err := store.Get(ctx, KindCard, "Ceres")
	is.NoErr(err)
	is.Equal(doc.Version, "v1")
	is.Equal(string(doc.Payload), string(payload))
}

func TestGetOfAbsentEntry(t *testing.T) {
	is := is.New(t)
	store := testStore(t)

	_, err := store.Get(context.Background(), KindCard, "Vesta")
	is.True(errors.Is(err, ssoerrors.ErrNotFound))
}

func TestGetOrFetchFetchesOnMiss(t *testing.T) {
	is := is.New(t)
	store := testStore(t)
	ctx := context.Background()

	doc, err := store.GetOrFetch(ctx, KindCard, "Pallas", "v1", func(ctx context.Context) (json.RawMessage, string, error) {
		return json.RawMessage(`{"a":1}`), "v1", nil
	})

	is.NoErr(err)
	is.Equal(doc.Version, "v1")

	// a second call is served from the cache
	_, err = store.GetOrFetch(ctx, KindCard, "Pallas", "v1", func(ctx context.Context) (json.RawMessage, string, error) {
		t.Fatal("fetcher should not be called for a cached entry")
		return nil, "", nil
	})
	is.NoErr(err)
}

func TestConcurrentGetOrFetchTriggersOneFetch(t *testing.T) {
	is := is.New(t)
	store := testStore(t)
	ctx := context.Background()

	var fetches int32
	var wg sync.WaitGroup

	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			doc, err := store.GetOrFetch(ctx, KindCard, "Juno", "v1", func(ctx context.Context) (json.RawMessage, string, error) {
				atomic.AddInt32(&fetches, 1)
				time.Sleep(10 * time.Millisecond)
				return json.RawMessage(`{"b":2}`), "v1", nil
			})

			is.NoErr(err)
			is.Equal(doc.Version, "v1")
		}()
	}

	wg.Wait()

	is.Equal(atomic.LoadInt32(&fetches), int32(1)) // all callers should have joined a single fetch
}

func TestLateCallerIsServedTheCommittedEntry(t *testing.T) {
	is := is.New(t)
	store := testStore(t)
	ctx := context.Background()

	var fetches int32
	fetcher := func(ctx context.Context) (json.RawMessage, string, error) {
		atomic.AddInt32(&fetches, 1)
		return json.RawMessage(`{"d":4}`), "v1", nil
	}

	// callers arriving in waves must still trigger exactly one fetch: a
	// caller whose first cache check missed finds the committed entry once
	// it gets its turn
	for range 4 {
		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.GetOrFetch(ctx, KindCard, "Eunomia", "v1", fetcher)
				is.NoErr(err)
			}()
		}
		wg.Wait()
	}

	is.Equal(atomic.LoadInt32(&fetches), int32(1))
}

func TestStaleEntryTriggersRefetch(t *testing.T) {
	is := is.New(t)
	store := testStore(t)
	ctx := context.Background()

	err := store.Put(ctx, KindCard, "Hygiea", json.RawMessage(`{"old":true}`), "v1")
	is.NoErr(err)

	doc, err := store.GetOrFetch(ctx, KindCard, "Hygiea", "v2", func(ctx context.Context) (json.RawMessage, string, error) {
		return json.RawMessage(`{"old":false}`), "v2", nil
	})

	is.NoErr(err)
	is.Equal(doc.Version, "v2")
	is.Equal(string(doc.Payload), `{"old":false}`)
}

func TestStaleEntryReturnedWhenFetchFails(t *testing.T) {
	is := is.New(t)
	store := testStore(t)
	ctx := context.Background()

	err := store.Put(ctx, KindCard, "Iris", json.RawMessage(`{"stale":true}`), "v1")
	is.NoErr(err)

	doc, err := store.GetOrFetch(ctx, KindCard, "Iris", "v2", func(ctx context.Context) (json.RawMessage, string, error) {
		return nil, "", ssoerrors.NewUnavailableError("service is down")
	})

	is.NoErr(err) // the stale document degrades gracefully
	is.Equal(doc.Version, "v1")
	is.Equal(string(doc.Payload), `{"stale":true}`)
}

func TestFetchFailureWithoutCachedEntry(t *testing.T) {
	is := is.New(t)
	store := testStore(t)

	_, err := store.GetOrFetch(context.Background(), KindCard, "Flora", "v1", func(ctx context.Context) (json.RawMessage, string, error) {
		return nil, "", ssoerrors.NewUnavailableError("service is down")
	})

	is.True(errors.Is(err, ssoerrors.ErrUnavailable))
}

func TestClearThenGetOrFetchFetchesAgain(t *testing.T) {
	is := is.New(t)
	store := testStore(t)
	ctx := context.Background()

	var fetches int32
	fetcher := func(ctx context.Context) (json.RawMessage, string, error) {
		atomic.AddInt32(&fetches, 1)
		return json.RawMessage(`{"c":3}`), "v1", nil
	}

	_, err := store.GetOrFetch(ctx, KindCard, "Metis", "v1", fetcher)
	is.NoErr(err)

	removed, err := store.Clear(ctx, nil, nil)
	is.NoErr(err)
	is.Equal(removed, 1)

	_, err = store.GetOrFetch(ctx, KindCard, "Metis", "v1", fetcher)
	is.NoErr(err)

	is.Equal(atomic.LoadInt32(&fetches), int32(2)) // exactly one fresh fetch after clear
}

func TestInventoryListsAllKinds(t *testing.T) {
	is := is.New(t)
	store := testStore(t)
	ctx := context.Background()

	is.NoErr(store.Put(ctx, KindCard, "Ceres", json.RawMessage(`{}`), "v1"))
	is.NoErr(store.Put(ctx, KindCatalogue, "Ceres:masses", json.RawMessage(`[]`), "v1"))
	is.NoErr(store.Put(ctx, KindMeta, "template", json.RawMessage(`{}`), "v1"))

	inventory, err := store.Inventory(ctx)
	is.NoErr(err)
	is.Equal(len(inventory), 3)

	counts := map[Kind]int{}
	for _, entry := range inventory {
		counts[entry.Kind]++
		is.Equal(entry.Version, "v1")
	}

	is.Equal(counts[KindCard], 1)
	is.Equal(counts[KindCatalogue], 1)
	is.Equal(counts[KindMeta], 1)
}

func TestCompositeKeysRoundTripThroughTheInventory(t *testing.T) {
	is := is.New(t)
	store := testStore(t)
	ctx := context.Background()

	// keys carry separators and blanks that are unsafe in file names, and
	// near-collisions must stay distinct entries on disk
	keys := []string{"Ceres:diamalbedo", "2021 XY:masses", "a:b", "a_b"}

	for _, key := range keys {
		is.NoErr(store.Put(ctx, KindCatalogue, key, json.RawMessage(`[]`), "v1"))
	}

	inventory, err := store.Inventory(ctx)
	is.NoErr(err)
	is.Equal(len(inventory), len(keys))

	seen := map[string]bool{}
	for _, entry := range inventory {
		seen[entry.Key] = true
	}

	for _, key := range keys {
		is.True(seen[key]) // the original key comes back, not its file name
	}

	removed, err := store.Clear(ctx, []Kind{KindCatalogue}, []string{"a:b"})
	is.NoErr(err)
	is.Equal(removed, 1)

	_, err = store.Get(ctx, KindCatalogue, "a_b")
	is.NoErr(err) // the near-collision survives
}

func TestClearBySelectedKindAndKey(t *testing.T) {
	is := is.New(t)
	store := testStore(t)
	ctx := context.Background()

	for i := range 3 {
		key := fmt.Sprintf("body-%d", i)
		is.NoErr(store.Put(ctx, KindCard, key, json.RawMessage(`{}`), "v1"))
	}
	is.NoErr(store.Put(ctx, KindMeta, "template", json.RawMessage(`{}`), "v1"))

	removed, err := store.Clear(ctx, []Kind{KindCard}, []string{"body-1"})
	is.NoErr(err)
	is.Equal(removed, 1)

	inventory, err := store.Inventory(ctx)
	is.NoErr(err)
	is.Equal(len(inventory), 3) // two cards and the template remain
}
