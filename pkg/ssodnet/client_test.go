package ssodnet

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	testutils "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/expects"
	"github.com/diwise/service-chassis/pkg/test/http/response"

	"github.com/matryer/is"

	"github.com/space-rocks/rocks/pkg/ssodnet/errors"
)

var Expects = testutils.Expects
var Returns = testutils.Returns
var anyInput = expects.AnyInput
var method = expects.RequestMethod
var path = expects.RequestPath
var body = expects.RequestBody

func fastRetries() []func(*ssoClient) {
	return []func(*ssoClient){
		MaxTries(2),
		RetryInterval(time.Millisecond),
	}
}

func TestResolveIdentities(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPost),
			path("/quaero/resolve"),
			body(`{"identifiers":["Ceres","2021 XY"]}`),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`[{"name":"Ceres","number":1,"id":"Ceres"},{}]`)),
		),
	)
	defer s.Close()

	c := NewClient(s.URL(), fastRetries()...)

	resolved, err := c.ResolveIdentities(context.Background(), []string{"Ceres", "2021 XY"})

	is.NoErr(err)
	is.Equal(len(resolved), 2)
	is.Equal(resolved[0].Name, "Ceres")
	is.Equal(*resolved[0].Number, int64(1))
	is.Equal(resolved[1].Found(), false)
}

func TestResolveRejectsMismatchedResponseSize(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.Code(http.StatusOK),
			response.Body([]byte(`[{"name":"Ceres","id":"Ceres"}]`)),
		),
	)
	defer s.Close()

	c := NewClient(s.URL(), fastRetries()...)

	_, err := c.ResolveIdentities(context.Background(), []string{"Ceres", "Pallas"})

	is.True(stderrors.Is(err, errors.ErrBadResponse))
}

func TestFetchDocuments(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPost),
			path("/documents/card"),
			body(`{"keys":["Ceres"]}`),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`[{"key":"Ceres","version":"v1","payload":{"name":"Ceres"}}]`)),
		),
	)
	defer s.Close()

	c := NewClient(s.URL(), fastRetries()...)

	docs, err := c.FetchDocuments(context.Background(), KindCard, []string{"Ceres"})

	is.NoErr(err)
	is.Equal(len(docs), 1)
	is.Equal(docs[0].Key, "Ceres")
	is.Equal(docs[0].Version, "v1")
	is.True(docs[0].HasData())
}

func TestFetchDocumentsRejectsUnknownKind(t *testing.T) {
	is := is.New(t)

	c := NewClient("http://localhost:0", fastRetries()...)

	_, err := c.FetchDocuments(context.Background(), Kind("nonsense"), []string{"Ceres"})

	is.True(stderrors.Is(err, errors.ErrInternal))
}

func TestFetchMetadata(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodGet),
			path("/metadata/template"),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"key":"template","version":"v1","payload":{"name":null}}`)),
		),
	)
	defer s.Close()

	c := NewClient(s.URL(), fastRetries()...)

	doc, err := c.FetchMetadata(context.Background(), "template")

	is.NoErr(err)
	is.Equal(doc.Version, "v1")
	is.True(doc.HasData())
}

func TestCurrentVersion(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, method(http.MethodGet), path("/version")),
		Returns(
			response.Code(http.StatusOK),
			response.Body([]byte(`{"version":"1.2.3"}`)),
		),
	)
	defer s.Close()

	c := NewClient(s.URL(), fastRetries()...)

	version, err := c.CurrentVersion(context.Background())

	is.NoErr(err)
	is.Equal(version, "1.2.3")
}

func TestMissingDocumentIsNotRetried(t *testing.T) {
	is := is.New(t)

	var requests int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer s.Close()

	c := NewClient(s.URL, MaxTries(3), RetryInterval(time.Millisecond))

	_, err := c.FetchMetadata(context.Background(), "template")

	is.True(stderrors.Is(err, errors.ErrNotFound))
	is.Equal(atomic.LoadInt32(&requests), int32(1))
}

func TestServerErrorsAreRetriedUpToMaxTries(t *testing.T) {
	is := is.New(t)

	var requests int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer s.Close()

	c := NewClient(s.URL, MaxTries(3), RetryInterval(time.Millisecond))

	_, err := c.CurrentVersion(context.Background())

	is.True(stderrors.Is(err, errors.ErrUnavailable))
	is.Equal(atomic.LoadInt32(&requests), int32(3))
}

func TestRecoveryWithinTheRetryBudget(t *testing.T) {
	is := is.New(t)

	var requests int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"version":"1.2.3"}`))
	}))
	defer s.Close()

	c := NewClient(s.URL, MaxTries(3), RetryInterval(time.Millisecond))

	version, err := c.CurrentVersion(context.Background())

	is.NoErr(err)
	is.Equal(version, "1.2.3")
	is.Equal(atomic.LoadInt32(&requests), int32(3))
}

func TestLargeBatchesAreChunked(t *testing.T) {
	is := is.New(t)

	var requests int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write([]byte(`[{"name":"Ceres","id":"Ceres"},{"name":"Ceres","id":"Ceres"}]`))
	}))
	defer s.Close()

	c := NewClient(s.URL, ChunkSize(2), RetryInterval(time.Millisecond))

	resolved, err := c.ResolveIdentities(context.Background(), []string{"a", "b", "c", "d", "e", "f"})

	is.NoErr(err)
	is.Equal(len(resolved), 6)
	is.Equal(atomic.LoadInt32(&requests), int32(3))
}
