package ssodnet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/space-rocks/rocks/pkg/ssodnet/errors"
)

const DefaultServiceURL string = "https://ssp.imcce.fr/webservices/ssodnet"

// Client talks to the SsODNet data service. Both operations are batched;
// the client chunks large batches before they go on the wire.
type Client interface {
	ResolveIdentities(ctx context.Context, identifiers []string) ([]Identification, error)
	FetchDocuments(ctx context.Context, kind Kind, keys []string) ([]Document, error)
	FetchMetadata(ctx context.Context, which string) (Document, error)
	CurrentVersion(ctx context.Context) (string, error)
}

func Debug(enabled string) func(*ssoClient) {
	return func(c *ssoClient) {
		c.debug = (enabled == "true")
	}
}

func ChunkSize(size int) func(*ssoClient) {
	return func(c *ssoClient) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

func MaxTries(tries uint64) func(*ssoClient) {
	return func(c *ssoClient) {
		if tries > 0 {
			c.maxTries = tries
		}
	}
}

func RetryInterval(interval time.Duration) func(*ssoClient) {
	return func(c *ssoClient) {
		c.retryInterval = interval
	}
}

func NewClient(serviceURL string, options ...func(*ssoClient)) Client {
	c := &ssoClient{
		baseURL:       serviceURL,
		chunkSize:     1000,
		maxTries:      3,
		retryInterval: 500 * time.Millisecond,
		debug:         false,
	}

	for _, option := range options {
		option(c)
	}

	return c
}

const (
	TraceAttributeDocumentKind string = "document-kind"
	TraceAttributeBatchSize    string = "batch-size"
)

var tracer = otel.Tracer("rocks/ssodnet-client")

type ssoClient struct {
	baseURL       string
	chunkSize     int
	maxTries      uint64
	retryInterval time.Duration
	debug         bool
}

func (c ssoClient) ResolveIdentities(ctx context.Context, identifiers []string) ([]Identification, error) {
	var err error

	ctx, span := tracer.Start(ctx, "resolve-identities",
		trace.WithAttributes(attribute.Int(TraceAttributeBatchSize, len(identifiers))),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	result := make([]Identification, 0, len(identifiers))

	for _, chunk := range chunked(identifiers, c.chunkSize) {
		body, _ := json.Marshal(map[string]any{"identifiers": chunk})

		var respBody []byte
		respBody, err = c.callService(ctx, http.MethodPost, c.baseURL+"/quaero/resolve", bytes.NewBuffer(body))
		if err != nil {
			return nil, err
		}

		resolved := make([]Identification, 0, len(chunk))
		if err = json.Unmarshal(respBody, &resolved); err != nil {
			err = fmt.Errorf("failed to unmarshal resolution response: %s (%w)", err.Error(), errors.ErrBadResponse)
			return nil, err
		}

		if len(resolved) != len(chunk) {
			err = fmt.Errorf("resolution response size %d does not match request size %d (%w)", len(resolved), len(chunk), errors.ErrBadResponse)
			return nil, err
		}

		result = append(result, resolved...)
	}

	return result, nil
}

func (c ssoClient) FetchDocuments(ctx context.Context, kind Kind, keys []string) ([]Document, error) {
	var err error

	ctx, span := tracer.Start(ctx, "fetch-documents",
		trace.WithAttributes(attribute.String(TraceAttributeDocumentKind, string(kind))),
		trace.WithAttributes(attribute.Int(TraceAttributeBatchSize, len(keys))),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if !kind.Valid() {
		err = fmt.Errorf("unknown document kind %s (%w)", kind, errors.ErrInternal)
		return nil, err
	}

	result := make([]Document, 0, len(keys))

	for _, chunk := range chunked(keys, c.chunkSize) {
		body, _ := json.Marshal(map[string]any{"keys": chunk})

		var respBody []byte
		respBody, err = c.callService(ctx, http.MethodPost, c.baseURL+"/documents/"+url.PathEscape(string(kind)), bytes.NewBuffer(body))
		if err != nil {
			return nil, err
		}

		docs := make([]Document, 0, len(chunk))
		if err = json.Unmarshal(respBody, &docs); err != nil {
			err = fmt.Errorf("failed to unmarshal document response: %s (%w)", err.Error(), errors.ErrBadResponse)
			return nil, err
		}

		if len(docs) != len(chunk) {
			err = fmt.Errorf("document response size %d does not match request size %d (%w)", len(docs), len(chunk), errors.ErrBadResponse)
			return nil, err
		}

		result = append(result, docs...)
	}

	return result, nil
}

func (c ssoClient) FetchMetadata(ctx context.Context, which string) (Document, error) {
	var err error

	ctx, span := tracer.Start(ctx, "fetch-metadata",
		trace.WithAttributes(attribute.String(TraceAttributeDocumentKind, which)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	respBody, err := c.callService(ctx, http.MethodGet, c.baseURL+"/metadata/"+url.PathEscape(which), nil)
	if err != nil {
		return Document{}, err
	}

	doc := Document{}
	if err = json.Unmarshal(respBody, &doc); err != nil {
		err = fmt.Errorf("failed to unmarshal metadata response: %s (%w)", err.Error(), errors.ErrBadResponse)
		return Document{}, err
	}

	return doc, nil
}

func (c ssoClient) CurrentVersion(ctx context.Context) (string, error) {
	var err error

	ctx, span := tracer.Start(ctx, "current-version")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	respBody, err := c.callService(ctx, http.MethodGet, c.baseURL+"/version", nil)
	if err != nil {
		return "", err
	}

	version := struct {
		Version string `json:"version"`
	}{}

	if err = json.Unmarshal(respBody, &version); err != nil {
		err = fmt.Errorf("failed to unmarshal version response: %s (%w)", err.Error(), errors.ErrBadResponse)
		return "", err
	}

	return version.Version, nil
}

// callService performs one HTTP exchange with bounded retries. Transport
// failures and server side errors are retried; client side errors are not.
func (c ssoClient) callService(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	httpClient := http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	var payload []byte
	if body != nil {
		buffered, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %s (%w)", err.Error(), errors.ErrRequest)
		}
		payload = buffered
	}

	var respBody []byte

	operation := func() error {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %s (%w)", err.Error(), errors.ErrRequest))
		}

		if payload != nil {
			req.Header.Add("Content-Type", "application/json")
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %s (%w)", err.Error(), errors.ErrUnavailable)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %s (%w)", err.Error(), errors.ErrBadResponse)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			c.dumpExchange(ctx, req, resp)
			return fmt.Errorf("service returned status code %d (%w)", resp.StatusCode, errors.ErrUnavailable)
		}

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(errors.NewNotFoundError(fmt.Sprintf("service has no data at %s", endpoint)))
		}

		if resp.StatusCode != http.StatusOK {
			c.dumpExchange(ctx, req, resp)
			return backoff.Permanent(fmt.Errorf("unexpected response code %d (%w)", resp.StatusCode, errors.ErrBadResponse))
		}

		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxTries-1), ctx))
	if err != nil {
		return nil, err
	}

	return respBody, nil
}

func (c ssoClient) dumpExchange(ctx context.Context, req *http.Request, resp *http.Response) {
	if !c.debug {
		return
	}

	reqbytes, _ := httputil.DumpRequest(req, false)
	respbytes, _ := httputil.DumpResponse(resp, false)

	log := logging.GetFromContext(ctx)
	log.Warn("unexpected response from data service", "request", string(reqbytes), "response", string(respbytes))
}

func chunked(items []string, size int) [][]string {
	chunks := make([][]string, 0, (len(items)+size-1)/size)

	for size < len(items) {
		chunks = append(chunks, items[:size])
		items = items[size:]
	}

	if len(items) > 0 {
		chunks = append(chunks, items)
	}

	return chunks
}
