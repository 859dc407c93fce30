package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"golang.org/x/net/http2"
)

func DefaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP:       true,
			TLSClientConfig: &tls.Config{},
		},
	}
}

type HTTPTransferOption func(*HTTPTransfer)

func HTTPWithClient(c *http.Client) HTTPTransferOption {
	return func(t *HTTPTransfer) {
		t.client = c
	}
}

// HTTPTransfer issues requests and hands the response to a callback, so
// callers stream or decode bodies without the transfer layer buffering
// them.
type HTTPTransfer struct {
	client *http.Client
}

func DefaultHTTPTransfer() *HTTPTransfer {
	return &HTTPTransfer{
		client: DefaultHTTPClient(),
	}
}

func NewHTTPTransfer(opts ...HTTPTransferOption) *HTTPTransfer {
	ht := DefaultHTTPTransfer()

	for _, opt := range opts {
		opt(ht)
	}

	return ht
}

type HTTPRequestOption func(*http.Request)

func HTTPRequestHeaders(h map[string]string) HTTPRequestOption {
	return func(req *http.Request) {
		for k, v := range h {
			req.Header.Set(k, v)
		}
	}
}

func HTTPRequestQuery(q map[string]string) HTTPRequestOption {
	return func(req *http.Request) {
		query := req.URL.Query()
		for k, v := range q {
			query.Set(k, v)
		}
		req.URL.RawQuery = query.Encode()
	}
}

func HTTPRequestBearer(token string) HTTPRequestOption {
	return func(req *http.Request) {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}
}

type HTTPResponseCallback func(*http.Response) error

func (ht *HTTPTransfer) Do(
	ctx context.Context,
	method, url string,
	respCb HTTPResponseCallback,
	reqOpts ...HTTPRequestOption,
) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}

	for _, opt := range reqOpts {
		opt(req)
	}

	resp, err := ht.client.Do(req)
	if err != nil {
		return err
	}

	return respCb(resp)
}

func (ht *HTTPTransfer) Get(ctx context.Context, url string, respCb HTTPResponseCallback, reqOpts ...HTTPRequestOption) error {
	return ht.Do(ctx, http.MethodGet, url, respCb, reqOpts...)
}

func (ht *HTTPTransfer) Head(ctx context.Context, url string, respCb HTTPResponseCallback, reqOpts ...HTTPRequestOption) error {
	return ht.Do(ctx, http.MethodHead, url, respCb, reqOpts...)
}
