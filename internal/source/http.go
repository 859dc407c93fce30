package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"pixgrid/internal/core/types"
	"pixgrid/internal/transport"
)

// HTTPSource lists images from a paged JSON API and downloads blobs over
// HTTP. Transport errors surface as network failures; non-success statuses
// and malformed payloads surface as server failures. The kinds are never
// coerced into one another.
type HTTPSource struct {
	id       string
	cfg      types.SourceConfig
	baseURL  string
	headers  map[string]string
	transfer *transport.HTTPTransfer
}

// wireRecord is the JSON shape the remote listing returns per image.
type wireRecord struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Title        string `json:"title"`
}

func NewHTTPSource(cfg types.SourceConfig) (Source, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("http source %s requires a base_url", cfg.ID)
	}

	headers := make(map[string]string)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Token != "" {
		headers["Authorization"] = fmt.Sprintf("Bearer %s", cfg.Token)
	}

	return &HTTPSource{
		id:       cfg.ID,
		cfg:      cfg,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		headers:  headers,
		transfer: transport.NewHTTPTransfer(),
	}, nil
}

func (s *HTTPSource) ID() string {
	return s.id
}

func (s *HTTPSource) Name() string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	return s.cfg.Type
}

func (s *HTTPSource) FetchPage(ctx context.Context, page, limit int) ([]types.ImageRecord, error) {
	var records []types.ImageRecord

	callback := func(resp *http.Response) error {
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return types.ServerFailure(fmt.Sprintf("list images: unexpected status %s", resp.Status), nil)
		}

		var wire []wireRecord
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return types.ServerFailure("list images: malformed payload", err)
		}

		records = make([]types.ImageRecord, 0, len(wire))
		for _, w := range wire {
			records = append(records, types.ImageRecord{
				ID:           w.ID,
				URL:          w.URL,
				ThumbnailURL: w.ThumbnailURL,
				Title:        w.Title,
			})
		}
		return nil
	}

	reqOpts := []transport.HTTPRequestOption{
		transport.HTTPRequestQuery(map[string]string{
			"page":  strconv.Itoa(page),
			"limit": strconv.Itoa(limit),
		}),
	}
	if len(s.headers) > 0 {
		reqOpts = append(reqOpts, transport.HTTPRequestHeaders(s.headers))
	}

	err := s.transfer.Get(ctx, s.baseURL+"/images", callback, reqOpts...)
	if err != nil {
		if types.KindOf(err) == types.FailureServer {
			return nil, err
		}
		return nil, types.NetworkFailure("list images", err)
	}

	return records, nil
}

func (s *HTTPSource) Download(ctx context.Context, url string) ([]byte, error) {
	var data []byte

	callback := func(resp *http.Response) error {
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return types.ServerFailure(fmt.Sprintf("download image: unexpected status %s", resp.Status), nil)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return types.NetworkFailure("download image: read body", err)
		}
		data = body
		return nil
	}

	reqOpts := []transport.HTTPRequestOption{}
	if len(s.headers) > 0 {
		reqOpts = append(reqOpts, transport.HTTPRequestHeaders(s.headers))
	}

	err := s.transfer.Get(ctx, url, callback, reqOpts...)
	if err != nil {
		if kind := types.KindOf(err); kind == types.FailureServer || kind == types.FailureNetwork {
			return nil, err
		}
		return nil, types.NetworkFailure("download image", err)
	}

	return data, nil
}

func init() {
	RegisterFactory("http", NewHTTPSource)
}
