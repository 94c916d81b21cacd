package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/srand/fgmachine/pkg/log"
	"github.com/srand/fgmachine/pkg/utils"
)

type HttpClientConfig struct {
	// Base URL of the coordinator, e.g. http://fglab:5080
	Url string

	// Timeout of a single request.
	Timeout time.Duration

	// Compress request bodies with gzip.
	Compress bool
}

type httpClient struct {
	base     *url.URL
	client   *http.Client
	compress bool
}

// NewHttpClient returns a Client speaking the coordinator's REST API.
func NewHttpClient(config HttpClientConfig) (Client, error) {
	base, err := utils.ParseHttpUrl(config.Url)
	if err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &httpClient{
		base: base,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DisableCompression:  true,
				MaxIdleConnsPerHost: 8,
			},
		},
		compress: config.Compress,
	}, nil
}

func (c *httpClient) RegisterMachine(ctx context.Context, specs any) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/machines", specs)
	if err != nil {
		return nil, err
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: invalid registration response", utils.ErrReporting)
	}
	return json.RawMessage(body), nil
}

func (c *httpClient) Started(ctx context.Context, experimentID string) error {
	_, err := c.do(ctx, http.MethodPut, experimentPath(experimentID, "started"), nil)
	return err
}

func (c *httpClient) Result(ctx context.Context, experimentID string, payload any) error {
	_, err := c.do(ctx, http.MethodPut, experimentPath(experimentID, ""), payload)
	return err
}

func (c *httpClient) Status(ctx context.Context, experimentID string, status Status) error {
	_, err := c.do(ctx, http.MethodPut, experimentPath(experimentID, ""), map[string]Status{"_status": status})
	return err
}

func (c *httpClient) Finished(ctx context.Context, experimentID string) error {
	_, err := c.do(ctx, http.MethodPut, experimentPath(experimentID, "finished"), nil)
	return err
}

func experimentPath(experimentID, action string) string {
	path := "/api/experiments/" + url.PathEscape(experimentID)
	if action != "" {
		path += "/" + action
	}
	return path
}

func (c *httpClient) url(path string) string {
	return c.base.String() + path
}

func (c *httpClient) encode(payload any) (io.Reader, bool, error) {
	if payload == nil {
		return nil, false, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, false, err
	}

	if !c.compress {
		return bytes.NewReader(data), false, nil
	}

	buf := &bytes.Buffer{}
	writer := gzip.NewWriter(buf)
	if _, err := writer.Write(data); err != nil {
		return nil, false, err
	}
	if err := writer.Close(); err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	body, compressed, err := c.encode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", utils.ErrReporting, method, path, err)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", utils.ErrReporting, method, path, err)
	}

	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if compressed {
		request.Header.Set("Content-Encoding", "gzip")
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Accept-Encoding", "gzip")
	request.Header.Set(utils.HeaderRequestID, uuid.NewString())

	response, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", utils.ErrReporting, method, path, err)
	}
	defer response.Body.Close()

	var reader io.Reader = response.Body
	if strings.EqualFold(response.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(response.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %w", utils.ErrReporting, method, path, err)
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", utils.ErrReporting, method, path, err)
	}

	if response.StatusCode >= 300 {
		err := fmt.Errorf("%w: %s %s: %s", utils.ErrReporting, method, path, response.Status)
		return nil, utils.NewDetailedError(err, strings.TrimSpace(string(data)))
	}

	log.Tracef("%4s %s %s", method, path, response.Status)
	return data, nil
}
