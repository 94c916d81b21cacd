package coordinator

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/srand/fgmachine/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method    string
	Path      string
	Body      string
	Encoding  string
	RequestID string
}

type fakeCoordinator struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	response []byte
	gzipped  bool
}

func (f *fakeCoordinator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reader = gz
	}
	body, _ := io.ReadAll(reader)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method:    r.Method,
		Path:      r.URL.Path,
		Body:      string(body),
		Encoding:  r.Header.Get("Content-Encoding"),
		RequestID: r.Header.Get(utils.HeaderRequestID),
	})
	status := f.status
	response := f.response
	gzipped := f.gzipped
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}

	if gzipped {
		buf := &bytes.Buffer{}
		gz := gzip.NewWriter(buf)
		gz.Write(response)
		gz.Close()
		response = buf.Bytes()
		w.Header().Set("Content-Encoding", "gzip")
	}
	w.WriteHeader(status)
	w.Write(response)
}

func (f *fakeCoordinator) Requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest{}, f.requests...)
}

func newClient(t *testing.T, fake *fakeCoordinator, compress bool) Client {
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := NewHttpClient(HttpClientConfig{Url: server.URL + "/", Compress: compress})
	require.NoError(t, err)
	return client
}

func TestExperimentReports(t *testing.T) {
	fake := &fakeCoordinator{}
	client := newClient(t, fake, false)
	ctx := context.Background()

	require.NoError(t, client.Started(ctx, "e1"))
	require.NoError(t, client.Result(ctx, "e1", map[string]any{"loss": 0.5}))
	require.NoError(t, client.Status(ctx, "e1", StatusFail))
	require.NoError(t, client.Finished(ctx, "e1"))

	requests := fake.Requests()
	require.Len(t, requests, 4)

	assert.Equal(t, http.MethodPut, requests[0].Method)
	assert.Equal(t, "/api/experiments/e1/started", requests[0].Path)
	assert.Empty(t, requests[0].Body)

	assert.Equal(t, "/api/experiments/e1", requests[1].Path)
	assert.JSONEq(t, `{"loss": 0.5}`, requests[1].Body)

	assert.Equal(t, "/api/experiments/e1", requests[2].Path)
	assert.JSONEq(t, `{"_status": "fail"}`, requests[2].Body)

	assert.Equal(t, "/api/experiments/e1/finished", requests[3].Path)

	for _, r := range requests {
		assert.NotEmpty(t, r.RequestID)
	}
}

func TestCompressedReports(t *testing.T) {
	fake := &fakeCoordinator{}
	client := newClient(t, fake, true)

	require.NoError(t, client.Status(context.Background(), "e2", StatusSuccess))

	requests := fake.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "gzip", requests[0].Encoding)
	assert.JSONEq(t, `{"_status": "success"}`, requests[0].Body)
}

func TestRegisterMachine(t *testing.T) {
	fake := &fakeCoordinator{response: []byte(`{"_id": "m1", "hostname": "box"}`), gzipped: true}
	client := newClient(t, fake, false)

	identity, err := client.RegisterMachine(context.Background(), map[string]string{"hostname": "box"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id": "m1", "hostname": "box"}`, string(identity))

	requests := fake.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, http.MethodPost, requests[0].Method)
	assert.Equal(t, "/api/machines", requests[0].Path)
	assert.JSONEq(t, `{"hostname": "box"}`, requests[0].Body)
}

func TestRegisterMachineInvalidResponse(t *testing.T) {
	fake := &fakeCoordinator{response: []byte(`not json`)}
	client := newClient(t, fake, false)

	_, err := client.RegisterMachine(context.Background(), map[string]string{})
	assert.ErrorIs(t, err, utils.ErrReporting)
}

func TestRejectedReport(t *testing.T) {
	fake := &fakeCoordinator{status: http.StatusNotFound, response: []byte("No experiment e1\n")}
	client := newClient(t, fake, false)

	err := client.Started(context.Background(), "e1")
	assert.ErrorIs(t, err, utils.ErrReporting)

	var detailed utils.DetailedError
	require.ErrorAs(t, err, &detailed)
	assert.Equal(t, "No experiment e1", detailed.Details())
}

func TestUnreachableCoordinator(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewHttpClient(HttpClientConfig{Url: url})
	require.NoError(t, err)

	err = client.Finished(context.Background(), "e1")
	assert.ErrorIs(t, err, utils.ErrReporting)
}

func TestInvalidUrl(t *testing.T) {
	_, err := NewHttpClient(HttpClientConfig{Url: "fglab:5080"})
	assert.Error(t, err)
}

func TestStatusFromExitCode(t *testing.T) {
	assert.Equal(t, StatusSuccess, StatusFromExitCode(0))
	assert.Equal(t, StatusFail, StatusFromExitCode(2))
	assert.Equal(t, StatusFail, StatusFromExitCode(-1))
}
