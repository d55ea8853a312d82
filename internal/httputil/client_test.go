package httputil

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ HTTPClient = (*http.Client)(nil)
var _ HTTPClient = (*MockHTTPClient)(nil)

func TestNewClient(t *testing.T) {
	c := NewClient(3 * time.Second)
	assert.Equal(t, 3*time.Second, c.Timeout)
	assert.NotNil(t, c.Transport)
}

func TestMockHTTPClient_Queue(t *testing.T) {
	m := NewMockHTTPClient().
		AddResponse(http.StatusOK, "image/jpeg", []byte{0xff, 0xd8}).
		AddErrorResponse(errors.New("connection refused")).
		AddResponse(http.StatusServiceUnavailable, "", nil)

	req, _ := http.NewRequest(http.MethodGet, "http://camera.local/snapshot.jpg", nil)

	resp, err := m.Do(req)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, []byte{0xff, 0xd8}, body)

	_, err = m.Do(req)
	assert.EqualError(t, err, "connection refused")

	resp, err = m.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// the last response repeats
	resp, err = m.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 4, m.RequestCount())
}

func TestMockHTTPClient_RecordsBody(t *testing.T) {
	m := NewMockHTTPClient()
	req, _ := http.NewRequest(http.MethodPost, "http://infer.local/detect", bytes.NewReader([]byte("frame")))

	resp, err := m.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, body := m.Request(0)
	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "frame", string(body))

	got, _ = m.Request(5)
	assert.Nil(t, got)
}

func TestMockHTTPClient_DoFunc(t *testing.T) {
	m := NewMockHTTPClient()
	m.DoFunc = func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("custom")
	}
	req, _ := http.NewRequest(http.MethodGet, "http://x", nil)
	_, err := m.Do(req)
	assert.EqualError(t, err, "custom")
	assert.Equal(t, 1, m.RequestCount())
}
