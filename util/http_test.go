package util

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRobustHTTPClientRetries(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := RobustHTTPClient().Get(srv.URL)
	require.NoError(err)
	resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal(int32(2), calls.Load())
}

func TestRobustHTTPClientNotImplemented(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotImplemented)
	}))
	defer srv.Close()

	resp, err := RobustHTTPClient().Get(srv.URL)
	require.NoError(err)
	resp.Body.Close()
	assert.Equal(http.StatusNotImplemented, resp.StatusCode)
	assert.Equal(int32(1), calls.Load())
}
