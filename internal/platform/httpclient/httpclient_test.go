package httpclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemonic-nexus/mnx/internal/platform/httpclient"
)

func TestPostJSON_SendsHeadersAndBody(t *testing.T) {
	var gotHeader string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Test")
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := httpclient.New(time.Second)
	resp, err := c.PostJSON(context.Background(), srv.URL, map[string]string{"a": "b"}, map[string]string{"X-Test": "yes"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.False(t, resp.Failed())
	assert.Contains(t, string(resp.Body), "ok")
	assert.Equal(t, "yes", gotHeader)
	assert.Contains(t, gotBody, `"a":"b"`)
}

func TestPostJSON_NonSuccessStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := httpclient.New(time.Second)
	resp, err := c.PostJSON(context.Background(), srv.URL, map[string]string{}, nil)
	require.NoError(t, err)
	assert.True(t, resp.Failed())
}

func TestResponse_Failed(t *testing.T) {
	assert.False(t, httpclient.Response{StatusCode: 200}.Failed())
	assert.False(t, httpclient.Response{StatusCode: 299}.Failed())
	assert.True(t, httpclient.Response{StatusCode: 199}.Failed())
	assert.True(t, httpclient.Response{StatusCode: 300}.Failed())
	assert.True(t, httpclient.Response{StatusCode: 404}.Failed())
}

func TestPostJSON_UnreachableServer(t *testing.T) {
	c := httpclient.New(50 * time.Millisecond)
	_, err := c.PostJSON(context.Background(), "http://127.0.0.1:1", map[string]string{}, nil)
	require.Error(t, err)
}
