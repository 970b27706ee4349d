package listsapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	auth   string
	body   []byte
}

func newRecordingServer(t *testing.T, status int, response string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	rec := &recordedRequest{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		rec.body = body
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(ts.Close)
	return ts, rec
}

func TestCreateList(t *testing.T) {
	ts, rec := newRecordingServer(t, http.StatusOK, `{"success":true}`)
	client := New(ts.URL, "tok")

	err := client.CreateList(context.Background(), "checkbook", "demo", map[string]any{
		"viewers": []string{"public"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/", rec.path)
	assert.Equal(t, "Bearer tok", rec.auth)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.body, &body))
	assert.Equal(t, "checkbook", body["type"])
	assert.Equal(t, "demo", body["name"])
	assert.Equal(t, []any{"public"}, body["viewers"])
}

func TestUpdateListMeta(t *testing.T) {
	ts, rec := newRecordingServer(t, http.StatusOK, `{"success":true}`)
	client := New(ts.URL, "tok")

	err := client.UpdateListMeta(context.Background(), "ledge", "tri", map[string]any{"categories": []string{"food"}})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, rec.method)
	assert.Equal(t, "/ledge/tri/meta", rec.path)
}

func TestAddItemsBulk(t *testing.T) {
	ts, rec := newRecordingServer(t, http.StatusOK, `{"success":true}`)
	client := New(ts.URL, "tok")

	err := client.AddItemsBulk(context.Background(), "read", "tri", []map[string]any{{"id": "a"}, {"id": "b"}})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/read/tri/items/bulk", rec.path)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.body, &items))
	assert.Len(t, items, 2)
}

func TestErrorResponses(t *testing.T) {
	ts, _ := newRecordingServer(t, http.StatusNotFound, `{"code":"NOT_FOUND","error":"\"demo\" is not found."}`)
	client := New(ts.URL, "tok")

	err := client.DeleteList(context.Background(), "checkbook", "demo")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, `"demo" is not found.`, apiErr.Message)
}

func TestNonNotFoundError(t *testing.T) {
	ts, _ := newRecordingServer(t, http.StatusUnauthorized, `{"code":"UNAUTHORIZED","error":"Unauthorized"}`)
	client := New(ts.URL, "bad")

	err := client.UpdateList(context.Background(), "checkbook", "demo", map[string]any{})
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}
