package comfy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(strings.TrimPrefix(srv.URL, "http://"))
}

func TestClient_Ping(t *testing.T) {
	t.Run("healthy engine", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/system_stats", r.URL.Path)
			_, _ = w.Write([]byte(`{"system":{}}`))
		}))
		assert.True(t, c.Ping(context.Background(), time.Second))
	})

	t.Run("error status", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		assert.False(t, c.Ping(context.Background(), time.Second))
	})

	t.Run("unreachable engine", func(t *testing.T) {
		c := NewClient("127.0.0.1:1")
		assert.False(t, c.Ping(context.Background(), 200*time.Millisecond))
	})
}

func TestClient_QueuePrompt(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/prompt", r.URL.Path)

			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "client-1", payload["client_id"])
			assert.NotNil(t, payload["prompt"])

			_ = json.NewEncoder(w).Encode(QueueResponse{PromptID: "p-123", Number: 4})
		}))

		id, err := c.QueuePrompt(context.Background(), map[string]any{"1": map[string]any{}}, "client-1")
		require.NoError(t, err)
		assert.Equal(t, "p-123", id)
	})

	t.Run("rejected with error object", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(QueueResponse{
				Error: &QueueError{Type: "invalid_prompt", Message: "node 220 missing"},
			})
		}))

		_, err := c.QueuePrompt(context.Background(), map[string]any{}, "client-1")
		require.ErrorIs(t, err, ErrQueueRejected)
		assert.Contains(t, err.Error(), "invalid_prompt")
	})

	t.Run("missing prompt_id", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))

		_, err := c.QueuePrompt(context.Background(), map[string]any{}, "client-1")
		require.ErrorIs(t, err, ErrQueueRejected)
	})
}

func TestClient_History(t *testing.T) {
	t.Run("entry present", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/history/p-123", r.URL.Path)
			_, _ = w.Write([]byte(`{
				"p-123": {
					"outputs": {
						"131": {"gifs": [{"filename": "wan_00001.mp4", "subfolder": "", "type": "output"}]}
					}
				}
			}`))
		}))

		entry, err := c.History(context.Background(), "p-123")
		require.NoError(t, err)
		require.NotNil(t, entry)
		require.Len(t, entry.Outputs["131"].Gifs, 1)
		assert.Equal(t, "wan_00001.mp4", entry.Outputs["131"].Gifs[0].Filename)
	})

	t.Run("unknown prompt id", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))

		entry, err := c.History(context.Background(), "p-404")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})
}

func TestClient_ObjectInfo(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/object_info", r.URL.Path)
		_, _ = w.Write([]byte(`{"WanVideoSampler": {}, "LoadImage": {}}`))
	}))

	info, err := c.ObjectInfo(context.Background())
	require.NoError(t, err)
	assert.Len(t, info, 2)
	assert.Contains(t, info, "WanVideoSampler")
}
