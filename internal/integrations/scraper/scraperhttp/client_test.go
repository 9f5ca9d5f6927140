package scraperhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/AttendBox/internal/integrations/scraper"
	"github.com/stretchr/testify/require"
)

func TestClient_SubmitOrder_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/order/submit", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "student1", body["u"])
		require.Equal(t, "pw", body["p"])
		require.Equal(t, []any{"attendance"}, body["t"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"uid":"abc-123"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	ref, err := c.SubmitOrder(context.Background(), "student1", "pw", []string{"attendance"})
	require.NoError(t, err)
	require.Equal(t, "abc-123", ref.UID)
}

func TestClient_SubmitOrder_non2xxCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.SubmitOrder(context.Background(), "u", "p", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
	require.Contains(t, err.Error(), "upstream exploded")
}

func TestClient_GetStatus_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order/status", r.URL.Path)
		require.Equal(t, "abc 123", r.URL.Query().Get("uid"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "uid": "abc 123",
  "status": "processing",
  "progress": 0.4,
  "error": null,
  "subtasks": {"attendance": {"type":"attendance","status":"processing","progress":0.4,"error":null}}
}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	st, err := c.GetStatus(context.Background(), "abc 123")
	require.NoError(t, err)
	require.Equal(t, "processing", st.Status)
	require.InDelta(t, 0.4, st.Progress, 1e-9)
	require.Len(t, st.Subtasks, 1)
}

func TestClient_GetStatus_404IsOrderUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetStatus(context.Background(), "ghost")
	require.ErrorIs(t, err, scraper.ErrOrderUnknown)
}

func TestClient_Download_OK(t *testing.T) {
	blob := []byte{0x01, 0x02, 0x03}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/download", r.URL.Path)
		require.Equal(t, "student1", r.URL.Query().Get("uname"))
		require.Equal(t, "abc-123", r.URL.Query().Get("uid"))
		_, _ = w.Write(blob)
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.Download(context.Background(), "student1", "abc-123")
	require.NoError(t, err)
	require.Equal(t, blob, got)
}

func TestClient_Download_non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Download(context.Background(), "u", "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}
