package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	client     *Client
	tokenCalls *int
	apiCalls   *int
}

func newFixture(t *testing.T, apiHandler http.HandlerFunc) fixture {
	tokenCalls := 0
	apiCalls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		require.NoError(t, r.ParseForm())
		require.Equal(t, "password", r.Form.Get("grant_type"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": fmt.Sprintf("token-%d", tokenCalls),
			"expires_in":   300,
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		apiCalls++
		apiHandler(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewClient(Options{
		BaseURL:    srv.URL,
		AuthURL:    srv.URL + "/auth/token",
		TokenCache: NewTokenCache(),
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	return fixture{client: client, tokenCalls: &tokenCalls, apiCalls: &apiCalls}
}

func TestTokenReuse(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ActionResult{RequestID: "r1", Status: "submitted"})
	})

	_, err := f.client.StartInstance(context.Background(), 100)
	require.NoError(t, err)
	_, err = f.client.StopInstance(context.Background(), 100)
	require.NoError(t, err)

	require.Equal(t, 1, *f.tokenCalls)
}

func TestTokenRefreshAfterExpiry(t *testing.T) {
	now := time.Now()
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ActionResult{RequestID: "r1", Status: "submitted"})
	})
	f.client.Clock = func() time.Time { return now }

	_, err := f.client.StartInstance(context.Background(), 100)
	require.NoError(t, err)

	// within expiry minus margin: reuse
	now = now.Add(200 * time.Second)
	_, err = f.client.StartInstance(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, 1, *f.tokenCalls)

	// inside the safety margin: refresh
	now = now.Add(80 * time.Second)
	_, err = f.client.StartInstance(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, 2, *f.tokenCalls)
}

func TestRequestHeaders(t *testing.T) {
	seen := make(map[string]bool)
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		rid := r.Header.Get("x-request-id")
		require.Len(t, rid, 36)
		require.False(t, seen[rid], "request id must be fresh per call")
		seen[rid] = true
		json.NewEncoder(w).Encode(ActionResult{RequestID: "r1", Status: "submitted"})
	})

	_, err := f.client.RestartInstance(context.Background(), 100)
	require.NoError(t, err)
	_, err = f.client.ShutdownInstance(context.Background(), 100)
	require.NoError(t, err)
}

func TestRetryOnceOn401(t *testing.T) {
	calls := 0
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(ActionResult{RequestID: "r1", Status: "submitted"})
	})

	res, err := f.client.StartInstance(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, "r1", res.RequestID)
	require.Equal(t, 2, *f.tokenCalls)
}

func TestSecond401IsHardFailure(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "expired"})
	})

	_, err := f.client.StartInstance(context.Background(), 100)
	upstream, ok := err.(*UpstreamError)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
	require.Equal(t, 2, *f.apiCalls, "must not loop beyond a single retry")
}

func TestUpstreamErrorCarriesStatusAndMessage(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"message": "maintenance window"})
	})

	_, err := f.client.CreateSnapshot(context.Background(), 100, "nightly", "")
	upstream, ok := err.(*UpstreamError)
	require.True(t, ok)
	require.Equal(t, http.StatusServiceUnavailable, upstream.StatusCode)
	require.Equal(t, "maintenance window", upstream.Message)
}

func TestListSnapshots(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/compute/instances/100/snapshots", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []Snapshot{
				{SnapshotID: "snap-a", Name: "a", SizeMB: 1024},
				{SnapshotID: "snap-b", Name: "b", SizeMB: 2048},
			},
		})
	})

	snaps, err := f.client.ListSnapshots(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, "snap-a", snaps[0].SnapshotID)
}

func TestResetPasswordReturnsNewCredential(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/compute/instances/100/actions/resetPassword", r.URL.Path)
		json.NewEncoder(w).Encode(PasswordReset{
			ActionResult: ActionResult{RequestID: "r9", Status: "submitted"},
			RootPassword: "new-secret",
		})
	})

	res, err := f.client.ResetPassword(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, "new-secret", res.RootPassword)
}
