package sales

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	client     *Client
	cache      *redis.Client
	server     *miniredis.Miniredis
	tokenCalls int32
	pages      map[string][]string // path -> ordered page bodies
	pageIndex  map[string]int
	dataStatus int32 // when non-zero, the next data call returns this status
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{
		pages:     map[string][]string{},
		pageIndex: map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if status := atomic.SwapInt32(&f.dataStatus, 0); status != 0 {
			w.WriteHeader(int(status))
			return
		}

		bodies := f.pages[r.URL.Path]
		i := f.pageIndex[r.URL.Path]
		if i >= len(bodies) {
			_, _ = w.Write([]byte(`{"items": []}`))
			return
		}
		f.pageIndex[r.URL.Path]++
		_, _ = w.Write([]byte(bodies[i]))
	})

	api := httptest.NewServer(mux)
	t.Cleanup(api.Close)

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	cache := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	f.server = server
	f.cache = cache
	f.client = New(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		BaseURL:      api.URL,
		TokenURL:     api.URL + "/oauth/token",
		Timeout:      5 * time.Second,
	}, cache, zerolog.Nop())

	return f
}

func TestListSubscriptionsFollowsPagination(t *testing.T) {
	f := newAPIFixture(t)
	f.pages["/subscriptions"] = []string{
		`{"items": [{"subscriber_email": "a@example.com", "status": "ACTIVE"}],
		  "page_info": {"next_page_token": "p2"}}`,
		`{"items": [{"subscriber_email": "b@example.com", "status": "ACTIVE"}],
		  "page_info": {"next_page_token": ""}}`,
	}

	subs, err := f.client.ListSubscriptions(context.Background(), "P1")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.Equal(t, "a@example.com", subs[0].SubscriberEmail)
	require.Equal(t, "b@example.com", subs[1].SubscriberEmail)
}

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	f := newAPIFixture(t)
	f.pages["/sales/users"] = []string{`{"items": [{"email": "a@example.com"}]}`}

	_, err := f.client.ListUsers(context.Background(), "P1")
	require.NoError(t, err)
	_, err = f.client.ListUsers(context.Background(), "P1")
	require.NoError(t, err)

	require.EqualValues(t, 1, atomic.LoadInt32(&f.tokenCalls))

	cached, err := f.cache.Get(context.Background(), "sales:token:default").Result()
	require.NoError(t, err)
	require.Equal(t, "tok-1", cached)

	// expires_in 3600s minus the safety margin
	ttl := f.server.TTL("sales:token:default")
	require.Greater(t, ttl, 50*time.Minute)
	require.LessOrEqual(t, ttl, 55*time.Minute)
}

func TestUnauthorizedInvalidatesTokenAndRetriesOnce(t *testing.T) {
	f := newAPIFixture(t)
	f.pages["/sales/history"] = []string{`{"items": [{"buyer_email": "a@example.com", "transaction_status": "APPROVED"}]}`}

	// poison the cache so the first data call is rejected
	require.NoError(t, f.cache.Set(context.Background(), "sales:token:default", "stale", time.Hour).Err())

	rows, err := f.client.ListSalesHistory(context.Background(), HistoryQuery{
		TransactionStatus: "APPROVED",
		StartDate:         time.Now().Add(-time.Hour),
		EndDate:           time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, 1, atomic.LoadInt32(&f.tokenCalls))
}

func TestServerErrorSurfaces(t *testing.T) {
	f := newAPIFixture(t)
	atomic.StoreInt32(&f.dataStatus, http.StatusBadGateway)

	_, err := f.client.ListUsers(context.Background(), "P1")
	require.ErrorContains(t, err, "status 502")
}
