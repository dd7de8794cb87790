package graph

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-io/finsight/internal/apperr"
	"github.com/finsight-io/finsight/internal/config"
	"github.com/finsight-io/finsight/internal/resilience"
)

func testClient(baseURL string) *Client {
	c := New(config.GraphConfig{
		BaseURL:           baseURL,
		RESTURL:           baseURL + "/restserver.php",
		APIKey:            "key",
		APISecret:         "secret",
		PostFetchLimit:    20,
		CommentFetchLimit: 20,
		RequestsPerSec:    1000,
	})
	c.retry = resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     1,
	}
	return c
}

func TestFeedDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/123456/feed", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "chronological", r.URL.Query().Get("order"))
		assert.Equal(t, "EAAGtok", r.URL.Query().Get("access_token"))
		w.Write([]byte(`{
			"data": [
				{"id": "123456_777", "message": "first post", "created_time": "2026-07-01T10:00:00+0000"},
				{"id": "123456_778", "message": "", "created_time": "2026-07-02T11:30:00+0000"}
			],
			"paging": {"cursors": {"before": "b1", "after": "a1"}}
		}`))
	}))
	defer srv.Close()

	items, err := testClient(srv.URL).Feed(context.Background(), "123456", "EAAGtok")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "123456_777", items[0].ID)
	assert.Equal(t, "first post", items[0].Message)
	assert.Equal(t, 2026, items[0].CreatedTime.Year())
	assert.Empty(t, items[1].Message)
}

func TestCommentsDecodesAuthor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/123456_777/comments", r.URL.Path)
		w.Write([]byte(`{
			"data": [
				{"id": "c1", "message": "nice", "from": {"id": "900", "name": "Bob"}, "created_time": "2026-07-03T09:00:00+0000"}
			],
			"paging": {"cursors": {"before": "", "after": ""}}
		}`))
	}))
	defer srv.Close()

	items, err := testClient(srv.URL).Comments(context.Background(), "123456_777", "EAAGtok")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "900", items[0].AuthorID)
	assert.Equal(t, "Bob", items[0].AuthorName)
}

func TestQueryRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data": [], "paging": {"cursors": {"before": "", "after": ""}}}`))
	}))
	defer srv.Close()

	items, err := testClient(srv.URL).Feed(context.Background(), "1", "t")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueryBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.retry.MaxAttempts = 1
	c.breaker = resilience.NewBreaker(resilience.BreakerConfigFrom(2, 0))

	for i := 0; i < 2; i++ {
		_, err := c.Feed(context.Background(), "1", "t")
		require.Error(t, err)
	}
	assert.Equal(t, int32(2), calls.Load())

	// Third call is rejected without touching the network.
	_, err := c.Feed(context.Background(), "1", "t")
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQuerySurfacesEmbeddedAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"error": {"message": "Invalid OAuth access token", "type": "OAuthException", "code": 190}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Feed(context.Background(), "1", "bad")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, apperr.HTTPStatus(err))
	// Upstream detail is redacted for API consumers.
	assert.NotContains(t, apperr.Detail(err), "OAuthException")
}

func TestPasswordToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "auth.login", q.Get("method"))
		assert.Equal(t, "alice@example.com", q.Get("email"))
		assert.NotEmpty(t, q.Get("sig"))
		w.Write([]byte(`{"access_token": "EAAGresttok", "session_key": "sk"}`))
	}))
	defer srv.Close()

	token, err := testClient(srv.URL).PasswordToken(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "EAAGresttok", token)
}

func TestPasswordTokenDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"error_code": 401, "error_msg": "invalid credentials"}`))
	}))
	defer srv.Close()

	token, err := testClient(srv.URL).PasswordToken(context.Background(), "a@b.c", "bad")
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestSignParamsIsDeterministic(t *testing.T) {
	a := signParams(map[string]string{"b": "2", "a": "1"}, "s")
	b := signParams(map[string]string{"a": "1", "b": "2"}, "s")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}
