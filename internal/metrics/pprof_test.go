package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "remindbot/pkg/logx"
)

func TestWithAuth(t *testing.T) {
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

	cases := []struct {
		name   string
		token  string
		target string
		header string
		want   int
	}{
		{"no token configured", "", "/x", "", http.StatusOK},
		{"query token", "s3cret", "/x?token=s3cret", "", http.StatusOK},
		{"bad query token", "s3cret", "/x?token=nope", "Bearer s3cret", http.StatusUnauthorized},
		{"bearer header", "s3cret", "/x", "Bearer s3cret", http.StatusOK},
		{"bad bearer header", "s3cret", "/x", "Bearer s3cre", http.StatusUnauthorized},
		{"missing credentials", "s3cret", "/x", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			withAuth(tc.token, ok)(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestTokenEqual(t *testing.T) {
	assert.True(t, tokenEqual("s3cret", "s3cret"))
	assert.False(t, tokenEqual("s3cre", "s3cret"))
	assert.False(t, tokenEqual("s3creT", "s3cret"))
	assert.False(t, tokenEqual("", "s3cret"))
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9090"))
	assert.True(t, isLoopbackAddr("localhost:9090"))
	assert.True(t, isLoopbackAddr("[::1]:9090"))
	assert.False(t, isLoopbackAddr(":9090"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9090"))
	assert.False(t, isLoopbackAddr("bad"))
}

func TestServerRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer("127.0.0.1:0", reg, logx.Nop(), WithPprof("tok"))
	require.NotNil(t, s)

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/?token=tok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerSkipsInsecurePprof(t *testing.T) {
	s := NewServer("0.0.0.0:0", prometheus.NewRegistry(), logx.Nop(), WithPprof(""))
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
