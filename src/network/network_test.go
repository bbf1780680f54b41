package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"market-gateway/src/helpers"
	"market-gateway/src/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_StatusClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		assertF func(t *testing.T, body []byte, err error)
	}{
		{
			name:   "ok",
			status: http.StatusOK,
			assertF: func(t *testing.T, body []byte, err error) {
				require.NoError(t, err)
				assert.JSONEq(t, `{"s":"ok"}`, string(body))
			},
		},
		{
			name:   "unauthorized is auth expired",
			status: http.StatusUnauthorized,
			assertF: func(t *testing.T, body []byte, err error) {
				assert.True(t, helpers.IsAuthExpired(err))
			},
		},
		{
			name:   "rate limited is transient",
			status: http.StatusTooManyRequests,
			assertF: func(t *testing.T, body []byte, err error) {
				var transient *helpers.TransientIOError
				assert.ErrorAs(t, err, &transient)
			},
		},
		{
			name:   "not found is plain error",
			status: http.StatusNotFound,
			assertF: func(t *testing.T, body []byte, err error) {
				require.Error(t, err)
				assert.False(t, helpers.IsAuthExpired(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
				assert.Equal(t, "NSE:TCS-EQ", r.URL.Query().Get("symbol"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"s":"ok"}`))
			}))
			defer srv.Close()

			nm := NewAsyncNetworkManager(time.Second, logger.NewNop())
			body, err := nm.Get(context.Background(), srv.URL, map[string]string{"symbol": "NSE:TCS-EQ"}, "jwt")
			tt.assertF(t, body, err)
		})
	}
}
