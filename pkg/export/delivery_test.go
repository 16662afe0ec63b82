package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureRequest(t *testing.T, status int) (*httptest.Server, *http.Request, *[]byte) {
	t.Helper()
	var captured http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = *r.Clone(r.Context())
		b, _ := io.ReadAll(r.Body)
		body = append(body[:0], b...)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured, &body
}

func TestDeliverSetsHeaders(t *testing.T) {
	srv, req, body := captureRequest(t, http.StatusOK)

	d := newDeliverer(nil)
	dest := &Destination{Name: "d", Type: TypeWebhook, URL: srv.URL, Timeout: 5 * time.Second}
	err := d.deliver(context.Background(), dest, []byte(`{"a":1}`), contentTypeJSON)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, contentTypeJSON, req.Header.Get("Content-Type"))
	assert.Equal(t, userAgent, req.Header.Get("User-Agent"))
	assert.Equal(t, `{"a":1}`, string(*body))
}

func TestDeliverAuthVariants(t *testing.T) {
	tests := []struct {
		name   string
		auth   Auth
		header string
		want   string
	}{
		{
			name:   "bearer",
			auth:   Auth{Kind: AuthBearer, Token: "tok"},
			header: "Authorization",
			want:   "Bearer tok",
		},
		{
			name:   "basic",
			auth:   Auth{Kind: AuthBasic, Username: "user", Password: "pass"},
			header: "Authorization",
			want:   "Basic dXNlcjpwYXNz",
		},
		{
			name:   "api key header",
			auth:   Auth{Kind: AuthAPIKey, HeaderName: "DD-API-KEY", HeaderValue: "secret"},
			header: "DD-API-KEY",
			want:   "secret",
		},
		{
			name:   "custom headers",
			auth:   Auth{Kind: AuthCustom, Headers: map[string]string{"X-Scope-OrgID": "42"}},
			header: "X-Scope-OrgID",
			want:   "42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, req, _ := captureRequest(t, http.StatusOK)

			d := newDeliverer(nil)
			dest := &Destination{
				Name: "d", Type: TypeWebhook, URL: srv.URL,
				Timeout: 5 * time.Second, Auth: tt.auth,
			}
			require.NoError(t, d.deliver(context.Background(), dest, []byte("x"), contentTypeText))
			assert.Equal(t, tt.want, req.Header.Get(tt.header))
		})
	}
}

func TestDeliverGzipCompression(t *testing.T) {
	srv, req, body := captureRequest(t, http.StatusOK)

	d := newDeliverer(nil)
	dest := &Destination{
		Name: "d", Type: TypeWebhook, URL: srv.URL,
		Timeout: 5 * time.Second, Compress: true,
	}
	payload := []byte(`{"metric":"pulse.test","value":1}`)
	require.NoError(t, d.deliver(context.Background(), dest, payload, contentTypeJSON))

	assert.Equal(t, "gzip", req.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(bytes.NewReader(*body))
	require.NoError(t, err)
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestDeliverNon2xxIsError(t *testing.T) {
	srv, _, _ := captureRequest(t, http.StatusForbidden)

	d := newDeliverer(nil)
	dest := &Destination{Name: "d", Type: TypeWebhook, URL: srv.URL, Timeout: 5 * time.Second}
	err := d.deliver(context.Background(), dest, []byte("x"), contentTypeText)
	require.Error(t, err)

	var delivery *DeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.Equal(t, http.StatusForbidden, delivery.StatusCode)
	assert.Equal(t, "d", delivery.Destination)
}

func TestDeliverTimeoutAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	d := newDeliverer(nil)
	dest := &Destination{Name: "d", Type: TypeWebhook, URL: srv.URL, Timeout: 50 * time.Millisecond}

	start := time.Now()
	err := d.deliver(context.Background(), dest, []byte("x"), contentTypeText)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
