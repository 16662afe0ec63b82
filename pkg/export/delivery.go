package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const userAgent = "pulse-exporter/1.0"

// DeliveryError is a non-2xx response from a destination.
type DeliveryError struct {
	Destination string
	StatusCode  int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("destination %s returned status %d", e.Destination, e.StatusCode)
}

// deliverer posts transformed payloads to destinations. One instance with a
// shared, instrumented HTTP client serves all destinations.
type deliverer struct {
	client *http.Client
}

func newDeliverer(client *http.Client) *deliverer {
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &deliverer{client: client}
}

// deliver posts a payload to the destination. The destination timeout bounds
// the whole call and aborts the in-flight request when exceeded.
func (d *deliverer) deliver(ctx context.Context, dest *Destination, payload []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, dest.Timeout)
	defer cancel()

	body := payload
	encoding := ""
	if dest.Compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return fmt.Errorf("gzip payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("gzip payload: %w", err)
		}
		body = buf.Bytes()
		encoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", dest.Name, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	applyAuth(req, dest.Auth)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", dest.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{Destination: dest.Name, StatusCode: resp.StatusCode}
	}
	return nil
}

// applyAuth sets the authentication headers described by the destination's
// auth descriptor.
func applyAuth(req *http.Request, auth Auth) {
	switch auth.Kind {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case AuthBasic:
		creds := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		req.Header.Set("Authorization", "Basic "+creds)
	case AuthAPIKey:
		if auth.HeaderName != "" {
			req.Header.Set(auth.HeaderName, auth.HeaderValue)
		}
	case AuthCustom:
		for k, v := range auth.Headers {
			req.Header.Set(k, v)
		}
	}
}
