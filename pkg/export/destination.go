package export

import (
	"fmt"
	"strings"
	"time"
)

// DestinationType selects the wire format and delivery conventions of an
// external back end.
type DestinationType string

const (
	TypePrometheus DestinationType = "prometheus"
	TypeGrafana    DestinationType = "grafana"
	TypeDataDog    DestinationType = "datadog"
	TypeNewRelic   DestinationType = "newrelic"
	TypeWebhook    DestinationType = "webhook"
	TypeCustom     DestinationType = "custom"
)

// Format is the generic wire format used by webhook and custom destinations
// that do not supply their own transform.
type Format string

const (
	FormatJSON          Format = "json"
	FormatPrometheus    Format = "prometheus"
	FormatStatsD        Format = "statsd"
	FormatOpenTelemetry Format = "opentelemetry"
)

// AuthKind selects how delivery requests authenticate.
type AuthKind string

const (
	AuthNone   AuthKind = ""
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
	AuthAPIKey AuthKind = "api-key"
	AuthCustom AuthKind = "custom"
)

// Auth describes destination authentication. Exactly the fields relevant to
// Kind are consulted.
type Auth struct {
	Kind AuthKind `yaml:"kind" json:"kind"`

	// Bearer.
	Token string `yaml:"token,omitempty" json:"token,omitempty"`

	// Basic.
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// API key header.
	HeaderName  string `yaml:"header_name,omitempty" json:"header_name,omitempty"`
	HeaderValue string `yaml:"header_value,omitempty" json:"header_value,omitempty"`

	// Custom header map.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// TransformFunc converts a batch into a wire payload and its content type.
type TransformFunc func(*Batch) ([]byte, string, error)

// Destination is one configured external back end.
type Destination struct {
	Name    string          `yaml:"name" json:"name"`
	Type    DestinationType `yaml:"type" json:"type"`
	Enabled bool            `yaml:"enabled" json:"enabled"`

	URL           string        `yaml:"url" json:"url"`
	Auth          Auth          `yaml:"auth" json:"auth"`
	Format        Format        `yaml:"format,omitempty" json:"format,omitempty"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	RetryAttempts int           `yaml:"retry_attempts" json:"retry_attempts"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	Compress      bool          `yaml:"compress" json:"compress"`

	// Transform overrides the format-keyed transform for webhook and custom
	// destinations. Not serializable.
	Transform TransformFunc `yaml:"-" json:"-"`
}

// Validate checks the destination is deliverable.
func (d *Destination) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("destination name is required")
	}
	if d.URL == "" {
		return fmt.Errorf("destination %s: url is required", d.Name)
	}
	switch d.Type {
	case TypePrometheus, TypeGrafana, TypeDataDog, TypeNewRelic, TypeWebhook, TypeCustom:
	default:
		return fmt.Errorf("destination %s: unknown type %q", d.Name, d.Type)
	}
	return nil
}

// applyDefaults fills unset delivery limits.
func (d *Destination) applyDefaults() {
	if d.BatchSize <= 0 {
		d.BatchSize = 100
	}
	if d.FlushInterval <= 0 {
		d.FlushInterval = time.Minute
	}
	if d.RetryAttempts <= 0 {
		d.RetryAttempts = 3
	}
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	if d.Format == "" {
		d.Format = FormatJSON
	}
}

// NewPrometheusDestination targets a Prometheus push gateway using its
// /metrics/job/<job>[/instance/<instance>] path convention.
func NewPrometheusDestination(name, gatewayURL, job, instance string) *Destination {
	url := fmt.Sprintf("%s/metrics/job/%s", strings.TrimRight(gatewayURL, "/"), job)
	if instance != "" {
		url += "/instance/" + instance
	}
	return &Destination{
		Name:    name,
		Type:    TypePrometheus,
		Enabled: true,
		URL:     url,
		Format:  FormatPrometheus,
	}
}

// NewDataDogDestination targets the DataDog series intake. site is e.g.
// "datadoghq.com" or "datadoghq.eu".
func NewDataDogDestination(name, apiKey, site string) *Destination {
	if site == "" {
		site = "datadoghq.com"
	}
	return &Destination{
		Name:    name,
		Type:    TypeDataDog,
		Enabled: true,
		URL:     fmt.Sprintf("https://api.%s/api/v1/series", site),
		Auth: Auth{
			Kind:        AuthAPIKey,
			HeaderName:  "DD-API-KEY",
			HeaderValue: apiKey,
		},
	}
}

// NewNewRelicDestination targets the New Relic metric API. region is "us" or
// "eu".
func NewNewRelicDestination(name, apiKey, region string) *Destination {
	host := "metric-api.newrelic.com"
	if strings.EqualFold(region, "eu") {
		host = "metric-api.eu.newrelic.com"
	}
	return &Destination{
		Name:    name,
		Type:    TypeNewRelic,
		Enabled: true,
		URL:     fmt.Sprintf("https://%s/metric/v1", host),
		Auth: Auth{
			Kind:        AuthAPIKey,
			HeaderName:  "Api-Key",
			HeaderValue: apiKey,
		},
	}
}

// NewGrafanaDestination targets a Grafana Cloud push endpoint with basic
// auth.
func NewGrafanaDestination(name, pushURL, user, apiKey string) *Destination {
	return &Destination{
		Name:    name,
		Type:    TypeGrafana,
		Enabled: true,
		URL:     strings.TrimRight(pushURL, "/") + "/api/v1/push",
		Auth: Auth{
			Kind:     AuthBasic,
			Username: user,
			Password: apiKey,
		},
	}
}

// NewWebhookDestination targets an arbitrary URL with caller-chosen auth and
// format.
func NewWebhookDestination(name, url string, auth Auth, format Format) *Destination {
	if format == "" {
		format = FormatJSON
	}
	return &Destination{
		Name:    name,
		Type:    TypeWebhook,
		Enabled: true,
		URL:     url,
		Auth:    auth,
		Format:  format,
	}
}
