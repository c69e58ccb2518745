package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/topicrpc/pkg/observability/log"
	"github.com/zeusync/topicrpc/pkg/transport/amqp"
)

// TransportKind selects how a process reaches the broker.
type TransportKind string

const (
	TransportMemory    TransportKind = "memory"
	TransportAMQP      TransportKind = "amqp"
	TransportWebSocket TransportKind = "websocket"
	TransportQUIC      TransportKind = "quic"
)

type Config struct {
	Log       log.Config      `yaml:"log"`
	Transport TransportConfig `yaml:"transport"`
	Broker    BrokerConfig    `yaml:"broker"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type TransportConfig struct {
	Kind TransportKind `yaml:"kind"`
	// URI is the AMQP broker URI.
	URI string `yaml:"uri"`
	// Address is the bridge address for websocket and quic.
	Address            string `yaml:"address"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// BrokerConfig configures the in-process broker served by "topicrpc broker".
// An empty address disables that listener.
type BrokerConfig struct {
	WebSocketAddress string `yaml:"websocket_address"`
	QUICAddress      string `yaml:"quic_address"`
	// CertFile and KeyFile name a TLS key pair for QUIC. A self-signed
	// certificate is generated when both are empty.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

func Default() *Config {
	return &Config{
		Log: log.Config{
			Level:    "info",
			Encoding: "json",
			Outputs:  []string{"stderr"},
		},
		Transport: TransportConfig{
			Kind:        TransportAMQP,
			URI:         amqp.DefaultURI,
			DialTimeout: 5 * time.Second,
		},
		Broker: BrokerConfig{
			WebSocketAddress: ":7001",
			QUICAddress:      ":7002",
		},
		Metrics: MetricsConfig{
			Address:   ":9102",
			Namespace: "topicrpc",
		},
		Tracing: TracingConfig{
			ServiceName: "topicrpc",
		},
	}
}

// Load reads the YAML file at path on top of Default. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		c := Default()
		return c, c.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	c, err := LoadYAML(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return c, nil
}

// LoadYAML decodes a YAML document on top of Default. Unknown keys are
// rejected.
func LoadYAML(r io.Reader) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "decode yaml")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Transport.Kind {
	case TransportMemory:
	case TransportAMQP:
		if c.Transport.URI == "" {
			return fmt.Errorf("transport.uri is required for %s", c.Transport.Kind)
		}
	case TransportWebSocket, TransportQUIC:
		if c.Transport.Address == "" {
			return fmt.Errorf("transport.address is required for %s", c.Transport.Kind)
		}
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
	if c.Transport.DialTimeout < 0 {
		return fmt.Errorf("transport.dial_timeout must not be negative")
	}
	if (c.Broker.CertFile == "") != (c.Broker.KeyFile == "") {
		return fmt.Errorf("broker.cert_file and broker.key_file must be set together")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}
	return nil
}
