package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, TransportAMQP, c.Transport.Kind)
	assert.Equal(t, "topicrpc", c.Metrics.Namespace)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	c, err := LoadYAML(strings.NewReader(`
log:
  level: debug
  encoding: console
transport:
  kind: quic
  address: localhost:7002
  insecure_skip_verify: true
  dial_timeout: 2s
metrics:
  enabled: true
tracing:
  enabled: true
  service_name: sensors
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, TransportQUIC, c.Transport.Kind)
	assert.Equal(t, "localhost:7002", c.Transport.Address)
	assert.True(t, c.Transport.InsecureSkipVerify)
	assert.Equal(t, 2*time.Second, c.Transport.DialTimeout)
	assert.Equal(t, ":9102", c.Metrics.Address, "unset keys keep their default")
	assert.Equal(t, "sensors", c.Tracing.ServiceName)
}

func TestLoadYAMLEmptyDocument(t *testing.T) {
	c, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadYAMLRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":       "transport:\n  flavour: amqp\n",
		"unknown kind":      "transport:\n  kind: carrier-pigeon\n",
		"missing address":   "transport:\n  kind: websocket\n",
		"bad level":         "log:\n  level: loud\n",
		"negative timeout":  "transport:\n  dial_timeout: -1s\n",
		"half a key pair":   "broker:\n  cert_file: cert.pem\n",
		"metrics no listen": "metrics:\n  enabled: true\n  address: \"\"\n",
	}
	for name, doc := range cases {
		_, err := LoadYAML(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topicrpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport:\n  kind: memory\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportMemory, c.Transport.Kind)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	c, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}
