package natsclient

import (
	"testing"

	"github.com/sifan077/TempLink/config"
	"github.com/stretchr/testify/assert"
)

func TestBuildURL(t *testing.T) {
	assert.Equal(t, "nats://localhost:4222", buildURL(config.NATSConfig{}))
	assert.Equal(t, "nats://events.internal:4333", buildURL(config.NATSConfig{Host: "events.internal", Port: 4333}))
}

func TestConnect_Unreachable(t *testing.T) {
	_, _, err := Connect(config.NATSConfig{Host: "127.0.0.1", Port: 1}, nil)
	assert.ErrorContains(t, err, "nats: connect")
}
