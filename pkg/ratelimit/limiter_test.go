package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterBurstThenRefill(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, Burst: 2})
	now := time.Now()

	require.True(t, l.AllowAt("client-a", now))
	require.True(t, l.AllowAt("client-a", now))
	require.False(t, l.AllowAt("client-a", now))

	require.True(t, l.AllowAt("client-a", now.Add(time.Second)))
}

func TestLimiterPerClientIsolation(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, Burst: 1})
	now := time.Now()

	require.True(t, l.AllowAt("a", now))
	require.False(t, l.AllowAt("a", now))
	require.True(t, l.AllowAt("b", now))
}

func TestClientIDTrustsForwardedFor(t *testing.T) {
	l := New(Config{TrustProxyHeaders: true})
	require.Equal(t, "1.2.3.4", l.ClientID("10.0.0.1:1234", "1.2.3.4, 10.0.0.1"))
	l2 := New(Config{})
	require.Equal(t, "10.0.0.1:1234", l2.ClientID("10.0.0.1:1234", "1.2.3.4"))
}
