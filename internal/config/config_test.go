package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := Default()
	c.Port = 80
	require.Error(t, c.Validate())
}

func TestValidateRejectsBadTrigMode(t *testing.T) {
	c := Default()
	c.TrigMode = 9
	require.Error(t, c.Validate())
}

func TestTrigModeBits(t *testing.T) {
	require.False(t, TrigListenLevelConnLevel.ConnET())
	require.False(t, TrigListenLevelConnLevel.ListenET())
	require.True(t, TrigListenLevelConnEdge.ConnET())
	require.False(t, TrigListenLevelConnEdge.ListenET())
	require.True(t, TrigListenEdgeConnEdge.ConnET())
	require.True(t, TrigListenEdgeConnEdge.ListenET())
}
