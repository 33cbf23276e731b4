package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/community-gate/internal/config"
)

func TestSetupDisabledReturnsNoop(t *testing.T) {
	for _, cfg := range []config.OTelConfig{
		{Enabled: true},
		{Enabled: false, Endpoint: "http://localhost:4318"},
	} {
		shutdown, err := Setup(context.Background(), cfg)
		require.NoError(t, err)
		require.NotNil(t, shutdown)
		require.NoError(t, shutdown(context.Background()))
	}
}
