package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestConnectRedis(t *testing.T) {
	server := miniredis.RunT(t)

	client, err := ConnectRedis(context.Background(), "redis://"+server.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = ConnectRedis(context.Background(), "")
	require.Error(t, err)

	_, err = ConnectRedis(context.Background(), "://bad")
	require.Error(t, err)
}
