package redisutil

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0", time.Second)
	require.NoError(t, err)
	defer rdb.Close()

	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
	v, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestConnectErrors(t *testing.T) {
	_, err := Connect(context.Background(), "not-a-url", time.Second)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err = Connect(context.Background(), "redis://"+addr, 200*time.Millisecond)
	assert.Error(t, err)
}
