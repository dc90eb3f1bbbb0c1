package service

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/scheduler"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCMatchAndStats(t *testing.T) {
	f, _, err := matcher.BuildForest(matcher.Ordered[string](), [][]string{{"A", "B"}, {"A", "B", "C"}, {"D"}})
	require.NoError(t, err)
	s, err := scheduler.New(f, nil, scheduler.Options{})
	require.NoError(t, err)

	srv := rpc.NewServer()
	RegisterRPC(srv, New(s, f.Stats(), nil, 0, 16))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	c, err := rpc.Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()

	var resp MatchResponse
	require.NoError(t, c.Call(callCtx, MethodMatch, MatchRequest{ID: "t1", Items: []string{"B", "A"}}, &resp))
	assert.Equal(t, "t1", resp.ID)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, []string{"A", "B"}, resp.Matches[0].Items)

	one := 1
	require.NoError(t, c.Call(callCtx, MethodMatch, MatchRequest{ID: "t2", Items: []string{"A", "B"}, AllowedMismatches: &one}, &resp))
	assert.Len(t, resp.Matches, 3)

	var rpcErr *rpc.Error
	err = c.Call(callCtx, MethodMatch, MatchRequest{ID: "t3"}, nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, 422, rpcErr.Code)

	var stats matcher.Stats
	require.NoError(t, c.Call(callCtx, MethodStats, nil, &stats))
	assert.Equal(t, 3, stats.Sets)
}
