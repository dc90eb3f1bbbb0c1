package service

import (
	"context"
	"encoding/json"
	"net/http"

	apperrors "github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/pkg/rpc"
	"github.com/google/uuid"
)

// RPC method names served by RegisterRPC.
const (
	MethodMatch = "Matcher.Match"
	MethodStats = "Matcher.Stats"
)

// RegisterRPC exposes the match and stats operations on s. Params and results
// use the same JSON shapes as the HTTP API.
func RegisterRPC(s *rpc.Server, h *Handler) {
	s.Register(MethodMatch, func(ctx context.Context, params json.RawMessage) (any, error) {
		var req MatchRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, apperrors.New(apperrors.ErrSkippableInput, http.StatusBadRequest, "invalid params")
		}
		ctx = logger.WithRequestID(ctx, uuid.NewString())
		return h.match(ctx, req)
	})
	s.Register(MethodStats, func(context.Context, json.RawMessage) (any, error) {
		return h.stats, nil
	})
}
