package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "run", "")
	require.NotEmpty(t, root.TraceID)

	_, build := StartChildSpan(ctx, "build-index")
	build.SetAttr("sets", 3)
	build.End()
	_, match := StartChildSpan(ctx, "match-all")
	match.End()
	root.End()
	first := root.Duration
	root.End()
	assert.Equal(t, first, root.Duration)

	require.Len(t, root.Children(), 2)
	assert.Equal(t, root.TraceID, build.TraceID)
	v, ok := build.Attr("sets")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, nil)))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "span=build-index")
	assert.Contains(t, lines[1], "sets=3")
}

func TestChildWithoutParent(t *testing.T) {
	ctx, span := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, span.TraceID)
	assert.Same(t, span, SpanFromContext(ctx))
}
