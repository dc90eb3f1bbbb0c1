package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func up(context.Context) error { return nil }

func TestRunReportsWorstStatus(t *testing.T) {
	c := NewChecker()
	c.Register("forest", PingCheck(up, false))
	assert.Equal(t, StatusUp, c.Run(context.Background()).Status)

	c.Register("cache", PingCheck(func(context.Context) error { return errors.New("refused") }, true))
	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "refused", report.Components["cache"].Message)

	c.Register("sink", PingCheck(func(context.Context) error { return errors.New("gone") }, false))
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("forest", PingCheck(up, false))
	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	c.Register("forest", PingCheck(func(context.Context) error { return errors.New("not built") }, false))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
