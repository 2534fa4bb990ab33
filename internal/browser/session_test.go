package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"browser-task-scheduler/internal/models"
)

func TestIsProxyError(t *testing.T) {
	assert.False(t, IsProxyError(nil))
	assert.False(t, IsProxyError(errors.New("page load error net::ERR_NAME_NOT_RESOLVED")))
	assert.True(t, IsProxyError(errors.New("page load error net::ERR_PROXY_CONNECTION_FAILED")))
	assert.True(t, IsProxyError(fmt.Errorf("navigate: %w", errors.New("net::ERR_TUNNEL_CONNECTION_FAILED"))))
}

func TestUserAgentFor(t *testing.T) {
	assert.Contains(t, UserAgentFor(models.MobileProfile()), "iPhone")
	assert.Contains(t, UserAgentFor(models.DesktopProfile()), "Windows")
}

func TestOpenRequiresProfileDir(t *testing.T) {
	_, err := NewChrome("", 0, nil).Open(context.Background(), Spec{})
	assert.Error(t, err)
}
