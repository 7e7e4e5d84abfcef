package courier_test

import (
	"context"
	"testing"

	"github.com/shipbridge/courier-gateway/pkg/courier"
	"github.com/shipbridge/courier-gateway/pkg/courier/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Resolve(t *testing.T) {
	registry := courier.NewRegistry()
	registry.Register(mock.New("aramex"), true)

	c, err := registry.Resolve("aramex")

	require.NoError(t, err)
	assert.Equal(t, "aramex", c.Code())
}

func TestRegistry_Resolve_NotFound(t *testing.T) {
	registry := courier.NewRegistry()

	_, err := registry.Resolve("smsa")

	require.Error(t, err)
	assert.ErrorIs(t, err, courier.ErrCourierNotFound)
	assert.Equal(t, courier.CodeCourierNotFound, courier.ErrorCode(err))
}

func TestRegistry_Resolve_Disabled(t *testing.T) {
	registry := courier.NewRegistry()
	registry.Register(mock.New("smsa"), false)

	_, err := registry.Resolve("smsa")

	assert.ErrorIs(t, err, courier.ErrCourierNotFound)
}

func TestRegistry_Available(t *testing.T) {
	registry := courier.NewRegistry()
	registry.Register(mock.New("smsa"), true)
	registry.Register(mock.New("aramex"), true)
	registry.Register(mock.New("dhl"), false)

	assert.Equal(t, []string{"aramex", "smsa"}, registry.Available())
	assert.Equal(t, 3, registry.Count())
}

func TestRegistry_Register_Overwrites(t *testing.T) {
	registry := courier.NewRegistry()
	registry.Register(mock.New("aramex"), false)
	registry.Register(mock.New("aramex"), true)

	_, err := registry.Resolve("aramex")

	require.NoError(t, err)
	assert.Equal(t, 1, registry.Count())
}

func TestRegistry_Health(t *testing.T) {
	healthy := mock.New("aramex")
	broken := mock.New("smsa")
	broken.Unavailable = true
	disabled := mock.New("dhl")

	registry := courier.NewRegistry()
	registry.Register(healthy, true)
	registry.Register(broken, true)
	registry.Register(disabled, false)

	health := registry.Health(context.Background())

	assert.Equal(t, map[string]bool{"aramex": true, "smsa": false}, health)
}
