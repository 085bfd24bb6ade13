package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

func TestRegistryKnownFamilies(t *testing.T) {
	r := NewRegistry(RegistryConfig{WithMock: true})

	agents := r.Agents()
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	assert.Equal(t, []string{"claude", "codex", "gemini", "mock"}, ids)

	// The mock family needs no binary.
	for _, a := range agents {
		if a.ID == "mock" {
			assert.True(t, a.Installed)
		}
	}
}

func TestRegistryWithoutMock(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	_, err := r.NewAdapter("mock")
	require.Error(t, err)
	assert.Equal(t, schema.ErrValidation, schema.KindOf(err))
}

func TestRegistryUnknownAgent(t *testing.T) {
	r := NewRegistry(RegistryConfig{})

	_, err := r.NewAdapter("nonesuch")
	require.Error(t, err)
	assert.Equal(t, schema.ErrValidation, schema.KindOf(err))

	_, err = r.Modes("nonesuch")
	require.Error(t, err)
	assert.Equal(t, schema.ErrValidation, schema.KindOf(err))
}

func TestRegistryModes(t *testing.T) {
	r := NewRegistry(RegistryConfig{})

	modes, err := r.Modes("claude")
	require.NoError(t, err)
	require.NotEmpty(t, modes)
	assert.Equal(t, "default", modes[0].ID)
}

func TestRegistryNewAdapter(t *testing.T) {
	r := NewRegistry(RegistryConfig{WithMock: true})

	a, err := r.NewAdapter("mock")
	require.NoError(t, err)
	require.NotNil(t, a)

	// Each call hands out a fresh instance; sessions never share adapters.
	b, err := r.NewAdapter("mock")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}
