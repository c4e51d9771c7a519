package providers_test

import (
	"testing"

	"github.com/BaSui01/chatrelay/providers"
	"github.com/BaSui01/chatrelay/providers/glm"
	"github.com/BaSui01/chatrelay/providers/kimi"
	"github.com/BaSui01/chatrelay/providers/qwen"
	"github.com/BaSui01/chatrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := providers.NewRegistry()
	r.Register(qwen.New("", nil))
	r.Register(kimi.New("", nil))
	r.Register(glm.New("", nil))

	d, err := r.ByModel("qwen-web")
	require.NoError(t, err)
	assert.Equal(t, "qwen", d.ID())

	d, err = r.ByModel("kimi-web-k1")
	require.NoError(t, err)
	assert.Equal(t, "kimi", d.ID())

	_, err = r.ByModel("gpt-4")
	require.Error(t, err)
	assert.Equal(t, types.ErrModelNotFound, types.GetErrorCode(err))

	models := r.Models()
	assert.Contains(t, models, "glm-web")
	assert.Len(t, models, 5)

	_, ok := r.ByID("glm")
	assert.True(t, ok)
	_, ok = r.ByID("unknown")
	assert.False(t, ok)
}

func TestGenerationStateSettled(t *testing.T) {
	assert.True(t, providers.GenerationState{Generating: false, CanSend: true}.Settled())
	assert.False(t, providers.GenerationState{Generating: true, CanSend: true}.Settled())
	assert.False(t, providers.GenerationState{Generating: false, CanSend: false}.Settled())
}
