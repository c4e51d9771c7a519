package kimi

import (
	"testing"

	"github.com/BaSui01/chatrelay/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFragments(t *testing.T) {
	d := New("", nil)
	body := []byte(`data: {"event":"k1","text":"推理中"}
data: {"event":"cmpl","text":"答案A"}
: keep-alive comment
data: {"event":"cmpl","text":"答案B"}
data: {"event":"all_done"}`)

	frags := d.ClassifyFragments(body)
	require.Len(t, frags, 4)
	assert.Equal(t, providers.FragmentThinking, frags[0].Kind)
	assert.Equal(t, providers.FragmentAnswer, frags[1].Kind)
	assert.Equal(t, "答案A", frags[1].Text)
	assert.Equal(t, providers.FragmentEnd, frags[3].Kind)
}

func TestClassifyFragmentsIgnoresUnknownEvents(t *testing.T) {
	d := New("", nil)
	body := []byte(`data: {"event":"ping"}
data: {"event":"cmpl","text":""}`)
	assert.Empty(t, d.ClassifyFragments(body))
}

func TestCodec(t *testing.T) {
	d := New("", nil)
	c := d.Codec()

	assert.Equal(t, "https://www.kimi.com/chat/cn3k9", c.ToLocator("cn3k9"))
	assert.Equal(t, "cn3k9", c.FromURL("https://www.kimi.com/chat/cn3k9"))
	assert.Equal(t, "cn3k9", c.FromURL("https://www.kimi.com/chat/cn3k9/extra"))
	assert.Equal(t, "", c.FromURL("https://www.kimi.com/"))
}
