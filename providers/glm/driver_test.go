package glm

import (
	"testing"

	"github.com/BaSui01/chatrelay/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFragments(t *testing.T) {
	d := New("", nil)
	body := []byte(`{"phase":"thinking","delta":"思考"}
{"delta":"答"}
{"delta":"案"}
{"finished":true}`)

	frags := d.ClassifyFragments(body)
	require.Len(t, frags, 4)
	assert.Equal(t, providers.FragmentThinking, frags[0].Kind)
	assert.Equal(t, providers.FragmentAnswer, frags[1].Kind)
	assert.Equal(t, providers.FragmentAnswer, frags[2].Kind)
	assert.Equal(t, providers.FragmentEnd, frags[3].Kind)
}

func TestClassifyFragmentsSkipsEmptyDeltas(t *testing.T) {
	d := New("", nil)
	assert.Empty(t, d.ClassifyFragments([]byte(`{"delta":""}`)))
}

func TestCodec(t *testing.T) {
	d := New("", nil)
	c := d.Codec()

	loc := c.ToLocator("67bd")
	assert.Contains(t, loc, "conversation=67bd")
	assert.Equal(t, "67bd", c.FromURL(loc))
	assert.Equal(t, "67bd", c.FromURL(loc+"&lang=zh"))
	assert.Equal(t, "", c.FromURL("https://chatglm.cn/main"))
}
