package bridge

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/chatrelay/types"
)

// TokenCounter 估算一段文本的 token 数。
type TokenCounter func(text string) int

var (
	encOnce sync.Once
	encoder *tiktoken.Tiktoken
)

// CountTokens 是默认计数器：优先用 cl100k_base 精确计数，
// 编码表不可用时退化为每 4 字节 1 token 的粗略估算。
// 底层站点不回报用量，这里的数字本来就只是估计值。
func CountTokens(text string) int {
	encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			encoder = enc
		}
	})
	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}
	n := (len(text) + 3) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// estimateUsage 统计一回合的提示与补全 token。
func estimateUsage(count TokenCounter, history []types.Message, completion string) (prompt, compl int) {
	for _, m := range history {
		prompt += count(m.Content)
	}
	return prompt, count(completion)
}
