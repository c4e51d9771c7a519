package reconcile

import (
	"strings"

	"github.com/BaSui01/chatrelay/providers"
)

// Accumulator 单回合的流积累器，不跨请求存活。
// 维护两个单调增长的缓冲（thinking / answer）和按到达序号记录的
// 片段类型表——在 UI 最终确认哪段是"正式回答"之前，交错片段靠它归类。
type Accumulator struct {
	thinking strings.Builder
	answer   strings.Builder
	kinds    map[int]providers.FragmentKind
	next     int
	ended    bool
}

// NewAccumulator 创建空积累器。
func NewAccumulator() *Accumulator {
	return &Accumulator{kinds: make(map[int]providers.FragmentKind)}
}

// AddFragment 记录一条拦截片段，返回应立即下发的增量事件。
// FragmentEnd 置位显式结束标记，不产生事件。
func (a *Accumulator) AddFragment(f providers.Fragment) (Event, bool) {
	idx := a.next
	a.next++
	a.kinds[idx] = f.Kind

	switch f.Kind {
	case providers.FragmentEnd:
		a.ended = true
		return Event{}, false
	case providers.FragmentThinking:
		a.thinking.WriteString(f.Text)
		return Event{Kind: EventThinking, Text: f.Text}, f.Text != ""
	default:
		a.answer.WriteString(f.Text)
		return Event{Kind: EventAnswer, Text: f.Text}, f.Text != ""
	}
}

// AddDOMText 并入一次 DOM 全量观察，只有超出已见长度的部分算新增。
func (a *Accumulator) AddDOMText(full string) (Event, bool) {
	if len(full) <= a.answer.Len() {
		return Event{}, false
	}
	delta := full[a.answer.Len():]
	a.answer.WriteString(delta)
	return Event{Kind: EventAnswer, Text: delta}, true
}

// Ended 是否出现过显式流结束标记。
func (a *Accumulator) Ended() bool { return a.ended }

// Answer 当前回答缓冲。
func (a *Accumulator) Answer() string { return a.answer.String() }

// Thinking 当前思考缓冲。
func (a *Accumulator) Thinking() string { return a.thinking.String() }

// HasContent 任一缓冲非空。
func (a *Accumulator) HasContent() bool {
	return a.answer.Len() > 0 || a.thinking.Len() > 0
}

// KindCounts 按类型表汇总各通道的片段数。终局校正发现流与 DOM
// 不一致时，用它诊断拦截流的缺口落在哪个通道。
func (a *Accumulator) KindCounts() (answer, thinking int) {
	for _, k := range a.kinds {
		switch k {
		case providers.FragmentThinking:
			thinking++
		case providers.FragmentAnswer:
			answer++
		}
	}
	return answer, thinking
}
