package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/chatrelay/browser"
	"github.com/BaSui01/chatrelay/providers"
	"github.com/BaSui01/chatrelay/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		PollInterval:   2 * time.Millisecond,
		QuietPolls:     3,
		SettleDelay:    5 * time.Millisecond,
		MaxDuration:    500 * time.Millisecond,
		TransientPause: time.Millisecond,
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (er *eventRecorder) sink(ev Event) error {
	er.mu.Lock()
	defer er.mu.Unlock()
	if er.err != nil {
		return er.err
	}
	er.events = append(er.events, ev)
	return nil
}

func (er *eventRecorder) byKind(kind EventKind) []Event {
	er.mu.Lock()
	defer er.mu.Unlock()
	var out []Event
	for _, ev := range er.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func fragsChan(frags ...providers.Fragment) chan providers.Fragment {
	ch := make(chan providers.Fragment, len(frags)+1)
	for _, f := range frags {
		ch <- f
	}
	return ch
}

func TestRunStreamEndMarker(t *testing.T) {
	drv := testutil.NewFakeDriver("qwen")
	drv.ResponseSeq = []string{""}
	page := &testutil.FakePage{}
	rec := &eventRecorder{}

	frags := fragsChan(
		providers.Fragment{Kind: providers.FragmentThinking, Text: "思考"},
		providers.Fragment{Kind: providers.FragmentAnswer, Text: "你好"},
		providers.Fragment{Kind: providers.FragmentEnd},
	)

	res, err := New(testConfig(), nil).Run(context.Background(), page, drv, frags, rec.sink)
	require.NoError(t, err)

	assert.Equal(t, ReasonStreamEnd, res.Reason)
	assert.Equal(t, "思考", res.Thinking)
	require.Len(t, rec.byKind(EventThinking), 1)
	require.Len(t, rec.byKind(EventAnswer), 1)
	assert.Equal(t, "你好", rec.byKind(EventAnswer)[0].Text)
}

func TestRunReplaceOnMismatch(t *testing.T) {
	// 拦截流积累 "Hello wor"，DOM 终局 "Hello world" → 一次全文替换
	drv := testutil.NewFakeDriver("qwen")
	drv.ResponseSeq = []string{"", "Hello world"}
	page := &testutil.FakePage{}
	rec := &eventRecorder{}
	var mismatches int

	frags := fragsChan(
		providers.Fragment{Kind: providers.FragmentAnswer, Text: "Hello wor"},
		providers.Fragment{Kind: providers.FragmentEnd},
	)

	r := New(testConfig(), nil, WithMismatchHook(func(string) { mismatches++ }))
	res, err := r.Run(context.Background(), page, drv, frags, rec.sink)
	require.NoError(t, err)

	replaces := rec.byKind(EventReplace)
	require.Len(t, replaces, 1)
	assert.Equal(t, "Hello world", replaces[0].Text)
	assert.Equal(t, "Hello world", res.Answer)
	assert.True(t, res.Replaced)
	assert.Equal(t, 1, mismatches)
}

func TestRunNoReplaceWhenMatching(t *testing.T) {
	drv := testutil.NewFakeDriver("qwen")
	drv.ResponseSeq = []string{"答案"}
	page := &testutil.FakePage{}
	rec := &eventRecorder{}

	frags := fragsChan(providers.Fragment{Kind: providers.FragmentEnd})

	res, err := New(testConfig(), nil).Run(context.Background(), page, drv, frags, rec.sink)
	require.NoError(t, err)

	assert.Empty(t, rec.byKind(EventReplace))
	assert.Equal(t, "答案", res.Answer)
	assert.False(t, res.Replaced)
}

func TestRunUISettledCompletion(t *testing.T) {
	drv := testutil.NewFakeDriver("qwen")
	drv.ResponseSeq = []string{"回答"}
	// 先观察到生成中，然后一直 settled
	drv.StateSeq = []providers.GenerationState{
		{Generating: true, CanSend: false},
		{Generating: false, CanSend: true},
	}
	page := &testutil.FakePage{}
	rec := &eventRecorder{}

	cfg := testConfig()
	cfg.QuietPolls = 10000 // 本测试只验证 UI 信号路径

	res, err := New(cfg, nil).Run(context.Background(), page, drv,
		fragsChan(), rec.sink)
	require.NoError(t, err)

	assert.Equal(t, ReasonUISettled, res.Reason)
	assert.Equal(t, "回答", res.Answer)
}

func TestRunStabilityFallback(t *testing.T) {
	drv := testutil.NewFakeDriver("qwen")
	drv.ResponseSeq = []string{"Hi"}
	// UI 永远给不出 settled 信号
	drv.StateSeq = []providers.GenerationState{{Generating: false, CanSend: false}}
	page := &testutil.FakePage{}
	rec := &eventRecorder{}

	res, err := New(testConfig(), nil).Run(context.Background(), page, drv,
		fragsChan(), rec.sink)
	require.NoError(t, err)

	assert.Equal(t, ReasonStable, res.Reason)
	assert.Equal(t, "Hi", res.Answer)
	require.Len(t, rec.byKind(EventAnswer), 1)
}

func TestRunTimeoutSurfacesPartial(t *testing.T) {
	drv := testutil.NewFakeDriver("qwen")
	drv.ResponseSeq = []string{"部分"}
	drv.StateSeq = []providers.GenerationState{{Generating: true}}
	page := &testutil.FakePage{}
	rec := &eventRecorder{}

	cfg := testConfig()
	cfg.MaxDuration = 20 * time.Millisecond
	cfg.QuietPolls = 10000

	res, err := New(cfg, nil).Run(context.Background(), page, drv,
		fragsChan(), rec.sink)
	require.NoError(t, err)

	assert.Equal(t, ReasonTimeout, res.Reason)
	assert.Equal(t, "部分", res.Answer)
}

func TestRunPageGoneSurfacesPartial(t *testing.T) {
	drv := testutil.NewFakeDriver("qwen")
	page := &testutil.FakePage{}
	rec := &eventRecorder{}

	frags := fragsChan(providers.Fragment{Kind: providers.FragmentAnswer, Text: "已收到的"})

	// 第一次 DOM 轮询即发现页面没了
	drv.ResponseErr = browser.ErrPageClosed

	res, err := New(testConfig(), nil).Run(context.Background(), page, drv, frags, rec.sink)
	require.NoError(t, err)

	assert.Equal(t, ReasonPageGone, res.Reason)
	assert.Equal(t, "已收到的", res.Answer)
	assert.Empty(t, rec.byKind(EventReplace))
}

func TestRunSinkErrorAborts(t *testing.T) {
	drv := testutil.NewFakeDriver("qwen")
	page := &testutil.FakePage{}
	rec := &eventRecorder{err: errors.New("client disconnected")}

	frags := fragsChan(providers.Fragment{Kind: providers.FragmentAnswer, Text: "x"})

	_, err := New(testConfig(), nil).Run(context.Background(), page, drv, frags, rec.sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client disconnected")
}

func TestRunContextCancellation(t *testing.T) {
	drv := testutil.NewFakeDriver("qwen")
	drv.StateSeq = []providers.GenerationState{{Generating: true}}
	page := &testutil.FakePage{}
	rec := &eventRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := New(testConfig(), nil).Run(ctx, page, drv, fragsChan(), rec.sink)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAccumulatorKindTracking(t *testing.T) {
	acc := NewAccumulator()

	acc.AddFragment(providers.Fragment{Kind: providers.FragmentThinking, Text: "a"})
	acc.AddFragment(providers.Fragment{Kind: providers.FragmentAnswer, Text: "b"})
	acc.AddFragment(providers.Fragment{Kind: providers.FragmentThinking, Text: "c"})

	assert.Equal(t, "ac", acc.Thinking())
	assert.Equal(t, "b", acc.Answer())
	assert.False(t, acc.Ended())

	acc.AddFragment(providers.Fragment{Kind: providers.FragmentEnd})
	assert.True(t, acc.Ended())

	answer, thinking := acc.KindCounts()
	assert.Equal(t, 1, answer)
	assert.Equal(t, 2, thinking)
}

func TestAccumulatorDOMDelta(t *testing.T) {
	acc := NewAccumulator()

	ev, ok := acc.AddDOMText("Hello")
	require.True(t, ok)
	assert.Equal(t, "Hello", ev.Text)

	// 旧观察不回退
	_, ok = acc.AddDOMText("Hel")
	assert.False(t, ok)

	ev, ok = acc.AddDOMText("Hello world")
	require.True(t, ok)
	assert.Equal(t, " world", ev.Text)
	assert.Equal(t, "Hello world", acc.Answer())
}

func TestProbeMaxElapsed(t *testing.T) {
	p := Probe{Interval: time.Millisecond, MaxElapsed: 15 * time.Millisecond}
	err := p.Run(context.Background(), func(ctx context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, ErrProbeTimeout)
}

func TestProbeStopsOnDone(t *testing.T) {
	calls := 0
	p := Probe{Interval: time.Millisecond}
	err := p.Run(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
