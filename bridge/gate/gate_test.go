package gate

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMutualExclusion(t *testing.T) {
	g := New(nil)

	p1 := g.TryAcquire("qwen")
	require.NotNil(t, p1)

	// 同一 provider 第二次获取必须失败
	assert.Nil(t, g.TryAcquire("qwen"))

	// 其它 provider 互不影响
	p2 := g.TryAcquire("kimi")
	require.NotNil(t, p2)

	p1.Release()
	assert.NotNil(t, g.TryAcquire("qwen"))
}

func TestConcurrentAcquireExactlyOneWins(t *testing.T) {
	g := New(nil)

	const n = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	permits := make([]*Permit, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if p := g.TryAcquire("glm"); p != nil {
				permits[i] = p
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestReleaseExactlyOnce(t *testing.T) {
	// 任意组合的 {完成, 错误, 超时, 取消} 触发 Release，
	// 释放计数恰为 1。
	rapid.Check(t, func(t *rapid.T) {
		var releases atomic.Int32
		g := New(nil, WithEventHook(func(provider, event string) {
			if event == "release" {
				releases.Add(1)
			}
		}))

		p := g.TryAcquire("qwen")
		if p == nil {
			t.Fatal("acquire failed on fresh gate")
		}

		callers := rapid.IntRange(1, 6).Draw(t, "callers")
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Release()
			}()
		}
		wg.Wait()

		if got := releases.Load(); got != 1 {
			t.Fatalf("release fired %d times, want exactly 1", got)
		}
		if g.TryAcquire("qwen") == nil {
			t.Fatal("gate still busy after release")
		}
	})
}

func TestNilPermitReleaseIsNoop(t *testing.T) {
	var p *Permit
	assert.NotPanics(t, func() { p.Release() })
}
