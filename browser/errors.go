package browser

import (
	"context"
	"errors"
	"strings"
)

// ErrPageClosed 页面已被关闭后继续操作时返回。
var ErrPageClosed = errors.New("browser: page closed")

// ErrSessionClosed 会话已被关闭后继续操作时返回。
var ErrSessionClosed = errors.New("browser: session closed")

// Kind 驱动错误分类。轮询循环与会话池只依据分类决定重试、
// 重建还是放弃，不解析具体错误文本。
type Kind int

const (
	// KindTransient 瞬时失败：页面仍在，原地短暂停顿后重试。
	KindTransient Kind = iota
	// KindPageGone 页面已关闭或导航走了：结束当前循环，保留已收集内容。
	KindPageGone
	// KindSessionDead 浏览器会话已死：从池中移除并重建会话。
	KindSessionDead
	// KindFatal 不可恢复：直接上抛。
	KindFatal
)

// 会话级死亡特征。chromedp 在浏览器进程退出 / websocket 断开时
// 返回的错误文本并不统一，这里按经验列举。
var sessionDeadProbes = []string{
	"browser closed",
	"session closed",
	"websocket url timeout",
	"websocket: close",
	"connection refused",
	"transport closed",
	"unexpected EOF",
	"exec: ",
}

var pageGoneProbes = []string{
	"target closed",
	"target crashed",
	"no target with given id",
	"page closed",
	"context canceled",
}

// Classify 将驱动错误归入 Kind 分类。
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}
	if errors.Is(err, ErrSessionClosed) {
		return KindSessionDead
	}
	if errors.Is(err, ErrPageClosed) || errors.Is(err, context.Canceled) {
		return KindPageGone
	}
	// 操作级超时视为瞬时：页面大概率还活着
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	msg := err.Error()
	for _, probe := range sessionDeadProbes {
		if strings.Contains(msg, probe) {
			return KindSessionDead
		}
	}
	for _, probe := range pageGoneProbes {
		if strings.Contains(msg, probe) {
			return KindPageGone
		}
	}
	return KindTransient
}
