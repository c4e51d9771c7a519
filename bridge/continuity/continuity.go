// Package continuity implements the conversation continuity protocol.
//
// The wire protocol is stateless (the client resends the whole history every
// turn) while the browser conversation is stateful. The resumable locator is
// therefore smuggled through the only channel the client echoes back: the
// assistant reply text, inside a fenced block tagged with a fixed sentinel.
package continuity

import (
	"strings"

	"github.com/BaSui01/chatrelay/types"
)

// Sentinel 块标记。整个协议只认这一个围栏名。
const Sentinel = "chatrelay-conversation"

// LoginPrefix 登录对话占位 ID 前缀。
const LoginPrefix = "login-"

const (
	openMarker  = "```" + Sentinel
	closeMarker = "```"
)

// Handle 每回合从历史推导出的会话句柄。
type Handle struct {
	ID    string
	IsNew bool
}

// NewHandle derives a handle from an extracted (or hinted) id.
func NewHandle(id string) Handle {
	return Handle{ID: id, IsNew: IsNew(id)}
}

// IsNew reports whether id denotes a brand-new conversation:
// empty, blank, or an in-progress login dialog id.
func IsNew(id string) bool {
	id = strings.TrimSpace(id)
	return id == "" || strings.HasPrefix(id, LoginPrefix)
}

// Embed renders the continuity block appended to the visible reply.
// Embed 与 Extract 互逆：对不含围栏标记与换行的 id，
// Extract(Embed(id)) == id 恒成立。
func Embed(id string) string {
	return "\n\n" + openMarker + "\n" + id + "\n" + closeMarker + "\n"
}

// Extract scans history newest-to-oldest for the first assistant message
// carrying a well-formed continuity block and returns the embedded id.
// Returns "" when no block is found. With excludeLogin set, a login-
// prefixed id is treated as not found.
func Extract(history []types.Message, excludeLogin bool) string {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != types.RoleAssistant {
			continue
		}
		id := extractFromText(msg.Content)
		if id == "" {
			continue
		}
		if excludeLogin && strings.HasPrefix(id, LoginPrefix) {
			return ""
		}
		return id
	}
	return ""
}

// extractFromText 解析单条消息文本中的第一个合法块。
func extractFromText(text string) string {
	start := strings.Index(text, openMarker)
	if start < 0 {
		return ""
	}
	rest := text[start+len(openMarker):]
	end := strings.Index(rest, closeMarker)
	if end < 0 {
		return ""
	}
	block := rest[:end]
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		return line
	}
	return ""
}

// StripBlocks removes all continuity blocks from text. Used before replaying
// history into a fresh browser conversation so the sentinel never leaks
// upstream.
func StripBlocks(text string) string {
	for {
		start := strings.Index(text, openMarker)
		if start < 0 {
			return text
		}
		rest := text[start+len(openMarker):]
		end := strings.Index(rest, closeMarker)
		if end < 0 {
			return text[:start]
		}
		text = strings.TrimRight(text[:start], "\n ") + rest[end+len(closeMarker):]
	}
}

// LocatorCodec converts between the opaque conversation id and the
// provider-native resumable locator. Each site driver supplies its own pair;
// the protocol itself never interprets the id.
type LocatorCodec interface {
	// ToLocator 由会话 ID 构造可导航的 URL。
	ToLocator(id string) string
	// FromURL 从页面当前 URL 提取会话 ID；不可恢复时返回空串。
	FromURL(url string) string
}
