// Package bridge 把一次无状态的 API 回合编排成一次有状态的浏览器回合：
// 模型路由 → 会话句柄提取 → 并发闸门 → 页面解析 → 登录分流 →
// 发送与流调和 → 回写续接块。
//
// 子包各管一段：continuity（续接协议）、gate（并发闸门）、
// sessionpool（会话与页面池）、reconcile（流调和）、login（登录对话）。
package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/chatrelay/accounts"
	"github.com/BaSui01/chatrelay/bridge/continuity"
	"github.com/BaSui01/chatrelay/bridge/gate"
	"github.com/BaSui01/chatrelay/bridge/login"
	"github.com/BaSui01/chatrelay/bridge/reconcile"
	"github.com/BaSui01/chatrelay/bridge/sessionpool"
	"github.com/BaSui01/chatrelay/browser"
	"github.com/BaSui01/chatrelay/internal/metrics"
	"github.com/BaSui01/chatrelay/providers"
	"github.com/BaSui01/chatrelay/types"
)

// fragBuffer 拦截片段通道容量。写满即丢：DOM 轮询兜底会补回内容。
const fragBuffer = 256

// TurnRequest 一次对话回合的输入。
type TurnRequest struct {
	// Model 请求的模型名，路由到站点驱动
	Model string
	// Messages 客户端重放的完整历史
	Messages []types.Message
	// AccountID 站点账号槽位，空则用默认槽位
	AccountID string
	// ConversationHint 显式会话 ID（扩展字段），历史里没有续接块时用
	ConversationHint string
}

// TurnResult 一次回合的产物。Text 已含续接块。
type TurnResult struct {
	Text             string
	Thinking         string
	ConversationID   string
	Reason           reconcile.Reason
	Replaced         bool
	LoginDialog      bool
	PromptTokens     int
	CompletionTokens int
}

// Deps 编排器的全部依赖。
type Deps struct {
	Registry  *providers.Registry
	Pool      *sessionpool.Pool
	Gate      *gate.Gate
	Logins    *login.Store
	Accounts  *accounts.Directory
	Reconcile reconcile.Config
	Metrics   *metrics.Collector // 可为 nil
	Tokens    TokenCounter       // 可为 nil，默认 CountTokens
	Logger    *zap.Logger
}

// Bridge 回合编排器。
type Bridge struct {
	registry   *providers.Registry
	pool       *sessionpool.Pool
	gate       *gate.Gate
	reconciler *reconcile.Reconciler
	machine    *login.Machine
	logins     *login.Store
	accounts   *accounts.Directory
	metrics    *metrics.Collector
	tokens     TokenCounter
	logger     *zap.Logger
}

// New 创建编排器。
func New(deps Deps) *Bridge {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tokens := deps.Tokens
	if tokens == nil {
		tokens = CountTokens
	}

	var recOpts []reconcile.Option
	var machOpts []login.MachineOption
	if deps.Metrics != nil {
		recOpts = append(recOpts, reconcile.WithMismatchHook(deps.Metrics.RecordReconcileMismatch))
		machOpts = append(machOpts, login.WithTransitionHook(func(provider string, to login.State) {
			deps.Metrics.RecordLoginTransition(provider, string(to))
		}))
	}

	return &Bridge{
		registry:   deps.Registry,
		pool:       deps.Pool,
		gate:       deps.Gate,
		reconciler: reconcile.New(deps.Reconcile, logger, recOpts...),
		machine:    login.NewMachine(deps.Logins, logger, machOpts...),
		logins:     deps.Logins,
		accounts:   deps.Accounts,
		metrics:    deps.Metrics,
		tokens:     tokens,
		logger:     logger.With(zap.String("component", "bridge")),
	}
}

// Turn 执行一个完整回合。流式增量经 emit 下发；emit 可为 nil
// （非流式调用只取 TurnResult）。
func (b *Bridge) Turn(ctx context.Context, req TurnRequest, emit reconcile.Sink) (*TurnResult, error) {
	if emit == nil {
		emit = func(reconcile.Event) error { return nil }
	}

	drv, err := b.registry.ByModel(req.Model)
	if err != nil {
		return nil, err
	}

	userText := strings.TrimSpace(continuity.StripBlocks(types.LastUserContent(req.Messages)))
	if userText == "" {
		return nil, types.NewError(types.ErrInvalidRequest,
			"no user message in request").WithHTTPStatus(400)
	}

	convID := continuity.Extract(req.Messages, false)
	if convID == "" {
		convID = strings.TrimSpace(req.ConversationHint)
	}

	key, err := b.accounts.Resolve(drv.ID(), req.AccountID)
	if err != nil {
		return nil, err
	}

	permit := b.gate.TryAcquire(drv.ID())
	if permit == nil {
		if b.metrics != nil {
			b.metrics.RecordBusyRejection(drv.ID())
		}
		return nil, types.NewError(types.ErrProviderBusy,
			"provider is handling another turn, retry shortly").
			WithProvider(drv.ID()).
			WithHTTPStatus(429).
			WithRetryable(true)
	}
	defer permit.Release()

	started := time.Now()

	// 进行中的登录对话直接续走状态机，不碰正常会话路径
	if strings.HasPrefix(convID, continuity.LoginPrefix) {
		return b.loginTurn(ctx, drv, key, convID, userText, emit)
	}

	handle := continuity.NewHandle(convID)
	slot := sessionpool.Slot{Provider: drv.ID(), Account: key.Account, Name: req.Model}

	page, err := b.pool.ResolvePage(ctx, slot, handle, drv.Codec(), drv.EntryURL(req.Model))
	if err != nil {
		b.recordTurn(drv.ID(), req.Model, "error", started, 0, 0)
		return nil, err
	}

	authed, err := drv.CheckAuthenticated(ctx, page)
	if err != nil {
		b.recordTurn(drv.ID(), req.Model, "error", started, 0, 0)
		return nil, types.NewError(types.ErrInternalError,
			"authentication check failed").WithProvider(drv.ID()).WithCause(err)
	}
	if !authed {
		// 分流到登录对话：铸一个占位会话 ID，让后续回合都落回状态机
		loginID := continuity.LoginPrefix + uuid.NewString()
		b.logger.Info("unauthenticated, diverting to login dialog",
			zap.String("provider", drv.ID()),
			zap.String("login_id", loginID))
		return b.loginTurn(ctx, drv, key, loginID, "", emit)
	}

	frags := make(chan providers.Fragment, fragBuffer)
	detach := page.OnResponse(drv.StreamPattern(), func(body []byte) {
		for _, f := range drv.ClassifyFragments(body) {
			select {
			case frags <- f:
			default:
				// 慢消费时丢片段，终局校正会补齐
			}
		}
	})
	// 页面跨回合复用，回调不注销会逐回合堆积并继续触发
	defer detach()

	if err := drv.SendMessage(ctx, page, userText); err != nil {
		b.pool.ClosePage(slot)
		b.recordTurn(drv.ID(), req.Model, "error", started, 0, 0)
		return nil, types.NewError(types.ErrInternalError,
			"failed to submit message").WithProvider(drv.ID()).WithCause(err)
	}

	res, err := b.reconciler.Run(ctx, page, drv, frags, emit)
	if err != nil {
		b.recordTurn(drv.ID(), req.Model, "error", started, 0, 0)
		return nil, err
	}

	finalID := b.resolveConversationID(ctx, page, drv, handle)

	text := res.Answer
	if finalID != "" {
		text += continuity.Embed(finalID)
	}

	prompt, compl := estimateUsage(b.tokens, req.Messages, res.Answer)
	b.recordTurn(drv.ID(), req.Model, "ok", started, prompt, compl)
	if b.metrics != nil {
		b.metrics.RecordEndReason(drv.ID(), string(res.Reason))
	}

	return &TurnResult{
		Text:             text,
		Thinking:         res.Thinking,
		ConversationID:   finalID,
		Reason:           res.Reason,
		Replaced:         res.Replaced,
		PromptTokens:     prompt,
		CompletionTokens: compl,
	}, nil
}

// loginTurn 驱动登录对话一步。input 为空表示本回合只负责抛出首个提示。
func (b *Bridge) loginTurn(ctx context.Context, drv providers.SiteDriver, key browser.ProfileKey, loginID, input string, emit reconcile.Sink) (*TurnResult, error) {
	sess, err := b.logins.GetOrCreate(drv.ID(), key.Account, loginID)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError,
			"login session store failed").WithCause(err)
	}

	auth := func(ctx context.Context, account, password string) (bool, error) {
		slot := sessionpool.Slot{Provider: drv.ID(), Account: key.Account, Name: "login"}
		page, perr := b.pool.ResolvePage(ctx, slot,
			continuity.Handle{IsNew: true}, drv.Codec(), drv.EntryURL(""))
		if perr != nil {
			return false, perr
		}
		if lerr := drv.Login(ctx, page, account, password); lerr != nil {
			return false, lerr
		}
		return drv.CheckAuthenticated(ctx, page)
	}

	var reply string

	// 目录里配了凭据的账号走免交互登录，不进对话流程
	if sess.State == login.StateNotStarted {
		if acct, cerr := b.accounts.Credentials(drv.ID(), key.Account); cerr == nil &&
			acct != nil && acct.Username != "" && acct.Password != "" {
			b.logger.Info("attempting login with stored credentials",
				zap.String("provider", drv.ID()),
				zap.String("account", key.Account))
			reply, err = b.machine.AttemptStored(ctx, sess, acct.Username, acct.Password, auth)
			if err != nil {
				return nil, types.NewError(types.ErrInternalError,
					"stored-credential login failed").WithProvider(drv.ID()).WithCause(err)
			}
		}
	}

	if reply == "" {
		reply, err = b.machine.Step(ctx, sess, input, auth)
		if err != nil {
			return nil, types.NewError(types.ErrInternalError,
				"login dialog step failed").WithProvider(drv.ID()).WithCause(err)
		}
	}

	text := reply + continuity.Embed(loginID)
	if serr := emit(reconcile.Event{Kind: reconcile.EventAnswer, Text: text}); serr != nil {
		return nil, serr
	}

	return &TurnResult{
		Text:           text,
		ConversationID: loginID,
		LoginDialog:    true,
	}, nil
}

// resolveConversationID 回合结束后从页面地址提取权威会话 ID。
// 新会话发送后站点通常会跳到带 ID 的地址；提取不到就退回句柄里的旧 ID。
func (b *Bridge) resolveConversationID(ctx context.Context, page browser.Page, drv providers.SiteDriver, handle continuity.Handle) string {
	if url, err := page.URL(ctx); err == nil {
		if id := drv.Codec().FromURL(url); id != "" {
			return id
		}
	}
	if handle.IsNew {
		return ""
	}
	return handle.ID
}

func (b *Bridge) recordTurn(provider, model, status string, started time.Time, prompt, compl int) {
	if b.metrics == nil {
		return
	}
	b.metrics.RecordTurn(provider, model, status, time.Since(started), prompt, compl)
}
