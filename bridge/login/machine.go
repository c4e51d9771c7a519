package login

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// 对话文案。回复永远带下一步指引，用户不需要记住流程。
const (
	promptMethod = "检测到当前账号未登录，请选择登录方式：\n" +
		"1. 账号密码登录\n" +
		"2. 短信验证码登录（暂不支持）\n" +
		"3. 扫码登录（暂不支持）\n" +
		"请回复序号（如：1）。"
	promptMethodInvalid  = "无法识别的选项，请回复 1、2 或 3。\n\n" + promptMethod
	promptUnsupported    = "该登录方式暂不支持，请选择其他方式。\n\n" + promptMethod
	promptAccount        = "请输入登录账号（手机号或邮箱）。"
	promptAccountLooks   = "这看起来是一个选项序号而不是账号。如需重新选择登录方式，请开启新会话；否则请输入完整账号。"
	promptPassword       = "请输入登录密码。"
	promptPasswordLooks  = "这看起来是一个选项序号而不是密码。请输入完整密码。"
	promptLoginOK        = "登录成功！后续对话请开启新会话发送。"
	promptLoginBadCreds  = "登录失败：账号或密码错误。请回复任意内容重新开始登录流程。"
	promptLoginError     = "登录失败：登录过程出现异常，请稍后重试。回复任意内容重新开始登录流程。"
	promptRetry          = promptMethod
	promptAlreadyDone    = "该登录会话已完成，请开启新会话继续对话。"
	promptLoggingInStale = "上次登录未正常结束，流程已重置。\n\n" + promptMethod
)

// Authenticator 执行真实登录动作。由上层把站点驱动与页面封进闭包，
// 状态机只关心结果：ok=false 表示凭据被拒，err 表示过程异常。
type Authenticator func(ctx context.Context, account, password string) (ok bool, err error)

// Machine 登录对话状态机。本身无内部状态，全部状态在 Session 里，
// 每次迁移先持久化再返回回复文本。
type Machine struct {
	store        *Store
	logger       *zap.Logger
	onTransition func(provider string, to State)
}

// MachineOption 配置 Machine。
type MachineOption func(*Machine)

// WithTransitionHook 注册状态迁移回调（指标用）。
func WithTransitionHook(fn func(provider string, to State)) MachineOption {
	return func(m *Machine) { m.onTransition = fn }
}

// NewMachine 创建状态机。
func NewMachine(store *Store, logger *zap.Logger, opts ...MachineOption) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Machine{
		store:  store,
		logger: logger.With(zap.String("component", "login")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Step 消费用户一条输入，推进状态机并返回应回给用户的文本。
// 状态只能前进，不能跳步：在等待账号/密码的状态里，形如选项序号的
// 输入会被拒收，防止把 "1" 当成账号提交出去。
func (m *Machine) Step(ctx context.Context, sess *Session, input string, auth Authenticator) (string, error) {
	input = strings.TrimSpace(input)

	switch sess.State {
	case StateNotStarted:
		return m.transition(sess, StateWaitingMethod, promptMethod)

	case StateWaitingMethod:
		switch input {
		case "1":
			sess.Method = MethodPassword
			return m.transition(sess, StateWaitingAccount, promptAccount)
		case "2", "3":
			return promptUnsupported, m.store.Save(sess)
		default:
			return promptMethodInvalid, m.store.Save(sess)
		}

	case StateWaitingAccount:
		if input == "" {
			return promptAccount, m.store.Save(sess)
		}
		if looksLikeSelector(input) {
			return promptAccountLooks, m.store.Save(sess)
		}
		sess.Account = input
		return m.transition(sess, StateWaitingPassword, promptPassword)

	case StateWaitingPassword:
		if input == "" {
			return promptPassword, m.store.Save(sess)
		}
		if looksLikeSelector(input) {
			return promptPasswordLooks, m.store.Save(sess)
		}
		sess.Password = input
		if _, err := m.transition(sess, StateLoggingIn, ""); err != nil {
			return "", err
		}
		return m.attempt(ctx, sess, auth)

	case StateLoggingIn:
		// 上一请求在登录中途丢了（进程重启等），重置流程
		m.reset(sess)
		return m.transition(sess, StateWaitingMethod, promptLoggingInStale)

	case StateLoginFailed:
		m.reset(sess)
		return m.transition(sess, StateWaitingMethod, promptRetry)

	default: // StateLoggedIn
		// 终态会话用后即清：记录已无后续用途，不留库里
		if err := m.store.Delete(sess); err != nil {
			return "", err
		}
		return promptAlreadyDone, nil
	}
}

// AttemptStored 用账号目录里的既存凭据直接登录，跳过对话式采集。
// 只对全新会话生效；已推进的对话继续走 Step。
func (m *Machine) AttemptStored(ctx context.Context, sess *Session, account, password string, auth Authenticator) (string, error) {
	if sess.State != StateNotStarted {
		return "", nil
	}
	sess.Method = MethodPassword
	sess.Account = account
	sess.Password = password
	if _, err := m.transition(sess, StateLoggingIn, ""); err != nil {
		return "", err
	}
	return m.attempt(ctx, sess, auth)
}

// attempt 执行登录并落终态。
func (m *Machine) attempt(ctx context.Context, sess *Session, auth Authenticator) (string, error) {
	ok, err := auth(ctx, sess.Account, sess.Password)
	if err != nil {
		m.logger.Warn("login attempt errored",
			zap.String("provider", sess.ProviderID),
			zap.Error(err))
		sess.LastError = err.Error()
		m.clearCredentials(sess)
		return m.transition(sess, StateLoginFailed, promptLoginError)
	}
	if !ok {
		m.logger.Info("login rejected, bad credentials",
			zap.String("provider", sess.ProviderID))
		sess.LastError = "invalid credentials"
		m.clearCredentials(sess)
		return m.transition(sess, StateLoginFailed, promptLoginBadCreds)
	}

	m.logger.Info("login succeeded",
		zap.String("provider", sess.ProviderID),
		zap.String("account", sess.AccountID))
	m.clearCredentials(sess)
	sess.LastError = ""
	return m.transition(sess, StateLoggedIn, promptLoginOK)
}

// transition 落盘后返回回复。持久化失败时不回复，让上层报错重试。
func (m *Machine) transition(sess *Session, to State, reply string) (string, error) {
	sess.State = to
	if err := m.store.Save(sess); err != nil {
		return "", err
	}
	if m.onTransition != nil {
		m.onTransition(sess.ProviderID, to)
	}
	return reply, nil
}

func (m *Machine) reset(sess *Session) {
	sess.Method = ""
	m.clearCredentials(sess)
}

// 凭据用后即清，不留库里。
func (m *Machine) clearCredentials(sess *Session) {
	sess.Account = ""
	sess.Password = ""
}

func looksLikeSelector(input string) bool {
	switch input {
	case "1", "2", "3":
		return true
	}
	return false
}
