package login

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func alwaysOK(ctx context.Context, account, password string) (bool, error) {
	return true, nil
}

func TestStoreGetOrCreate(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.GetOrCreate("qwen", "default", "login-abc")
	require.NoError(t, err)
	assert.Equal(t, StateNotStarted, sess.State)
	require.NotZero(t, sess.ID)

	// 同键再取回同一条
	again, err := store.GetOrCreate("qwen", "default", "login-abc")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, again.ID)

	// 不同会话互不干扰
	other, err := store.GetOrCreate("qwen", "default", "login-xyz")
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, other.ID)
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Get("qwen", "default", "nope")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestMachineHappyPath(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, nil)
	ctx := context.Background()

	sess, err := store.GetOrCreate("qwen", "default", "login-1")
	require.NoError(t, err)

	var gotAccount, gotPassword string
	auth := func(ctx context.Context, account, password string) (bool, error) {
		gotAccount, gotPassword = account, password
		return true, nil
	}

	reply, err := m.Step(ctx, sess, "你好", auth)
	require.NoError(t, err)
	assert.Contains(t, reply, "选择登录方式")
	assert.Equal(t, StateWaitingMethod, sess.State)

	reply, err = m.Step(ctx, sess, "1", auth)
	require.NoError(t, err)
	assert.Contains(t, reply, "账号")
	assert.Equal(t, StateWaitingAccount, sess.State)

	reply, err = m.Step(ctx, sess, "user@example.com", auth)
	require.NoError(t, err)
	assert.Contains(t, reply, "密码")
	assert.Equal(t, StateWaitingPassword, sess.State)

	reply, err = m.Step(ctx, sess, "s3cret", auth)
	require.NoError(t, err)
	assert.Contains(t, reply, "登录成功")
	assert.Equal(t, StateLoggedIn, sess.State)
	assert.Equal(t, "user@example.com", gotAccount)
	assert.Equal(t, "s3cret", gotPassword)

	// 凭据不留库
	saved, err := store.Get("qwen", "default", "login-1")
	require.NoError(t, err)
	assert.Empty(t, saved.Account)
	assert.Empty(t, saved.Password)
	assert.Equal(t, StateLoggedIn, saved.State)
}

func TestMachineRejectsSelectorAsAccount(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, nil)
	ctx := context.Background()

	sess, _ := store.GetOrCreate("qwen", "default", "login-2")
	_, err := m.Step(ctx, sess, "", alwaysOK)
	require.NoError(t, err)
	_, err = m.Step(ctx, sess, "1", alwaysOK)
	require.NoError(t, err)
	require.Equal(t, StateWaitingAccount, sess.State)

	// 把 "2" 当账号提交——必须拒收，状态不动
	reply, err := m.Step(ctx, sess, "2", alwaysOK)
	require.NoError(t, err)
	assert.Contains(t, reply, "序号")
	assert.Equal(t, StateWaitingAccount, sess.State)
	assert.Empty(t, sess.Account)
}

func TestMachineRejectsSelectorAsPassword(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, nil)
	ctx := context.Background()

	sess, _ := store.GetOrCreate("qwen", "default", "login-3")
	m.Step(ctx, sess, "", alwaysOK)
	m.Step(ctx, sess, "1", alwaysOK)
	m.Step(ctx, sess, "user@example.com", alwaysOK)
	require.Equal(t, StateWaitingPassword, sess.State)

	reply, err := m.Step(ctx, sess, "3", alwaysOK)
	require.NoError(t, err)
	assert.Contains(t, reply, "序号")
	assert.Equal(t, StateWaitingPassword, sess.State)
	assert.Empty(t, sess.Password)
}

func TestMachineUnsupportedMethods(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, nil)
	ctx := context.Background()

	sess, _ := store.GetOrCreate("qwen", "default", "login-4")
	m.Step(ctx, sess, "", alwaysOK)

	for _, choice := range []string{"2", "3"} {
		reply, err := m.Step(ctx, sess, choice, alwaysOK)
		require.NoError(t, err)
		assert.Contains(t, reply, "暂不支持")
		assert.Equal(t, StateWaitingMethod, sess.State)
	}

	reply, err := m.Step(ctx, sess, "abc", alwaysOK)
	require.NoError(t, err)
	assert.Contains(t, reply, "无法识别")
	assert.Equal(t, StateWaitingMethod, sess.State)
}

func TestMachineBadCredentialsResets(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, nil)
	ctx := context.Background()

	reject := func(ctx context.Context, account, password string) (bool, error) {
		return false, nil
	}

	sess, _ := store.GetOrCreate("qwen", "default", "login-5")
	m.Step(ctx, sess, "", reject)
	m.Step(ctx, sess, "1", reject)
	m.Step(ctx, sess, "user@example.com", reject)

	reply, err := m.Step(ctx, sess, "wrong-pass", reject)
	require.NoError(t, err)
	assert.Contains(t, reply, "账号或密码错误")
	assert.Equal(t, StateLoginFailed, sess.State)
	assert.Equal(t, "invalid credentials", sess.LastError)
	assert.Empty(t, sess.Password)

	// 失败终态后任意输入回到方式选择
	reply, err = m.Step(ctx, sess, "再来", reject)
	require.NoError(t, err)
	assert.Contains(t, reply, "选择登录方式")
	assert.Equal(t, StateWaitingMethod, sess.State)
}

func TestMachineAuthErrorSurfaces(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, nil)
	ctx := context.Background()

	boom := func(ctx context.Context, account, password string) (bool, error) {
		return false, errors.New("page crashed")
	}

	sess, _ := store.GetOrCreate("qwen", "default", "login-6")
	m.Step(ctx, sess, "", boom)
	m.Step(ctx, sess, "1", boom)
	m.Step(ctx, sess, "user@example.com", boom)

	reply, err := m.Step(ctx, sess, "pass", boom)
	require.NoError(t, err)
	assert.Contains(t, reply, "异常")
	assert.Equal(t, StateLoginFailed, sess.State)
	assert.Equal(t, "page crashed", sess.LastError)
}

func TestMachineStaleLoggingInResets(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, nil)
	ctx := context.Background()

	sess, _ := store.GetOrCreate("qwen", "default", "login-7")
	sess.State = StateLoggingIn
	require.NoError(t, store.Save(sess))

	reply, err := m.Step(ctx, sess, "hello", alwaysOK)
	require.NoError(t, err)
	assert.Contains(t, reply, "已重置")
	assert.Equal(t, StateWaitingMethod, sess.State)
}

func TestMachineLoggedInIsTerminal(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, nil)
	ctx := context.Background()

	sess, _ := store.GetOrCreate("qwen", "default", "login-8")
	sess.State = StateLoggedIn
	require.NoError(t, store.Save(sess))

	reply, err := m.Step(ctx, sess, "继续", alwaysOK)
	require.NoError(t, err)
	assert.Contains(t, reply, "新会话")
	assert.Equal(t, StateLoggedIn, sess.State)

	// 终态会话用后即清
	gone, err := store.Get("qwen", "default", "login-8")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestMachineAttemptStored(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, nil)
	ctx := context.Background()

	var gotAccount, gotPassword string
	auth := func(ctx context.Context, account, password string) (bool, error) {
		gotAccount, gotPassword = account, password
		return true, nil
	}

	sess, _ := store.GetOrCreate("qwen", "default", "login-10")
	reply, err := m.AttemptStored(ctx, sess, "stored@example.com", "st0red", auth)
	require.NoError(t, err)
	assert.Contains(t, reply, "登录成功")
	assert.Equal(t, StateLoggedIn, sess.State)
	assert.Equal(t, "stored@example.com", gotAccount)
	assert.Equal(t, "st0red", gotPassword)

	// 凭据不留库
	saved, err := store.Get("qwen", "default", "login-10")
	require.NoError(t, err)
	assert.Empty(t, saved.Account)
	assert.Empty(t, saved.Password)
}

func TestMachineAttemptStoredBadCredentials(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, nil)
	ctx := context.Background()

	reject := func(ctx context.Context, account, password string) (bool, error) {
		return false, nil
	}

	sess, _ := store.GetOrCreate("qwen", "default", "login-11")
	reply, err := m.AttemptStored(ctx, sess, "stored@example.com", "wrong", reject)
	require.NoError(t, err)
	assert.Contains(t, reply, "账号或密码错误")
	assert.Equal(t, StateLoginFailed, sess.State)
	assert.Empty(t, sess.Password)
}

func TestMachineAttemptStoredOnlyWhenFresh(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, nil)
	ctx := context.Background()

	sess, _ := store.GetOrCreate("qwen", "default", "login-12")
	_, err := m.Step(ctx, sess, "", alwaysOK)
	require.NoError(t, err)
	require.Equal(t, StateWaitingMethod, sess.State)

	// 对话已推进，不允许半路插入既存凭据
	reply, err := m.AttemptStored(ctx, sess, "a", "b", alwaysOK)
	require.NoError(t, err)
	assert.Empty(t, reply)
	assert.Equal(t, StateWaitingMethod, sess.State)
}

func TestMachineTransitionHook(t *testing.T) {
	store := newTestStore(t)
	var seen []State
	m := NewMachine(store, nil, WithTransitionHook(func(provider string, to State) {
		seen = append(seen, to)
	}))

	sess, _ := store.GetOrCreate("qwen", "default", "login-9")
	_, err := m.Step(context.Background(), sess, "", alwaysOK)
	require.NoError(t, err)
	assert.Equal(t, []State{StateWaitingMethod}, seen)
}
