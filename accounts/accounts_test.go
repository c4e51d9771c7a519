package accounts

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"github.com/BaSui01/chatrelay/types"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	require.NoError(t, err)
	dir, err := NewDirectory(db)
	require.NoError(t, err)
	return dir
}

func TestResolveDefaultsAndUnknown(t *testing.T) {
	dir := newTestDirectory(t)

	// 目录为空也能解析：匿名槽位
	key, err := dir.Resolve("qwen", "")
	require.NoError(t, err)
	assert.Equal(t, "qwen", key.Provider)
	assert.Equal(t, DefaultAccountID, key.Account)

	key, err = dir.Resolve("kimi", "work")
	require.NoError(t, err)
	assert.Equal(t, "work", key.Account)
}

func TestResolveDisabledAccount(t *testing.T) {
	dir := newTestDirectory(t)
	require.NoError(t, dir.Upsert(&Account{
		ProviderID: "qwen",
		AccountID:  "banned",
		Disabled:   true,
	}))

	_, err := dir.Resolve("qwen", "banned")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))
}

func TestUpsertUpdatesInPlace(t *testing.T) {
	dir := newTestDirectory(t)

	require.NoError(t, dir.Upsert(&Account{
		ProviderID: "glm",
		Username:   "old@example.com",
	}))
	require.NoError(t, dir.Upsert(&Account{
		ProviderID: "glm",
		Username:   "new@example.com",
		Password:   "pw",
	}))

	acc, err := dir.Credentials("glm", "")
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "new@example.com", acc.Username)
	assert.Equal(t, "pw", acc.Password)
}

func TestCredentialsMissing(t *testing.T) {
	dir := newTestDirectory(t)
	acc, err := dir.Credentials("qwen", "nobody")
	require.NoError(t, err)
	assert.Nil(t, acc)
}

func TestVerifyKey(t *testing.T) {
	dir := newTestDirectory(t)

	// 未配置密钥：放行任意值
	require.NoError(t, dir.VerifyKey(""))
	require.NoError(t, dir.VerifyKey("anything"))

	require.NoError(t, dir.AddKey("sk-test-1", "ci"))

	require.NoError(t, dir.VerifyKey("sk-test-1"))
	err := dir.VerifyKey("sk-wrong")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))
}
