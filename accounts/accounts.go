// Package accounts 维护站点账号目录与 API 访问密钥。
// 账号决定浏览器资料目录的隔离边界，同一 (provider, account) 恒定
// 映射到同一份 Cookie 与本地存储。
package accounts

import (
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"github.com/BaSui01/chatrelay/browser"
	"github.com/BaSui01/chatrelay/types"
)

// DefaultAccountID 未显式指定账号时使用的槽位。
const DefaultAccountID = "default"

// Account 一个站点账号槽位。Username/Password 仅在配置了免交互
// 登录时填写，平时靠资料目录里的持久会话。
type Account struct {
	ID         uint   `gorm:"primaryKey"`
	ProviderID string `gorm:"uniqueIndex:idx_account_key;size:64"`
	AccountID  string `gorm:"uniqueIndex:idx_account_key;size:128"`
	Username   string `gorm:"size:256"`
	Password   string `gorm:"size:256"`
	Disabled   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName 固定表名。
func (Account) TableName() string { return "accounts" }

// APIKey 服务自身的访问密钥（Authorization: Bearer）。
type APIKey struct {
	ID        uint   `gorm:"primaryKey"`
	Key       string `gorm:"uniqueIndex;size:128"`
	Label     string `gorm:"size:128"`
	Disabled  bool
	CreatedAt time.Time
}

// TableName 固定表名。
func (APIKey) TableName() string { return "api_keys" }

// Directory 账号目录。
type Directory struct {
	db *gorm.DB
}

// Open 打开（必要时创建）SQLite 库并建表。
func Open(path string) (*Directory, *gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return nil, nil, err
	}
	dir, err := NewDirectory(db)
	if err != nil {
		return nil, nil, err
	}
	return dir, db, nil
}

// NewDirectory 在已有连接上建目录。
func NewDirectory(db *gorm.DB) (*Directory, error) {
	if err := db.AutoMigrate(&Account{}, &APIKey{}); err != nil {
		return nil, err
	}
	return &Directory{db: db}, nil
}

// Resolve 解析账号槽位。空 accountID 落到默认槽位；目录里没有记录
// 也返回可用槽位（匿名资料目录），有记录但被禁用则报错。
func (d *Directory) Resolve(providerID, accountID string) (browser.ProfileKey, error) {
	if accountID == "" {
		accountID = DefaultAccountID
	}
	key := browser.ProfileKey{Provider: providerID, Account: accountID}

	var acc Account
	err := d.db.Where("provider_id = ? AND account_id = ?", providerID, accountID).
		First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return key, nil
	}
	if err != nil {
		return browser.ProfileKey{}, err
	}
	if acc.Disabled {
		return browser.ProfileKey{}, types.NewError(types.ErrUnauthorized,
			"account is disabled").WithProvider(providerID)
	}
	return key, nil
}

// Credentials 取回站点账号凭据，供免交互登录使用。无记录返回 (nil, nil)。
func (d *Directory) Credentials(providerID, accountID string) (*Account, error) {
	if accountID == "" {
		accountID = DefaultAccountID
	}
	var acc Account
	err := d.db.Where("provider_id = ? AND account_id = ?", providerID, accountID).
		First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// Upsert 写入或更新账号槽位。
func (d *Directory) Upsert(acc *Account) error {
	if acc.AccountID == "" {
		acc.AccountID = DefaultAccountID
	}
	var existing Account
	err := d.db.Where("provider_id = ? AND account_id = ?", acc.ProviderID, acc.AccountID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.Create(acc).Error
	}
	if err != nil {
		return err
	}
	acc.ID = existing.ID
	acc.CreatedAt = existing.CreatedAt
	return d.db.Save(acc).Error
}

// VerifyKey 校验 API 密钥。未配置任何密钥时放行（本地部署模式）。
func (d *Directory) VerifyKey(key string) error {
	var total int64
	if err := d.db.Model(&APIKey{}).Count(&total).Error; err != nil {
		return err
	}
	if total == 0 {
		return nil
	}
	var match int64
	err := d.db.Model(&APIKey{}).
		Where("key = ? AND disabled = ?", key, false).
		Count(&match).Error
	if err != nil {
		return err
	}
	if match == 0 {
		return types.NewError(types.ErrUnauthorized, "invalid api key")
	}
	return nil
}

// AddKey 登记一个访问密钥。
func (d *Directory) AddKey(key, label string) error {
	return d.db.Create(&APIKey{Key: key, Label: label}).Error
}
