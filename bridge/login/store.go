// Package login implements the in-chat credential collection dialog: a strict
// forward-only state machine whose sessions are persisted across requests —
// every HTTP turn is a fresh request, the dialog state must outlive it.
package login

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// State 登录对话状态。
type State string

const (
	StateNotStarted      State = "NOT_STARTED"
	StateWaitingMethod   State = "WAITING_LOGIN_METHOD"
	StateWaitingAccount  State = "WAITING_ACCOUNT"
	StateWaitingPassword State = "WAITING_PASSWORD"
	StateLoggingIn       State = "LOGGING_IN"
	StateLoggedIn        State = "LOGGED_IN"
	StateLoginFailed     State = "LOGIN_FAILED"
)

// 登录方式编号（对话里用户输入的选项）。
const (
	MethodPassword = "password"
)

// Session 一次登录对话。键: (provider, account, conversation)。
type Session struct {
	ID             uint   `gorm:"primaryKey"`
	ProviderID     string `gorm:"uniqueIndex:idx_login_key;size:64"`
	AccountID      string `gorm:"uniqueIndex:idx_login_key;size:128"`
	ConversationID string `gorm:"uniqueIndex:idx_login_key;size:128"`
	State          State  `gorm:"size:32"`
	Method         string `gorm:"size:32"`
	Account        string `gorm:"size:256"`
	Password       string `gorm:"size:256"`
	LastError      string `gorm:"size:512"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 固定表名。
func (Session) TableName() string { return "login_sessions" }

// Store 登录会话持久化存储。
type Store struct {
	db *gorm.DB
}

// NewStore 建表并返回存储。
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Session{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Get 按键查找；不存在返回 (nil, nil)。
func (s *Store) Get(provider, account, conversation string) (*Session, error) {
	var sess Session
	err := s.db.Where("provider_id = ? AND account_id = ? AND conversation_id = ?",
		provider, account, conversation).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetOrCreate 查找或创建处于初始状态的会话。
func (s *Store) GetOrCreate(provider, account, conversation string) (*Session, error) {
	sess, err := s.Get(provider, account, conversation)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}
	sess = &Session{
		ProviderID:     provider,
		AccountID:      account,
		ConversationID: conversation,
		State:          StateNotStarted,
	}
	if err := s.db.Create(sess).Error; err != nil {
		return nil, err
	}
	return sess, nil
}

// Save 落盘。每次状态迁移必须先 Save 再发送对应回复。
func (s *Store) Save(sess *Session) error {
	return s.db.Save(sess).Error
}

// Delete 终态清理。
func (s *Store) Delete(sess *Session) error {
	if sess.ID == 0 {
		return nil
	}
	return s.db.Delete(sess).Error
}
