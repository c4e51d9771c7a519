package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindTransient},
		{"page closed sentinel", ErrPageClosed, KindPageGone},
		{"session closed sentinel", ErrSessionClosed, KindSessionDead},
		{"context canceled", context.Canceled, KindPageGone},
		{"deadline exceeded", context.DeadlineExceeded, KindTransient},
		{"target closed", errors.New("chromedp: target closed"), KindPageGone},
		{"target crashed", errors.New("target crashed"), KindPageGone},
		{"browser closed", errors.New("browser closed unexpectedly"), KindSessionDead},
		{"websocket drop", errors.New("websocket: close 1006 (abnormal closure)"), KindSessionDead},
		{"connection refused", errors.New("dial tcp 127.0.0.1:9222: connection refused"), KindSessionDead},
		{"node not found", errors.New("could not find node for selector"), KindTransient},
		{"wrapped session dead", fmt.Errorf("open page: %w", ErrSessionClosed), KindSessionDead},
		{"unknown", errors.New("something odd"), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestProfileDirIsolation(t *testing.T) {
	e := NewChromeEngine(Config{ProfileRoot: "/tmp/profiles"}, nil)

	withAccount := e.profileDir(ProfileKey{Provider: "qwen", Account: "alice"})
	other := e.profileDir(ProfileKey{Provider: "qwen", Account: "bob"})
	bare := e.profileDir(ProfileKey{Provider: "qwen"})

	assert.NotEqual(t, withAccount, other)
	assert.NotEqual(t, withAccount, bare)
	assert.Contains(t, withAccount, "alice")
}
