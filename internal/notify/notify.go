// Package notify delivers notifications to member accounts.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

// Notification is one message fanned out to Accounts.
type Notification struct {
	Type     string   `json:"type"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	URL      string   `json:"url,omitempty"`
	Accounts []string `json:"-"`
}

type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

type Config struct {
	Driver     string // "log" | "http"
	URL        string
	ProjectID  string
	Secret     string
	RatePerSec int
	ChunkSize  int
	RetryMax   int
	Timeout    time.Duration
}

// New builds the configured notifier. An empty driver means "log".
func New(cfg Config, log logx.Logger) (Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "log":
		return NewLog(log), nil
	case "http":
		return NewHTTP(cfg, log)
	default:
		return nil, fmt.Errorf("unknown notifier driver: %s", cfg.Driver)
	}
}

// AccountID returns the CAIP-10 mainnet account id for an address,
// replacing any chain prefix the address already has.
func AccountID(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		addr = addr[i+1:]
	}
	return "eip155:1:" + addr
}

// Log only logs what would have been sent.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log}
}

func (l *Log) Send(_ context.Context, n Notification) error {
	l.log.Info("notification (dry run)",
		logx.String("type", n.Type),
		logx.String("title", n.Title),
		logx.String("body", n.Body),
		logx.Int("accounts", len(n.Accounts)),
	)
	return nil
}
