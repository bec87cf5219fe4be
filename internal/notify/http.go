package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

// HTTP posts notifications to a notify API:
//
//	POST <URL>/<ProjectID>/notify
//	Authorization: Bearer <Secret>
//	{"notification":{...},"accounts":["eip155:1:0x..", ...]}
//
// Accounts are sent in chunks; each request waits on the rate limiter.
type HTTP struct {
	cfg     Config
	log     logx.Logger
	client  *http.Client
	limiter *rate.Limiter
}

type payload struct {
	Notification Notification `json:"notification"`
	Accounts     []string     `json:"accounts"`
}

func NewHTTP(cfg Config, log logx.Logger) (*HTTP, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("notifier.url is required for http driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &HTTP{
		cfg:     cfg,
		log:     log,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

func (h *HTTP) endpoint() string {
	base := strings.TrimRight(h.cfg.URL, "/")
	if h.cfg.ProjectID == "" {
		return base + "/notify"
	}
	return base + "/" + h.cfg.ProjectID + "/notify"
}

// Send delivers n to every account, chunk by chunk. It stops at the first
// chunk that still fails after retries.
func (h *HTTP) Send(ctx context.Context, n Notification) error {
	if len(n.Accounts) == 0 {
		return nil
	}
	accounts := make([]string, len(n.Accounts))
	for i, a := range n.Accounts {
		accounts[i] = AccountID(a)
	}
	for start := 0; start < len(accounts); start += h.cfg.ChunkSize {
		end := min(start+h.cfg.ChunkSize, len(accounts))
		if err := h.sendChunk(ctx, n, accounts[start:end]); err != nil {
			return fmt.Errorf("notify %q chunk %d-%d: %w", n.Type, start, end, err)
		}
	}
	h.log.Debug("notification sent", logx.String("type", n.Type), logx.Int("accounts", len(accounts)))
	return nil
}

func (h *HTTP) sendChunk(ctx context.Context, n Notification, accounts []string) error {
	body, err := json.Marshal(payload{Notification: n, Accounts: accounts})
	if err != nil {
		return err
	}
	var last error
	for i := 0; i <= h.cfg.RetryMax; i++ {
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}
		last = h.post(ctx, body)
		if last == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(last, &perm) {
			return last
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(200+100*i) * time.Millisecond):
		}
	}
	return last
}

type permanentError struct{ status string }

func (e *permanentError) Error() string { return "rejected: " + e.status }

func (h *HTTP) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.cfg.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.Secret)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests:
		return &permanentError{status: resp.Status}
	default:
		return errors.New(resp.Status)
	}
}
