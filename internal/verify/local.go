package verify

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/BTreeMap/CivicPipe/internal/util"
)

const (
	// DefaultCodeLength is the number of digits in a generated code.
	DefaultCodeLength = 6
	// DefaultCodeTTL is how long an issued code stays valid.
	DefaultCodeTTL = 10 * time.Minute
	// DefaultIssueBurst is how many codes may be issued back to back.
	DefaultIssueBurst = 3
	// DefaultIssueInterval is the refill interval of the issue throttle.
	DefaultIssueInterval = 20 * time.Second
)

// CodeSender delivers a generated code to a phone, typically as a chat message.
type CodeSender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// LocalOpts configures a LocalProvider.
type LocalOpts struct {
	CodeLength    int
	TTL           time.Duration
	IssueBurst    int
	IssueInterval time.Duration
}

// LocalOption defines a configuration option for LocalProvider.
type LocalOption func(*LocalOpts)

// WithCodeTTL sets how long issued codes remain valid.
func WithCodeTTL(ttl time.Duration) LocalOption {
	return func(o *LocalOpts) { o.TTL = ttl }
}

// WithIssueLimit sets the per-phone issue throttle.
func WithIssueLimit(burst int, interval time.Duration) LocalOption {
	return func(o *LocalOpts) {
		o.IssueBurst = burst
		o.IssueInterval = interval
	}
}

// WithCodeLength sets the number of digits per code.
func WithCodeLength(n int) LocalOption {
	return func(o *LocalOpts) { o.CodeLength = n }
}

// LocalProvider generates codes itself and delivers them through a CodeSender.
type LocalProvider struct {
	sender CodeSender
	codes  *gocache.Cache
	opts   LocalOpts

	mu       sync.Mutex
	limiters *gocache.Cache
}

// NewLocalProvider creates a LocalProvider delivering codes via sender.
func NewLocalProvider(sender CodeSender, opts ...LocalOption) *LocalProvider {
	cfg := LocalOpts{
		CodeLength:    DefaultCodeLength,
		TTL:           DefaultCodeTTL,
		IssueBurst:    DefaultIssueBurst,
		IssueInterval: DefaultIssueInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	idle := limiterIdleTTL(cfg)
	return &LocalProvider{
		sender:   sender,
		codes:    gocache.New(cfg.TTL, 2*cfg.TTL),
		opts:     cfg,
		limiters: gocache.New(idle, 2*idle),
	}
}

// limiterIdleTTL is how long an unused throttle is kept: the time it takes
// to refill completely, after which a fresh limiter behaves the same.
func limiterIdleTTL(o LocalOpts) time.Duration {
	ttl := time.Duration(o.IssueBurst) * o.IssueInterval
	if ttl < o.IssueInterval {
		ttl = o.IssueInterval
	}
	if ttl <= 0 {
		ttl = DefaultIssueInterval
	}
	return ttl
}

// limiter returns the phone's throttle and extends its idle expiry.
func (p *LocalProvider) limiter(phone string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	var l *rate.Limiter
	if v, ok := p.limiters.Get(phone); ok {
		l = v.(*rate.Limiter)
	} else {
		l = rate.NewLimiter(rate.Every(p.opts.IssueInterval), p.opts.IssueBurst)
	}
	p.limiters.Set(phone, l, gocache.DefaultExpiration)
	return l
}

// Issue generates a code for phone, replacing any pending one, and sends it.
func (p *LocalProvider) Issue(ctx context.Context, phone string) error {
	if !p.limiter(phone).Allow() {
		slog.Warn("LocalProvider Issue throttled", "phone", phone)
		return ErrThrottled
	}

	code, err := util.GenerateNumericCode(p.opts.CodeLength)
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}
	body := fmt.Sprintf("Your CivicPipe verification code is %s. It expires in %d minutes.", code, int(p.opts.TTL.Minutes()))
	if err := p.sender.SendMessage(ctx, phone, body); err != nil {
		slog.Error("LocalProvider Issue delivery failed", "phone", phone, "error", err)
		return fmt.Errorf("failed to deliver code to %s: %w", phone, err)
	}

	p.codes.Set(phone, code, gocache.DefaultExpiration)
	slog.Debug("LocalProvider Issue succeeded", "phone", phone)
	return nil
}

// Check compares code with the pending code for phone. A match consumes it.
func (p *LocalProvider) Check(ctx context.Context, phone, code string) (bool, error) {
	v, ok := p.codes.Get(phone)
	if !ok {
		slog.Debug("LocalProvider Check without pending code", "phone", phone)
		return false, nil
	}
	want := v.(string)
	if subtle.ConstantTimeCompare([]byte(want), []byte(code)) != 1 {
		return false, nil
	}
	p.codes.Delete(phone)
	slog.Debug("LocalProvider Check approved", "phone", phone)
	return true, nil
}
