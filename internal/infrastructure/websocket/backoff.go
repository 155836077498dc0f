package websocket

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig 重连退避配置
type BackoffConfig struct {
	Base   time.Duration // 初始延迟
	Max    time.Duration // 最大延迟
	Factor float64       // 每次失败的倍数
	Jitter float64       // 额外随机延迟占比 [0,1]
}

var DefaultBackoffConfig = BackoffConfig{
	Base:   1 * time.Second,
	Max:    30 * time.Second,
	Factor: 2,
	Jitter: 0.2,
}

// Backoff yields base*factor^n capped at Max. Next is deterministic; jitter is only
// added by Jittered so the schedule itself stays monotone.
type Backoff struct {
	cfg     BackoffConfig
	attempt int
	rand    func() float64
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Base <= 0 {
		cfg.Base = DefaultBackoffConfig.Base
	}
	if cfg.Max < cfg.Base {
		cfg.Max = cfg.Base
	}
	if cfg.Factor < 1 {
		cfg.Factor = DefaultBackoffConfig.Factor
	}
	cfg.Jitter = min(max(cfg.Jitter, 0), 1)
	return &Backoff{cfg: cfg, rand: rand.Float64}
}

// Next returns the delay for the current attempt and advances.
func (b *Backoff) Next() time.Duration {
	d := float64(b.cfg.Base) * math.Pow(b.cfg.Factor, float64(b.attempt))
	b.attempt++
	if d >= float64(b.cfg.Max) || math.IsInf(d, 0) || math.IsNaN(d) {
		return b.cfg.Max
	}
	return time.Duration(d)
}

// Jittered adds up to Jitter*d of random delay.
func (b *Backoff) Jittered(d time.Duration) time.Duration {
	if b.cfg.Jitter == 0 {
		return d
	}
	return d + time.Duration(b.rand()*b.cfg.Jitter*float64(d))
}

// Reset is called after a successful connection.
func (b *Backoff) Reset() { b.attempt = 0 }

func (b *Backoff) Attempt() int { return b.attempt }
