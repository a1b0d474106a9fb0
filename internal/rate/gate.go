package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"aiinsight/pkg/contract"
)

// LimitKey: 限流分组键（provider + 凭据摘要）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM             int // requests per minute
	TPM             int // tokens per minute
	MaxTokensPerReq int // 单次请求 token 上限（含输入+预期输出），0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Tokens   int // 预计 token（>=0）
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；超过单请求上限或桶容量时快速失败（ErrBudgetExceeded）。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (rpmAvail, tpmAvail int)
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	for k, lim := range m {
		g.m[k] = newEntry(lim)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

// entry: 两个维度各一个令牌桶；nil 表示该维度关闭。
type entry struct {
	lim Limits
	req *rate.Limiter
	tok *rate.Limiter
}

func newEntry(lim Limits) *entry {
	e := &entry{lim: lim}
	if lim.RPM > 0 {
		e.req = rate.NewLimiter(perMinute(lim.RPM), lim.RPM)
	}
	if lim.TPM > 0 {
		e.tok = rate.NewLimiter(perMinute(lim.TPM), lim.TPM)
	}
	return e
}

func perMinute(n int) rate.Limit { return rate.Limit(float64(n) / 60.0) }

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的 key 视为不限额
		e = newEntry(Limits{})
		g.m[key] = e
	}
	return e
}

func (e *entry) check(a Ask) error {
	if a.Requests <= 0 || a.Tokens < 0 {
		return fmt.Errorf("rate: %w: requests=%d tokens=%d", contract.ErrInvalidInput, a.Requests, a.Tokens)
	}
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return fmt.Errorf("rate: %w: %d tokens > max_tokens_per_req %d", contract.ErrBudgetExceeded, a.Tokens, e.lim.MaxTokensPerReq)
	}
	return nil
}

func (g *gate) Try(a Ask) bool {
	e := g.get(a.Key)
	if e.check(a) != nil {
		return false
	}
	now := g.clk()
	rr := reserve(e.req, now, a.Requests)
	rt := reserve(e.tok, now, a.Tokens)
	if !rr.ok() || !rt.ok() || rr.delay(now) > 0 || rt.delay(now) > 0 {
		rr.cancel(now)
		rt.cancel(now)
		return false
	}
	return true
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e := g.get(a.Key)
	if err := e.check(a); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := g.clk()
	rr := reserve(e.req, now, a.Requests)
	rt := reserve(e.tok, now, a.Tokens)
	if !rr.ok() || !rt.ok() {
		rr.cancel(now)
		rt.cancel(now)
		return fmt.Errorf("rate: %w: ask exceeds bucket capacity", contract.ErrBudgetExceeded)
	}
	d := rr.delay(now)
	if dt := rt.delay(now); dt > d {
		d = dt
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		// 归还未使用的预约
		rr.cancel(g.clk())
		rt.cancel(g.clk())
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// reservation: 包装可选维度的预约；nil 维度恒为可用。
type reservation struct{ r *rate.Reservation }

func reserve(l *rate.Limiter, now time.Time, n int) reservation {
	if l == nil || n <= 0 {
		return reservation{}
	}
	return reservation{r: l.ReserveN(now, n)}
}

func (r reservation) ok() bool { return r.r == nil || r.r.OK() }

func (r reservation) delay(now time.Time) time.Duration {
	if r.r == nil || !r.r.OK() {
		return 0
	}
	return r.r.DelayFrom(now)
}

func (r reservation) cancel(now time.Time) {
	if r.r != nil {
		r.r.CancelAt(now)
	}
}

// Snapshot: 返回当前可用请求/令牌的向下取整估值（仅诊断）。
func (g *gate) Snapshot(key LimitKey) (rpmAvail, tpmAvail int) {
	e := g.get(key)
	now := g.clk()
	return avail(e.req, now), avail(e.tok, now)
}

func avail(l *rate.Limiter, now time.Time) int {
	if l == nil {
		return 0
	}
	v := l.TokensAt(now)
	if v < 0 {
		return 0
	}
	return int(v)
}

var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)
