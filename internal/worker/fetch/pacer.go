package fetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainPacer はホスト名ごとにリクエスト間隔を空けるためのペーサー。
// ホストごとにバースト1のレートリミッターを持ち、同じホストへのリクエストを
// minSpacing以上の間隔に揃える。異なるホスト同士は互いに待たない。
// 状態はプロセス内のみで保持し、再起動でリセットされる。
type DomainPacer struct {
	minSpacing time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDomainPacer は新しいDomainPacerを生成する。minSpacingが0以下の場合は待機しない。
func NewDomainPacer(minSpacing time.Duration) *DomainPacer {
	return &DomainPacer{
		minSpacing: minSpacing,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// limiter はホストのリミッターを返す。未登録の場合は作成する。
func (p *DomainPacer) limiter(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[host]
	if !ok {
		limit := rate.Inf
		if p.minSpacing > 0 {
			limit = rate.Every(p.minSpacing)
		}
		l = rate.NewLimiter(limit, 1)
		p.limiters[host] = l
	}
	return l
}

// Take はホストへのリクエストを今すぐ送れる場合に枠を消費してtrueを返す。
// 送れない場合は枠を消費せず、許可されるまでの残り時間を返す。
// 枠はリクエストの成否に関係なく消費される。
func (p *DomainPacer) Take(host string) (time.Duration, bool) {
	r := p.limiter(host).Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return delay, false
	}
	return 0, true
}

// sleepContext はdだけ待機する。contextが先に終了した場合はそのエラーを返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hosts は記録済みのホスト数を返す。
func (p *DomainPacer) Hosts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}
