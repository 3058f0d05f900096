// Package proxypool owns the set of outbound proxies used by every fetch.
//
// Membership only changes through Load, Reload and PruneDead; each swaps in a new
// slice under the write lock, so selection never observes a half-updated
// pool and its index range always equals the current size.
package proxypool

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/guttosm/equitypanel/internal/domain/errs"
	"github.com/guttosm/equitypanel/internal/domain/models"
	"github.com/guttosm/equitypanel/internal/logger"
	"github.com/guttosm/equitypanel/internal/transport"
)

// Selector hands out a proxy for the next request.
type Selector interface {
	Random() (models.Proxy, error)
}

// Pool is a mutation-guarded proxy set with uniform random selection.
type Pool struct {
	mu      sync.RWMutex
	members []models.Proxy

	// serializes PruneDead runs
	pruneMu sync.Mutex

	getter     transport.Getter
	echoURL    string
	checkDelay time.Duration
	parallel   int
	intn       func(n int) int
	onRemove   func(models.Proxy)
	log        *zerolog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithEchoURL sets the identity-echo endpoint used by health checks.
func WithEchoURL(u string) Option {
	return func(p *Pool) { p.echoURL = u }
}

// WithCheckDelay sets the pause after each health check.
func WithCheckDelay(d time.Duration) Option {
	return func(p *Pool) { p.checkDelay = d }
}

// WithCheckParallelism bounds concurrent health checks during PruneDead.
func WithCheckParallelism(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.parallel = n
		}
	}
}

// WithRand replaces the index generator. intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(p *Pool) { p.intn = intn }
}

// WithRemoveHook is called for every proxy dropped by PruneDead.
func WithRemoveHook(fn func(models.Proxy)) Option {
	return func(p *Pool) { p.onRemove = fn }
}

// DefaultEchoURL returns the caller's public IP as plain text.
const DefaultEchoURL = "https://api.ipify.org/"

// New creates a Pool with the given initial membership.
func New(proxies []models.Proxy, getter transport.Getter, opts ...Option) *Pool {
	p := &Pool{
		members:    append([]models.Proxy(nil), proxies...),
		getter:     getter,
		echoURL:    DefaultEchoURL,
		checkDelay: 100 * time.Millisecond,
		parallel:   1,
		intn:       rand.IntN,
		log:        logger.Component("proxypool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load replaces the membership with the proxies parsed from r.
// On error the current membership is left untouched.
func (p *Pool) Load(r io.Reader) error {
	proxies, err := Parse(r)
	if err != nil {
		return err
	}
	p.swap(proxies)
	p.log.Info().Int("proxies", len(proxies)).Msg("proxy list loaded")
	return nil
}

// Reload replaces the membership with the proxy list at path, restoring
// members dropped by earlier prunes. On error the membership is unchanged.
func (p *Pool) Reload(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.Configf("open proxy list %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	return p.Load(f)
}

// Size returns the current number of members.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.members)
}

// Members returns a copy of the current membership.
func (p *Pool) Members() []models.Proxy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]models.Proxy(nil), p.members...)
}

// Random returns a member chosen uniformly at random.
// It fails with errs.ErrPoolExhausted when the pool is empty.
func (p *Pool) Random() (models.Proxy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := len(p.members)
	if n == 0 {
		return models.Proxy{}, errs.ErrPoolExhausted
	}
	return p.members[p.intn(n)], nil
}

func (p *Pool) swap(members []models.Proxy) {
	p.mu.Lock()
	p.members = members
	p.mu.Unlock()
}

// Observation is the outcome of one identity-echo request.
type Observation struct {
	Proxy models.Proxy
	IP    string
	Err   error
}

// VerifyLive sends the identity-echo request through up to sampleSize members
// (in membership order) and reports what each one returned. It never changes
// membership; the echoed IPs are logged for manual inspection.
func (p *Pool) VerifyLive(ctx context.Context, sampleSize int) ([]Observation, error) {
	members := p.Members()
	if sampleSize < len(members) {
		members = members[:max(sampleSize, 0)]
	}

	out := make([]Observation, 0, len(members))
	for i, proxy := range members {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ip, err := p.echo(ctx, proxy)
		obs := Observation{Proxy: proxy, IP: ip, Err: err}
		out = append(out, obs)

		ev := p.log.Info()
		if err != nil {
			ev = p.log.Warn().Err(err)
		}
		ev.Int("idx", i+1).Int("total", len(members)).Str("proxy", proxy.String()).Str("ip", ip).Msg("proxy identity")

		if err := sleep(ctx, p.checkDelay); err != nil {
			return out, err
		}
	}
	return out, nil
}

// PruneReport summarizes one PruneDead pass.
type PruneReport struct {
	Checked int
	Removed int
	Kept    int
}

// PruneDead checks every member and removes the ones whose echo request
// fails (dial error, timeout, non-2xx). Survivors keep their relative order.
//
// A cancelled context aborts the pass without touching membership, so an
// interrupted prune never drops healthy proxies. Repeated runs against an
// unchanged network remove nothing further.
func (p *Pool) PruneDead(ctx context.Context) (PruneReport, error) {
	p.pruneMu.Lock()
	defer p.pruneMu.Unlock()

	snapshot := p.Members()
	alive := make([]bool, len(snapshot))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)
	for i, proxy := range snapshot {
		g.Go(func() error {
			if _, err := p.echo(gctx, proxy); err == nil {
				alive[i] = true
			} else {
				p.log.Debug().Str("proxy", proxy.String()).Err(err).Msg("proxy failed health check")
			}
			return sleep(gctx, p.checkDelay)
		})
	}
	if err := g.Wait(); err != nil {
		return PruneReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return PruneReport{}, err
	}

	kept := make([]models.Proxy, 0, len(snapshot))
	var removed []models.Proxy
	for i, proxy := range snapshot {
		if alive[i] {
			kept = append(kept, proxy)
		} else {
			removed = append(removed, proxy)
		}
	}
	p.swap(kept)

	if p.onRemove != nil {
		for _, proxy := range removed {
			p.onRemove(proxy)
		}
	}

	rep := PruneReport{Checked: len(snapshot), Removed: len(removed), Kept: len(kept)}
	p.log.Info().Int("removed", rep.Removed).Int("checked", rep.Checked).Int("kept", rep.Kept).Msg("pruned dead proxies")
	return rep, nil
}

func (p *Pool) echo(ctx context.Context, proxy models.Proxy) (string, error) {
	res, err := p.getter.Get(ctx, proxy, p.echoURL, nil)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", errs.Transientf("echo via %s: status %d", proxy, res.StatusCode)
	}
	return strings.TrimSpace(string(res.Body)), nil
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsExhausted reports whether err means the pool has no members left.
func IsExhausted(err error) bool {
	return errors.Is(err, errs.ErrPoolExhausted)
}
