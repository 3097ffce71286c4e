package backend

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/angeloszaimis/devproxy/internal/route"
)

// Pool keeps one Backend per distinct rule so that a config reload which
// leaves a rule untouched also keeps its health and timing state.
type Pool struct {
	mutex    sync.RWMutex
	backends map[string]*Backend
	logger   *slog.Logger
	onError  func(target string, err error)
}

// NewPool creates an empty pool. onError may be nil.
func NewPool(logger *slog.Logger, onError func(target string, err error)) *Pool {
	return &Pool{
		backends: make(map[string]*Backend),
		logger:   logger,
		onError:  onError,
	}
}

func ruleKey(r *route.Rule) string {
	return fmt.Sprintf("%s|%t|%t|%t", r.Target.String(), r.ChangeOrigin, r.VerifyTLS, r.XForwarded)
}

// Get returns the backend serving rule, creating it on first use.
func (p *Pool) Get(rule *route.Rule) *Backend {
	key := ruleKey(rule)

	p.mutex.RLock()
	b, exists := p.backends[key]
	p.mutex.RUnlock()

	if exists {
		return b
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if b, exists = p.backends[key]; exists {
		return b
	}

	target := rule.Target.String()
	b = New(rule.Target, Options{
		ChangeOrigin: rule.ChangeOrigin,
		VerifyTLS:    rule.VerifyTLS,
		XForwarded:   rule.XForwarded,
		Logger:       p.logger,
		OnError: func(err error) {
			if p.onError != nil {
				p.onError(target, err)
			}
		},
	})
	p.backends[key] = b
	return b
}

// Sync makes the pool hold exactly the backends for rules.
func (p *Pool) Sync(rules []*route.Rule) {
	keep := make(map[string]bool, len(rules))
	for _, r := range rules {
		keep[ruleKey(r)] = true
		p.Get(r)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	for key := range p.backends {
		if !keep[key] {
			delete(p.backends, key)
		}
	}
}

// All returns the backends currently in the pool.
func (p *Pool) All() []*Backend {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	out := make([]*Backend, 0, len(p.backends))
	for _, b := range p.backends {
		out = append(out, b)
	}
	return out
}
