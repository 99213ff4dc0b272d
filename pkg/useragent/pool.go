package useragent

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync/atomic"
)

// Default is a set of current desktop browser User-Agents that Google serves
// the classic result markup to.
var Default = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
}

// Rotation selects how a Pool hands out agents.
type Rotation string

const (
	Sequential Rotation = "sequential"
	Random     Rotation = "random"
)

// ParseRotation maps a config value to a Rotation. Empty means Sequential.
func ParseRotation(s string) (Rotation, error) {
	switch Rotation(strings.ToLower(strings.TrimSpace(s))) {
	case "", Sequential:
		return Sequential, nil
	case Random:
		return Random, nil
	}
	return "", fmt.Errorf("useragent: unknown rotation %q", s)
}

// Pool hands out User-Agents. It is safe for concurrent use.
type Pool struct {
	agents   []string
	rotation Rotation
	counter  atomic.Uint64
}

// NewPool copies agents into a pool, falling back to Default when empty.
func NewPool(agents []string, rotation Rotation) *Pool {
	var cleaned []string
	for _, a := range agents {
		if a = strings.TrimSpace(a); a != "" {
			cleaned = append(cleaned, a)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append([]string(nil), Default...)
	}
	if rotation == "" {
		rotation = Sequential
	}
	return &Pool{agents: cleaned, rotation: rotation}
}

// Pick returns the next agent according to the pool's rotation.
func (p *Pool) Pick() string {
	if p.rotation == Random {
		return p.Random()
	}
	return p.Next()
}

// Next returns agents round robin.
func (p *Pool) Next() string {
	idx := p.counter.Add(1) - 1
	return p.agents[idx%uint64(len(p.agents))]
}

// Random returns a uniformly chosen agent.
func (p *Pool) Random() string {
	return p.agents[rand.IntN(len(p.agents))]
}

// Len returns the number of agents.
func (p *Pool) Len() int { return len(p.agents) }
