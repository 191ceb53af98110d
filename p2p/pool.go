package p2p

import (
	"sync"
)

// DefaultPool is the pool of peers that the classifier does not place elsewhere.
const DefaultPool = "other"

// PoolConfig sets the connection limits of one pool.
type PoolConfig struct {
	Name string `json:"name"`

	// Target is the number of connections the node tries to maintain.
	Target int `json:"target"`

	// Max is the number of connections beyond which new peers are refused.
	Max int `json:"max"`

	// Peers lists the IDs of the peers that belong to this pool.
	// It is used when no Classifier is given.
	Peers []string `json:"peers"`
}

// Classifier names the pool for a peer.
type Classifier func(peerID string) string

// PoolStats describes the occupancy of a pool.
type PoolStats struct {
	Count, Target, Max int
}

// Pools tracks the peers admitted to each pool.
// Pools are listed in priority order:
// peers of earlier pools are asked for data first.
type Pools struct {
	classify Classifier
	order    []string
	conf     map[string]PoolConfig

	mu      sync.Mutex
	counts  map[string]int
	members map[string]string
}

// NewPools creates Pools.
// A nil classifier places each peer in the first pool whose Peers list names it,
// and every other peer in DefaultPool.
// If confs does not name DefaultPool,
// it is added last with no target and no limit.
func NewPools(classify Classifier, confs []PoolConfig) *Pools {
	if classify == nil {
		classify = listClassifier(confs)
	}
	p := &Pools{
		classify: classify,
		conf:     make(map[string]PoolConfig),
		counts:   make(map[string]int),
		members:  make(map[string]string),
	}
	for _, c := range confs {
		if _, ok := p.conf[c.Name]; ok {
			continue
		}
		p.order = append(p.order, c.Name)
		p.conf[c.Name] = c
	}
	if _, ok := p.conf[DefaultPool]; !ok {
		p.order = append(p.order, DefaultPool)
		p.conf[DefaultPool] = PoolConfig{Name: DefaultPool}
	}
	return p
}

func listClassifier(confs []PoolConfig) Classifier {
	byPeer := make(map[string]string)
	for _, c := range confs {
		for _, id := range c.Peers {
			if _, ok := byPeer[id]; !ok {
				byPeer[id] = c.Name
			}
		}
	}
	if len(byPeer) == 0 {
		return nil
	}
	return func(peerID string) string {
		if name, ok := byPeer[peerID]; ok {
			return name
		}
		return DefaultPool
	}
}

// Classify names the pool that peerID belongs in.
func (p *Pools) Classify(peerID string) string {
	if p.classify == nil {
		return DefaultPool
	}
	name := p.classify(peerID)
	if _, ok := p.conf[name]; !ok {
		return DefaultPool
	}
	return name
}

// Admit adds peerID to its pool
// unless the pool is at its maximum.
// A Max of zero or less means no limit.
// Admitting a peer that is already admitted succeeds without counting it twice.
func (p *Pools) Admit(peerID string) (string, bool) {
	name := p.Classify(peerID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.members[peerID]; ok {
		return name, true
	}
	if max := p.conf[name].Max; max > 0 && p.counts[name] >= max {
		return name, false
	}
	p.counts[name]++
	p.members[peerID] = name
	return name, true
}

// Release removes peerID from its pool.
func (p *Pools) Release(peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name, ok := p.members[peerID]
	if !ok {
		return
	}
	delete(p.members, peerID)
	p.counts[name]--
}

// Pool tells which pool peerID was admitted to.
func (p *Pools) Pool(peerID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.members[peerID]
	return name, ok
}

// NeedsPeers tells whether the named pool is below its target.
func (p *Pools) NeedsPeers(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[name] < p.conf[name].Target
}

// Deferred tells whether an inbound peerID should be turned away
// to leave room for peers of higher-priority pools.
// That is the case while some earlier pool is below its target
// and peerID's own pool has reached its target.
func (p *Pools) Deferred(peerID string) bool {
	name := p.Classify(peerID)
	prio := p.Priority(name)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.counts[name] < p.conf[name].Target {
		return false
	}
	for _, other := range p.order[:prio] {
		if p.counts[other] < p.conf[other].Target {
			return true
		}
	}
	return false
}

// Names lists the pools in priority order.
func (p *Pools) Names() []string {
	return append([]string(nil), p.order...)
}

// Priority gives the position of the named pool in priority order.
func (p *Pools) Priority(name string) int {
	for i, n := range p.order {
		if n == name {
			return i
		}
	}
	return len(p.order)
}

// Stats reports the occupancy of every pool.
func (p *Pools) Stats() map[string]PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]PoolStats)
	for name, c := range p.conf {
		out[name] = PoolStats{Count: p.counts[name], Target: c.Target, Max: c.Max}
	}
	return out
}
