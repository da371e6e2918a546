package ws

import (
	"sync"
	"sync/atomic"
)

// clientPool 在线连接
type clientPool struct {
	clients  sync.Map // clientID -> *Client
	count    atomic.Int64
	maxConns int
}

func newClientPool(maxConns int) *clientPool {
	return &clientPool{maxConns: maxConns}
}

func (p *clientPool) full() bool {
	return int(p.count.Load()) >= p.maxConns
}

func (p *clientPool) add(c *Client) error {
	if _, loaded := p.clients.LoadOrStore(c.ID, c); loaded {
		return ErrClientIDExists
	}
	if n := p.count.Add(1); int(n) > p.maxConns {
		p.count.Add(-1)
		p.clients.Delete(c.ID)
		return ErrTooManyConnections
	}
	return nil
}

func (p *clientPool) remove(id string) bool {
	if _, loaded := p.clients.LoadAndDelete(id); loaded {
		p.count.Add(-1)
		return true
	}
	return false
}

func (p *clientPool) get(id string) (*Client, bool) {
	v, ok := p.clients.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Client), true
}

func (p *clientPool) len() int {
	return int(p.count.Load())
}

func (p *clientPool) each(f func(*Client) bool) {
	p.clients.Range(func(_, v any) bool {
		return f(v.(*Client))
	})
}

// inNamespace 命名空间内连接的快照
func (p *clientPool) inNamespace(ns string) []*Client {
	var out []*Client
	p.each(func(c *Client) bool {
		if c.namespace == ns {
			out = append(out, c)
		}
		return true
	})
	return out
}
