// Package fake provides an in-memory kvdb.Client for tests, in the same
// spirit as the teacher's dbus.FakeDbus: a small, synchronous test double
// that records what was asked of it instead of talking to a real service.
package fake

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/nnoe/node-agent/internal/kvdb"
)

// Client is an in-memory kvdb.Client. The zero value is ready to use.
type Client struct {
	mu        sync.Mutex
	data      map[string][]byte
	watchers  []*watcher
	closed    bool
}

type watcher struct {
	prefix string
	ch     chan kvdb.Event
}

// New returns a ready-to-use fake client.
func New() *Client {
	return &Client{data: make(map[string][]byte)}
}

func (c *Client) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

// Put stores value at key and fans the event out to every watcher whose
// prefix matches. It is also how tests seed and drive the fake.
func (c *Client) Put(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	c.data[key] = value
	watchers := c.matchingWatchers(key)
	c.mu.Unlock()

	c.notify(watchers, kvdb.Event{Key: key, Value: value, Kind: kvdb.Put})
	return nil
}

func (c *Client) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	_, existed := c.data[key]
	delete(c.data, key)
	watchers := c.matchingWatchers(key)
	c.mu.Unlock()

	if !existed {
		return nil
	}
	c.notify(watchers, kvdb.Event{Key: key, Kind: kvdb.Delete})
	return nil
}

func (c *Client) PrefixScan(_ context.Context, prefix string) ([]kvdb.KV, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []kvdb.KV
	for k, v := range c.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, kvdb.KV{Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (c *Client) Watch(ctx context.Context, prefix string) <-chan kvdb.Event {
	ch := make(chan kvdb.Event, 16)
	w := &watcher{prefix: prefix, ch: ch}

	c.mu.Lock()
	c.watchers = append(c.watchers, w)
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, existing := range c.watchers {
			if existing == w {
				c.watchers = append(c.watchers[:i], c.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) matchingWatchers(key string) []*watcher {
	var out []*watcher
	for _, w := range c.watchers {
		if strings.HasPrefix(key, w.prefix) {
			out = append(out, w)
		}
	}
	return out
}

func (c *Client) notify(watchers []*watcher, ev kvdb.Event) {
	for _, w := range watchers {
		w.ch <- ev
	}
}
