// Package ha implements the primary/standby arbitration described in
// spec §4.6: a shared-IP probe drives a small state machine whose
// transitions start or stop the DHCP daemon, with the observed state
// published to the KVDB so external tooling (and, advisorily, the peer)
// can see it. Grounded on gardener's own ticker/select background-task
// idiom (its node-agent controllers run a periodic reconcile loop off a
// `time.Ticker`) and spec §4.6 directly.
package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/nnoe/node-agent/internal/kvdb"
	"github.com/nnoe/node-agent/internal/metrics"
)

// State is the coordinator's view of this host's role in its HA pair.
type State int

const (
	Unknown State = iota
	Standby
	Primary
)

func (s State) String() string {
	switch s {
	case Primary:
		return "Primary"
	case Standby:
		return "Standby"
	default:
		return "Unknown"
	}
}

// status is the JSON document written to
// P/dhcp/ha-pairs/<pair>/nodes/<node>/status.
type status struct {
	State     string `json:"state"`
	Timestamp int64  `json:"timestamp"`
}

// staleAfter is how old a peer's status entry may be before it is
// treated as stale, per spec §4.6.
const staleAfter = 60 * time.Second

// DaemonController is the subset of the DHCP plugin the coordinator
// drives on state transitions: ensure the daemon is running, or ensure
// it is stopped.
type DaemonController interface {
	EnsureRunning(ctx context.Context) error
	EnsureStopped(ctx context.Context) error
}

// AddrProber reports whether a shared address is present on any local
// network interface. Abstracted so tests can substitute a fake without
// touching the real network stack.
type AddrProber interface {
	HasAddress(addr string) (bool, error)
}

// systemProber implements AddrProber via net.InterfaceAddrs — plain
// stdlib, since no example repo in the corpus does shared-IP/VRRP-style
// interface inspection; this is inherent host-networking logic with no
// library precedent in the corpus.
type systemProber struct{}

func (systemProber) HasAddress(addr string) (bool, error) {
	want := net.ParseIP(addr)
	if want == nil {
		return false, fmt.Errorf("invalid shared address %q", addr)
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ipNet.IP.Equal(want) {
			return true, nil
		}
	}
	return false, nil
}

// Coordinator runs the probe loop and drives DaemonController
// transitions. It is only constructed when the DHCP service config
// carries both a pair ID and a peer node name (spec §4.6: "Only applies
// when a pair identifier and peer name are configured").
type Coordinator struct {
	keyPrefix     string
	pairID        string
	selfNode      string
	peerNode      string
	sharedAddress string
	probeInterval time.Duration

	kv      kvdb.Client
	prober  AddrProber
	daemon  DaemonController
	metrics *metrics.Metrics
	log     logr.Logger
	now     func() time.Time

	mu    sync.Mutex
	state State
}

// New constructs a Coordinator. keyPrefix is the configured KVDB key
// prefix (spec §3's "P", default /nnoe); prober may be nil to use the
// real network stack.
func New(keyPrefix, pairID, selfNode, peerNode, sharedAddress string, probeInterval time.Duration, kv kvdb.Client, daemon DaemonController, m *metrics.Metrics, log logr.Logger, prober AddrProber) *Coordinator {
	if probeInterval <= 0 {
		probeInterval = 10 * time.Second
	}
	if prober == nil {
		prober = systemProber{}
	}
	return &Coordinator{
		keyPrefix:     keyPrefix,
		pairID:        pairID,
		selfNode:      selfNode,
		peerNode:      peerNode,
		sharedAddress: sharedAddress,
		probeInterval: probeInterval,
		kv:            kv,
		prober:        prober,
		daemon:        daemon,
		metrics:       m,
		log:           log.WithValues("component", "ha", "pair", pairID),
		now:           time.Now,
		state:         Unknown,
	}
}

// State returns the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run probes on every tick until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.probeInterval)
	defer ticker.Stop()

	c.probeOnce(ctx)

	for {
		select {
		case <-ticker.C:
			c.probeOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) probeOnce(ctx context.Context) {
	present, err := c.prober.HasAddress(c.sharedAddress)

	var next State
	switch {
	case err != nil:
		c.log.Error(err, "shared address probe failed")
		next = Unknown
	case present:
		next = Primary
	default:
		next = Standby
	}

	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if next != prev {
		c.log.Info("ha state transition", "from", prev, "to", next)
		c.onTransition(ctx, next)
	}

	if err := c.writeStatus(ctx, next); err != nil {
		c.log.Error(err, "writing ha status failed")
	}

	if c.metrics != nil {
		c.metrics.HAState.WithLabelValues(c.pairID).Set(float64(next))
	}
}

// onTransition performs spec §4.6's "Actions on transition": start the
// DHCP daemon entering Primary, stop it entering Standby, do nothing
// entering Unknown beyond the metric already updated by the caller.
//
// Split-brain (both peers observing the shared address present at once)
// is not tie-broken here: the coordinator writes its own observation
// unconditionally and relies on the external failover manager to
// reconcile the shared-IP binding, per spec §4.6's split-brain rule and
// §9 Open Question 1.
func (c *Coordinator) onTransition(ctx context.Context, next State) {
	if c.daemon == nil {
		return
	}
	var err error
	switch next {
	case Primary:
		err = c.daemon.EnsureRunning(ctx)
	case Standby:
		err = c.daemon.EnsureStopped(ctx)
	}
	if err != nil {
		c.log.Error(err, "daemon control action failed on ha transition", "state", next)
	}
}

func (c *Coordinator) writeStatus(ctx context.Context, s State) error {
	if c.kv == nil {
		return nil
	}
	body, err := json.Marshal(status{State: s.String(), Timestamp: c.now().Unix()})
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s/dhcp/ha-pairs/%s/nodes/%s/status", c.keyPrefix, c.pairID, c.selfNode)
	return c.kv.Put(ctx, key, body)
}

// PeerStatus reads the peer's last-published status, for diagnostics and
// logging only; it is never used to suppress this host's own
// transitions (see onTransition's doc comment).
func (c *Coordinator) PeerStatus(ctx context.Context) (State, bool, error) {
	key := fmt.Sprintf("%s/dhcp/ha-pairs/%s/nodes/%s/status", c.keyPrefix, c.pairID, c.peerNode)
	value, ok, err := c.kv.Get(ctx, key)
	if err != nil || !ok {
		return Unknown, false, err
	}
	var st status
	if err := json.Unmarshal(value, &st); err != nil {
		return Unknown, false, err
	}
	age := c.now().Sub(time.Unix(st.Timestamp, 0))
	if age > staleAfter {
		return Unknown, false, nil
	}
	switch st.State {
	case "Primary":
		return Primary, true, nil
	case "Standby":
		return Standby, true, nil
	default:
		return Unknown, true, nil
	}
}
