// Package dhcp is the DHCP service plugin (spec §4.5, a subset of C5):
// it renders the DHCP daemon's JSON config from /dhcp/scopes/* records,
// manages the daemon as a supervised child process (no service-manager
// dependency), and exposes lease counts via metrics by counting entries
// under /dhcp/leases. Grounded on spec §4.5 directly; process lifecycle
// reuses internal/process.Supervisor, the same package the VPN
// supervisor (spec §4.9) uses, since spec.md describes both with
// identical spawn/track/graceful-stop-then-kill language.
package dhcp

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
	nnerrors "github.com/nnoe/node-agent/internal/errors"
	"github.com/nnoe/node-agent/internal/files"
	"github.com/nnoe/node-agent/internal/kvdb"
	"github.com/nnoe/node-agent/internal/metrics"
	"github.com/nnoe/node-agent/internal/plugin"
	"github.com/nnoe/node-agent/internal/process"
)

// Scope is the decoded form of a P/dhcp/scopes/<id> record, covering
// both IPv4 and IPv6 stanzas (spec §3/§4.5).
type Scope struct {
	Family    string            `json:"family"` // "ipv4" or "ipv6"
	Subnet    string            `json:"subnet"`
	PoolStart string            `json:"pool_start"`
	PoolEnd   string            `json:"pool_end"`
	Options   map[string]string `json:"options"`
}

const scopePrefix = "dhcp/scopes/"

// renderedConfig is the JSON document written to cfg.ConfigPath.
type renderedConfig struct {
	HookLibrary string                 `json:"hook_library"`
	Scopes      map[string]interface{} `json:"scopes"`
}

// Driver is the DHCP service plugin. It also implements
// ha.DaemonController (EnsureRunning/EnsureStopped) so an HA coordinator
// can drive it on probe-triggered state transitions.
type Driver struct {
	cfg       v1alpha1.DHCPServiceConfig
	keyPrefix string
	fsys      afero.Fs
	kv        kvdb.Client
	sup       *process.Supervisor
	m         *metrics.Metrics
	log       logr.Logger

	mu       sync.Mutex
	scopes   map[string]Scope
	lastHash string
}

// New constructs the DHCP driver. keyPrefix is the configured KVDB key
// prefix, used to count entries under <prefix>/dhcp/leases.
func New(cfg v1alpha1.DHCPServiceConfig, keyPrefix string, fsys afero.Fs, kv kvdb.Client, m *metrics.Metrics, log logr.Logger) *Driver {
	log = log.WithValues("plugin", "dhcp")
	sup := process.New(process.Spec{
		Name:       "dhcp",
		BinaryPath: cfg.BinaryPath,
		Args:       []string{"-c", cfg.ConfigPath},
	}, log)
	return &Driver{
		cfg:       cfg,
		keyPrefix: keyPrefix,
		fsys:      fsys,
		kv:        kv,
		sup:       sup,
		m:         m,
		log:       log,
		scopes:    make(map[string]Scope),
	}
}

func (d *Driver) Name() string { return "dhcp" }

// Init starts the daemon immediately unless HA coordination is
// configured (spec §4.6: HA "only applies when a pair identifier and
// peer name are configured"; otherwise there is nothing gating startup).
func (d *Driver) Init(ctx context.Context) error {
	if d.cfg.HAPairID != "" && d.cfg.PeerNode != "" {
		return nil
	}
	return d.EnsureRunning(ctx)
}

func (d *Driver) OnChange(ctx context.Context, change plugin.Change) error {
	if !strings.HasPrefix(change.Key, scopePrefix) {
		return nil
	}
	id := strings.TrimPrefix(change.Key, scopePrefix)

	d.mu.Lock()
	if change.Value == nil {
		delete(d.scopes, id)
	} else {
		var s Scope
		if err := json.Unmarshal(change.Value, &s); err != nil {
			d.mu.Unlock()
			return nnerrors.New(nnerrors.Policy, "dhcp", fmt.Errorf("scope %q: %w", id, err))
		}
		d.scopes[id] = s
	}
	d.mu.Unlock()

	return d.Reload(ctx)
}

// Reload re-renders the JSON config and restarts the daemon only if the
// rendered content changed, mirroring the DNS driver's content-hash
// coalescing (spec §8 S2) since the DHCP daemon has no separate
// graceful-reload channel (spec §4.5: "restart is stop-then-start").
func (d *Driver) Reload(ctx context.Context) error {
	d.mu.Lock()
	ids := make([]string, 0, len(d.scopes))
	for id := range d.scopes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	doc := renderedConfig{HookLibrary: d.cfg.HookLibrary, Scopes: make(map[string]interface{}, len(ids))}
	for _, id := range ids {
		doc.Scopes[id] = d.scopes[id]
	}
	d.mu.Unlock()

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nnerrors.New(nnerrors.LocalIO, "dhcp", fmt.Errorf("rendering config: %w", err))
	}
	if err := files.WriteAtomic(d.fsys, d.cfg.ConfigPath, body, 0644); err != nil {
		return nnerrors.New(nnerrors.LocalIO, "dhcp", fmt.Errorf("writing config: %w", err))
	}

	sum := fmt.Sprintf("%x", sha256.Sum256(body))
	d.mu.Lock()
	unchanged := sum == d.lastHash
	d.lastHash = sum
	d.mu.Unlock()
	if unchanged || !d.sup.IsRunning() {
		return nil
	}

	if err := d.sup.Stop(ctx); err != nil {
		return nnerrors.New(nnerrors.DaemonControl, "dhcp", fmt.Errorf("stopping for restart: %w", err))
	}
	if err := d.sup.Start(ctx); err != nil {
		return nnerrors.New(nnerrors.DaemonControl, "dhcp", fmt.Errorf("restarting: %w", err))
	}
	if d.m != nil {
		d.m.ServiceReloadsTotal.WithLabelValues("dhcp").Inc()
	}
	return nil
}

// EnsureRunning starts the daemon if it is not already running.
func (d *Driver) EnsureRunning(ctx context.Context) error {
	if d.sup.IsRunning() {
		return nil
	}
	if err := d.sup.Start(ctx); err != nil {
		return nnerrors.New(nnerrors.ChildProcess, "dhcp", err)
	}
	return nil
}

// EnsureStopped stops the daemon if it is running.
func (d *Driver) EnsureStopped(ctx context.Context) error {
	if !d.sup.IsRunning() {
		return nil
	}
	if err := d.sup.Stop(ctx); err != nil {
		return nnerrors.New(nnerrors.ChildProcess, "dhcp", err)
	}
	return nil
}

// RefreshLeaseMetrics counts entries under <prefix>/dhcp/leases and
// updates the active-lease gauge (spec §4.5: "it only exposes lease
// counts via metrics by counting entries under /dhcp/leases").
func (d *Driver) RefreshLeaseMetrics(ctx context.Context) error {
	if d.kv == nil || d.m == nil {
		return nil
	}
	leases, err := d.kv.PrefixScan(ctx, d.keyPrefix+"/dhcp/leases/")
	if err != nil {
		return nnerrors.New(nnerrors.Transport, "dhcp", err)
	}
	d.m.DHCPLeasesActive.Set(float64(len(leases)))
	return nil
}

// RunLeaseMetricsLoop periodically refreshes the lease-count gauge until
// ctx is cancelled. Lease keys are outside the orchestrator's watched
// prefixes (spec §4.11), so this is a dedicated poll loop rather than a
// watch-driven update.
func (d *Driver) RunLeaseMetricsLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.RefreshLeaseMetrics(ctx); err != nil {
				d.log.Error(err, "refreshing lease metrics failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (d *Driver) Health(ctx context.Context) bool {
	return d.sup.IsRunning()
}

func (d *Driver) Shutdown(ctx context.Context) error {
	return d.EnsureStopped(ctx)
}
