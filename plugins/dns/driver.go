// Package dns is the authoritative-DNS service plugin (spec §4.4, a
// subset of C5): it renders zone files and a server-config fragment from
// /dns/zones/* records, manages zone-signing keys, and reloads the DNS
// daemon via systemd. Grounded on spec §4.4 directly, using
// internal/files for atomic writes and internal/dbus for daemon control,
// the same pairing the filter driver (plugins/filter) uses.
package dns

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
	"github.com/nnoe/node-agent/internal/dbus"
	nnerrors "github.com/nnoe/node-agent/internal/errors"
	"github.com/nnoe/node-agent/internal/files"
	"github.com/nnoe/node-agent/internal/metrics"
	"github.com/nnoe/node-agent/internal/plugin"
)

// Record is one DNS record within a zone.
type Record struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
	TTL   int    `json:"ttl"`
}

// Zone is the decoded form of a P/dns/zones/<zone> record. Sign is not
// enumerated in spec §3's data model; it is an explicit, documented
// extension needed to decide which zones get signing-key management
// (spec §4.4's "a zone marked to require signing").
type Zone struct {
	Domain  string   `json:"domain"`
	TTL     int      `json:"ttl"`
	Records []Record `json:"records"`
	Sign    bool     `json:"sign"`
}

// signingKey tracks one generated key so rollover can retire it only
// after the configured grace period.
type signingKey struct {
	id        string
	createdAt time.Time
	retiring  bool
	retireAt  time.Time
}

const zonePrefix = "dns/zones/"

// Driver is the DNS service plugin.
type Driver struct {
	cfg  v1alpha1.DNSServiceConfig
	fsys afero.Fs
	db   dbus.Dbus
	m    *metrics.Metrics
	log  logr.Logger

	mu         sync.Mutex
	zones      map[string]Zone
	keys       map[string][]*signingKey // zone -> keys, oldest first
	lastHash   string
	lastGoodAt time.Time
}

// New constructs the DNS driver. db may be nil in tests that do not
// exercise reload.
func New(cfg v1alpha1.DNSServiceConfig, fsys afero.Fs, db dbus.Dbus, m *metrics.Metrics, log logr.Logger) *Driver {
	return &Driver{
		cfg:   cfg,
		fsys:  fsys,
		db:    db,
		m:     m,
		log:   log.WithValues("plugin", "dns"),
		zones: make(map[string]Zone),
		keys:  make(map[string][]*signingKey),
	}
}

func (d *Driver) Name() string { return "dns" }

func (d *Driver) Init(ctx context.Context) error {
	return nil
}

func (d *Driver) OnChange(ctx context.Context, change plugin.Change) error {
	if !strings.HasPrefix(change.Key, zonePrefix) {
		return nil
	}
	zoneName := strings.TrimPrefix(change.Key, zonePrefix)

	d.mu.Lock()
	if change.Value == nil {
		if old, ok := d.zones[zoneName]; ok {
			_ = d.fsys.Remove(fmt.Sprintf("%s/%s.zone", d.cfg.ZoneDir, old.Domain))
		}
		delete(d.zones, zoneName)
	} else {
		var z Zone
		if err := json.Unmarshal(change.Value, &z); err != nil {
			d.mu.Unlock()
			return nnerrors.New(nnerrors.Policy, "dns", fmt.Errorf("zone %q: %w", zoneName, err))
		}
		d.zones[zoneName] = z
		if z.Sign {
			d.ensureKeyLocked(zoneName)
		}
	}
	d.mu.Unlock()

	return d.Reload(ctx)
}

// ensureKeyLocked generates a signing key for zone if none exists yet.
// Must be called with d.mu held.
func (d *Driver) ensureKeyLocked(zoneName string) {
	if len(d.keys[zoneName]) > 0 {
		return
	}
	id := d.generateKey(zoneName)
	if id != "" {
		d.keys[zoneName] = append(d.keys[zoneName], &signingKey{id: id, createdAt: time.Now()})
	}
}

// generateKey shells out to the configured key tool, returning the key
// identifier it printed (trimmed), or "" on failure (logged, not fatal:
// spec §7 says daemon-control/local-I/O failures are never fatal above
// the plugin layer).
func (d *Driver) generateKey(zoneName string) string {
	if d.cfg.KeyGenCmd == "" {
		return ""
	}
	cmd := exec.Command(d.cfg.KeyGenCmd, zoneName, d.cfg.KeyDir)
	out, err := cmd.Output()
	if err != nil {
		d.log.Error(err, "signing key generation failed", "zone", zoneName)
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Rollover generates a new signing key for zoneName, marks the previous
// active key (if any) as retiring, and schedules its removal after the
// configured grace period. The new key is added, never overwriting the
// active key in place, per spec §4.4's rollover rule.
func (d *Driver) Rollover(ctx context.Context, zoneName string) error {
	d.mu.Lock()
	id := d.generateKey(zoneName)
	if id == "" {
		d.mu.Unlock()
		return nnerrors.New(nnerrors.DaemonControl, "dns", fmt.Errorf("rollover: key generation failed for zone %q", zoneName))
	}
	grace := time.Duration(d.cfg.GracePeriodSecs) * time.Second
	if existing := d.keys[zoneName]; len(existing) > 0 {
		last := existing[len(existing)-1]
		last.retiring = true
		last.retireAt = time.Now().Add(grace)
	}
	d.keys[zoneName] = append(d.keys[zoneName], &signingKey{id: id, createdAt: time.Now()})
	d.mu.Unlock()

	return d.Reload(ctx)
}

// SweepRetiredKeys removes keys whose grace period has elapsed. Called
// periodically by cmd/nnoe-agent/app's key-sweep ticker.
func (d *Driver) SweepRetiredKeys() {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for zone, keys := range d.keys {
		kept := keys[:0]
		for _, k := range keys {
			if k.retiring && now.After(k.retireAt) {
				continue
			}
			kept = append(kept, k)
		}
		d.keys[zone] = kept
	}
}

// Reload re-renders every zone file and the server-config fragment, then
// reloads (falling back to restart) the DNS daemon only if the rendered
// content actually changed, per spec §8 S2's content-hash coalescing.
func (d *Driver) Reload(ctx context.Context) error {
	d.mu.Lock()
	zones := make([]Zone, 0, len(d.zones))
	for _, z := range d.zones {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].Domain < zones[j].Domain })
	d.mu.Unlock()

	hash := sha256.New()
	for _, z := range zones {
		content := renderZoneFile(z)
		path := fmt.Sprintf("%s/%s.zone", d.cfg.ZoneDir, z.Domain)
		if err := files.WriteAtomic(d.fsys, path, content, 0644); err != nil {
			return nnerrors.New(nnerrors.LocalIO, "dns", fmt.Errorf("writing zone file %q: %w", z.Domain, err))
		}
		hash.Write(content)
	}

	configFragment := renderConfigFragment(zones)
	if err := files.WriteAtomic(d.fsys, d.cfg.ConfigPath, configFragment, 0644); err != nil {
		return nnerrors.New(nnerrors.LocalIO, "dns", fmt.Errorf("writing server config: %w", err))
	}
	hash.Write(configFragment)

	sum := fmt.Sprintf("%x", hash.Sum(nil))

	d.mu.Lock()
	unchanged := sum == d.lastHash
	d.lastHash = sum
	d.mu.Unlock()
	if unchanged {
		return nil
	}

	return d.signal(ctx)
}

// signal asks the daemon to reload, escalating to a restart on failure,
// per spec §4.4: "if reload fails, a restart is attempted; if that fails
// too, the failure is surfaced via metrics and health".
func (d *Driver) signal(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	if err := d.db.Reload(ctx, d.cfg.ReloadUnit); err != nil {
		d.log.Error(err, "dns reload failed, attempting restart")
		if restartErr := d.db.Restart(ctx, nil, nil, d.cfg.ReloadUnit); restartErr != nil {
			d.mu.Lock()
			d.lastGoodAt = time.Time{}
			d.mu.Unlock()
			return nnerrors.New(nnerrors.DaemonControl, "dns", fmt.Errorf("reload and restart both failed: %w", restartErr))
		}
	}
	if d.m != nil {
		d.m.ServiceReloadsTotal.WithLabelValues("dns").Inc()
	}
	d.mu.Lock()
	d.lastGoodAt = time.Now()
	d.mu.Unlock()
	return nil
}

func renderZoneFile(z Zone) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "$ORIGIN %s.\n$TTL %d\n", z.Domain, z.TTL)
	recs := append([]Record(nil), z.Records...)
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Name != recs[j].Name {
			return recs[i].Name < recs[j].Name
		}
		return recs[i].Type < recs[j].Type
	})
	for _, r := range recs {
		ttl := r.TTL
		if ttl == 0 {
			ttl = z.TTL
		}
		fmt.Fprintf(&b, "%s %d IN %s %s\n", r.Name, ttl, r.Type, r.Value)
	}
	return []byte(b.String())
}

func renderConfigFragment(zones []Zone) []byte {
	var b strings.Builder
	for _, z := range zones {
		fmt.Fprintf(&b, "zone \"%s\" { file \"%s.zone\"; };\n", z.Domain, z.Domain)
	}
	return []byte(b.String())
}

// Health reports whether the most recent reload (or restart fallback)
// succeeded.
func (d *Driver) Health(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.lastGoodAt.IsZero()
}

func (d *Driver) Shutdown(ctx context.Context) error {
	return nil
}
