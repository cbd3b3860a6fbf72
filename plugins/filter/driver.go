// Package filter is the DNS-filter service plugin (spec §4.7, a subset
// of C5+C7): it compiles /role-mappings/*, DNS-shaped /policies/*, and
// /threats/domains/* into the filter daemon's rule file and RPZ zone,
// then reloads the daemon. A full rebuild from the current KVDB snapshot
// alone must always be possible and must be idempotent (spec §4.7
// "Ordering & idempotence"), so OnChange always recompiles from the
// full in-memory snapshot rather than patching incrementally.
package filter

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
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
	"github.com/nnoe/node-agent/internal/policy"
	"github.com/nnoe/node-agent/internal/threat"
)

const (
	roleMappingPrefix = "role-mappings/"
	policyPrefix      = "policies/"
	threatPrefix      = "threats/domains/"
)

// rulesFile is the on-disk schema the filter daemon reads: the compiled
// role table (for classifying a client's roles by address) alongside the
// DNS-shaped policy rules that reference those role names.
type rulesFile struct {
	Roles []policy.RoleEntry `json:"roles"`
	Rules []policy.Rule      `json:"rules"`
}

// Driver is the filter service plugin.
type Driver struct {
	cfg         v1alpha1.FilterServiceConfig
	fsys        afero.Fs
	db          dbus.Dbus
	m           *metrics.Metrics
	log         logr.Logger
	isDNSShaped policy.DNSShapedPredicate

	roleTable *policy.RoleTable

	mu         sync.Mutex
	roleRaw    map[string][]byte
	policyRaw  map[string][]byte
	threatRaw  map[string][]byte
	lastHash   string
	lastGoodAt time.Time
}

// New constructs the filter driver.
func New(cfg v1alpha1.FilterServiceConfig, fsys afero.Fs, db dbus.Dbus, m *metrics.Metrics, log logr.Logger) *Driver {
	return &Driver{
		cfg:         cfg,
		fsys:        fsys,
		db:          db,
		m:           m,
		log:         log.WithValues("plugin", "filter"),
		isDNSShaped: policy.NewDNSShapedPredicate(cfg.DNSShapedResources),
		roleTable:   policy.NewRoleTable(),
		roleRaw:     make(map[string][]byte),
		policyRaw:   make(map[string][]byte),
		threatRaw:   make(map[string][]byte),
	}
}

func (d *Driver) Name() string { return "filter" }

func (d *Driver) Init(ctx context.Context) error { return nil }

func (d *Driver) OnChange(ctx context.Context, change plugin.Change) error {
	var bucket map[string][]byte
	var key string

	switch {
	case strings.HasPrefix(change.Key, roleMappingPrefix):
		bucket, key = d.roleRaw, strings.TrimPrefix(change.Key, roleMappingPrefix)
	case strings.HasPrefix(change.Key, policyPrefix):
		bucket, key = d.policyRaw, strings.TrimPrefix(change.Key, policyPrefix)
	case strings.HasPrefix(change.Key, threatPrefix):
		bucket, key = d.threatRaw, strings.TrimPrefix(change.Key, threatPrefix)
	default:
		return nil
	}

	d.mu.Lock()
	if change.Value == nil {
		delete(bucket, key)
	} else {
		bucket[key] = change.Value
	}
	d.mu.Unlock()

	return d.Reload(ctx)
}

// Reload performs a full rebuild from the current in-memory snapshot:
// compile the role table, the DNS-shaped policy rules, and the RPZ file,
// then reload the daemon only if the combined output changed.
func (d *Driver) Reload(ctx context.Context) error {
	d.mu.Lock()
	roleRaw := cloneMap(d.roleRaw)
	policyRaw := cloneMap(d.policyRaw)
	threatRaw := cloneMap(d.threatRaw)
	d.mu.Unlock()

	if errs := d.roleTable.Rebuild(roleRaw); len(errs) > 0 {
		for _, e := range errs {
			d.log.Error(e, "skipping malformed role mapping")
		}
	}

	rules, ruleErrs := policy.CompileRules(policyRaw, d.isDNSShaped)
	for _, e := range ruleErrs {
		d.log.Error(e, "skipping malformed policy")
	}

	domains, domainErrs := threat.DecodeDomains(threatRaw)
	for _, e := range domainErrs {
		d.log.Error(e, "skipping malformed threat domain")
	}

	rulesBody, err := json.MarshalIndent(rulesFile{
		Roles: d.roleTable.Entries(),
		Rules: rules,
	}, "", "  ")
	if err != nil {
		return nnerrors.New(nnerrors.LocalIO, "filter", fmt.Errorf("rendering rules: %w", err))
	}
	if err := files.WriteAtomic(d.fsys, d.cfg.ConfigPath, rulesBody, 0644); err != nil {
		return nnerrors.New(nnerrors.LocalIO, "filter", fmt.Errorf("writing rules file: %w", err))
	}

	rpzPath := fmt.Sprintf("%s/threats.rpz", d.cfg.RPZDir)
	sinkhole := d.cfg.SinkholeTarget
	if sinkhole == "" {
		sinkhole = "."
	}
	rpzBody := threat.Render(domains, sinkhole)
	if err := files.WriteAtomic(d.fsys, rpzPath, rpzBody, 0644); err != nil {
		return nnerrors.New(nnerrors.LocalIO, "filter", fmt.Errorf("writing rpz file: %w", err))
	}

	hash := sha256.New()
	hash.Write(rulesBody)
	hash.Write(rpzBody)
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
// the same reload-then-restart escalation the DNS driver uses (spec
// §4.7: "retain last-known-good on failure").
func (d *Driver) signal(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	if err := d.db.Reload(ctx, d.cfg.ReloadUnit); err != nil {
		d.log.Error(err, "filter reload failed, attempting restart")
		if restartErr := d.db.Restart(ctx, nil, nil, d.cfg.ReloadUnit); restartErr != nil {
			d.mu.Lock()
			d.lastGoodAt = time.Time{}
			d.mu.Unlock()
			return nnerrors.New(nnerrors.DaemonControl, "filter", fmt.Errorf("reload and restart both failed: %w", restartErr))
		}
	}
	if d.m != nil {
		d.m.ServiceReloadsTotal.WithLabelValues("filter").Inc()
	}
	d.mu.Lock()
	d.lastGoodAt = time.Now()
	d.mu.Unlock()
	return nil
}

func cloneMap(in map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Health reports whether the most recent reload (or restart fallback)
// succeeded, mirroring plugins/dns.Driver.Health.
func (d *Driver) Health(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.lastGoodAt.IsZero()
}

func (d *Driver) Shutdown(ctx context.Context) error { return nil }
