package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"

	. "github.com/onsi/gomega"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
)

// S6 — a db-only node registers no service plugins and starts no
// managed daemon (spec §8 invariant 5), even when every services.*
// section and vpn are configured enabled. If runAgent failed to skip
// plugin construction for node.role=db-only, enabling DNS and filter
// would make it dial the real system D-Bus and fail well before the
// context deadline below is reached. (A missing VPN binary alone would
// not fail runAgent: the orchestrator only logs a VPN start failure.)
func TestRunAgent_DBOnlyRegistersNoPluginsOrDaemons(t *testing.T) {
	g := NewWithT(t)

	cfg := &v1alpha1.Config{
		Node: v1alpha1.NodeConfig{Name: "node-a", Role: v1alpha1.RoleDBOnly},
		KVDB: v1alpha1.KVDBConfig{
			Endpoints:       []string{"127.0.0.1:1"},
			Prefix:          "/nnoe",
			DialTimeoutSecs: 1,
		},
		Cache: v1alpha1.CacheConfig{
			Path:              filepath.Join(t.TempDir(), "cache.db"),
			MaxSizeMB:         1,
			SweepIntervalSecs: 60,
		},
		VPN: v1alpha1.VPNConfig{Enabled: true, BinaryPath: "/does/not/exist"},
		Services: v1alpha1.ServicesConfig{
			DNS:    v1alpha1.DNSServiceConfig{Enabled: true, ZoneDir: "/tmp/zones", ConfigPath: "/tmp/dns.conf"},
			DHCP:   v1alpha1.DHCPServiceConfig{Enabled: true, BinaryPath: "/does/not/exist"},
			Filter: v1alpha1.FilterServiceConfig{Enabled: true, RPZDir: "/tmp/rpz", ConfigPath: "/tmp/filter.conf"},
			PDP:    v1alpha1.PDPServiceConfig{Enabled: true, Endpoint: "http://127.0.0.1:1"},
			Audit:  v1alpha1.AuditServiceConfig{Enabled: true, ReportPath: "/tmp/audit.json", Command: "/bin/true"},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := runAgent(ctx, cfg, testr.New(t))
	g.Expect(err).NotTo(HaveOccurred())
}
