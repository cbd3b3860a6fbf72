package dhcp_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/spf13/afero"

	. "github.com/onsi/gomega"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
	"github.com/nnoe/node-agent/internal/kvdb/fake"
	"github.com/nnoe/node-agent/internal/metrics"
	"github.com/nnoe/node-agent/internal/plugin"
	nnedhcp "github.com/nnoe/node-agent/plugins/dhcp"
)

func newDriver(t *testing.T) (*nnedhcp.Driver, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	cfg := v1alpha1.DHCPServiceConfig{
		ConfigPath:  "/etc/dhcp/scopes.json",
		HookLibrary: "libnnoe-hook.so",
	}
	return nnedhcp.New(cfg, "/nnoe", fsys, fake.New(), metrics.New(), testr.New(t)), fsys
}

const scopeJSON = `{"family":"ipv4","subnet":"192.0.2.0/24","pool_start":"192.0.2.10","pool_end":"192.0.2.20"}`

func TestOnChange_RendersScopesAndHookLibrary(t *testing.T) {
	g := NewWithT(t)
	d, fsys := newDriver(t)

	g.Expect(d.OnChange(context.Background(), plugin.Change{Key: "dhcp/scopes/s1", Value: []byte(scopeJSON)})).To(Succeed())

	content, err := afero.ReadFile(fsys, "/etc/dhcp/scopes.json")
	g.Expect(err).NotTo(HaveOccurred())

	var doc map[string]interface{}
	g.Expect(json.Unmarshal(content, &doc)).To(Succeed())
	g.Expect(doc["hook_library"]).To(Equal("libnnoe-hook.so"))
	g.Expect(doc["scopes"]).To(HaveKey("s1"))
}

func TestOnChange_TombstoneRemovesScope(t *testing.T) {
	g := NewWithT(t)
	d, fsys := newDriver(t)

	g.Expect(d.OnChange(context.Background(), plugin.Change{Key: "dhcp/scopes/s1", Value: []byte(scopeJSON)})).To(Succeed())
	g.Expect(d.OnChange(context.Background(), plugin.Change{Key: "dhcp/scopes/s1", Value: nil})).To(Succeed())

	content, err := afero.ReadFile(fsys, "/etc/dhcp/scopes.json")
	g.Expect(err).NotTo(HaveOccurred())
	var doc map[string]interface{}
	g.Expect(json.Unmarshal(content, &doc)).To(Succeed())
	g.Expect(doc["scopes"]).To(BeEmpty())
}

func TestOnChange_IrrelevantKeyIsNoOp(t *testing.T) {
	g := NewWithT(t)
	d, fsys := newDriver(t)

	g.Expect(d.OnChange(context.Background(), plugin.Change{Key: "dns/zones/example.com", Value: []byte(`{}`)})).To(Succeed())

	_, err := fsys.Stat("/etc/dhcp/scopes.json")
	g.Expect(err).To(HaveOccurred())
}

func TestRefreshLeaseMetrics_CountsLeasesUnderPrefix(t *testing.T) {
	g := NewWithT(t)
	fsys := afero.NewMemMapFs()
	kv := fake.New()
	ctx := context.Background()
	g.Expect(kv.Put(ctx, "/nnoe/dhcp/leases/192.0.2.10", []byte(`{}`))).To(Succeed())
	g.Expect(kv.Put(ctx, "/nnoe/dhcp/leases/192.0.2.11", []byte(`{}`))).To(Succeed())

	cfg := v1alpha1.DHCPServiceConfig{ConfigPath: "/etc/dhcp/scopes.json"}
	m := metrics.New()
	d := nnedhcp.New(cfg, "/nnoe", fsys, kv, m, testr.New(t))

	g.Expect(d.RefreshLeaseMetrics(ctx)).To(Succeed())
	g.Expect(m.Snapshot().DHCPLeasesActive).To(Equal(2.0))
}
