package filter_test

import (
	"context"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/spf13/afero"

	. "github.com/onsi/gomega"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
	"github.com/nnoe/node-agent/internal/dbus"
	"github.com/nnoe/node-agent/internal/metrics"
	"github.com/nnoe/node-agent/internal/plugin"
	nnefilter "github.com/nnoe/node-agent/plugins/filter"
)

func newDriver(t *testing.T) (*nnefilter.Driver, *dbus.FakeDbus, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	fake := &dbus.FakeDbus{}
	cfg := v1alpha1.FilterServiceConfig{
		ConfigPath:         "/etc/filter/rules.json",
		RPZDir:             "/etc/filter/rpz",
		ReloadUnit:         "nnoe-filter.service",
		SinkholeTarget:     ".",
		DNSShapedResources: []string{"dns-query"},
	}
	return nnefilter.New(cfg, fsys, fake, metrics.New(), testr.New(t)), fake, fsys
}

func TestOnChange_ThreatDomainAddedThenRemoved(t *testing.T) {
	g := NewWithT(t)
	d, fake, fsys := newDriver(t)
	ctx := context.Background()

	g.Expect(d.OnChange(ctx, plugin.Change{
		Key:   "threats/domains/evil.example",
		Value: []byte(`{"domain":"evil.example","source":"misp","severity":"high"}`),
	})).To(Succeed())

	content, err := afero.ReadFile(fsys, "/etc/filter/rpz/threats.rpz")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(content)).To(ContainSubstring("evil.example"))
	g.Expect(fake.Actions).To(HaveLen(1))

	g.Expect(d.OnChange(ctx, plugin.Change{Key: "threats/domains/evil.example", Value: nil})).To(Succeed())
	content, err = afero.ReadFile(fsys, "/etc/filter/rpz/threats.rpz")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(content)).NotTo(ContainSubstring("evil.example"))
	g.Expect(fake.Actions).To(HaveLen(2))
}

func TestOnChange_OnlyDNSShapedPolicyCompiled(t *testing.T) {
	g := NewWithT(t)
	d, _, fsys := newDriver(t)
	ctx := context.Background()

	g.Expect(d.OnChange(ctx, plugin.Change{
		Key:   "policies/p1",
		Value: []byte(`{"resource_type":"dns-query","effect":"deny","roles":["guest"]}`),
	})).To(Succeed())
	g.Expect(d.OnChange(ctx, plugin.Change{
		Key:   "policies/p2",
		Value: []byte(`{"resource_type":"vpn-session","effect":"allow"}`),
	})).To(Succeed())

	content, err := afero.ReadFile(fsys, "/etc/filter/rules.json")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(content)).To(ContainSubstring("p1"))
	g.Expect(string(content)).NotTo(ContainSubstring("p2"))
}

func TestReload_IdempotentRebuildProducesSameOutput(t *testing.T) {
	g := NewWithT(t)
	d, fake, fsys := newDriver(t)
	ctx := context.Background()

	g.Expect(d.OnChange(ctx, plugin.Change{
		Key:   "role-mappings/10.0.0.5",
		Value: []byte(`{"roles":["admin"]}`),
	})).To(Succeed())

	before, err := afero.ReadFile(fsys, "/etc/filter/rules.json")
	g.Expect(err).NotTo(HaveOccurred())
	actionsBefore := len(fake.Actions)

	g.Expect(d.Reload(ctx)).To(Succeed())

	after, err := afero.ReadFile(fsys, "/etc/filter/rules.json")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(after).To(Equal(before))
	g.Expect(fake.Actions).To(HaveLen(actionsBefore))
}
