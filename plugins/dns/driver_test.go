package dns_test

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
	nnedns "github.com/nnoe/node-agent/plugins/dns"
)

func newDriver(t *testing.T) (*nnedns.Driver, *dbus.FakeDbus, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	fake := &dbus.FakeDbus{}
	cfg := v1alpha1.DNSServiceConfig{
		ConfigPath: "/etc/dns/named.conf.zones",
		ZoneDir:    "/etc/dns/zones",
		ReloadUnit: "nnoe-dns.service",
	}
	return nnedns.New(cfg, fsys, fake, metrics.New(), testr.New(t)), fake, fsys
}

const zoneJSON = `{"domain":"example.com","ttl":3600,"records":[{"name":"@","type":"A","value":"192.0.2.1"}]}`

func TestOnChange_WritesZoneFileAndReloadsOnce(t *testing.T) {
	g := NewWithT(t)
	d, fake, fsys := newDriver(t)

	g.Expect(d.OnChange(context.Background(), plugin.Change{Key: "dns/zones/example.com", Value: []byte(zoneJSON)})).To(Succeed())

	content, err := afero.ReadFile(fsys, "/etc/dns/zones/example.com.zone")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(content)).To(ContainSubstring("@ 3600 IN A 192.0.2.1"))
	g.Expect(fake.Actions).To(HaveLen(1))
	g.Expect(fake.Actions[0].Action).To(Equal(dbus.FakeReload))
}

func TestOnChange_IdenticalPutCoalescesReload(t *testing.T) {
	g := NewWithT(t)
	d, fake, _ := newDriver(t)

	g.Expect(d.OnChange(context.Background(), plugin.Change{Key: "dns/zones/example.com", Value: []byte(zoneJSON)})).To(Succeed())
	g.Expect(d.OnChange(context.Background(), plugin.Change{Key: "dns/zones/example.com", Value: []byte(zoneJSON)})).To(Succeed())

	g.Expect(fake.Actions).To(HaveLen(1))
}

func TestOnChange_IrrelevantKeyIsNoOp(t *testing.T) {
	g := NewWithT(t)
	d, fake, _ := newDriver(t)

	g.Expect(d.OnChange(context.Background(), plugin.Change{Key: "dhcp/scopes/s1", Value: []byte(`{}`)})).To(Succeed())
	g.Expect(fake.Actions).To(BeEmpty())
}

func TestOnChange_TombstoneRemovesZone(t *testing.T) {
	g := NewWithT(t)
	d, _, fsys := newDriver(t)

	g.Expect(d.OnChange(context.Background(), plugin.Change{Key: "dns/zones/example.com", Value: []byte(zoneJSON)})).To(Succeed())
	g.Expect(d.OnChange(context.Background(), plugin.Change{Key: "dns/zones/example.com", Value: nil})).To(Succeed())

	content, err := afero.ReadFile(fsys, "/etc/dns/zones/example.com.zone")
	g.Expect(err).To(HaveOccurred())
	g.Expect(string(content)).NotTo(ContainSubstring("192.0.2.1"))
}
