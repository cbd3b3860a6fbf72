package policy_test

import (
	"net"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/nnoe/node-agent/internal/policy"
)

func TestRoleTable_ExactIPOverridesContainingCIDR(t *testing.T) {
	g := NewWithT(t)

	tbl := policy.NewRoleTable()
	errs := tbl.Rebuild(map[string][]byte{
		"10.0.0.0/24": []byte(`{"roles":["cidr-role"]}`),
		"10.0.0.5":    []byte(`{"roles":["exact-role"]}`),
	})
	g.Expect(errs).To(BeEmpty())

	roles, ok := tbl.Lookup(net.ParseIP("10.0.0.5"))
	g.Expect(ok).To(BeTrue())
	g.Expect(roles).To(Equal([]string{"exact-role"}))

	roles, ok = tbl.Lookup(net.ParseIP("10.0.0.6"))
	g.Expect(ok).To(BeTrue())
	g.Expect(roles).To(Equal([]string{"cidr-role"}))

	_, ok = tbl.Lookup(net.ParseIP("10.0.1.1"))
	g.Expect(ok).To(BeFalse())
}

func TestRoleTable_LongestPrefixMatch(t *testing.T) {
	g := NewWithT(t)

	tbl := policy.NewRoleTable()
	errs := tbl.Rebuild(map[string][]byte{
		"10.0.0.0/16": []byte(`{"roles":["broad"]}`),
		"10.0.0.0/24": []byte(`{"roles":["narrow"]}`),
	})
	g.Expect(errs).To(BeEmpty())

	roles, ok := tbl.Lookup(net.ParseIP("10.0.0.9"))
	g.Expect(ok).To(BeTrue())
	g.Expect(roles).To(Equal([]string{"narrow"}))

	roles, ok = tbl.Lookup(net.ParseIP("10.0.9.9"))
	g.Expect(ok).To(BeTrue())
	g.Expect(roles).To(Equal([]string{"broad"}))
}

func TestRoleTable_MalformedEntrySkippedOthersSurvive(t *testing.T) {
	g := NewWithT(t)

	tbl := policy.NewRoleTable()
	errs := tbl.Rebuild(map[string][]byte{
		"not-an-ip-or-cidr": []byte(`{"roles":["x"]}`),
		"10.0.0.5":          []byte(`{"roles":["exact-role"]}`),
	})
	g.Expect(errs).To(HaveLen(1))

	roles, ok := tbl.Lookup(net.ParseIP("10.0.0.5"))
	g.Expect(ok).To(BeTrue())
	g.Expect(roles).To(Equal([]string{"exact-role"}))
}

func TestCompileRules_OnlyDNSShapedResourcesCompiled(t *testing.T) {
	g := NewWithT(t)

	isDNSShaped := policy.NewDNSShapedPredicate([]string{"dns-query"})
	raw := map[string][]byte{
		"p1": []byte(`{"resource_type":"dns-query","effect":"allow","roles":["r1"],"condition":"always"}`),
		"p2": []byte(`{"resource_type":"vpn-session","effect":"deny","roles":["r2"]}`),
	}

	rules, errs := policy.CompileRules(raw, isDNSShaped)
	g.Expect(errs).To(BeEmpty())
	g.Expect(rules).To(HaveLen(1))
	g.Expect(rules[0].PolicyID).To(Equal("p1"))
	g.Expect(rules[0].Effect).To(Equal(policy.Allow))
}

func TestCompileRules_DeterministicOrder(t *testing.T) {
	g := NewWithT(t)

	isDNSShaped := policy.NewDNSShapedPredicate([]string{"dns-query"})
	raw := map[string][]byte{
		"zzz": []byte(`{"resource_type":"dns-query","effect":"allow"}`),
		"aaa": []byte(`{"resource_type":"dns-query","effect":"deny"}`),
	}

	rules, errs := policy.CompileRules(raw, isDNSShaped)
	g.Expect(errs).To(BeEmpty())
	g.Expect(rules).To(HaveLen(2))
	g.Expect(rules[0].PolicyID).To(Equal("aaa"))
	g.Expect(rules[1].PolicyID).To(Equal("zzz"))
}
