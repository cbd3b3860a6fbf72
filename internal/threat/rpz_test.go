package threat_test

import (
	"testing"

	"github.com/spf13/afero"

	. "github.com/onsi/gomega"

	"github.com/nnoe/node-agent/internal/threat"
)

func TestDecodeDomains_SortedDeterministicSkipsMalformed(t *testing.T) {
	g := NewWithT(t)

	raw := map[string][]byte{
		"d1": []byte(`{"domain":"zeta.example","source":"misp","severity":"high"}`),
		"d2": []byte(`{"domain":"alpha.example","source":"misp","severity":"low"}`),
		"d3": []byte(`not json`),
	}

	domains, errs := threat.DecodeDomains(raw)
	g.Expect(errs).To(HaveLen(1))
	g.Expect(domains).To(HaveLen(2))
	g.Expect(domains[0].Domain).To(Equal("alpha.example"))
	g.Expect(domains[1].Domain).To(Equal("zeta.example"))
}

func TestRender_OrderIndependentGivenSameSortedInput(t *testing.T) {
	g := NewWithT(t)

	a := []threat.Domain{{Domain: "alpha.example"}, {Domain: "zeta.example"}}
	b := []threat.Domain{{Domain: "zeta.example"}, {Domain: "alpha.example"}}

	raw := map[string][]byte{
		"1": []byte(`{"domain":"alpha.example"}`),
		"2": []byte(`{"domain":"zeta.example"}`),
	}
	sorted, _ := threat.DecodeDomains(raw)

	g.Expect(threat.Render(sorted, ".")).To(Equal(threat.Render(a, ".")))
	g.Expect(threat.Render(a, ".")).NotTo(Equal(threat.Render(b, ".")))
}

func TestWriteAtomic_DeletedDomainNoLongerPresent(t *testing.T) {
	g := NewWithT(t)
	fsys := afero.NewMemMapFs()

	domains := []threat.Domain{{Domain: "evil.example"}}
	g.Expect(threat.WriteAtomic(fsys, "/rpz/threats.rpz", domains, ".", 0644)).To(Succeed())

	content, err := afero.ReadFile(fsys, "/rpz/threats.rpz")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(content)).To(ContainSubstring("evil.example"))

	g.Expect(threat.WriteAtomic(fsys, "/rpz/threats.rpz", nil, ".", 0644)).To(Succeed())
	content, err = afero.ReadFile(fsys, "/rpz/threats.rpz")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(content)).NotTo(ContainSubstring("evil.example"))
}
