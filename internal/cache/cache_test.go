package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/gomega"
)

func open(t *testing.T, capBytes int64, defaultTTL time.Duration) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path, capBytes, defaultTTL, logr.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// S5 — three entries with TTL 1s, waited out, prefix scan is empty.
func TestSweep_TTLExpiry(t *testing.T) {
	g := NewWithT(t)
	c := open(t, 1<<20, time.Hour)

	for _, k := range []string{"a", "b", "c"} {
		g.Expect(c.PutTTL(k, []byte("v"), time.Second)).To(Succeed())
	}

	fake := time.Now().Add(2 * time.Second)
	c.now = func() time.Time { return fake }

	g.Expect(c.Sweep()).To(Succeed())

	kvs, err := c.PrefixScan("")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(kvs).To(BeEmpty())
	g.Expect(c.Stats().Entries).To(Equal(0))
}

// Invariant 2: get never returns an expired value, even without a sweep
// having run.
func TestGet_NeverReturnsExpiredWithoutSweep(t *testing.T) {
	g := NewWithT(t)
	c := open(t, 1<<20, time.Hour)

	g.Expect(c.PutTTL("k", []byte("v"), time.Second)).To(Succeed())
	c.now = func() time.Time { return time.Now().Add(2 * time.Second) }

	_, found, err := c.Get("k")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(found).To(BeFalse())
}

// Boundary: cap of 0 bytes means every put succeeds but is immediately
// evictable.
func TestPut_ZeroCapEvictsImmediately(t *testing.T) {
	g := NewWithT(t)
	c := open(t, 0, time.Hour)

	g.Expect(c.Put("k", []byte("v"))).To(Succeed())

	_, found, err := c.Get("k")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(found).To(BeFalse())
	g.Expect(c.Stats().Bytes).To(BeNumerically("<=", 0))
}

// Boundary: TTL of 0 may return absent immediately after put.
func TestPut_ZeroTTLMayExpireImmediately(t *testing.T) {
	g := NewWithT(t)
	c := open(t, 1<<20, 0)

	g.Expect(c.Put("k", []byte("v"))).To(Succeed())
	c.now = func() time.Time { return time.Now().Add(time.Nanosecond) }

	_, found, err := c.Get("k")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(found).To(BeFalse())
}

// Invariant 1: immediately after any put returns, bytes <= cap.
func TestPut_EnforcesCapSynchronously(t *testing.T) {
	g := NewWithT(t)
	c := open(t, 10, time.Hour)

	for i := 0; i < 20; i++ {
		g.Expect(c.Put(string(rune('a'+i)), []byte("0123456789"))).To(Succeed())
		g.Expect(c.Stats().Bytes).To(BeNumerically("<=", 10))
	}
}

func TestLRUEviction_TieBreaksByKey(t *testing.T) {
	g := NewWithT(t)
	c := open(t, 1<<20, time.Hour)
	fixed := time.Now()
	c.now = func() time.Time { return fixed }

	g.Expect(c.Put("b", []byte("v"))).To(Succeed())
	g.Expect(c.Put("a", []byte("v"))).To(Succeed())

	c.capBytes = 2 // room for exactly one entry of size 2 ("a"+"v")
	g.Expect(c.Sweep()).To(Succeed())

	_, foundA, _ := c.Get("a")
	_, foundB, _ := c.Get("b")
	// Both were written at the same last_access second in this fast test,
	// so the bytewise tie-break evicts "a" (ascending key order) and keeps "b".
	g.Expect(foundA).To(BeFalse())
	g.Expect(foundB).To(BeTrue())
}

func TestDurableAcrossReopen(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "cache.db")

	c1, err := Open(path, 1<<20, time.Hour, logr.Discard())
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(c1.Put("k", []byte("v"))).To(Succeed())
	g.Expect(c1.Close()).To(Succeed())

	c2, err := Open(path, 1<<20, time.Hour, logr.Discard())
	g.Expect(err).ToNot(HaveOccurred())
	defer c2.Close()

	v, found, err := c2.Get("k")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(found).To(BeTrue())
	g.Expect(v).To(Equal([]byte("v")))
}
