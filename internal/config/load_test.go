package config

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
)

const validYAML = `
node:
  name: node-a
  role: agent
kvdb:
  endpoints: ["127.0.0.1:2379"]
cache:
  path: /var/lib/nnoe/cache.db
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	g := NewWithT(t)

	cfg, err := Load(writeConfig(t, validYAML))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.Node.Name).To(Equal("node-a"))
	g.Expect(cfg.KVDB.Prefix).To(Equal("/nnoe"))
}

// spec §9 "Dynamic config": unknown keys are rejected by validate, not
// silently dropped.
func TestLoad_RejectsUnknownKey(t *testing.T) {
	g := NewWithT(t)

	path := writeConfig(t, validYAML+"\nnode_typo: oops\n")
	_, err := Load(path)
	g.Expect(err).To(HaveOccurred())
}

func TestLoad_RejectsUnknownNestedKey(t *testing.T) {
	g := NewWithT(t)

	path := writeConfig(t, validYAML+"\nservices:\n  dns:\n    enalbed: true\n")
	_, err := Load(path)
	g.Expect(err).To(HaveOccurred())
}
