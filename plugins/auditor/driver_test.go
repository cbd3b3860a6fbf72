package auditor_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/spf13/afero"

	. "github.com/onsi/gomega"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
	"github.com/nnoe/node-agent/internal/kvdb/fake"
	"github.com/nnoe/node-agent/plugins/auditor"
)

// writeReportScript writes a shell script producing "key: value" lines,
// avoiding embedded spaces in cfg.Command: the driver splits its
// configured command on whitespace (matching the real audit tools it
// targets, which take simple flag arguments, not shell strings).
func writeReportScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.sh")
	script := "#!/bin/sh\n" +
		"printf 'score: 72\\n'\n" +
		"printf 'warning: weak ssh config\\n'\n" +
		"printf 'suggestion: enable 2fa\\n'\n" +
		"printf 'section: network\\n'\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReload_ParsesReportAndWritesToKVDB(t *testing.T) {
	g := NewWithT(t)

	kv := fake.New()
	fsys := afero.NewMemMapFs()
	cfg := v1alpha1.AuditServiceConfig{
		Command:    "/bin/sh " + writeReportScript(t),
		ReportPath: "/var/lib/nnoe/audit/report.json",
	}
	d := auditor.New(cfg, "node-a", "/nnoe", fsys, kv, testr.New(t))

	g.Expect(d.Reload(context.Background())).To(Succeed())
	g.Expect(d.Health(context.Background())).To(BeTrue())

	raw, ok, err := kv.Get(context.Background(), "/nnoe/audit/lynis/node-a")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())

	var report auditor.Report
	g.Expect(json.Unmarshal(raw, &report)).To(Succeed())
	g.Expect(report.Score).To(Equal(72))
	g.Expect(report.Warnings).To(ConsistOf("weak ssh config"))
	g.Expect(report.Suggestions).To(ConsistOf("enable 2fa"))
	g.Expect(report.Sections).To(ConsistOf("network"))

	onDisk, err := afero.ReadFile(fsys, cfg.ReportPath)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(onDisk).To(MatchJSON(raw))
}
