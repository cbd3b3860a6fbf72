// Package auditor is the security-auditor service plugin (spec §4.8,
// the second half of C5's remainder): it periodically runs a security
// audit command, parses its structured report, and writes the result
// both to the configured report_path on disk (spec §6's rendered
// artefact) and to /audit/lynis/<node>. Grounded on spec §4.8 directly;
// the ticker-driven periodic task shape follows the same background-loop
// idiom used by internal/orchestrator's cache-sweep loop and
// internal/ha's probe loop.
package auditor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
	nnerrors "github.com/nnoe/node-agent/internal/errors"
	"github.com/nnoe/node-agent/internal/files"
	"github.com/nnoe/node-agent/internal/kvdb"
	"github.com/nnoe/node-agent/internal/plugin"
)

// Report is the structured form of an audit run's output, written as
// JSON to P/audit/lynis/<node> (spec §3, §4.8).
type Report struct {
	Score       int      `json:"score"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
	Sections    []string `json:"sections"`
	RanAt       int64    `json:"ran_at"`
}

// Driver is the auditor service plugin. It has no KVDB watch surface of
// its own (spec §4.8 describes it purely as a scheduled task); OnChange
// is always a no-op.
type Driver struct {
	cfg       v1alpha1.AuditServiceConfig
	nodeName  string
	keyPrefix string
	fsys      afero.Fs
	kv        kvdb.Client
	log       logr.Logger
	now       func() time.Time

	mu         sync.Mutex
	lastReport *Report
}

// New constructs the auditor driver.
func New(cfg v1alpha1.AuditServiceConfig, nodeName, keyPrefix string, fsys afero.Fs, kv kvdb.Client, log logr.Logger) *Driver {
	return &Driver{
		cfg:       cfg,
		nodeName:  nodeName,
		keyPrefix: keyPrefix,
		fsys:      fsys,
		kv:        kv,
		log:       log.WithValues("plugin", "auditor"),
		now:       time.Now,
	}
}

func (d *Driver) Name() string { return "auditor" }

func (d *Driver) Init(ctx context.Context) error { return nil }

func (d *Driver) OnChange(ctx context.Context, change plugin.Change) error { return nil }

// Reload runs the audit command immediately, outside its normal
// schedule; the plugin contract's Reload hook doubles as an on-demand
// audit trigger.
func (d *Driver) Reload(ctx context.Context) error {
	return d.runOnce(ctx)
}

// Run ticks the audit command at the configured interval until ctx is
// cancelled. A failed run is logged and retried at the next tick (spec
// §4.8: "failures are logged and retried at the next tick"), never
// aborting the loop.
func (d *Driver) Run(ctx context.Context) {
	interval := time.Duration(d.cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := d.runOnce(ctx); err != nil {
				d.log.Error(err, "audit run failed, will retry next tick")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (d *Driver) runOnce(ctx context.Context) error {
	report, err := d.execute(ctx)
	if err != nil {
		return nnerrors.New(nnerrors.LocalIO, "auditor", err)
	}

	d.mu.Lock()
	d.lastReport = report
	d.mu.Unlock()

	body, err := json.Marshal(report)
	if err != nil {
		return nnerrors.New(nnerrors.LocalIO, "auditor", err)
	}

	if d.cfg.ReportPath != "" {
		if err := files.WriteAtomic(d.fsys, d.cfg.ReportPath, body, 0644); err != nil {
			return nnerrors.New(nnerrors.LocalIO, "auditor", err)
		}
	}

	if d.kv != nil {
		key := fmt.Sprintf("%s/audit/lynis/%s", d.keyPrefix, d.nodeName)
		if err := d.kv.Put(ctx, key, body); err != nil {
			return nnerrors.New(nnerrors.Transport, "auditor", err)
		}
	}
	return nil
}

// execute runs the configured audit command and parses its output. The
// command's exact report format is not specified (spec only requires
// {score, warnings, suggestions, sections}); this parses a simple
// "key: value" line format, one fact per line, robust to unrelated
// chatter the underlying tool also prints.
func (d *Driver) execute(ctx context.Context) (*Report, error) {
	parts := strings.Fields(d.cfg.Command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("no audit command configured")
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	// A non-zero exit from the audit tool is expected when it finds
	// problems; treat it as a usable report rather than a hard failure
	// as long as output was produced.
	runErr := cmd.Run()
	if out.Len() == 0 && runErr != nil {
		return nil, fmt.Errorf("running audit command: %w", runErr)
	}

	report := parseReport(out.Bytes())
	report.RanAt = d.now().Unix()
	return report, nil
}

func parseReport(output []byte) *Report {
	report := &Report{}
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "score", "hardening index":
			if n, err := strconv.Atoi(value); err == nil {
				report.Score = n
			}
		case "warning":
			report.Warnings = append(report.Warnings, value)
		case "suggestion":
			report.Suggestions = append(report.Suggestions, value)
		case "section":
			report.Sections = append(report.Sections, value)
		}
	}
	return report
}

func (d *Driver) Health(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastReport != nil
}

func (d *Driver) Shutdown(ctx context.Context) error { return nil }
