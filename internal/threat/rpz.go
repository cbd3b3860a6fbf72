// Package threat compiles P/threats/domains/* records into a response
// policy zone file (spec §4.7 item 3, the threat half of C7), written
// atomically so a reader never observes a partial file, and with
// deterministic (sorted) output so a rebuild with no intervening changes
// is byte-identical (spec §8 invariant 3, and the RPZ order-independence
// round-trip property).
package threat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"

	"github.com/spf13/afero"

	"github.com/nnoe/node-agent/internal/files"
)

// Domain is the decoded form of a P/threats/domains/<domain> record.
type Domain struct {
	Domain    string `json:"domain"`
	Source    string `json:"source"`
	Severity  string `json:"severity"`
	Timestamp int64  `json:"timestamp"`
}

// DecodeDomains parses a set of /threats/domains/<name> → raw-JSON-value
// pairs. Malformed records are skipped and returned as errors
// (Policy-class per spec §7); other records still compile.
func DecodeDomains(raw map[string][]byte) ([]Domain, []error) {
	domains := make([]Domain, 0, len(raw))
	var errs []error

	for key, value := range raw {
		var d Domain
		if err := json.Unmarshal(value, &d); err != nil {
			errs = append(errs, fmt.Errorf("threat domain %q: %w", key, err))
			continue
		}
		if d.Domain == "" {
			errs = append(errs, fmt.Errorf("threat domain %q: missing domain field", key))
			continue
		}
		domains = append(domains, d)
	}

	sort.Slice(domains, func(i, j int) bool { return domains[i].Domain < domains[j].Domain })
	return domains, errs
}

// Render produces the RPZ zone text routing every domain to sinkhole,
// which can be "." (NXDOMAIN) or a configured target per spec §4.7 item 3.
func Render(domains []Domain, sinkhole string) []byte {
	var buf bytes.Buffer
	for _, d := range domains {
		fmt.Fprintf(&buf, "%s CNAME %s\n", d.Domain, sinkhole)
		fmt.Fprintf(&buf, "*.%s CNAME %s\n", d.Domain, sinkhole)
	}
	return buf.Bytes()
}

// WriteAtomic renders domains to sinkhole and writes the result to path
// via temp-then-rename, so a concurrent reader never observes a partial
// file.
func WriteAtomic(fsys afero.Fs, path string, domains []Domain, sinkhole string, perm fs.FileMode) error {
	return files.WriteAtomic(fsys, path, Render(domains, sinkhole), perm)
}
