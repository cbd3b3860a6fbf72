// Package policy compiles the KVDB's role-mapping and policy records
// into the lookup structures the filter driver evaluates per query
// (spec §4.7 items 1-2, the filter-driver half of C7). Grounded on spec
// §4.7 directly; CIDR matching uses stdlib `net` since no example repo
// in the corpus implements longest-prefix-match role classification —
// this is inherent domain logic with no corpus library precedent.
package policy

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"sync"
)

// RoleMapping is the decoded form of a P/role-mappings/<ip-or-cidr> record.
type RoleMapping struct {
	Roles []string `json:"roles"`
}

type entry struct {
	cidr  *net.IPNet
	bits  int // prefix length, for longest-prefix-match ordering
	exact net.IP
	roles []string
}

// RoleTable is a compiled, queryable form of every /role-mappings/* entry:
// longest-prefix match, with an exact IP entry overriding any containing
// CIDR (spec §4.7 item 1, and the boundary behaviour in spec §8).
type RoleTable struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRoleTable returns an empty table.
func NewRoleTable() *RoleTable {
	return &RoleTable{}
}

// Rebuild replaces the table's contents from a full set of
// /role-mappings/<key> → raw-JSON-value pairs, where key is the
// ip-or-cidr string. Malformed records are skipped (Policy-class error
// per spec §7): other records still install.
func (t *RoleTable) Rebuild(raw map[string][]byte) []error {
	var errs []error
	entries := make([]entry, 0, len(raw))

	for key, value := range raw {
		var m RoleMapping
		if err := json.Unmarshal(value, &m); err != nil {
			errs = append(errs, fmt.Errorf("role mapping %q: %w", key, err))
			continue
		}

		if ip := net.ParseIP(key); ip != nil {
			entries = append(entries, entry{exact: ip, bits: 128, roles: m.Roles})
			continue
		}

		_, ipNet, err := net.ParseCIDR(key)
		if err != nil {
			errs = append(errs, fmt.Errorf("role mapping %q: not an IP or CIDR: %w", key, err))
			continue
		}
		ones, _ := ipNet.Mask.Size()
		entries = append(entries, entry{cidr: ipNet, bits: ones, roles: m.Roles})
	}

	// Longest prefix first, so Lookup's first match is always the most
	// specific one; exact entries carry bits=128 and so always sort first.
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].bits > entries[j].bits })

	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
	return errs
}

// RoleEntry is an exported, serialisable view of one compiled
// role-mapping row, in longest-prefix-first order.
type RoleEntry struct {
	Key   string   `json:"key"`
	Roles []string `json:"roles"`
}

// Entries returns the compiled table for serialisation into the filter
// daemon's rule file, so the daemon can classify a client's roles from
// its address without re-parsing the raw KVDB records itself.
func (t *RoleTable) Entries() []RoleEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]RoleEntry, 0, len(t.entries))
	for _, e := range t.entries {
		key := e.exact.String()
		if e.cidr != nil {
			key = e.cidr.String()
		}
		out = append(out, RoleEntry{Key: key, Roles: e.roles})
	}
	return out
}

// Lookup returns the roles of the most specific entry matching ip, if
// any. An exact match for ip always wins over any containing CIDR.
func (t *RoleTable) Lookup(ip net.IP) ([]string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		if e.exact != nil {
			if e.exact.Equal(ip) {
				return e.roles, true
			}
			continue
		}
		if e.cidr.Contains(ip) {
			return e.roles, true
		}
	}
	return nil, false
}
