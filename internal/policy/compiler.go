package policy

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Effect is a policy decision's outcome.
type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// document is the decoded form of a P/policies/<id> record. The PDP's
// native policy form is not specified further (spec §3); this is a
// minimal, explicit schema sufficient for the filter driver's DNS-query
// decisions, carrying a resource_type field so "DNS-shaped" can be
// decided by an explicit predicate rather than inferred from contents
// (spec §9 Open Question 2).
type document struct {
	ResourceType string   `json:"resource_type"`
	Effect       Effect   `json:"effect"`
	Roles        []string `json:"roles"`
	Condition    string   `json:"condition"`
}

// Rule is one compiled {effect, roles, condition} triple the filter
// daemon evaluates per query.
type Rule struct {
	PolicyID  string
	Effect    Effect
	Roles     []string
	Condition string
}

// DNSShapedPredicate reports whether resourceType should be compiled
// into filter rules. Configured explicitly (spec §9 Open Question 2)
// rather than inferred from a policy document's contents.
type DNSShapedPredicate func(resourceType string) bool

// NewDNSShapedPredicate builds a predicate from the configured allowlist
// of resource-type strings (services.filter.dns_shaped_resources).
func NewDNSShapedPredicate(resourceTypes []string) DNSShapedPredicate {
	set := make(map[string]struct{}, len(resourceTypes))
	for _, rt := range resourceTypes {
		set[rt] = struct{}{}
	}
	return func(resourceType string) bool {
		_, ok := set[resourceType]
		return ok
	}
}

// CompileRules extracts a decision routine (as a Rule) for every policy
// document whose resource_type is DNS-shaped, per spec §4.7 item 2.
// Malformed or non-DNS-shaped records are skipped; malformed records are
// also returned as errors (Policy-class per spec §7) so the caller can
// log and count them without aborting the rebuild.
func CompileRules(raw map[string][]byte, isDNSShaped DNSShapedPredicate) ([]Rule, []error) {
	var rules []Rule
	var errs []error

	for id, value := range raw {
		var doc document
		if err := json.Unmarshal(value, &doc); err != nil {
			errs = append(errs, fmt.Errorf("policy %q: %w", id, err))
			continue
		}
		if !isDNSShaped(doc.ResourceType) {
			continue
		}
		if doc.Effect != Allow && doc.Effect != Deny {
			errs = append(errs, fmt.Errorf("policy %q: invalid effect %q", id, doc.Effect))
			continue
		}
		rules = append(rules, Rule{
			PolicyID:  id,
			Effect:    doc.Effect,
			Roles:     doc.Roles,
			Condition: doc.Condition,
		})
	}

	// Sorted by policy ID so a full rebuild from the same KVDB snapshot is
	// always byte-identical (spec §8 invariant 3), independent of map
	// iteration order.
	sort.Slice(rules, func(i, j int) bool { return rules[i].PolicyID < rules[j].PolicyID })

	return rules, errs
}
