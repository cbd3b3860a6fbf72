// Package validation checks a loaded config.Config for the constraints
// spec §6 and §9 call out, aggregating every problem found rather than
// stopping at the first one — the same shape gardener's own node-agent
// config validation package takes.
package validation

import (
	"fmt"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
)

// FieldError names the offending field and the problem with it.
type FieldError struct {
	Field   string
	Detail  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Detail)
}

// ErrorList aggregates FieldErrors.
type ErrorList []*FieldError

func (l ErrorList) Error() string {
	if len(l) == 0 {
		return ""
	}
	s := l[0].Error()
	for _, e := range l[1:] {
		s += "; " + e.Error()
	}
	return s
}

// ToAggregate returns nil if the list is empty, so callers can
// `return validation.Validate(c).ToAggregate()`.
func (l ErrorList) ToAggregate() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// Validate checks c for missing required fields and internally
// inconsistent combinations. It assumes SetDefaults has already run.
func Validate(c *v1alpha1.Config) ErrorList {
	var errs ErrorList

	if c.Node.Name == "" {
		errs = append(errs, &FieldError{"node.name", "must not be empty"})
	}
	switch c.Node.Role {
	case v1alpha1.RoleAgent, v1alpha1.RoleDBOnly:
	default:
		errs = append(errs, &FieldError{"node.role", fmt.Sprintf("must be %q or %q, got %q", v1alpha1.RoleAgent, v1alpha1.RoleDBOnly, c.Node.Role)})
	}

	if len(c.KVDB.Endpoints) == 0 {
		errs = append(errs, &FieldError{"kvdb.endpoints", "must list at least one endpoint"})
	}
	if t := c.KVDB.TLS; t != nil {
		if t.Cert == "" || t.Key == "" {
			errs = append(errs, &FieldError{"kvdb.tls", "cert and key must both be set when tls is configured"})
		}
	}

	if c.Cache.Path == "" {
		errs = append(errs, &FieldError{"cache.path", "must not be empty"})
	}
	if c.Cache.MaxSizeMB < 0 {
		errs = append(errs, &FieldError{"cache.max_size_mb", "must not be negative"})
	}

	if c.Node.Role == v1alpha1.RoleDBOnly {
		return errs
	}

	if c.VPN.Enabled && c.VPN.BinaryPath == "" {
		errs = append(errs, &FieldError{"vpn.binary_path", "must be set when vpn.enabled is true"})
	}

	if c.Services.DNS.Enabled {
		if c.Services.DNS.ZoneDir == "" {
			errs = append(errs, &FieldError{"services.dns.zone_dir", "must be set when services.dns.enabled is true"})
		}
	}
	if c.Services.DHCP.Enabled {
		if c.Services.DHCP.BinaryPath == "" {
			errs = append(errs, &FieldError{"services.dhcp.binary_path", "must be set when services.dhcp.enabled is true"})
		}
		if (c.Services.DHCP.HAPairID == "") != (c.Services.DHCP.PeerNode == "") {
			errs = append(errs, &FieldError{"services.dhcp.ha_pair_id", "ha_pair_id and peer_node must be set together"})
		}
	}
	if c.Services.Filter.Enabled && c.Services.Filter.RPZDir == "" {
		errs = append(errs, &FieldError{"services.filter.rpz_dir", "must be set when services.filter.enabled is true"})
	}
	if c.Services.PDP.Enabled && c.Services.PDP.Endpoint == "" {
		errs = append(errs, &FieldError{"services.pdp.endpoint", "must be set when services.pdp.enabled is true"})
	}
	if c.Services.Audit.Enabled && c.Services.Audit.ReportPath == "" {
		errs = append(errs, &FieldError{"services.audit.report_path", "must be set when services.audit.enabled is true"})
	}

	return errs
}
