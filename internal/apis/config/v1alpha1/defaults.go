package v1alpha1

// SetDefaults fills in the configurable defaults called out in spec §6
// for any field left at its zero value. It never overwrites a value the
// operator set explicitly to something other than the zero value, which
// is why `default_ttl_secs: 0` (an explicit, ambiguous choice per spec §9
// Open Question 3) is left untouched here rather than defaulted away.
func SetDefaults(c *Config) {
	if c.Node.Role == "" {
		c.Node.Role = RoleAgent
	}
	if c.KVDB.Prefix == "" {
		c.KVDB.Prefix = "/nnoe"
	}
	if c.KVDB.DialTimeoutSecs == 0 {
		c.KVDB.DialTimeoutSecs = 5
	}
	if c.KVDB.RequestTimeoutSecs == 0 {
		c.KVDB.RequestTimeoutSecs = 10
	}
	if c.KVDB.TLS != nil && c.KVDB.TLS.Verify == nil {
		verify := true
		c.KVDB.TLS.Verify = &verify
	}
	if c.Cache.SweepIntervalSecs == 0 {
		c.Cache.SweepIntervalSecs = 60
	}
	if c.Services.DHCP.ProbeIntervalSecs == 0 {
		c.Services.DHCP.ProbeIntervalSecs = 10
	}
	if c.Services.DNS.GracePeriodSecs == 0 {
		c.Services.DNS.GracePeriodSecs = 86400
	}
	if c.Services.PDP.TimeoutMS == 0 {
		c.Services.PDP.TimeoutMS = 2000
	}
	if c.Services.Audit.IntervalSecs == 0 {
		c.Services.Audit.IntervalSecs = 86400
	}
	if c.Services.Audit.Command == "" {
		c.Services.Audit.Command = "lynis audit system --quick --no-colors"
	}
	if c.Services.Filter.SinkholeTarget == "" {
		c.Services.Filter.SinkholeTarget = "."
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = "127.0.0.1:8741"
	}
}
