// Package metrics holds the agent's counters and gauges (spec §4.10,
// component C8) as a single owned block, shared by non-owning handles to
// whatever component needs to increment them — there is no package-level
// global state (spec §9).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is constructed once per process (or once per test case) and
// passed down to every component that reports on itself.
type Metrics struct {
	registry *prometheus.Registry

	ConfigUpdatesTotal  prometheus.Counter
	ServiceReloadsTotal *prometheus.CounterVec
	DNSQueriesTotal     prometheus.Counter
	BlockedQueriesTotal prometheus.Counter
	DHCPLeasesTotal     prometheus.Counter

	DHCPLeasesActive prometheus.Gauge
	HAState          *prometheus.GaugeVec
	KVDBConnected    prometheus.Gauge
	CacheSizeBytes   prometheus.Gauge
	CacheEntries     prometheus.Gauge
	UptimeSeconds    prometheus.Gauge
}

// New builds a fresh Metrics block registered against its own
// prometheus.Registry, so tests never collide with each other or with a
// package-level default registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ConfigUpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "config_updates_total",
			Help: "Number of relevant watch events processed.",
		}),
		ServiceReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "service_reloads_total",
			Help: "Number of managed-daemon reloads triggered, by plugin.",
		}, []string{"plugin"}),
		DNSQueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dns_queries_total",
			Help: "DNS queries observed, fed by an external source.",
		}),
		BlockedQueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blocked_queries_total",
			Help: "Queries blocked by the filter daemon, fed by an external source.",
		}),
		DHCPLeasesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dhcp_leases_total",
			Help: "DHCP leases issued, fed by an external source.",
		}),
		DHCPLeasesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dhcp_leases_active",
			Help: "Current count of active DHCP leases under /dhcp/leases.",
		}),
		HAState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ha_state",
			Help: "HA coordinator state: 0=Unknown 1=Standby 2=Primary.",
		}, []string{"pair"}),
		KVDBConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "etcd_connected",
			Help: "1 if the KVDB client considers itself connected.",
		}),
		CacheSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_size_bytes",
			Help: "Current bytes stored in the local cache.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current entry count in the local cache.",
		}),
		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uptime_seconds",
			Help: "Seconds since the agent started.",
		}),
	}

	reg.MustRegister(
		m.ConfigUpdatesTotal, m.ServiceReloadsTotal, m.DNSQueriesTotal,
		m.BlockedQueriesTotal, m.DHCPLeasesTotal, m.DHCPLeasesActive,
		m.HAState, m.KVDBConnected, m.CacheSizeBytes, m.CacheEntries,
		m.UptimeSeconds,
	)
	return m
}

// Registry exposes the underlying prometheus.Registry so an external
// process (e.g. a promhttp.Handler mounted by internal/httpapi) can
// translate the snapshot to the monitoring wire format.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Snapshot is the trivially-serialisable structure spec §4.10 and §6
// call for: a point-in-time read of every counter/gauge.
type Snapshot struct {
	ConfigUpdatesTotal  float64            `json:"config_updates_total"`
	ServiceReloadsTotal map[string]float64 `json:"service_reloads_total"`
	DNSQueriesTotal     float64            `json:"dns_queries_total"`
	BlockedQueriesTotal float64            `json:"blocked_queries_total"`
	DHCPLeasesTotal     float64            `json:"dhcp_leases_total"`
	DHCPLeasesActive    float64            `json:"dhcp_leases_active"`
	HAState             map[string]float64 `json:"ha_state"`
	KVDBConnected       bool               `json:"etcd_connected"`
	CacheSizeBytes      float64            `json:"cache_size_bytes"`
	CacheEntries        float64            `json:"cache_entries"`
	UptimeSeconds       float64            `json:"uptime_seconds"`
}

// Snapshot reads every metric's current value. It never fails: a single
// metric that cannot be read (should not happen for in-process
// collectors) reads as 0, and an unreadable labelled series is left out
// of its map.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		ConfigUpdatesTotal:  readCounter(m.ConfigUpdatesTotal),
		ServiceReloadsTotal: readCounterVec(m.ServiceReloadsTotal, "plugin"),
		DNSQueriesTotal:     readCounter(m.DNSQueriesTotal),
		BlockedQueriesTotal: readCounter(m.BlockedQueriesTotal),
		DHCPLeasesTotal:     readCounter(m.DHCPLeasesTotal),
		DHCPLeasesActive:    readGauge(m.DHCPLeasesActive),
		HAState:             readGaugeVec(m.HAState, "pair"),
		KVDBConnected:       readGauge(m.KVDBConnected) == 1,
		CacheSizeBytes:      readGauge(m.CacheSizeBytes),
		CacheEntries:        readGauge(m.CacheEntries),
		UptimeSeconds:       readGauge(m.UptimeSeconds),
	}
	return s
}

func readCounter(c prometheus.Counter) float64 {
	var pb dtoMetric
	_ = writeMetric(c, &pb)
	return pb.value
}

func readGauge(g prometheus.Gauge) float64 {
	var pb dtoMetric
	_ = writeMetric(g, &pb)
	return pb.value
}
