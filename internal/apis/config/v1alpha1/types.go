// Package v1alpha1 is the wire schema for the agent's configuration file
// (spec §6). It is intentionally flat and fully enumerated: validation
// rejects unknown keys rather than ignoring them.
package v1alpha1

// NodeRole selects whether the host runs managed daemons or only
// participates in KVDB replication/caching.
type NodeRole string

const (
	// RoleAgent is a normal node running its configured service plugins.
	RoleAgent NodeRole = "agent"
	// RoleDBOnly skips plugin registration and service supervision.
	RoleDBOnly NodeRole = "db-only"
)

// Config is the root configuration document.
type Config struct {
	Node     NodeConfig     `mapstructure:"node" yaml:"node"`
	KVDB     KVDBConfig     `mapstructure:"kvdb" yaml:"kvdb"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	VPN      VPNConfig      `mapstructure:"vpn" yaml:"vpn"`
	Services ServicesConfig `mapstructure:"services" yaml:"services"`
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
}

// NodeConfig identifies this host.
type NodeConfig struct {
	Name string   `mapstructure:"name" yaml:"name"`
	Role NodeRole `mapstructure:"role" yaml:"role"`
}

// TLSConfig describes a mutual-TLS client identity for the KVDB transport.
type TLSConfig struct {
	CA     string `mapstructure:"ca" yaml:"ca"`
	Cert   string `mapstructure:"cert" yaml:"cert"`
	Key    string `mapstructure:"key" yaml:"key"`
	Verify *bool  `mapstructure:"verify" yaml:"verify"`
}

// KVDBConfig configures the distributed config-store client.
type KVDBConfig struct {
	Endpoints         []string   `mapstructure:"endpoints" yaml:"endpoints"`
	Prefix            string     `mapstructure:"prefix" yaml:"prefix"`
	TLS               *TLSConfig `mapstructure:"tls" yaml:"tls"`
	DialTimeoutSecs   int        `mapstructure:"dial_timeout_secs" yaml:"dial_timeout_secs"`
	RequestTimeoutSecs int       `mapstructure:"request_timeout_secs" yaml:"request_timeout_secs"`
}

// CacheConfig configures the local persistent cache.
type CacheConfig struct {
	Path              string `mapstructure:"path" yaml:"path"`
	MaxSizeMB         int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	DefaultTTLSecs    int    `mapstructure:"default_ttl_secs" yaml:"default_ttl_secs"`
	SweepIntervalSecs int    `mapstructure:"sweep_interval_secs" yaml:"sweep_interval_secs"`
}

// VPNConfig configures the overlay-VPN child process.
type VPNConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	BinaryPath string `mapstructure:"binary_path" yaml:"binary_path"`
	ConfigPath string `mapstructure:"config_path" yaml:"config_path"`
}

// ServicesConfig groups the per-daemon driver configs.
type ServicesConfig struct {
	DNS    DNSServiceConfig    `mapstructure:"dns" yaml:"dns"`
	DHCP   DHCPServiceConfig   `mapstructure:"dhcp" yaml:"dhcp"`
	Filter FilterServiceConfig `mapstructure:"filter" yaml:"filter"`
	PDP    PDPServiceConfig    `mapstructure:"pdp" yaml:"pdp"`
	Audit  AuditServiceConfig  `mapstructure:"audit" yaml:"audit"`
}

// DNSServiceConfig configures the authoritative DNS driver.
type DNSServiceConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ConfigPath string `mapstructure:"config_path" yaml:"config_path"`
	ZoneDir    string `mapstructure:"zone_dir" yaml:"zone_dir"`
	KeyDir     string `mapstructure:"key_dir" yaml:"key_dir"`
	ReloadUnit string `mapstructure:"reload_unit" yaml:"reload_unit"`
	KeyGenCmd  string `mapstructure:"keygen_cmd" yaml:"keygen_cmd"`
	GracePeriodSecs int `mapstructure:"grace_period_secs" yaml:"grace_period_secs"`
}

// DHCPServiceConfig configures the DHCP driver.
type DHCPServiceConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	BinaryPath     string `mapstructure:"binary_path" yaml:"binary_path"`
	ConfigPath     string `mapstructure:"config_path" yaml:"config_path"`
	HookLibrary    string `mapstructure:"hook_library" yaml:"hook_library"`
	HAPairID       string `mapstructure:"ha_pair_id" yaml:"ha_pair_id"`
	PeerNode       string `mapstructure:"peer_node" yaml:"peer_node"`
	SharedAddress  string `mapstructure:"shared_address" yaml:"shared_address"`
	ProbeIntervalSecs int `mapstructure:"probe_interval_secs" yaml:"probe_interval_secs"`
}

// FilterServiceConfig configures the DNS filter / RPZ driver.
type FilterServiceConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	ConfigPath     string `mapstructure:"config_path" yaml:"config_path"`
	RPZDir         string `mapstructure:"rpz_dir" yaml:"rpz_dir"`
	ReloadUnit     string `mapstructure:"reload_unit" yaml:"reload_unit"`
	SinkholeTarget string `mapstructure:"sinkhole_target" yaml:"sinkhole_target"`
	DNSShapedResources []string `mapstructure:"dns_shaped_resources" yaml:"dns_shaped_resources"`
}

// PDPServiceConfig configures the policy-decision-point client.
type PDPServiceConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string `mapstructure:"endpoint" yaml:"endpoint"`
	TimeoutMS  int    `mapstructure:"timeout_ms" yaml:"timeout_ms"`
}

// AuditServiceConfig configures the periodic security auditor.
type AuditServiceConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	IntervalSecs int    `mapstructure:"interval_secs" yaml:"interval_secs"`
	ReportPath   string `mapstructure:"report_path" yaml:"report_path"`
	Command      string `mapstructure:"command" yaml:"command"`
}

// HTTPConfig configures the internal health/metrics HTTP surface.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}
