package config

import "time"

const (
	DefaultPath           = "/etc/config/network.yaml"
	DefaultSocket         = "/run/linkd.sock"
	DefaultHooksDir       = "/etc/config/network/hooks"
	DefaultLeaseDir       = "/tmp/dhcp"
	DefaultServiceManager = "rc-service"
	DefaultDHCPClient     = "udhcpc"
	DefaultDHCPServer     = "udhcpd"

	DefaultLeaseTime    = 3600
	DefaultMaxLeaseTime = 7200
)

type Config struct {
	Logging    LoggingConfig         `yaml:"logging,omitempty"`
	Daemon     DaemonConfig          `yaml:"daemon,omitempty"`
	DHCP       DHCPConfig            `yaml:"dhcp,omitempty"`
	Renames    map[string]string     `yaml:"renames,omitempty"`
	Interfaces map[string]*Interface `yaml:"interfaces"`
}

type LoggingConfig struct {
	Format     string            `yaml:"format,omitempty"`
	Level      string            `yaml:"level,omitempty"`
	Components map[string]string `yaml:"components,omitempty"`
	File       string            `yaml:"file,omitempty"`
	MaxSizeMB  int               `yaml:"max_size_mb,omitempty"`
	MaxBackups int               `yaml:"max_backups,omitempty"`
}

type DaemonConfig struct {
	Socket         string `yaml:"socket,omitempty"`
	HooksDir       string `yaml:"hooks_dir,omitempty"`
	LeaseDir       string `yaml:"lease_dir,omitempty"`
	NetNS          string `yaml:"netns,omitempty"`
	MetricsAddress string `yaml:"metrics_address,omitempty"`
	WatchConfig    bool   `yaml:"watch_config,omitempty"`
	ServiceManager string `yaml:"service_manager,omitempty"`
	DHCPClient     string `yaml:"dhcp_client,omitempty"`
	DHCPServer     string `yaml:"dhcp_server,omitempty"`

	// ProbeTimeout bounds the foreground DHCP probe used by failover.
	ProbeTimeout time.Duration `yaml:"probe_timeout,omitempty"`
}

// DHCPConfig holds lease defaults for the embedded DHCP servers.
type DHCPConfig struct {
	DefaultLeaseTime uint32 `yaml:"default_lease_time,omitempty"`
	MaxLeaseTime     uint32 `yaml:"max_lease_time,omitempty"`
}

type Kind string

const (
	KindEthernet Kind = "ethernet"
	KindBridge   Kind = "bridge"
)

type Mode string

const (
	ModeStatic Mode = "static"
	ModeDHCP   Mode = "dhcp"
)

// Interface is one declared interface. Name is filled from its key in the
// interfaces map.
type Interface struct {
	Name     string           `yaml:"-"`
	Type     Kind             `yaml:"type,omitempty"`
	Mode     Mode             `yaml:"mode"`
	Address  string           `yaml:"address,omitempty"`
	Netmask  *int             `yaml:"netmask,omitempty"`
	Gateway  string           `yaml:"gateway,omitempty"`
	Failover bool             `yaml:"failover,omitempty"`
	DHCP     DHCPServerConfig `yaml:"dhcp,omitempty"`
	Members  []string         `yaml:"interfaces,omitempty"`
	Depends  []string         `yaml:"depends,omitempty"`
	Services []string         `yaml:"services,omitempty"`
}

// DHCPServerConfig is the lease range served on an interface.
type DHCPServerConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Start   string `yaml:"start,omitempty"`
	End     string `yaml:"end,omitempty"`
	DNS     string `yaml:"dns,omitempty"`
	Netmask string `yaml:"netmask,omitempty"`
	Router  string `yaml:"router,omitempty"`
}

// HasStaticAddress reports whether both halves of a static address are set.
func (i *Interface) HasStaticAddress() bool {
	return i.Address != "" && i.Netmask != nil
}
