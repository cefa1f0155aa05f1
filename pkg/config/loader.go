package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"inet.af/netaddr"
)

const defaultProbeTimeout = 30 * time.Second

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Daemon.Socket == "" {
		c.Daemon.Socket = DefaultSocket
	}
	if c.Daemon.HooksDir == "" {
		c.Daemon.HooksDir = DefaultHooksDir
	}
	if c.Daemon.LeaseDir == "" {
		c.Daemon.LeaseDir = DefaultLeaseDir
	}
	if c.Daemon.ServiceManager == "" {
		c.Daemon.ServiceManager = DefaultServiceManager
	}
	if c.Daemon.DHCPClient == "" {
		c.Daemon.DHCPClient = DefaultDHCPClient
	}
	if c.Daemon.DHCPServer == "" {
		c.Daemon.DHCPServer = DefaultDHCPServer
	}
	if c.Daemon.ProbeTimeout == 0 {
		c.Daemon.ProbeTimeout = defaultProbeTimeout
	}
	if c.DHCP.DefaultLeaseTime == 0 {
		c.DHCP.DefaultLeaseTime = DefaultLeaseTime
	}
	if c.DHCP.MaxLeaseTime == 0 {
		c.DHCP.MaxLeaseTime = DefaultMaxLeaseTime
	}
	if c.Renames == nil {
		c.Renames = make(map[string]string)
	}
	if c.Interfaces == nil {
		c.Interfaces = make(map[string]*Interface)
	}

	for name, iface := range c.Interfaces {
		if iface == nil {
			iface = &Interface{}
			c.Interfaces[name] = iface
		}
		iface.Name = name
		if iface.Type == "" {
			iface.Type = KindEthernet
		}
	}
}

// Validate checks the structure of the configuration. The static address
// rule is checked at configure time, where it is fatal for the
// interface being configured.
func (c *Config) Validate() error {
	if c.DHCP.MaxLeaseTime < c.DHCP.DefaultLeaseTime {
		return fmt.Errorf("dhcp.max_lease_time %d is lower than dhcp.default_lease_time %d",
			c.DHCP.MaxLeaseTime, c.DHCP.DefaultLeaseTime)
	}

	targets := make(map[string]string, len(c.Renames))
	for from, to := range c.Renames {
		if to == "" {
			return fmt.Errorf("renames.%s: empty target name", from)
		}
		if prev, ok := targets[to]; ok {
			return fmt.Errorf("renames: %s and %s both rename to %s", prev, from, to)
		}
		targets[to] = from
	}
	if cycle := c.renameCycle(); cycle != nil {
		return fmt.Errorf("renames: cycle %s", strings.Join(cycle, " -> "))
	}

	for _, name := range c.InterfaceNames() {
		iface := c.Interfaces[name]

		switch iface.Type {
		case KindEthernet:
			if len(iface.Members) > 0 {
				return fmt.Errorf("interfaces.%s: only bridges have member interfaces", name)
			}
		case KindBridge:
			// Members may be empty; hooks can enslave ports themselves.
		default:
			return fmt.Errorf("interfaces.%s: unknown type %q", name, iface.Type)
		}

		switch iface.Mode {
		case ModeStatic, ModeDHCP:
		default:
			return fmt.Errorf("interfaces.%s: unknown mode %q", name, iface.Mode)
		}

		if iface.Netmask != nil && (*iface.Netmask < 0 || *iface.Netmask > 32) {
			return fmt.Errorf("interfaces.%s: netmask %d out of range", name, *iface.Netmask)
		}

		if iface.DHCP.Enabled {
			if err := iface.DHCP.validate(); err != nil {
				return fmt.Errorf("interfaces.%s.dhcp: %w", name, err)
			}
		}

		for _, dep := range iface.Depends {
			if dep == name {
				return fmt.Errorf("interfaces.%s: depends on itself", name)
			}
		}
	}

	if cycle := c.dependencyCycle(); cycle != nil {
		return fmt.Errorf("dependency cycle: %v", cycle)
	}

	return nil
}

func (d *DHCPServerConfig) validate() error {
	start, err := netaddr.ParseIP(d.Start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := netaddr.ParseIP(d.End)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}

	r := netaddr.IPRangeFrom(start, end)
	if !r.IsValid() {
		return fmt.Errorf("invalid lease range %s-%s", d.Start, d.End)
	}

	if d.Router != "" {
		if _, err := netaddr.ParseIP(d.Router); err != nil {
			return fmt.Errorf("router: %w", err)
		}
	}
	if d.DNS != "" {
		if _, err := netaddr.ParseIP(d.DNS); err != nil {
			return fmt.Errorf("dns: %w", err)
		}
	}
	if d.Netmask == "" {
		return errors.New("netmask is required")
	}
	if _, err := netaddr.ParseIP(d.Netmask); err != nil {
		return fmt.Errorf("netmask: %w", err)
	}

	return nil
}

// dependencyCycle returns the interfaces forming a cycle among declared
// dependencies, or nil. Dependencies on undeclared interfaces are allowed;
// they are satisfied by whatever configures them outside this daemon.
func (c *Config) dependencyCycle() []string {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int, len(c.Interfaces))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case visiting:
			for i, n := range stack {
				if n == name {
					cycle = append(append([]string{}, stack[i:]...), name)
					break
				}
			}
			return true
		case done:
			return false
		}

		state[name] = visiting
		stack = append(stack, name)
		for _, dep := range c.Interfaces[name].Depends {
			if _, declared := c.Interfaces[dep]; !declared {
				continue
			}
			if visit(dep) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}

	for _, name := range c.InterfaceNames() {
		if visit(name) {
			return cycle
		}
	}
	return nil
}

// InterfaceNames returns the declared interface names in a stable order.
func (c *Config) InterfaceNames() []string {
	names := make([]string, 0, len(c.Interfaces))
	for name := range c.Interfaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type RenamePair struct {
	From string
	To   string
}

// RenamePairs returns the rename map in the order it must be applied: a
// pair whose target is another pair's source comes after that pair, so a
// chain like eth0->eth1, eth1->eth2 frees eth1 before it is reused. Pairs
// at the same depth are ordered by original name. Reversing the slice gives
// the order that restores the original names.
func (c *Config) RenamePairs() []RenamePair {
	depth := make(map[string]int, len(c.Renames))
	pairs := make([]RenamePair, 0, len(c.Renames))
	for from, to := range c.Renames {
		pairs = append(pairs, RenamePair{From: from, To: to})
		depth[from] = c.renameDepth(from)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if depth[pairs[i].From] != depth[pairs[j].From] {
			return depth[pairs[i].From] < depth[pairs[j].From]
		}
		return pairs[i].From < pairs[j].From
	})
	return pairs
}

// renameDepth counts how many renames must run before from can take its
// target name. The walk is bounded so a cycle cannot loop forever.
func (c *Config) renameDepth(from string) int {
	n := 0
	for next := c.Renames[from]; n < len(c.Renames); n++ {
		if _, ok := c.Renames[next]; !ok {
			break
		}
		next = c.Renames[next]
	}
	return n
}

// renameCycle returns the names forming a rename cycle, or nil.
func (c *Config) renameCycle() []string {
	froms := make([]string, 0, len(c.Renames))
	for from := range c.Renames {
		froms = append(froms, from)
	}
	sort.Strings(froms)

	for _, start := range froms {
		chain := []string{start}
		next := c.Renames[start]
		for i := 0; i < len(c.Renames); i++ {
			chain = append(chain, next)
			if next == start {
				return chain
			}
			to, ok := c.Renames[next]
			if !ok {
				break
			}
			next = to
		}
	}
	return nil
}
