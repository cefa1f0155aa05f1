// Package link controls OS network interfaces.
//
// Nothing here caches interface state. Every query goes back to the kernel,
// because concurrent configuration tasks mutate interfaces underneath each
// other and poll each other's description tags.
package link

import (
	"context"
	"errors"
	"net"
)

// Description tags. The interface alias doubles as a status register that
// other tasks, and operators, can read.
const (
	StateNone            = ""
	StateConfiguring     = "CONFIGURING"
	StateConfigured      = "CONFIGURED"
	StateFailoverProbing = "FAILOVER_PROBING"
	StateFailoverWaiting = "FAILOVER_WAITING"
)

const Loopback = "lo"

var (
	ErrNotFound  = errors.New("link not found")
	ErrNoGateway = errors.New("no default gateway")
)

// Controller is the set of link primitives the configurators use. Every
// call either succeeds or returns an error; callers decide what is fatal.
type Controller interface {
	Exists(ctx context.Context, name string) (bool, error)
	CreateBridge(ctx context.Context, name string) error
	Rename(ctx context.Context, name, newName string) error
	SetUp(ctx context.Context, name string) error
	SetDown(ctx context.Context, name string) error
	IsUp(ctx context.Context, name string) (bool, error)

	// AddAddress adds an address in CIDR notation, e.g. "10.0.0.1/24".
	AddAddress(ctx context.Context, name, cidr string) error
	FlushAddresses(ctx context.Context, name string) error

	Description(ctx context.Context, name string) (string, error)
	SetDescription(ctx context.Context, name, description string) error

	HardwareAddr(ctx context.Context, name string) (net.HardwareAddr, error)

	// Gateway returns the next hop of the link's IPv4 default route, or
	// ErrNoGateway.
	Gateway(ctx context.Context, name string) (net.IP, error)
	AddDefaultRoute(ctx context.Context, name string, gateway net.IP) error

	SetMaster(ctx context.Context, name, master string) error
	ClearMaster(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
}

// Interface is a handle on one link, identified only by its current name.
type Interface struct {
	name string
	ctl  Controller
}

func New(ctl Controller, name string) *Interface {
	return &Interface{name: name, ctl: ctl}
}

func (i *Interface) Name() string {
	return i.name
}

func (i *Interface) Exists(ctx context.Context) (bool, error) {
	return i.ctl.Exists(ctx, i.name)
}

// Rename renames the link and re-points the handle at the new name.
func (i *Interface) Rename(ctx context.Context, newName string) error {
	if err := i.ctl.Rename(ctx, i.name, newName); err != nil {
		return err
	}
	i.name = newName
	return nil
}

func (i *Interface) Up(ctx context.Context) error {
	return i.ctl.SetUp(ctx, i.name)
}

func (i *Interface) Down(ctx context.Context) error {
	return i.ctl.SetDown(ctx, i.name)
}

func (i *Interface) IsUp(ctx context.Context) (bool, error) {
	return i.ctl.IsUp(ctx, i.name)
}

func (i *Interface) AddAddress(ctx context.Context, cidr string) error {
	return i.ctl.AddAddress(ctx, i.name, cidr)
}

func (i *Interface) FlushAddresses(ctx context.Context) error {
	return i.ctl.FlushAddresses(ctx, i.name)
}

func (i *Interface) Description(ctx context.Context) (string, error) {
	return i.ctl.Description(ctx, i.name)
}

func (i *Interface) SetDescription(ctx context.Context, description string) error {
	return i.ctl.SetDescription(ctx, i.name, description)
}

func (i *Interface) HardwareAddr(ctx context.Context) (net.HardwareAddr, error) {
	return i.ctl.HardwareAddr(ctx, i.name)
}

func (i *Interface) Gateway(ctx context.Context) (net.IP, error) {
	return i.ctl.Gateway(ctx, i.name)
}

func (i *Interface) AddDefaultRoute(ctx context.Context, gateway net.IP) error {
	return i.ctl.AddDefaultRoute(ctx, i.name, gateway)
}

func (i *Interface) SetMaster(ctx context.Context, master string) error {
	return i.ctl.SetMaster(ctx, i.name, master)
}

func (i *Interface) ClearMaster(ctx context.Context) error {
	return i.ctl.ClearMaster(ctx, i.name)
}

func (i *Interface) Delete(ctx context.Context) error {
	return i.ctl.Delete(ctx, i.name)
}
