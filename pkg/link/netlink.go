package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"

	"github.com/veesix-networks/linkd/pkg/logger"
)

// Netlink is the kernel-backed Controller.
type Netlink struct {
	h      *netlink.Handle
	ns     netns.NsHandle
	logger *slog.Logger
}

// NewNetlink opens a netlink handle in the named network namespace, or in
// the daemon's own namespace when nsName is empty.
func NewNetlink(nsName string) (*Netlink, error) {
	log := logger.Get(logger.Link)

	if nsName == "" {
		h, err := netlink.NewHandle()
		if err != nil {
			return nil, fmt.Errorf("create netlink handle: %w", err)
		}
		return &Netlink{h: h, ns: netns.None(), logger: log}, nil
	}

	nsHandle, err := netns.GetFromName(nsName)
	if err != nil {
		return nil, fmt.Errorf("get netns %q: %w", nsName, err)
	}

	h, err := netlink.NewHandleAt(nsHandle)
	if err != nil {
		nsHandle.Close()
		return nil, fmt.Errorf("create netlink handle for netns %q: %w", nsName, err)
	}

	log.Info("Managing links in network namespace", "netns", nsName)
	return &Netlink{h: h, ns: nsHandle, logger: log}, nil
}

func (n *Netlink) Close() error {
	n.h.Close()
	if n.ns.IsOpen() {
		return n.ns.Close()
	}
	return nil
}

func (n *Netlink) findLink(name string) (netlink.Link, error) {
	l, err := n.h.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("interface %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("interface %q: %w", name, err)
	}
	return l, nil
}

func (n *Netlink) Exists(ctx context.Context, name string) (bool, error) {
	_, err := n.findLink(name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (n *Netlink) CreateBridge(ctx context.Context, name string) error {
	br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: name}}
	if err := n.h.LinkAdd(br); err != nil {
		return fmt.Errorf("create bridge %q: %w", name, err)
	}
	n.logger.Info("Created bridge", "interface", name)
	return nil
}

func (n *Netlink) Rename(ctx context.Context, name, newName string) error {
	l, err := n.findLink(name)
	if err != nil {
		return err
	}
	if err := n.h.LinkSetName(l, newName); err != nil {
		return fmt.Errorf("rename %q to %q: %w", name, newName, err)
	}
	n.logger.Info("Renamed interface", "old_name", name, "new_name", newName)
	return nil
}

func (n *Netlink) SetUp(ctx context.Context, name string) error {
	l, err := n.findLink(name)
	if err != nil {
		return err
	}
	if err := n.h.LinkSetUp(l); err != nil {
		return fmt.Errorf("set %q up: %w", name, err)
	}
	return nil
}

func (n *Netlink) SetDown(ctx context.Context, name string) error {
	l, err := n.findLink(name)
	if err != nil {
		return err
	}
	if err := n.h.LinkSetDown(l); err != nil {
		return fmt.Errorf("set %q down: %w", name, err)
	}
	return nil
}

func (n *Netlink) IsUp(ctx context.Context, name string) (bool, error) {
	l, err := n.findLink(name)
	if err != nil {
		return false, err
	}
	return l.Attrs().Flags&net.FlagUp != 0, nil
}

func (n *Netlink) AddAddress(ctx context.Context, name, cidr string) error {
	l, err := n.findLink(name)
	if err != nil {
		return err
	}

	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("parse address %s: %w", cidr, err)
	}

	// An address that is already present fails like any other link
	// command; Teardown flushes addresses so a reset never leaves one behind.
	if err := n.h.AddrAdd(l, addr); err != nil {
		return fmt.Errorf("add address %s to %q: %w", cidr, name, err)
	}

	n.logger.Info("Added address", "interface", name, "address", cidr)
	return nil
}

func (n *Netlink) FlushAddresses(ctx context.Context, name string) error {
	l, err := n.findLink(name)
	if err != nil {
		return err
	}

	addrs, err := n.h.AddrList(l, netlink.FAMILY_ALL)
	if err != nil {
		return fmt.Errorf("list addresses of %q: %w", name, err)
	}

	for i := range addrs {
		if err := n.h.AddrDel(l, &addrs[i]); err != nil && !errors.Is(err, unix.EADDRNOTAVAIL) {
			return fmt.Errorf("delete address %s from %q: %w", addrs[i].IPNet, name, err)
		}
	}

	n.logger.Debug("Flushed addresses", "interface", name, "count", len(addrs))
	return nil
}

func (n *Netlink) Description(ctx context.Context, name string) (string, error) {
	l, err := n.findLink(name)
	if err != nil {
		return "", err
	}
	return l.Attrs().Alias, nil
}

func (n *Netlink) SetDescription(ctx context.Context, name, description string) error {
	l, err := n.findLink(name)
	if err != nil {
		return err
	}
	if err := n.h.LinkSetAlias(l, description); err != nil {
		return fmt.Errorf("set alias of %q: %w", name, err)
	}
	n.logger.Debug("Set description", "interface", name, "description", description)
	return nil
}

func (n *Netlink) HardwareAddr(ctx context.Context, name string) (net.HardwareAddr, error) {
	l, err := n.findLink(name)
	if err != nil {
		return nil, err
	}
	mac := l.Attrs().HardwareAddr
	if len(mac) != 6 {
		return nil, fmt.Errorf("interface %q has no ethernet address", name)
	}
	return mac, nil
}

func (n *Netlink) Gateway(ctx context.Context, name string) (net.IP, error) {
	l, err := n.findLink(name)
	if err != nil {
		return nil, err
	}

	routes, err := n.h.RouteList(l, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list routes of %q: %w", name, err)
	}

	for _, r := range routes {
		if r.Gw != nil && isDefaultRoute(r.Dst) {
			return r.Gw, nil
		}
	}
	return nil, fmt.Errorf("interface %q: %w", name, ErrNoGateway)
}

func isDefaultRoute(dst *net.IPNet) bool {
	if dst == nil {
		return true
	}
	ones, _ := dst.Mask.Size()
	return ones == 0 && dst.IP.IsUnspecified()
}

func (n *Netlink) AddDefaultRoute(ctx context.Context, name string, gateway net.IP) error {
	l, err := n.findLink(name)
	if err != nil {
		return err
	}

	route := &netlink.Route{
		LinkIndex: l.Attrs().Index,
		Gw:        gateway,
	}
	if err := n.h.RouteAdd(route); err != nil {
		return fmt.Errorf("add default route via %s on %q: %w", gateway, name, err)
	}

	n.logger.Info("Added default route", "interface", name, "gateway", gateway.String())
	return nil
}

func (n *Netlink) SetMaster(ctx context.Context, name, master string) error {
	l, err := n.findLink(name)
	if err != nil {
		return err
	}
	m, err := n.findLink(master)
	if err != nil {
		return err
	}
	if err := n.h.LinkSetMaster(l, m); err != nil {
		return fmt.Errorf("attach %q to %q: %w", name, master, err)
	}
	n.logger.Info("Attached interface to bridge", "interface", name, "bridge", master)
	return nil
}

func (n *Netlink) ClearMaster(ctx context.Context, name string) error {
	l, err := n.findLink(name)
	if err != nil {
		return err
	}
	if err := n.h.LinkSetNoMaster(l); err != nil {
		return fmt.Errorf("detach %q: %w", name, err)
	}
	return nil
}

func (n *Netlink) Delete(ctx context.Context, name string) error {
	l, err := n.findLink(name)
	if err != nil {
		return err
	}
	if err := n.h.LinkDel(l); err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	n.logger.Info("Deleted interface", "interface", name)
	return nil
}
