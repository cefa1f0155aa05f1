// Package linktest provides an in-memory link.Controller for tests.
package linktest

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/veesix-networks/linkd/pkg/link"
)

type Link struct {
	Name        string
	Kind        string
	Up          bool
	Addresses   []string
	Description string
	MAC         net.HardwareAddr
	Gateway     net.IP
	Master      string
}

// Controller keeps links in a name-keyed map and records every mutating
// call as "op name [arg]".
type Controller struct {
	mu     sync.RWMutex
	byName map[string]*Link
	calls  []string
	fail   map[string]error
}

var _ link.Controller = (*Controller)(nil)

func New() *Controller {
	return &Controller{
		byName: make(map[string]*Link),
		fail:   make(map[string]error),
	}
}

// Add registers an existing link. A missing MAC gets a stable locally
// administered one.
func (c *Controller) Add(l *Link) *Link {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l.Kind == "" {
		l.Kind = "ethernet"
	}
	if l.MAC == nil {
		l.MAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, byte(len(c.byName) + 1)}
	}
	c.byName[l.Name] = l
	return l
}

// Fail makes the next calls of op on name return err, e.g. Fail("up", "eth0", err).
func (c *Controller) Fail(op, name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[op+" "+name] = err
}

func (c *Controller) Get(name string) (Link, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	l, ok := c.byName[name]
	if !ok {
		return Link{}, false
	}
	cp := *l
	cp.Addresses = append([]string(nil), l.Addresses...)
	return cp, true
}

func (c *Controller) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	return names
}

func (c *Controller) Calls() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.calls...)
}

// CallsFor returns the recorded calls that touched name.
func (c *Controller) CallsFor(name string) []string {
	var out []string
	for _, call := range c.Calls() {
		fields := strings.Fields(call)
		if len(fields) > 1 && fields[1] == name {
			out = append(out, call)
		}
	}
	return out
}

func (c *Controller) record(op, name string, args ...string) error {
	call := op + " " + name
	if len(args) > 0 {
		call += " " + strings.Join(args, " ")
	}
	c.calls = append(c.calls, call)
	if err, ok := c.fail[op+" "+name]; ok {
		return err
	}
	return nil
}

func (c *Controller) lookup(name string) (*Link, error) {
	l, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("interface %q: %w", name, link.ErrNotFound)
	}
	return l, nil
}

func (c *Controller) Exists(ctx context.Context, name string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byName[name]
	return ok, nil
}

func (c *Controller) CreateBridge(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.record("create", name); err != nil {
		return err
	}
	if _, ok := c.byName[name]; ok {
		return fmt.Errorf("create bridge %q: file exists", name)
	}
	c.byName[name] = &Link{
		Name: name,
		Kind: "bridge",
		MAC:  net.HardwareAddr{0x02, 0xbb, 0x00, 0x00, 0x00, byte(len(c.byName) + 1)},
	}
	return nil
}

func (c *Controller) Rename(ctx context.Context, name, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.record("rename", name, newName); err != nil {
		return err
	}
	l, err := c.lookup(name)
	if err != nil {
		return err
	}
	if _, taken := c.byName[newName]; taken {
		return fmt.Errorf("rename %q to %q: file exists", name, newName)
	}
	delete(c.byName, name)
	l.Name = newName
	c.byName[newName] = l
	return nil
}

func (c *Controller) SetUp(ctx context.Context, name string) error {
	return c.mutate("up", name, func(l *Link) { l.Up = true })
}

func (c *Controller) SetDown(ctx context.Context, name string) error {
	return c.mutate("down", name, func(l *Link) { l.Up = false })
}

func (c *Controller) IsUp(ctx context.Context, name string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, err := c.lookup(name)
	if err != nil {
		return false, err
	}
	return l.Up, nil
}

// AddAddress fails with EEXIST when the link already carries cidr, as the
// kernel does.
func (c *Controller) AddAddress(ctx context.Context, name, cidr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.record("addr-add", name, cidr); err != nil {
		return err
	}
	l, err := c.lookup(name)
	if err != nil {
		return err
	}
	if slices.Contains(l.Addresses, cidr) {
		return fmt.Errorf("add address %s to %q: %w", cidr, name, unix.EEXIST)
	}
	l.Addresses = append(l.Addresses, cidr)
	return nil
}

func (c *Controller) FlushAddresses(ctx context.Context, name string) error {
	return c.mutate("addr-flush", name, func(l *Link) { l.Addresses = nil })
}

func (c *Controller) Description(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, err := c.lookup(name)
	if err != nil {
		return "", err
	}
	return l.Description, nil
}

func (c *Controller) SetDescription(ctx context.Context, name, description string) error {
	return c.mutate("alias", name, func(l *Link) { l.Description = description }, description)
}

func (c *Controller) HardwareAddr(ctx context.Context, name string) (net.HardwareAddr, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	return l.MAC, nil
}

func (c *Controller) Gateway(ctx context.Context, name string) (net.IP, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	if l.Gateway == nil {
		return nil, fmt.Errorf("interface %q: %w", name, link.ErrNoGateway)
	}
	return l.Gateway, nil
}

func (c *Controller) AddDefaultRoute(ctx context.Context, name string, gateway net.IP) error {
	return c.mutate("route-add", name, func(l *Link) { l.Gateway = gateway }, gateway.String())
}

func (c *Controller) SetMaster(ctx context.Context, name, master string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.record("master", name, master); err != nil {
		return err
	}
	l, err := c.lookup(name)
	if err != nil {
		return err
	}
	if _, err := c.lookup(master); err != nil {
		return err
	}
	l.Master = master
	return nil
}

func (c *Controller) ClearMaster(ctx context.Context, name string) error {
	return c.mutate("nomaster", name, func(l *Link) { l.Master = "" })
}

func (c *Controller) Delete(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.record("delete", name); err != nil {
		return err
	}
	if _, err := c.lookup(name); err != nil {
		return err
	}
	delete(c.byName, name)
	for _, l := range c.byName {
		if l.Master == name {
			l.Master = ""
		}
	}
	return nil
}

func (c *Controller) mutate(op, name string, fn func(l *Link), args ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.record(op, name, args...); err != nil {
		return err
	}
	l, err := c.lookup(name)
	if err != nil {
		return err
	}
	fn(l)
	return nil
}
