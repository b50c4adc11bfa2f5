package service

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"
)

// LocalAddr is one IPv4 address the control link can bind to.
type LocalAddr struct {
	Iface     string `json:"iface"`     // e.g. "eth0"
	Addr      string `json:"addr"`      // e.g. "192.168.1.10"
	Multicast bool   `json:"multicast"` // interface can join the telemetry group
	Loopback  bool   `json:"loopback"`
}

// LocalAddrListerOptions tunes a LocalAddrLister.
type LocalAddrListerOptions struct {
	TTL             time.Duration // cache lifetime, default 15s
	IncludeLoopback bool          // rover simulator on the same host
}

// LocalAddrLister lists the host's IPv4 addresses for the link's
// client_address field. Results are cached for TTL.
type LocalAddrLister struct {
	opts LocalAddrListerOptions

	mu      sync.RWMutex
	cache   []LocalAddr
	expires time.Time

	now        func() time.Time
	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

// NewLocalAddrLister creates a lister reading the live interface table.
func NewLocalAddrLister(opts LocalAddrListerOptions) *LocalAddrLister {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Second
	}
	return &LocalAddrLister{
		opts:       opts,
		now:        time.Now,
		interfaces: net.Interfaces,
		addrs:      func(ifc net.Interface) ([]net.Addr, error) { return ifc.Addrs() },
	}
}

// Invalidate drops the cache so the next call rereads the interfaces.
func (l *LocalAddrLister) Invalidate() {
	l.mu.Lock()
	l.cache, l.expires = nil, time.Time{}
	l.mu.Unlock()
}

// LocalAddrs returns the addresses sorted by interface then address.
func (l *LocalAddrLister) LocalAddrs(ctx context.Context) ([]LocalAddr, error) {
	l.mu.RLock()
	if l.cache != nil && l.now().Before(l.expires) {
		out := slices.Clone(l.cache)
		l.mu.RUnlock()
		return out, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cache != nil && l.now().Before(l.expires) {
		return slices.Clone(l.cache), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	list, err := l.read()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	l.cache = list
	l.expires = l.now().Add(l.opts.TTL)
	return slices.Clone(list), nil
}

func (l *LocalAddrLister) read() ([]LocalAddr, error) {
	ifaces, err := l.interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]LocalAddr, 0, len(ifaces))
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 {
			continue
		}
		loopback := ifc.Flags&net.FlagLoopback != 0
		if loopback && !l.opts.IncludeLoopback {
			continue
		}
		addrs, err := l.addrs(ifc)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ip := ipOf(a).To4()
			if ip == nil || ip.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, LocalAddr{
				Iface:     ifc.Name,
				Addr:      ip.String(),
				Multicast: ifc.Flags&net.FlagMulticast != 0,
				Loopback:  loopback,
			})
		}
	}

	slices.SortFunc(out, func(a, b LocalAddr) int {
		if c := strings.Compare(a.Iface, b.Iface); c != 0 {
			return c
		}
		return strings.Compare(a.Addr, b.Addr)
	})
	return out, nil
}

func ipOf(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	}
	return nil
}
