// Package discovery implements the mDNS/DNS-SD collaborator spec.md §1
// treats as external: browsing for AirPlay 2 and legacy RAOP receivers and
// turning their service records into device.Device values. The core never
// performs discovery itself beyond this thin boundary (spec.md §1).
package discovery

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brutella/dnssd"

	"github.com/airtap-go/airplay2/internal/apperr"
	"github.com/airtap-go/airplay2/internal/device"
)

// Service names this package browses, per the AirPlay mDNS convention.
const (
	ServiceAirPlay = "_airplay._tcp"
	ServiceRAOP    = "_raop._tcp"
)

// Discoverer scans the local network for AirPlay-capable devices. The
// core's session/control layers depend on this narrow interface so tests
// can substitute a fixed device list (spec.md §6 "scan(timeout)").
type Discoverer interface {
	Scan(ctx context.Context, timeout time.Duration) ([]device.Device, error)
}

// DNSSDDiscoverer is the default Discoverer, browsing both the AirPlay 2
// and legacy RAOP service types with github.com/brutella/dnssd (grounded
// on doismellburning-samoyed's DNS-SD usage of the same library, there for
// publishing rather than browsing).
type DNSSDDiscoverer struct{}

// NewDNSSDDiscoverer constructs the default mDNS-backed Discoverer.
func NewDNSSDDiscoverer() *DNSSDDiscoverer {
	return &DNSSDDiscoverer{}
}

// Scan browses both service types for up to timeout and merges entries
// that share an address into one Device record (an AirPlay 2 receiver
// commonly advertises both _airplay._tcp and _raop._tcp).
func (d *DNSSDDiscoverer) Scan(ctx context.Context, timeout time.Duration) ([]device.Device, error) {
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	byAddr := make(map[string]*device.Device)

	mergeEntry := func(e dnssd.BrowseEntry, service string) {
		mu.Lock()
		defer mu.Unlock()

		addr := primaryAddress(e)
		if addr == "" {
			return
		}
		dev, ok := byAddr[addr]
		if !ok {
			dev = &device.Device{ID: deviceID(e), Name: e.Name, Addresses: addressStrings(e)}
			byAddr[addr] = dev
		}

		caps, txt := device.FromTXTRecords(textRecordStrings(e.Text))
		dev.Capabilities |= caps
		if dev.TXTRecords == nil {
			dev.TXTRecords = txt
		} else {
			for k, v := range txt {
				dev.TXTRecords[k] = v
			}
		}

		switch service {
		case ServiceAirPlay:
			dev.Port = e.Port
		case ServiceRAOP:
			dev.RAOPPort = e.Port
		}
	}

	var wg sync.WaitGroup
	for _, svc := range []string{ServiceAirPlay, ServiceRAOP} {
		svc := svc
		wg.Add(1)
		go func() {
			defer wg.Done()
			add := func(e dnssd.BrowseEntry) { mergeEntry(e, svc) }
			rmv := func(e dnssd.BrowseEntry) {}
			// LookupType blocks until scanCtx is done; its context-deadline
			// return is the expected way a bounded scan ends, not a failure.
			_ = dnssd.LookupType(scanCtx, svc, add, rmv)
		}()
	}
	wg.Wait()

	if scanCtx.Err() != nil && ctx.Err() != nil {
		return nil, apperr.Wrap(apperr.KindDiscoveryFailed, "discovery canceled", false, ctx.Err())
	}

	mu.Lock()
	defer mu.Unlock()
	devices := make([]device.Device, 0, len(byAddr))
	for _, dev := range byAddr {
		devices = append(devices, *dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

func primaryAddress(e dnssd.BrowseEntry) string {
	for _, ip := range e.IPs {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	for _, ip := range e.IPs {
		return ip.String()
	}
	return ""
}

func addressStrings(e dnssd.BrowseEntry) []string {
	out := make([]string, 0, len(e.IPs))
	for _, ip := range e.IPs {
		out = append(out, ip.String())
	}
	return out
}

func deviceID(e dnssd.BrowseEntry) string {
	if id, ok := e.Text["deviceid"]; ok && id != "" {
		return id
	}
	return strings.TrimSuffix(e.Name, "."+e.Type+"."+e.Domain)
}

func textRecordStrings(text map[string]string) []string {
	out := make([]string, 0, len(text))
	for k, v := range text {
		out = append(out, k+"="+v)
	}
	return out
}

// FormatAddr joins an address and port for dialing, handling IPv6
// literals the same way net.JoinHostPort does.
func FormatAddr(address string, port int) string {
	return net.JoinHostPort(address, strconv.Itoa(port))
}
