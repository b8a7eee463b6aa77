//go:build linux

package netstate

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultSysNet = "/sys/class/net"
	defaultRoutes = "/proc/net/route"
)

// onWifi reports true if any interface holding a default route exposes the
// wireless extensions in sysfs.
func (p *Probe) onWifi() (bool, error) {
	ifaces, err := defaultRouteInterfaces(p.routes)
	if err != nil {
		return false, err
	}

	for _, iface := range ifaces {
		for _, marker := range []string{"wireless", "phy80211"} {
			if _, err := os.Stat(filepath.Join(p.sysNet, iface, marker)); err == nil {
				return true, nil
			}
		}
	}

	return false, nil
}

// defaultRouteInterfaces parses the kernel routing table and returns the
// interfaces whose destination is 0.0.0.0.
func defaultRouteInterfaces(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("netstate: reading routes: %w", err)
	}
	defer f.Close()

	var ifaces []string

	sc := bufio.NewScanner(f)
	sc.Scan() // header

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}

		if fields[1] == "00000000" {
			ifaces = append(ifaces, fields[0])
		}
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("netstate: reading routes: %w", err)
	}

	if len(ifaces) == 0 {
		return nil, errNoDefaultRoute
	}

	return ifaces, nil
}

var errNoDefaultRoute = errors.New("netstate: no default route")
