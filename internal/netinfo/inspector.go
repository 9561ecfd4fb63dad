// Package netinfo annotates a speed-test endpoint with resolution, routing
// and geolocation details, and offers lightweight reachability checks.
package netinfo

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/NodePath81/fbspeed/internal/util"
)

// Inspector implements engine.Inspector. Route and GeoIP lookups are
// optional and never fail an inspection on their own.
type Inspector struct {
	host        string
	resolver    *net.Resolver
	routeLookup bool
	geo         *GeoIP
	logger      util.Logger
}

var _ engine.Inspector = (*Inspector)(nil)

type InspectorOptions struct {
	Host        string
	RouteLookup bool
	// GeoIP may be nil.
	GeoIP  *GeoIP
	Logger util.Logger
}

func NewInspector(opts InspectorOptions) *Inspector {
	logger := opts.Logger
	if logger == nil {
		logger = util.NopLogger()
	}
	return &Inspector{
		host:        opts.Host,
		resolver:    net.DefaultResolver,
		routeLookup: opts.RouteLookup,
		geo:         opts.GeoIP,
		logger:      logger,
	}
}

func (i *Inspector) Inspect(ctx context.Context) (engine.EndpointInfo, error) {
	info := engine.EndpointInfo{Host: i.host}
	if i.host == "" {
		return info, errors.New("endpoint host is empty")
	}
	ip, err := i.resolve(ctx)
	if err != nil {
		return info, err
	}
	info.IP = ip.String()

	if i.routeLookup {
		route, err := lookupRoute(ip)
		if err != nil {
			i.logger.Debug("route lookup failed", "ip", info.IP, "error", err)
		} else {
			info.Interface = route.iface
			info.Source = ipString(route.src)
			info.Gateway = ipString(route.gateway)
		}
	}

	if i.geo != nil {
		rec, err := i.geo.Lookup(ip)
		if err != nil {
			i.logger.Debug("geoip lookup failed", "ip", info.IP, "error", err)
		} else {
			info.Country = rec.Country
			info.City = rec.City
			info.ASN = rec.ASN
			info.ASOrg = rec.ASOrg
		}
	}
	return info, nil
}

// resolve prefers an IPv4 address, matching what the dialer tries first.
func (i *Inspector) resolve(ctx context.Context) (net.IP, error) {
	if ip := net.ParseIP(i.host); ip != nil {
		return ip, nil
	}
	addrs, err := i.resolver.LookupIPAddr(ctx, i.host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", i.host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", i.host)
	}
	for _, addr := range addrs {
		if addr.IP.To4() != nil {
			return addr.IP, nil
		}
	}
	return addrs[0].IP, nil
}

type routeInfo struct {
	iface   string
	src     net.IP
	gateway net.IP
}

func ipString(ip net.IP) string {
	if len(ip) == 0 {
		return ""
	}
	return ip.String()
}
