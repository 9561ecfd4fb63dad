//go:build linux

package netinfo

import (
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

func lookupRoute(ip net.IP) (routeInfo, error) {
	routes, err := netlink.RouteGet(ip)
	if err != nil {
		return routeInfo{}, fmt.Errorf("route get %s: %w", ip, err)
	}
	if len(routes) == 0 {
		return routeInfo{}, errors.New("no route")
	}
	route := routes[0]
	info := routeInfo{src: route.Src, gateway: route.Gw}
	if route.LinkIndex > 0 {
		link, err := netlink.LinkByIndex(route.LinkIndex)
		if err != nil {
			return info, fmt.Errorf("link %d: %w", route.LinkIndex, err)
		}
		info.iface = link.Attrs().Name
	}
	return info, nil
}
