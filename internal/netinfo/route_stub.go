//go:build !linux

package netinfo

import (
	"errors"
	"net"
)

func lookupRoute(net.IP) (routeInfo, error) {
	return routeInfo{}, errors.New("route lookup is only supported on linux")
}
