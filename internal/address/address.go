package address

import (
	"net"
	"strconv"
)

// Address is a host:port network address.
type Address string

func Newf(host string, port int) Address {
	return Address(net.JoinHostPort(host, strconv.Itoa(port)))
}

func (a Address) String() string { return string(a) }

// Host returns the host portion of the address, or the full address if it has no port.
func (a Address) Host() string {
	host, _, err := net.SplitHostPort(string(a))
	if err != nil {
		return string(a)
	}
	return host
}

// Port returns the port portion of the address, or an empty string if it has none.
func (a Address) Port() string {
	_, port, err := net.SplitHostPort(string(a))
	if err != nil {
		return ""
	}
	return port
}

// PortString returns the address in the ":port" form accepted by net.Listen.
func (a Address) PortString() string { return ":" + a.Port() }
