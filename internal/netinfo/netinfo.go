// Package netinfo finds the addresses other devices on the LAN can use to
// reach the server and renders them as QR codes.
package netinfo

import (
	"encoding/base64"
	"fmt"
	"net"
	"sort"
	"strconv"

	qrcode "github.com/skip2/go-qrcode"
)

// LANAddrs returns the IPv4 addresses of interfaces that are up and not
// loopback, sorted.
func LANAddrs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var out []net.IP
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		out = append(out, usable(addrs)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func usable(addrs []net.Addr) []net.IP {
	var out []net.IP
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		ip4 := ip.To4()
		if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
			continue
		}
		out = append(out, ip4)
	}
	return out
}

// URLs turns addrs into http URLs on port. When the server listens on a
// specific host, only that host is reported.
func URLs(listenAddr string, addrs []net.IP) ([]string, error) {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return nil, err
	}
	if host != "" && host != "0.0.0.0" && host != "::" {
		return []string{"http://" + net.JoinHostPort(host, port) + "/"}, nil
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, fmt.Errorf("invalid port %q", port)
	}
	out := make([]string, 0, len(addrs)+1)
	for _, ip := range addrs {
		out = append(out, "http://"+net.JoinHostPort(ip.String(), port)+"/")
	}
	if len(out) == 0 {
		out = append(out, "http://"+net.JoinHostPort("localhost", port)+"/")
	}
	return out, nil
}

// QRPNG encodes url as a size x size PNG.
func QRPNG(url string, size int) ([]byte, error) {
	return qrcode.Encode(url, qrcode.Medium, size)
}

// QRDataURL is QRPNG as a data: URL ready for an <img> src.
func QRDataURL(url string, size int) (string, error) {
	png, err := QRPNG(url, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// QRTerminal renders url with half-block characters for the startup banner.
func QRTerminal(url string) (string, error) {
	q, err := qrcode.New(url, qrcode.Low)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}
