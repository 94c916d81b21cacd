package utils

import (
	"errors"
	"net"
	"net/url"
)

// ParseHttpUrl validates an http(s) URL and returns it without a
// trailing slash.
func ParseHttpUrl(urlstr string) (*url.URL, error) {
	uri, err := url.Parse(urlstr)
	if err != nil {
		return nil, err
	}

	switch uri.Scheme {
	case "http", "https":
	default:
		return nil, errors.New("Unsupported protocol: " + uri.Scheme)
	}

	if uri.Host == "" {
		return nil, errors.New("Missing host in URL: " + urlstr)
	}

	for len(uri.Path) > 0 && uri.Path[len(uri.Path)-1] == '/' {
		uri.Path = uri.Path[:len(uri.Path)-1]
	}

	return uri, nil
}

// ListenAddress derives the local listen address from the URL the
// machine advertises to the coordinator. Only the port is kept, the
// server binds to all interfaces. A missing port defaults to 80 or 443.
func ListenAddress(urlstr string) (string, error) {
	uri, err := ParseHttpUrl(urlstr)
	if err != nil {
		return "", err
	}

	port := uri.Port()
	if port == "" {
		port = "80"
		if uri.Scheme == "https" {
			port = "443"
		}
	}

	return net.JoinHostPort("", port), nil
}
