// Package util provides utility functions for the gateway. It includes
// helper functions for proxy configuration, HTTP client setup, sensitive
// value redaction, and per-path file locking used across the application.
package util

import (
	"context"
	"net"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// SetProxy configures the provided HTTP client with the given proxy URL.
// It supports SOCKS5, HTTP, and HTTPS proxies. An empty or unparseable
// proxy URL leaves the client untouched. Credential configs may override
// the global proxy with a per-credential URL, so the caller passes the
// already-resolved value.
func SetProxy(proxyURLStr string, httpClient *http.Client) *http.Client {
	if proxyURLStr == "" {
		return httpClient
	}
	var transport *http.Transport
	proxyURL, errParse := url.Parse(proxyURLStr)
	if errParse == nil {
		if proxyURL.Scheme == "socks5" {
			username := proxyURL.User.Username()
			password, _ := proxyURL.User.Password()
			proxyAuth := &proxy.Auth{User: username, Password: password}
			dialer, errSOCKS5 := proxy.SOCKS5("tcp", proxyURL.Host, proxyAuth, proxy.Direct)
			if errSOCKS5 != nil {
				log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
				return httpClient
			}
			transport = &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				},
			}
		} else if proxyURL.Scheme == "http" || proxyURL.Scheme == "https" {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}
	if transport != nil {
		httpClient.Transport = transport
	}
	return httpClient
}
