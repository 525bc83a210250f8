package mcpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

const maxImageSize = 10 << 20 // 10 MB

var imageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// imageLoader resolves an image reference into raw bytes.
type imageLoader struct {
	client *http.Client
	// allowIP is consulted for every resolved address and again on every
	// dial, redirects included.
	allowIP func(ip net.IP) error
}

func newImageLoader() *imageLoader {
	l := &imageLoader{allowIP: checkBlockedIP}
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return fmt.Errorf("blocked host: %w", err)
			}
			ip := net.ParseIP(host)
			if ip == nil {
				return fmt.Errorf("blocked host: unresolved address %s", address)
			}
			return l.allowIP(ip)
		},
	}
	l.client = &http.Client{
		Timeout: 30 * time.Second,
		// No proxy: the dial guard must see the real destination.
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        4,
			IdleConnTimeout:     30 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects (max 5)")
			}
			return l.checkHost(req.Context(), req.URL.Hostname())
		},
	}
	return l
}

func (l *imageLoader) load(ctx context.Context, ref string) ([]byte, error) {
	var data []byte
	var err error
	if strings.HasPrefix(ref, "data:") {
		data, err = decodeDataURI(ref)
	} else {
		data, err = l.fetch(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("image too large: %d bytes (max %d)", len(data), maxImageSize)
	}
	if detected := strings.Split(http.DetectContentType(data), ";")[0]; !imageTypes[detected] {
		return nil, fmt.Errorf("unsupported image content: %s", detected)
	}
	return data, nil
}

// decodeDataURI parses a data:image/<type>;base64,<data> URI.
func decodeDataURI(uri string) ([]byte, error) {
	meta, encoded, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, errors.New("invalid data URI: missing comma separator")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, errors.New("only base64 data URIs are supported")
	}
	if mime := strings.TrimSuffix(meta, ";base64"); !imageTypes[mime] {
		return nil, fmt.Errorf("unsupported MIME type in data URI: %s", mime)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	return data, nil
}

func (l *imageLoader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}
	if err := l.checkHost(ctx, parsed.Hostname()); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("image too large: exceeds %d bytes", maxImageSize)
	}
	return data, nil
}

// checkHost rejects metadata hostnames and hosts that resolve to any
// blocked address. Lookup failures are left to the dial.
func (l *imageLoader) checkHost(ctx context.Context, host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		return l.allowIP(ip)
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil //nolint:nilerr // let the dial surface DNS failures
	}
	for _, a := range addrs {
		if err := l.allowIP(a.IP); err != nil {
			return fmt.Errorf("%w (resolved from %s)", err, host)
		}
	}
	return nil
}

// checkBlockedIP rejects addresses that reach the local machine, private
// networks or link-local services such as cloud metadata endpoints.
func checkBlockedIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("blocked host: loopback address %s", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("blocked host: unspecified address %s", ip)
	case ip.IsPrivate():
		return fmt.Errorf("blocked host: private address %s", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(), ip.IsInterfaceLocalMulticast():
		return fmt.Errorf("blocked host: link-local address %s", ip)
	}
	return nil
}
