package mcpserver

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestCheckBlockedIP(t *testing.T) {
	tests := []struct {
		ip      string
		blocked bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"0.0.0.0", true},
		{"::", true},
		{"10.0.0.1", true},
		{"172.16.4.2", true},
		{"192.168.1.1", true},
		{"fd00::1", true},
		{"169.254.169.254", true},
		{"169.254.170.2", true},
		{"fe80::1", true},
		{"224.0.0.251", true},
		{"::ffff:10.0.0.1", true},
		{"8.8.8.8", false},
		{"2606:4700:4700::1111", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			err := checkBlockedIP(net.ParseIP(tt.ip))
			if tt.blocked && err == nil {
				t.Errorf("checkBlockedIP(%s) = nil, want blocked", tt.ip)
			}
			if !tt.blocked && err != nil {
				t.Errorf("checkBlockedIP(%s) = %v, want nil", tt.ip, err)
			}
		})
	}
}

func TestCheckHost_Literals(t *testing.T) {
	l := newImageLoader()
	for _, host := range []string{"0.0.0.0", "10.0.0.1", "192.168.1.1", "169.254.170.2", "::", "metadata.google.internal"} {
		if err := l.checkHost(context.Background(), host); err == nil || !strings.Contains(err.Error(), "blocked host") {
			t.Errorf("checkHost(%q) = %v, want blocked host", host, err)
		}
	}
}

func TestFetch_UnspecifiedAddress(t *testing.T) {
	img := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngHeader)
	}))
	defer img.Close()

	u, err := url.Parse(img.URL)
	if err != nil {
		t.Fatal(err)
	}
	target := "http://0.0.0.0:" + u.Port() + "/scan.png"

	_, err = newImageLoader().load(context.Background(), target)
	if err == nil || !strings.Contains(err.Error(), "blocked host") {
		t.Fatalf("load(%s) err = %v, want blocked host", target, err)
	}
}

func TestDialGuard_BlocksAfterResolution(t *testing.T) {
	img := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngHeader)
	}))
	defer img.Close()

	// Bypass the pre-flight host check to exercise the dial-time guard,
	// the path a rebinding DNS answer would take.
	resp, err := newImageLoader().client.Get(img.URL)
	if err == nil {
		_ = resp.Body.Close()
		t.Fatal("expected dial to be refused")
	}
	if !strings.Contains(err.Error(), "blocked host") {
		t.Errorf("err = %v, want blocked host", err)
	}
}

func TestDialGuard_AllowsWhenPermitted(t *testing.T) {
	img := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngHeader)
	}))
	defer img.Close()

	l := newImageLoader()
	l.allowIP = func(net.IP) error { return nil }
	data, err := l.load(context.Background(), img.URL+"/scan.png")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != string(pngHeader) {
		t.Errorf("data = %q", data)
	}
}
