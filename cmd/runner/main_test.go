package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadProxies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	content := "# rental keys\nhttps://proxyxoay.shop/api/get.php?key=a\n\n  https://proxyxoay.org/api/get.php?key=b  \n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := readProxies(path)
	if err != nil {
		t.Fatalf("readProxies: %v", err)
	}
	if len(got) != 2 || got[1] != "https://proxyxoay.org/api/get.php?key=b" {
		t.Fatalf("unexpected proxies %v", got)
	}
	if _, err := readProxies(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
