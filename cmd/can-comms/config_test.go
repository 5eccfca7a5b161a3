package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigValidate_OK(t *testing.T) {
	if err := defaultConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
	c := defaultConfig()
	c.transport = "spi"
	c.backend = "loopback"
	c.canIfs = []string{"vcan0", "vcan1", "vcan2"}
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.backend = "serial" }},
		{"badTransport", func(c *appConfig) { c.transport = "pcie" }},
		{"noInterfaces", func(c *appConfig) { c.canIfs = nil }},
		{"tooManyInterfaces", func(c *appConfig) { c.canIfs = make([]string, 9) }},
		{"badUSBChunk", func(c *appConfig) { c.usbChunk = 0 }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badPoll", func(c *appConfig) { c.pollInterval = 0 }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badRxQueue", func(c *appConfig) { c.rxQueue = 0 }},
		{"txQueueBelowUSBThreshold", func(c *appConfig) { c.txQueue = 50 }},
		{"txQueueBelowSPIThreshold", func(c *appConfig) { c.transport = "spi"; c.txQueue = 169 }},
	}
	for _, tc := range tests {
		base := defaultConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestApplyINI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "can-comms.ini")
	body := `[bus]
backend = loopback
interfaces = vcan0, vcan1

[transport]
kind = spi
spi_chunk = 128
poll_interval = 5ms

[mdns]
enable = yes
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	c := defaultConfig()
	if err := applyINI(c, path, map[string]struct{}{"spi-chunk": {}}); err != nil {
		t.Fatalf("applyINI: %v", err)
	}
	if c.backend != "loopback" || c.transport != "spi" || !c.mdnsEnable {
		t.Fatalf("ini not applied: %+v", c)
	}
	if len(c.canIfs) != 2 || c.canIfs[1] != "vcan1" {
		t.Fatalf("interfaces=%v", c.canIfs)
	}
	if c.pollInterval != 5*time.Millisecond {
		t.Fatalf("poll=%v", c.pollInterval)
	}
	if c.spiChunk != 256 {
		t.Fatalf("flag-set option overridden by ini: %d", c.spiChunk)
	}
}

func TestApplyINI_BadValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ini")
	if err := os.WriteFile(path, []byte("[queue]\ntx = lots\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := applyINI(defaultConfig(), path, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
	if err := applyINI(defaultConfig(), filepath.Join(t.TempDir(), "missing.ini"), nil); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
