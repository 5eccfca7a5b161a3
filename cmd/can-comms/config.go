package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/kstaniek/go-can-comms/internal/transport"
)

type appConfig struct {
	configFile      string
	backend         string
	canIfs          []string
	transport       string
	listenAddr      string
	usbChunk        int
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	spiChunk        int
	rxQueue         int
	txQueue         int
	pollInterval    time.Duration
	handshakeTO     time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

// option binds one setting to its environment variable and INI key.
// Flags, env and INI all feed the same apply function.
type option struct {
	flag  string
	env   string
	ini   string // section.key
	apply func(c *appConfig, v string) error
}

func strOpt(dst func(*appConfig) *string) func(*appConfig, string) error {
	return func(c *appConfig, v string) error { *dst(c) = v; return nil }
}

func intOpt(dst func(*appConfig) *int, min int) func(*appConfig, string) error {
	return func(c *appConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		if n < min {
			return fmt.Errorf("must be >= %d", min)
		}
		*dst(c) = n
		return nil
	}
}

func durOpt(dst func(*appConfig) *time.Duration) func(*appConfig, string) error {
	return func(c *appConfig, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		if d < 0 {
			return fmt.Errorf("negative duration")
		}
		*dst(c) = d
		return nil
	}
}

func boolOpt(dst func(*appConfig) *bool) func(*appConfig, string) error {
	return func(c *appConfig, v string) error {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst(c) = true
		case "0", "false", "no", "off":
			*dst(c) = false
		default:
			return fmt.Errorf("not a boolean: %q", v)
		}
		return nil
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var options = []option{
	{"backend", "CAN_COMMS_BACKEND", "bus.backend", strOpt(func(c *appConfig) *string { return &c.backend })},
	{"can-if", "CAN_COMMS_IF", "bus.interfaces", func(c *appConfig, v string) error { c.canIfs = splitList(v); return nil }},
	{"transport", "CAN_COMMS_TRANSPORT", "transport.kind", strOpt(func(c *appConfig) *string { return &c.transport })},
	{"listen", "CAN_COMMS_LISTEN", "transport.listen", strOpt(func(c *appConfig) *string { return &c.listenAddr })},
	{"usb-chunk", "CAN_COMMS_USB_CHUNK", "transport.usb_chunk", intOpt(func(c *appConfig) *int { return &c.usbChunk }, 1)},
	{"serial", "CAN_COMMS_SERIAL", "transport.serial", strOpt(func(c *appConfig) *string { return &c.serialDev })},
	{"baud", "CAN_COMMS_BAUD", "transport.baud", intOpt(func(c *appConfig) *int { return &c.baud }, 1)},
	{"serial-read-timeout", "CAN_COMMS_SERIAL_READ_TIMEOUT", "transport.serial_read_timeout", durOpt(func(c *appConfig) *time.Duration { return &c.serialReadTO })},
	{"spi-chunk", "CAN_COMMS_SPI_CHUNK", "transport.spi_chunk", intOpt(func(c *appConfig) *int { return &c.spiChunk }, 1)},
	{"poll-interval", "CAN_COMMS_POLL_INTERVAL", "transport.poll_interval", durOpt(func(c *appConfig) *time.Duration { return &c.pollInterval })},
	{"handshake-timeout", "CAN_COMMS_HANDSHAKE_TIMEOUT", "transport.handshake_timeout", durOpt(func(c *appConfig) *time.Duration { return &c.handshakeTO })},
	{"rx-queue", "CAN_COMMS_RX_QUEUE", "queue.rx", intOpt(func(c *appConfig) *int { return &c.rxQueue }, 1)},
	{"tx-queue", "CAN_COMMS_TX_QUEUE", "queue.tx", intOpt(func(c *appConfig) *int { return &c.txQueue }, 1)},
	{"log-format", "CAN_COMMS_LOG_FORMAT", "log.format", strOpt(func(c *appConfig) *string { return &c.logFormat })},
	{"log-level", "CAN_COMMS_LOG_LEVEL", "log.level", strOpt(func(c *appConfig) *string { return &c.logLevel })},
	{"log-metrics-interval", "CAN_COMMS_LOG_METRICS_INTERVAL", "log.metrics_interval", durOpt(func(c *appConfig) *time.Duration { return &c.logMetricsEvery })},
	{"metrics-addr", "CAN_COMMS_METRICS", "metrics.addr", strOpt(func(c *appConfig) *string { return &c.metricsAddr })},
	{"mdns-enable", "CAN_COMMS_MDNS_ENABLE", "mdns.enable", boolOpt(func(c *appConfig) *bool { return &c.mdnsEnable })},
	{"mdns-name", "CAN_COMMS_MDNS_NAME", "mdns.name", strOpt(func(c *appConfig) *string { return &c.mdnsName })},
}

func defaultConfig() *appConfig {
	return &appConfig{
		backend:      "socketcan",
		canIfs:       []string{"can0"},
		transport:    transport.KindUSB,
		listenAddr:   ":20100",
		usbChunk:     64,
		serialDev:    "/dev/ttyUSB0",
		baud:         921600,
		serialReadTO: 20 * time.Millisecond,
		spiChunk:     256,
		rxQueue:      4096,
		txQueue:      416,
		pollInterval: 2 * time.Millisecond,
		handshakeTO:  3 * time.Second,
		logFormat:    "text",
		logLevel:     "info",
	}
}

func parseFlags() (*appConfig, bool) {
	def := defaultConfig()
	fs := flag.CommandLine
	configFile := fs.String("config", "", "Optional INI config file (flags and env take precedence)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	help := map[string]string{
		"backend":              "CAN backend: socketcan|loopback",
		"can-if":               "Comma separated CAN interfaces; position is the bus index",
		"transport":            "Host transport: usb (TCP bulk pipe)|spi (serial link)",
		"listen":               "TCP listen address for the usb transport",
		"usb-chunk":            "Max bytes per usb transfer",
		"serial":               "Serial device for the spi transport",
		"baud":                 "Serial baud rate",
		"serial-read-timeout":  "Serial read timeout",
		"spi-chunk":            "Max bytes per spi transfer",
		"poll-interval":        "Max delay before queued packets are sent to the host",
		"handshake-timeout":    "Host handshake timeout",
		"rx-queue":             "Receive queue capacity (packets)",
		"tx-queue":             "Send queue capacity (packets)",
		"log-format":           "Log format: text|json",
		"log-level":            "Log level: debug|info|warn|error",
		"log-metrics-interval": "If >0, periodically log metrics counters",
		"metrics-addr":         "Metrics HTTP listen address (e.g., :9100); empty disables",
		"mdns-enable":          "Advertise the usb transport endpoint via mDNS",
		"mdns-name":            "mDNS instance name (default can-comms-<hostname>)",
	}
	raw := map[string]*string{}
	for _, o := range options {
		raw[o.flag] = fs.String(o.flag, def.get(o.flag), help[o.flag])
	}
	flag.Parse()

	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	cfg := def
	cfg.configFile = *configFile
	if v, ok := os.LookupEnv("CAN_COMMS_CONFIG"); ok && cfg.configFile == "" {
		cfg.configFile = strings.TrimSpace(v)
	}
	if cfg.configFile != "" {
		if err := applyINI(cfg, cfg.configFile, set); err != nil {
			fmt.Printf("config file error: %v\n", err)
			return nil, *showVersion
		}
	}
	if err := applyEnvOverrides(cfg, set); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	for name := range set {
		if err := optionByFlag(name).apply(cfg, *raw[name]); err != nil {
			fmt.Printf("flag -%s: %v\n", name, err)
			return nil, *showVersion
		}
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func optionByFlag(name string) option {
	for _, o := range options {
		if o.flag == name {
			return o
		}
	}
	return option{apply: func(*appConfig, string) error { return nil }}
}

// get renders a setting as its flag default string.
func (c *appConfig) get(name string) string {
	switch name {
	case "backend":
		return c.backend
	case "can-if":
		return strings.Join(c.canIfs, ",")
	case "transport":
		return c.transport
	case "listen":
		return c.listenAddr
	case "usb-chunk":
		return strconv.Itoa(c.usbChunk)
	case "serial":
		return c.serialDev
	case "baud":
		return strconv.Itoa(c.baud)
	case "serial-read-timeout":
		return c.serialReadTO.String()
	case "spi-chunk":
		return strconv.Itoa(c.spiChunk)
	case "poll-interval":
		return c.pollInterval.String()
	case "handshake-timeout":
		return c.handshakeTO.String()
	case "rx-queue":
		return strconv.Itoa(c.rxQueue)
	case "tx-queue":
		return strconv.Itoa(c.txQueue)
	case "log-format":
		return c.logFormat
	case "log-level":
		return c.logLevel
	case "log-metrics-interval":
		return c.logMetricsEvery.String()
	case "metrics-addr":
		return c.metricsAddr
	case "mdns-enable":
		return strconv.FormatBool(c.mdnsEnable)
	case "mdns-name":
		return c.mdnsName
	}
	return ""
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "socketcan", "loopback":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.transport {
	case transport.KindUSB, transport.KindSPI:
	default:
		return fmt.Errorf("invalid transport: %s", c.transport)
	}
	if len(c.canIfs) == 0 || len(c.canIfs) > 8 {
		return fmt.Errorf("can-if must list 1..8 interfaces (got %d)", len(c.canIfs))
	}
	if c.usbChunk <= 0 || c.spiChunk <= 0 {
		return fmt.Errorf("transfer chunk sizes must be > 0")
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("poll-interval must be > 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.rxQueue <= 0 {
		return fmt.Errorf("rx-queue must be > 0 (got %d)", c.rxQueue)
	}
	// The send queue must absorb one maximal transfer or the transport never resumes.
	if th := transport.Threshold(c.transport); c.txQueue < th {
		return fmt.Errorf("tx-queue must be >= %d for transport %s (got %d)", th, c.transport, c.txQueue)
	}
	return nil
}

// applyEnvOverrides maps CAN_COMMS_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
// All options are applied; the first parse error is returned.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	for _, o := range options {
		if _, ok := set[o.flag]; ok {
			continue
		}
		v, ok := os.LookupEnv(o.env)
		if v = strings.TrimSpace(v); !ok || v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", o.env, err)
		}
	}
	return firstErr
}

// applyINI loads path and applies its keys for options no flag has set.
func applyINI(c *appConfig, path string, set map[string]struct{}) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	for _, o := range options {
		if _, ok := set[o.flag]; ok {
			continue
		}
		section, key, _ := strings.Cut(o.ini, ".")
		if !f.Section(section).HasKey(key) {
			continue
		}
		v := strings.TrimSpace(f.Section(section).Key(key).Value())
		if v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return fmt.Errorf("[%s] %s: %w", section, key, err)
		}
	}
	return nil
}
