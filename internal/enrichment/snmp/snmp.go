package snmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// Config holds the SNMP session settings shared by every bridge walk.
type Config struct {
	Community      string
	Version        string // "2c" (default) | "1"
	Port           uint16
	Timeout        time.Duration
	Retries        int
	MaxRepetitions uint32
}

// Target is a bridge that can be queried via SNMP.
type Target struct {
	NodeID  int
	Address string
}

// Client wraps a minimal SNMPv2c implementation for bridge MIB walks.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.Community) == "" {
		cfg.Community = "public"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "2c"
	}
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 900 * time.Millisecond
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.MaxRepetitions == 0 {
		cfg.MaxRepetitions = 10
	}
	return &Client{cfg: cfg}
}

func (c *Client) connect(ctx context.Context, target Target) (*gosnmp.GoSNMP, error) {
	var snmpVersion gosnmp.SnmpVersion
	switch strings.ToLower(strings.TrimSpace(c.cfg.Version)) {
	case "2c", "v2c", "":
		snmpVersion = gosnmp.Version2c
	case "1", "v1":
		snmpVersion = gosnmp.Version1
	default:
		return nil, fmt.Errorf("unsupported snmp version %q", c.cfg.Version)
	}

	s := &gosnmp.GoSNMP{
		Context:        ctx,
		Target:         target.Address,
		Port:           c.cfg.Port,
		Community:      c.cfg.Community,
		Version:        snmpVersion,
		Timeout:        c.cfg.Timeout,
		Retries:        c.cfg.Retries,
		MaxRepetitions: c.cfg.MaxRepetitions,
	}
	if err := s.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", target.Address, err)
	}
	return s, nil
}

const oidIfName = "1.3.6.1.2.1.31.1.1.1.1"

func pduString(pdu gosnmp.SnmpPDU) (string, bool) {
	switch v := pdu.Value.(type) {
	case string:
		return strings.TrimSpace(v), true
	case []byte:
		return strings.TrimSpace(string(v)), true
	default:
		return "", false
	}
}

func pduInt(pdu gosnmp.SnmpPDU) (int, bool) {
	switch v := pdu.Value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case uint:
		return int(v), true
	case uint32:
		return int(v), true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	default:
		return 0, false
	}
}

func pduMAC(pdu gosnmp.SnmpPDU) (string, bool) {
	b, ok := pdu.Value.([]byte)
	if !ok || len(b) != 6 {
		return "", false
	}
	m := strings.ToLower(net.HardwareAddr(b).String())
	if m == "00:00:00:00:00:00" {
		return "", false
	}
	return m, true
}

func lastOIDIndexInt(oid string) (int, bool) {
	oid = strings.TrimSpace(oid)
	if oid == "" {
		return 0, false
	}
	parts := strings.Split(oid, ".")
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c *Client) walk(ctx context.Context, target Target, baseOID string) ([]gosnmp.SnmpPDU, error) {
	if c == nil {
		return nil, errors.New("snmp client is nil")
	}
	s, err := c.connect(ctx, target)
	if err != nil {
		return nil, err
	}
	defer s.Conn.Close()

	pdus, err := s.BulkWalkAll(baseOID)
	if err != nil {
		return nil, fmt.Errorf("snmp walk %s on %s: %w", baseOID, target.Address, err)
	}
	return pdus, nil
}

// WalkIntTable maps the last OID index of every row under baseOID to its integer value.
func (c *Client) WalkIntTable(ctx context.Context, target Target, baseOID string) (map[int]int, error) {
	pdus, err := c.walk(ctx, target, baseOID)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(pdus))
	for _, p := range pdus {
		idx, ok := lastOIDIndexInt(p.Name)
		if !ok {
			continue
		}
		if v, ok := pduInt(p); ok {
			out[idx] = v
		}
	}
	return out, nil
}

// WalkIfNames maps ifIndex to ifName.
func (c *Client) WalkIfNames(ctx context.Context, target Target) (map[int]string, error) {
	pdus, err := c.walk(ctx, target, oidIfName)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string, len(pdus))
	for _, p := range pdus {
		idx, ok := lastOIDIndexInt(p.Name)
		if !ok {
			continue
		}
		if s, ok := pduString(p); ok && s != "" {
			out[idx] = s
		}
	}
	return out, nil
}
