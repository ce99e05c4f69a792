// Package device derives the identity the agent logs in with.
package device

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/orrn/printagent/internal/config"
	applog "github.com/orrn/printagent/internal/log"
)

var cpuSerialPattern = regexp.MustCompile(`^Serial\s*:\s*([0-9a-fA-F]+)`)

const zeroMAC = "00:00:00:00:00:00"

// Serial returns the configured serial, or the first usable MAC address
// followed by the board serial from cpuinfo. Either part may be missing but
// not both.
func Serial(cfg *config.DeviceConfig) (string, error) {
	if cfg.Serial != "" {
		return cfg.Serial, nil
	}

	logger := applog.WithComponent("device")

	mac, err := MACAddress(cfg.NetClassPath)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read MAC address")
	}
	board, err := CPUSerial(cfg.CPUInfoPath)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read board serial")
	}

	serial := mac + board
	if serial == "" {
		return "", errors.New("device serial: no MAC address or board serial available; set device.serial")
	}
	return serial, nil
}

// MACAddress returns the address of the first non-loopback interface under
// netClassPath whose address is not all zeros, in interface name order.
func MACAddress(netClassPath string) (string, error) {
	entries, err := os.ReadDir(netClassPath)
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, iface := range names {
		if iface == "lo" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(netClassPath, iface, "address"))
		if err != nil {
			continue
		}
		mac := strings.TrimSpace(string(data))
		if mac != "" && mac != zeroMAC {
			return mac, nil
		}
	}
	return "", nil
}

// CPUSerial extracts the Serial field from a cpuinfo file.
func CPUSerial(cpuInfoPath string) (string, error) {
	f, err := os.Open(cpuInfoPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := cpuSerialPattern.FindStringSubmatch(strings.TrimSpace(scanner.Text())); m != nil {
			return m[1], nil
		}
	}
	return "", scanner.Err()
}
