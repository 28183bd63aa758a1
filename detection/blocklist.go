// Copyright 2026 The HiDock Next Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package detection

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// DefaultBlocklist returns USB identities that must never be opened.
// Format: VID:PID in hexadecimal (case-insensitive).
func DefaultBlocklist() []string {
	return []string{}
}

// FormatVIDPID renders a USB identity as "VVVV:PPPP".
func FormatVIDPID(vendorID, productID uint16) string {
	return fmt.Sprintf("%04X:%04X", vendorID, productID)
}

// ParseVIDPID parses "VVVV:PPPP" (an optional 0x prefix per half is accepted).
func ParseVIDPID(s string) (vendorID, productID uint16, err error) {
	vid, pid, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid VID:PID %q", s)
	}
	v, err := parseHex16(vid)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vendor id in %q: %w", s, err)
	}
	p, err := parseHex16(pid)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid product id in %q: %w", s, err)
	}
	return v, p, nil
}

func parseHex16(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// IsBlocked checks if a USB identity is in the blocklist.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	return lo.ContainsBy(blocklist, func(blocked string) bool {
		return strings.ToUpper(strings.TrimSpace(blocked)) == vidpid
	})
}

// IsPathIgnored checks if a device path should be ignored.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" || len(ignorePaths) == 0 {
		return false
	}

	normalizedDevice := normalizedPath(devicePath)
	return lo.ContainsBy(ignorePaths, func(ignorePath string) bool {
		return ignorePath != "" &&
			(ignorePath == devicePath || normalizedPath(ignorePath) == normalizedDevice)
	})
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}

// filterDevices applies IgnorePaths and Blocklist to a device list.
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}
	return lo.Reject(devices, func(d DeviceInfo, _ int) bool {
		return IsPathIgnored(d.Path, opts.IgnorePaths) || IsBlocked(d.VIDPID(), opts.Blocklist)
	})
}
