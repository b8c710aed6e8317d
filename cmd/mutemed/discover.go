package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sstallion/go-hid"
	"golang.org/x/sys/unix"
)

// Supported hardware. The original MuteMe line and the Mini use different
// vendor IDs.
type deviceModel struct {
	vid  uint16
	pid  uint16
	name string
}

var supportedDevices = []deviceModel{
	{vid: 0x20A0, pid: 0x42DA, name: "MuteMe"},
	{vid: 0x20A0, pid: 0x42DB, name: "MuteMe"},
	{vid: 0x3603, pid: 0x0001, name: "MuteMe Mini"},
	{vid: 0x3603, pid: 0x0002, name: "MuteMe Mini"},
	{vid: 0x3603, pid: 0x0003, name: "MuteMe Mini"},
	{vid: 0x3603, pid: 0x0004, name: "MuteMe Mini"},
}

func matchSupported(vid, pid uint16) (deviceModel, bool) {
	for _, m := range supportedDevices {
		if m.vid == vid && m.pid == pid {
			return m, true
		}
	}
	return deviceModel{}, false
}

// DiscoverDevices enumerates all HID devices and returns the supported ones.
func DiscoverDevices() ([]hid.DeviceInfo, error) {
	var found []hid.DeviceInfo
	err := hid.Enumerate(0, 0, func(info *hid.DeviceInfo) error {
		if _, ok := matchSupported(info.VendorID, info.ProductID); ok {
			found = append(found, *info)
		}
		return nil
	})
	if err != nil && len(found) == 0 {
		return nil, fmt.Errorf("enumerate HID devices: %w", err)
	}
	return found, nil
}

// OpenDevice finds and opens a MuteMe button.
//
// With an explicit device.path the enumeration step is skipped and that path
// is opened as-is. Otherwise all supported devices are candidates, with the
// configured vid:pid tried first.
func OpenDevice(cfg DeviceConfig, logger *slog.Logger) (*Device, error) {
	format, err := parseReportFormat(cfg.ReportFormat)
	if err != nil {
		return nil, err
	}

	if cfg.Path != "" {
		dev, err := hid.OpenPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
		}
		return &Device{
			dev:        dev,
			info:       hid.DeviceInfo{Path: cfg.Path},
			format:     format,
			useFeature: cfg.UseFeatureReport,
		}, nil
	}

	infos, err := DiscoverDevices()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, errDeviceNotFound
	}

	// Configured vid:pid first, then any other supported device.
	candidates := make([]hid.DeviceInfo, 0, len(infos))
	for _, info := range infos {
		if info.VendorID == cfg.VID && info.ProductID == cfg.PID {
			candidates = append(candidates, info)
		}
	}
	for _, info := range infos {
		if info.VendorID != cfg.VID || info.ProductID != cfg.PID {
			candidates = append(candidates, info)
		}
	}

	var firstErr error
	for _, info := range candidates {
		dev, err := hid.OpenPath(info.Path)
		if err != nil {
			logger.Debug("open candidate failed", "path", info.Path, "error", err)
			if firstErr == nil {
				firstErr = classifyOpenFailure(info, err)
			}
			continue
		}
		return &Device{
			dev:        dev,
			info:       info,
			format:     format,
			useFeature: cfg.UseFeatureReport,
		}, nil
	}
	return nil, firstErr
}

// classifyOpenFailure tells a permission problem apart from a busy device by
// probing the hidraw node's access bits, the way an operator would with ls.
func classifyOpenFailure(info hid.DeviceInfo, openErr error) error {
	node, err := findHidrawNode(info.VendorID, info.ProductID)
	if err != nil {
		return fmt.Errorf("open %s: %w", info.Path, openErr)
	}
	access, err := probeHidrawAccess(node)
	if err != nil {
		return fmt.Errorf("open %s: %w", info.Path, openErr)
	}
	if !access.Readable || !access.Writable {
		return fmt.Errorf("%w: %s (mode %s, owner %s, group %s)",
			errDevicePermission, node, access.Mode, access.owner(), access.group())
	}
	return fmt.Errorf("%w: %s is accessible but open failed: %v", errDeviceBusy, node, openErr)
}

const hidrawSysDir = "/sys/class/hidraw"

// findHidrawNode maps a vid:pid to its /dev/hidrawN node by walking the
// sysfs hidraw class and parsing each node's HID_ID uevent line.
func findHidrawNode(vid, pid uint16) (string, error) {
	return findHidrawNodeIn(hidrawSysDir, vid, pid)
}

func findHidrawNodeIn(sysDir string, vid, pid uint16) (string, error) {
	entries, err := os.ReadDir(sysDir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", sysDir, err)
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "hidraw") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(sysDir, e.Name(), "device", "uevent"))
		if err != nil {
			continue
		}
		v, p, ok := parseUeventHIDID(string(b))
		if ok && v == vid && p == pid {
			return "/dev/" + e.Name(), nil
		}
	}
	return "", fmt.Errorf("no hidraw node for %04x:%04x", vid, pid)
}

// parseUeventHIDID extracts vendor and product from a hidraw uevent file.
// The line looks like HID_ID=0003:000020A0:000042DA (bus:vendor:product).
func parseUeventHIDID(content string) (vid, pid uint16, ok bool) {
	for _, line := range strings.Split(content, "\n") {
		v, found := strings.CutPrefix(strings.TrimSpace(line), "HID_ID=")
		if !found {
			continue
		}
		parts := strings.Split(v, ":")
		if len(parts) != 3 {
			return 0, 0, false
		}
		vid64, err := strconv.ParseUint(parts[1], 16, 32)
		if err != nil {
			return 0, 0, false
		}
		pid64, err := strconv.ParseUint(parts[2], 16, 32)
		if err != nil {
			return 0, 0, false
		}
		if vid64 > 0xFFFF || pid64 > 0xFFFF {
			return 0, 0, false
		}
		return uint16(vid64), uint16(pid64), true
	}
	return 0, 0, false
}

// hidrawAccess is the result of probing a /dev/hidrawN node.
type hidrawAccess struct {
	Node     string
	Mode     fs.FileMode
	UID      uint32
	GID      uint32
	Readable bool
	Writable bool
}

func probeHidrawAccess(node string) (hidrawAccess, error) {
	var st unix.Stat_t
	if err := unix.Stat(node, &st); err != nil {
		return hidrawAccess{}, fmt.Errorf("stat %s: %w", node, err)
	}
	return hidrawAccess{
		Node:     node,
		Mode:     fs.FileMode(st.Mode & 0o777),
		UID:      st.Uid,
		GID:      st.Gid,
		Readable: unix.Access(node, unix.R_OK) == nil,
		Writable: unix.Access(node, unix.W_OK) == nil,
	}, nil
}

func (a hidrawAccess) owner() string {
	if u, err := user.LookupId(strconv.FormatUint(uint64(a.UID), 10)); err == nil {
		return u.Username
	}
	return strconv.FormatUint(uint64(a.UID), 10)
}

func (a hidrawAccess) group() string {
	if g, err := user.LookupGroupId(strconv.FormatUint(uint64(a.GID), 10)); err == nil {
		return g.Name
	}
	return strconv.FormatUint(uint64(a.GID), 10)
}

// Describe renders the probe for check-device --verbose output.
func (a hidrawAccess) Describe() []string {
	current := strconv.Itoa(os.Getuid())
	if u, err := user.Current(); err == nil {
		current = u.Username
	}
	return []string{
		fmt.Sprintf("mode:     %s", a.Mode),
		fmt.Sprintf("owner:    %s (uid %d)", a.owner(), a.UID),
		fmt.Sprintf("group:    %s (gid %d)", a.group(), a.GID),
		fmt.Sprintf("you:      %s (readable: %v, writable: %v)", current, a.Readable, a.Writable),
	}
}

// permissionHelp lists the usual ways to make a hidraw node accessible.
func permissionHelp(node string) []string {
	return []string{
		"To fix this:",
		"  - install a udev rule, e.g. /etc/udev/rules.d/99-mutemed.rules:",
		`      SUBSYSTEM=="hidraw", ATTRS{idVendor}=="20a0", MODE="0666"`,
		`      SUBSYSTEM=="hidraw", ATTRS{idVendor}=="3603", MODE="0666"`,
		"    then replug the device or run 'sudo udevadm trigger'",
		"  - or add your user to the group that owns the node",
		fmt.Sprintf("  - or as a quick test: sudo chmod 666 %s", node),
	}
}
