package serialport

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ArduinoVendorID is the USB vendor ID of genuine Arduino boards.
const ArduinoVendorID = 0x2341

// knownProducts are the Arduino product IDs the rig firmware ships on.
var knownProducts = map[uint16]bool{
	0x005e: true,
	0x805a: true,
	0x8057: true,
}

// Info describes one candidate port.
type Info struct {
	Path      string
	VendorID  uint16
	ProductID uint16
	// Known is set for a recognized Arduino board.
	Known bool
}

// Scanner enumerates serial ports. SysfsRoot is overridable for tests.
type Scanner struct {
	SysfsRoot string
}

// DefaultScanner reads USB identity from /sys/class/tty.
var DefaultScanner = Scanner{SysfsRoot: "/sys/class/tty"}

// List expands the glob patterns and returns matching ports, recognized
// Arduino boards first, then by path.
func (s Scanner) List(patterns []string) ([]Info, error) {
	seen := make(map[string]bool)
	var out []Info
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, path := range matches {
			if seen[path] {
				continue
			}
			seen[path] = true
			info := Info{Path: path}
			info.VendorID, info.ProductID = s.usbIdentity(filepath.Base(path))
			info.Known = info.VendorID == ArduinoVendorID && knownProducts[info.ProductID]
			out = append(out, info)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Known != out[j].Known {
			return out[i].Known
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// Candidates returns the paths to try, in order. A pinned path wins outright;
// otherwise only recognized Arduino boards are offered.
func (s Scanner) Candidates(pinned string, patterns []string) ([]string, error) {
	if strings.TrimSpace(pinned) != "" {
		if _, err := os.Stat(pinned); err != nil {
			return nil, nil
		}
		return []string{pinned}, nil
	}
	infos, err := s.List(patterns)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, info := range infos {
		if info.Known {
			paths = append(paths, info.Path)
		}
	}
	return paths, nil
}

// usbIdentity reads idVendor/idProduct for a tty. The tty's device link
// points at the USB interface; the identity files live on its parent.
func (s Scanner) usbIdentity(name string) (uint16, uint16) {
	if s.SysfsRoot == "" {
		return 0, 0
	}
	iface, err := filepath.EvalSymlinks(filepath.Join(s.SysfsRoot, name, "device"))
	if err != nil {
		return 0, 0
	}
	for _, dir := range []string{iface, filepath.Dir(iface)} {
		vid, okV := readHex(filepath.Join(dir, "idVendor"))
		pid, okP := readHex(filepath.Join(dir, "idProduct"))
		if okV && okP {
			return vid, pid
		}
	}
	return 0, 0
}

func readHex(path string) (uint16, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}
