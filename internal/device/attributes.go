package device

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/user"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Attributes is the raw machine description sent to the authority and used
// to derive the stable id.
type Attributes struct {
	Hostname         string   `json:"hostname"`
	Username         string   `json:"username"`
	Platform         string   `json:"platform"`
	Arch             string   `json:"arch"`
	MachineGUID      string   `json:"machineId"`
	CPUModel         string   `json:"cpuModel"`
	CPUCores         int      `json:"cpuCores"`
	TotalMemoryBytes uint64   `json:"totalMemoryBytes"`
	Timezone         string   `json:"timezone"`
	MACAddresses     []string `json:"macAddresses"`
}

// Collector gathers Attributes from the running machine.
type Collector interface {
	Collect(ctx context.Context) (Attributes, error)
}

// SystemCollector reads attributes through gopsutil and the net package.
type SystemCollector struct{}

// Collect implements Collector. Individual probes that fail leave their field
// empty; only a failure to identify the host at all is an error.
func (SystemCollector) Collect(ctx context.Context) (Attributes, error) {
	a := Attributes{
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUCores: runtime.NumCPU(),
		Timezone: timezone(),
		Username: username(),
	}

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		hn, herr := os.Hostname()
		if herr != nil {
			return a, fmt.Errorf("host info: %w", err)
		}
		a.Hostname = hn
	} else {
		a.Hostname = info.Hostname
		a.MachineGUID = info.HostID
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		a.CPUModel = cpus[0].ModelName
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		a.CPUCores = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		a.TotalMemoryBytes = vm.Total
	}

	a.MACAddresses = physicalMACs()
	return a, nil
}

func username() string {
	u, err := user.Current()
	if err != nil {
		if name := os.Getenv("USER"); name != "" {
			return name
		}
		return os.Getenv("USERNAME")
	}
	name := u.Username
	// Windows reports DOMAIN\user
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func timezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	if loc := time.Now().Location().String(); loc != "" && loc != "Local" {
		return loc
	}
	name, _ := time.Now().Zone()
	return name
}

var virtualMarkers = []string{"virtual", "loopback", "vm"}

// physicalMACs lists MACs of non-internal, non-virtual interfaces, sorted.
func physicalMACs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var macs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if !isPhysical(iface.Name, iface.HardwareAddr) {
			continue
		}
		mac := iface.HardwareAddr.String()
		if !seen[mac] {
			seen[mac] = true
			macs = append(macs, mac)
		}
	}
	sort.Strings(macs)
	return macs
}

func isPhysical(name string, hw net.HardwareAddr) bool {
	if len(hw) == 0 || bytes.Equal(hw, make([]byte, len(hw))) {
		return false
	}
	lower := strings.ToLower(name)
	for _, m := range virtualMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	return true
}
