package monitor

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/roach88/renderscan/internal/ir"
)

// Device classifies the reporting host.
type Device int

const (
	DeviceDesktop Device = iota
	DeviceTablet
	DeviceMobile
)

// Session describes the reporting process. It is sent with every batch.
type Session struct {
	ID     string
	URL    string
	Route  string
	Device Device
	Agent  string
	CPU    int
	// Mem is the host memory in gigabytes, zero when unknown.
	Mem     int
	Commit  string
	Branch  string
	Version string
}

// DefaultSession describes the current process. The commit comes from the
// binary's VCS build info when present.
func DefaultSession() Session {
	s := Session{
		Device:  DeviceDesktop,
		Agent:   fmt.Sprintf("renderscan/%s (%s; %s)", ir.Version, runtime.GOOS, runtime.GOARCH),
		CPU:     runtime.NumCPU(),
		Version: ir.Version,
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, kv := range info.Settings {
			if kv.Key == "vcs.revision" {
				s.Commit = kv.Value
			}
		}
	}
	return s
}

func (s Session) value() *ir.Object {
	return ir.NewObject(
		ir.O("id", ir.String(s.ID)),
		ir.O("url", ir.String(s.URL)),
		ir.O("route", ir.String(s.Route)),
		ir.O("device", ir.Number(s.Device)),
		ir.O("agent", ir.String(s.Agent)),
		ir.O("cpu", ir.Number(s.CPU)),
		ir.O("mem", ir.Number(s.Mem)),
		ir.O("commit", ir.String(s.Commit)),
		ir.O("branch", ir.String(s.Branch)),
		ir.O("version", ir.String(s.Version)),
	)
}
