// Package buildinfo carries version metadata stamped in at link time
// and the runtime capability probe used by the "device" subcommand.
package buildinfo

import (
	"fmt"
	"os"
	"runtime"
)

// Version, Commit and Date are overridden at build time via:
//
//	-ldflags "-X github.com/dnsscience/submapper/internal/buildinfo.Version=..."
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders a one-line version banner.
func String() string {
	return fmt.Sprintf("submapper %s (commit %s, built %s, %s/%s)",
		Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
}

// DeviceReport summarizes the runtime environment relevant to
// high-throughput UDP scanning: CPU count, a hint on checking the
// open-file limit (the limit itself is not read), and the effective UID.
type DeviceReport struct {
	GoVersion     string
	GOOS          string
	GOARCH        string
	NumCPU        int
	PID           int
	EUID          int
	FileLimitHint string
}

// Probe collects the device report.
func Probe() DeviceReport {
	return DeviceReport{
		GoVersion:     runtime.Version(),
		GOOS:          runtime.GOOS,
		GOARCH:        runtime.GOARCH,
		NumCPU:        runtime.NumCPU(),
		PID:           os.Getpid(),
		EUID:          os.Geteuid(),
		FileLimitHint: fileLimitHint(),
	}
}

func fileLimitHint() string {
	if runtime.GOOS == "windows" {
		return "not applicable on windows"
	}
	return "check with `ulimit -n`; raise it before running large concurrency scans"
}
