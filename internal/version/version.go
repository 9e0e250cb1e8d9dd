// Package version reports build information for the switchsync commands.
package version

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
)

// These are set at build time with -ldflags "-X ...".
var (
	BuildVersion = "dev"
	BuildRef     = ""
	BuildDate    = ""
)

// Info describes the running binary.
type Info struct {
	Version   string
	Ref       string
	Date      string
	GoVersion string
}

// Get returns build information, falling back to the module's VCS stamp when
// no ldflags were supplied.
func Get() Info {
	info := Info{
		Version:   BuildVersion,
		Ref:       BuildRef,
		Date:      BuildDate,
		GoVersion: runtime.Version(),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				if info.Ref == "" {
					info.Ref = setting.Value
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = setting.Value
				}
			}
		}
	}

	return info
}

func (i Info) String() string {
	s := i.Version
	if i.Ref != "" {
		s += fmt.Sprintf(" (%s)", i.Ref)
	}
	if i.Date != "" {
		s += fmt.Sprintf(" built %s", i.Date)
	}
	return s + " " + i.GoVersion
}

// WriteVersion writes the version line to w.
func WriteVersion(w io.Writer) {
	fmt.Fprintf(w, "version %s\n", Get()) //nolint:errcheck
}

// ShowVersion prints the version line to stdout.
func ShowVersion() {
	WriteVersion(os.Stdout)
}
