package debug

import (
	"runtime/debug"
	"strings"
)

/*
ReadBuildInfo returns version of the main module and the VCS settings
the binary was built with, ie "(devel) vcs.revision=abc vcs.modified=false".
*/
func ReadBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	return formatBuildInfo(info)
}

func formatBuildInfo(info *debug.BuildInfo) string {
	data := []string{info.Main.Version}
	for _, s := range info.Settings {
		if strings.HasPrefix(s.Key, "vcs.") {
			data = append(data, s.Key+"="+s.Value)
		}
	}
	return strings.TrimSpace(strings.Join(data, " "))
}
