package main

import (
	"fmt"
	"runtime/debug"
)

// Set at build time via -ldflags "-X 'main.whistleVersion=X'".
var whistleVersion string

func getBuildSettingOrDefault(bi *debug.BuildInfo, key, defaultValue string) string {
	for _, bs := range bi.Settings {
		if bs.Key == key {
			return bs.Value
		}
	}
	return defaultValue
}

func printVersion() {
	buildInfo, _ := debug.ReadBuildInfo()

	revision := "UNKNOWN"
	buildTime := "UNKNOWN"
	if buildInfo != nil {
		revision = getBuildSettingOrDefault(buildInfo, "vcs.revision", "UNKNOWN")
		buildTime = getBuildSettingOrDefault(buildInfo, "vcs.time", "UNKNOWN")
	}

	version := whistleVersion
	if version == "" {
		version = "!UNKNOWN!"
	}

	fmt.Printf("whistle - Version %s (revision %s, built at %s)\n", version, revision, buildTime)
}
