package cliutil

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
)

type BuildInfo struct {
	GoOS           string `json:"go_os"`
	GoVersion      string `json:"go_version"`
	GoArch         string `json:"go_arch"`
	ReNightVersion string `json:"renight_version"`
}

func GetBuildInfo(version string) *BuildInfo {
	return &BuildInfo{
		GoOS:           runtime.GOOS,
		GoVersion:      runtime.Version(),
		GoArch:         runtime.GOARCH,
		ReNightVersion: version,
	}
}

func (bi *BuildInfo) Log(log *zerolog.Logger) {
	log.Info().Msgf("Version %s", bi.ReNightVersion)
	log.Info().Msgf("GOOS: %s, GOVersion: %s, GoArch: %s", bi.GoOS, bi.GoVersion, bi.GoArch)
}

func (bi *BuildInfo) UserAgent() string {
	return fmt.Sprintf("ReNight/%s", bi.ReNightVersion)
}
