/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package version reports the ratekit version the running binary is built from.
package version

import (
	"regexp"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const modulePath = "github.com/carelog/ratekit"

const unknownVersion = "v0.0.0"

// develVersion is reported by the toolchain for binaries built from a working tree.
const develVersion = "(devel)"

var version string
var versionOnce sync.Once

// Get returns the ratekit version from the build info, or "v0.0.0" when it is unknown.
func Get() string {
	versionOnce.Do(initVersion)
	return version
}

func initVersion() {
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		version = extractVersion(buildInfo, modulePath)
	}
	if version == "" {
		version = unknownVersion
	}
}

// extractVersion returns the version of modPath, which is either the main module of the binary
// or one of its dependencies. Paths with a major version suffix ("modPath/v2") match too.
func extractVersion(buildInfo *debug.BuildInfo, modPath string) string {
	if buildInfo == nil {
		return ""
	}
	re, err := regexp.Compile(`^` + regexp.QuoteMeta(modPath) + `(/v[0-9]+)?$`)
	if err != nil {
		return ""
	}
	if re.MatchString(buildInfo.Main.Path) && buildInfo.Main.Version != develVersion {
		return buildInfo.Main.Version
	}
	for _, dep := range buildInfo.Deps {
		if re.MatchString(dep.Path) {
			return dep.Version
		}
	}
	return ""
}

// NewBuildInfoCollector returns the "build_info" gauge that is always 1
// and carries the ratekit and Go versions as labels.
func NewBuildInfoCollector(namespace string) prometheus.Collector {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "A metric with a constant '1' value labeled by the versions ratekit was built from.",
		ConstLabels: prometheus.Labels{
			"version":    Get(),
			"go_version": runtime.Version(),
		},
	})
	gauge.Set(1)
	return gauge
}
