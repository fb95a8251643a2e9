// system.go captures the device section of an event at report time.

package crashline

import (
	"runtime"
	"runtime/metrics"
	"time"
)

// processStart approximates process start for uptime reporting.
var processStart = time.Now()

// heapObjectsMetric matches runtime.MemStats.HeapAlloc.
const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// DeviceState describes the host and runtime an event was reported from.
type DeviceState struct {
	Hostname        string
	RuntimeVersions map[string]string
	OSName          string
	Arch            string

	// MemoryBytes is the current heap allocation in bytes.
	MemoryBytes int64

	// GoroutineCount is the number of live goroutines.
	GoroutineCount int

	// UptimeMs is the process uptime in milliseconds.
	UptimeMs int64
}

// CaptureDeviceState samples runtime metrics and combines them with the
// configured hostname and runtime versions. startTime is used for uptime.
func CaptureDeviceState(hostname string, runtimeVersions map[string]string, startTime time.Time) DeviceState {
	uptimeMs := time.Since(startTime).Milliseconds()
	if uptimeMs < 0 {
		uptimeMs = 0 // Clamp to 0 if start time is in the future
	}

	versions := make(map[string]string, len(runtimeVersions))
	for k, v := range runtimeVersions {
		versions[k] = v
	}

	return DeviceState{
		Hostname:        hostname,
		RuntimeVersions: versions,
		OSName:          runtime.GOOS,
		Arch:            runtime.GOARCH,
		MemoryBytes:     heapBytes(),
		GoroutineCount:  runtime.NumGoroutine(),
		UptimeMs:        uptimeMs,
	}
}

// heapBytes reads live heap bytes without a stop-the-world pause.
func heapBytes() int64 {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return int64(sample[0].Value.Uint64())
}

func (d DeviceState) toJSON() map[string]any {
	out := map[string]any{
		"runtimeVersions": d.RuntimeVersions,
		"osName":          d.OSName,
		"arch":            d.Arch,
		"memoryBytes":     d.MemoryBytes,
		"goroutineCount":  d.GoroutineCount,
		"uptimeMs":        d.UptimeMs,
	}
	if d.Hostname != "" {
		out["hostname"] = d.Hostname
	}
	return out
}
