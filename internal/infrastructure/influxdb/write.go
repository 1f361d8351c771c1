package influxdb

import (
	"strings"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/vrm-cloud-mqtt/internal/telemetry"
)

// measurement is the InfluxDB measurement snapshots are written to.
const measurement = "vrm_diagnostics"

// WriteSnapshot queues one point per device of snap. The write is
// non-blocking; errors arrive through the SetOnError callback.
func (c *Client) WriteSnapshot(snap telemetry.Snapshot) {
	if !c.IsConnected() {
		return
	}
	for _, p := range snapshotPoints(snap) {
		c.writeAPI.WritePoint(p)
	}
}

// snapshotPoints groups snapshot metrics by the key segment before the
// first dot. Keys without a dot go to the "site" device.
func snapshotPoints(snap telemetry.Snapshot) []*write.Point {
	fields := make(map[string]map[string]any)
	var devices []string

	for _, key := range snap.Keys() {
		value, _ := snap.Value(key)
		if value == nil {
			continue
		}
		device, field, found := strings.Cut(key, ".")
		if !found {
			device, field = "site", key
		}
		if fields[device] == nil {
			fields[device] = make(map[string]any)
			devices = append(devices, device)
		}
		fields[device][field] = value
	}

	points := make([]*write.Point, 0, len(devices))
	for _, device := range devices {
		points = append(points, write.NewPoint(
			measurement,
			map[string]string{"site_id": snap.SiteID, "device": device},
			fields[device],
			snap.ObservedAt,
		))
	}
	return points
}
