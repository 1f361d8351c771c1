// Package influxdb mirrors VRM snapshots into InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Each snapshot becomes
// one point per device in the "vrm_diagnostics" measurement, tagged with
// site_id and device, with one field per metric. Missing values are left
// out.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSnapshot(snap)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; failures are
// delivered to the SetOnError callback.
package influxdb
