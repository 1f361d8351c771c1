// Package telemetry holds the site snapshot produced by one poll and the
// mapping from a snapshot to MQTT topics.
//
// A Snapshot maps dotted metric keys ("battery_monitor_279.state_of_charge")
// to scalar values. Map flattens it into Topics under a prefix:
//
//	vrm/cloud/123456/battery_monitor_279/state_of_charge = 87.5
//
// Map is pure: identical snapshots always yield byte-identical, identically
// ordered topic lists, so unchanged data republishes the same sequence.
package telemetry
