// Package discovery turns the bridge discovery stream into periodic, ordered
// device snapshots.
//
// The bridge announces devices one message at a time (or in batches under a
// "devices" key). Feed keeps the latest descriptor per device id, drops
// devices that stopped announcing, and hands a sorted snapshot to its
// consumer on every tick. HotplugMonitor watches USB attach and detach
// uevents and asks the feed to rescan.
package discovery
