// Package snapshot defines the immutable device-state bundle produced by one
// poll of the PurrSong cloud.
//
// A Snapshot is built once with New, which deep-copies its input, and is
// never modified afterwards. Every accessor returns copies, so any number of
// goroutines may read the same Snapshot while the coordinator prepares the
// next one. A new poll always yields a new Snapshot.
//
// Device records are partitioned by Kind: litter boxes, scanners, tags and
// cats. A Snapshot with no records of any kind is considered empty and is
// never accepted as valid data by the coordinator.
package snapshot
