// Package braid provides an engine for recording the provenance of physical
// samples; A sample graph is a directed acyclic graph of typed events: the
// materials of a sample, the actions transforming them, the measurements
// observing them, and the analyses interpreting those measurements.
//
// Specifically, every edge of a sample graph is typed by the events it
// connects, and a small grammar decides which pairs may be connected at all:
//
//	Action      -produced-> Material
//	Material    -consumed-> Action | Measurement
//	Measurement -analyzed-> Analysis
//	Analysis    -analyzed-> Analysis
//
// The Engine accepts proposals to append one event at a time. A proposal is
// checked against the parameter templates of its Catalog, the grammar above,
// acyclicity, and the availability of the actor performing it; then it is
// committed atomically under the sample's next versionstamp. Proposals made
// against an outdated versionstamp fail with ErrStaleVersion, so concurrent
// writers of one sample serialise by retrying.
//
// Actors (devices and containers) move through a small occupancy state machine
// (IDLE, LOCKED, OCCUPIED, ERRORED) that the engine drives as their events are
// proposed and completed.
//
// Every commit and actor transition passes through a Journal before it becomes
// visible. The memstore, sqlitestore, and neo4jstore packages implement Store,
// a Journal that can serve immutable snapshots back; Publisher and Replicate
// carry journal records to stores in other processes over gocloud pubsub.
package braid
