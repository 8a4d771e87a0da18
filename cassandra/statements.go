package cassandra

import "fmt"

const (
	stmtListLeases = `SELECT lease_id, owner_id, owner_address, last_renewal FROM leases`

	stmtDeleteLease = `DELETE FROM leases WHERE lease_id = ? IF owner_id = ?`

	stmtDeleteHeartbeat = `DELETE FROM heartbeats WHERE instance_id = ?`

	stmtListHeartbeats = `SELECT instance_id, address, last_heartbeat FROM heartbeats`

	stmtUpdateNodeLock = `UPDATE node_locks USING TTL ?
		SET owner_address = ?, owner_id = ?, segment_id = ?
		WHERE run_id = ? AND node = ?
		IF owner_id = ?`

	stmtListNodeLocks = `SELECT run_id, node, owner_id, owner_address, segment_id FROM node_locks WHERE run_id = ?`

	stmtInsertSegment = `INSERT INTO segments (
		run_id, segment_id, repair_unit_id, token_ranges, replicas, state, fail_count
	) VALUES (?, ?, ?, ?, ?, ?, ?)`

	stmtUpdateSegment = `INSERT INTO segments (
		run_id, segment_id, state, coordinator_host, start_time, fail_count, host_id
	) VALUES (?, ?, ?, ?, ?, ?, ?)`

	stmtUpdateSegmentEndTime = `INSERT INTO segments (run_id, segment_id, end_time) VALUES (?, ?, ?)`

	segmentColumns = `run_id, segment_id, repair_unit_id, token_ranges, replicas, state,
		coordinator_host, start_time, end_time, fail_count, host_id`

	stmtGetSegment = `SELECT ` + segmentColumns + ` FROM segments WHERE run_id = ? AND segment_id = ?`

	stmtSegmentsForRun = `SELECT ` + segmentColumns + ` FROM segments WHERE run_id = ?`

	stmtRunIDs = `SELECT DISTINCT run_id FROM segments`

	stmtLocalVersion = `SELECT release_version FROM system.local`

	stmtPeerVersions = `SELECT release_version FROM system.peers`
)

// statements holds the CQL that embeds the server-side time function.
type statements struct {
	insertLease   string
	renewLease    string
	saveHeartbeat string
}

func newStatements(timeFn string) statements {
	return statements{
		insertLease: fmt.Sprintf(`INSERT INTO leases (lease_id, owner_id, owner_address, last_renewal)
		VALUES (?, ?, ?, %s(now()))
		IF NOT EXISTS USING TTL ?`, timeFn),
		renewLease: fmt.Sprintf(`UPDATE leases USING TTL ?
		SET owner_id = ?, owner_address = ?, last_renewal = %s(now())
		WHERE lease_id = ?
		IF owner_id = ?`, timeFn),
		saveHeartbeat: fmt.Sprintf(`INSERT INTO heartbeats (instance_id, address, last_heartbeat)
		VALUES (?, ?, %s(now())) USING TTL ?`, timeFn),
	}
}
