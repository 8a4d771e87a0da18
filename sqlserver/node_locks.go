package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"repaircoord/coordination"
)

// applyNodeLocks checks every node of the batch under a serializable range
// lock on the run and writes them only when all conditions hold.
func (s *Store) applyNodeLocks(ctx context.Context, batch coordination.LockBatch) (coordination.LockResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return coordination.LockResult{}, fmt.Errorf("begin node lock tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := readNodeLocks(ctx, tx, batch.RunID, true)
	if err != nil {
		return coordination.LockResult{}, err
	}
	byNode := make(map[string]coordination.NodeLock, len(current))
	for _, lock := range current {
		byNode[lock.Node] = lock
	}

	var conflicts []coordination.NodeLock
	for _, node := range batch.Nodes {
		lock, ok := byNode[node]
		if !ok {
			lock = coordination.NodeLock{RunID: batch.RunID, Node: node}
		}
		if !conditionHolds(batch, lock) {
			conflicts = append(conflicts, lock)
		}
	}
	if len(conflicts) > 0 {
		s.logger.Debug("node_lock_batch_rejected",
			zap.Stringer("op", batch.Op),
			zap.Stringer("run_id", batch.RunID),
			zap.Int("conflicts", len(conflicts)),
		)
		return coordination.LockResult{Conflicts: conflicts}, nil
	}

	for _, node := range batch.Nodes {
		if err := writeNodeLock(ctx, tx, batch, node); err != nil {
			return coordination.LockResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return coordination.LockResult{}, fmt.Errorf("commit node lock tx: %w", err)
	}
	return coordination.LockResult{Applied: true}, nil
}

func conditionHolds(batch coordination.LockBatch, current coordination.NodeLock) bool {
	if batch.Op == coordination.LockAcquire {
		return !current.Held()
	}
	return current.OwnerID == batch.Owner
}

func writeNodeLock(ctx context.Context, tx *sql.Tx, batch coordination.LockBatch, node string) error {
	var (
		owner, segment, address sql.NullString
		ttlMs                   sql.NullInt64
	)
	if batch.Op != coordination.LockRelease {
		owner = nullUUID(batch.Owner)
		segment = nullUUID(batch.SegmentID)
		address = nullString(batch.OwnerAddress)
		ttlMs = sql.NullInt64{Int64: batch.TTL.Milliseconds(), Valid: true}
	}
	_, err := tx.ExecContext(
		ctx,
		`UPDATE dbo.node_locks
     SET owner_id = @p3,
         owner_address = @p4,
         segment_id = @p5,
         expires_at = DATEADD(MILLISECOND, @p6, SYSUTCDATETIME())
     WHERE run_id = @p1 AND node = @p2;
     IF @@ROWCOUNT = 0
       INSERT INTO dbo.node_locks (run_id, node, owner_id, owner_address, segment_id, expires_at)
       VALUES (@p1, @p2, @p3, @p4, @p5, DATEADD(MILLISECOND, @p6, SYSUTCDATETIME()));`,
		batch.RunID.String(),
		node,
		owner,
		address,
		segment,
		ttlMs,
	)
	if err != nil {
		return fmt.Errorf("%s node lock %s/%s: %w", batch.Op, batch.RunID, node, err)
	}
	return nil
}

func (s *Store) listNodeLocks(ctx context.Context, runID uuid.UUID) ([]coordination.NodeLock, error) {
	return readNodeLocks(ctx, s.db, runID, false)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// readNodeLocks returns the rows of a run with expired owners shown as free.
func readNodeLocks(ctx context.Context, q queryer, runID uuid.UUID, forUpdate bool) ([]coordination.NodeLock, error) {
	hint := ""
	if forUpdate {
		hint = " WITH (UPDLOCK, HOLDLOCK)"
	}
	rows, err := q.QueryContext(
		ctx,
		strings.Join([]string{
			`SELECT node,
            CASE WHEN expires_at > SYSUTCDATETIME() THEN owner_id END,
            CASE WHEN expires_at > SYSUTCDATETIME() THEN owner_address END,
            CASE WHEN expires_at > SYSUTCDATETIME() THEN segment_id END
     FROM dbo.node_locks` + hint,
			`WHERE run_id = @p1
     ORDER BY node`,
		}, "\n     "),
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list node locks for run %s: %w", runID, err)
	}
	defer rows.Close()

	var locks []coordination.NodeLock
	for rows.Next() {
		var (
			lock                    = coordination.NodeLock{RunID: runID}
			owner, address, segment sql.NullString
		)
		if err := rows.Scan(&lock.Node, &owner, &address, &segment); err != nil {
			return nil, err
		}
		if lock.OwnerID, err = parseNullUUID(owner); err != nil {
			return nil, err
		}
		if lock.SegmentID, err = parseNullUUID(segment); err != nil {
			return nil, err
		}
		lock.OwnerAddress = address.String
		locks = append(locks, lock)
	}
	return locks, rows.Err()
}
