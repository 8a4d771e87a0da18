package sqlserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"repaircoord/coordination"
	"repaircoord/ring"
)

const segmentColumns = `run_id, segment_id, repair_unit_id, token_ranges, replicas, state,
            coordinator_host, start_time, end_time, fail_count, host_id`

func (s *Store) addSegments(ctx context.Context, segments []coordination.Segment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add segments tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, seg := range segments {
		if err := seg.Validate(); err != nil {
			return err
		}
		ranges, err := ring.MarshalRanges(seg.TokenRanges)
		if err != nil {
			return fmt.Errorf("encode token ranges of segment %s: %w", seg.ID, err)
		}
		replicas, err := json.Marshal(seg.Replicas)
		if err != nil {
			return fmt.Errorf("encode replicas of segment %s: %w", seg.ID, err)
		}
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO dbo.segments (`+segmentColumns+`)
     VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9, @p10, @p11)`,
			seg.RunID.String(),
			seg.ID.String(),
			seg.RepairUnitID.String(),
			ranges,
			string(replicas),
			int(seg.State),
			nullString(seg.CoordinatorHost),
			nullTime(seg.StartTime),
			nullTime(seg.EndTime),
			seg.FailCount,
			nullUUID(seg.HostID),
		)
		if err != nil {
			return fmt.Errorf("add segment %s: %w", seg.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add segments tx: %w", err)
	}
	return nil
}

func (s *Store) segmentsForRun(ctx context.Context, runID uuid.UUID) ([]coordination.Segment, error) {
	return s.querySegments(ctx,
		`SELECT `+segmentColumns+` FROM dbo.segments WHERE run_id = @p1 ORDER BY segment_id`,
		runID.String(),
	)
}

func (s *Store) segmentsWithState(ctx context.Context, runID uuid.UUID, state coordination.SegmentState) ([]coordination.Segment, error) {
	return s.querySegments(ctx,
		`SELECT `+segmentColumns+` FROM dbo.segments WHERE run_id = @p1 AND state = @p2 ORDER BY segment_id`,
		runID.String(),
		int(state),
	)
}

// getSegment reads from the primary; every level is linearizable here.
func (s *Store) getSegment(ctx context.Context, runID, segmentID uuid.UUID, _ coordination.ReadLevel) (coordination.Segment, bool, error) {
	segments, err := s.querySegments(ctx,
		`SELECT `+segmentColumns+` FROM dbo.segments WHERE run_id = @p1 AND segment_id = @p2`,
		runID.String(),
		segmentID.String(),
	)
	if err != nil {
		return coordination.Segment{}, false, err
	}
	if len(segments) == 0 {
		return coordination.Segment{}, false, nil
	}
	return segments[0], true, nil
}

func (s *Store) updateSegment(ctx context.Context, seg coordination.Segment) error {
	if err := seg.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE dbo.segments
     SET state = @p3,
         coordinator_host = @p4,
         start_time = @p5,
         end_time = @p6,
         fail_count = @p7,
         host_id = @p8
     WHERE run_id = @p1 AND segment_id = @p2`,
		seg.RunID.String(),
		seg.ID.String(),
		int(seg.State),
		nullString(seg.CoordinatorHost),
		nullTime(seg.StartTime),
		nullTime(seg.EndTime),
		seg.FailCount,
		nullUUID(seg.HostID),
	)
	if err != nil {
		return fmt.Errorf("update segment %s: %w", seg.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update segment %s: %w", seg.ID, coordination.ErrSegmentNotFound)
	}
	return nil
}

func (s *Store) runIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT run_id FROM dbo.segments ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("list run ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := parseNullUUID(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) querySegments(ctx context.Context, query string, args ...any) ([]coordination.Segment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segments []coordination.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

func scanSegment(rows *sql.Rows) (coordination.Segment, error) {
	var (
		seg                          coordination.Segment
		runID, segID, unitID, hostID sql.NullString
		ranges, replicas             string
		state                        int
		coordinator                  sql.NullString
		start, end                   sql.NullTime
	)
	if err := rows.Scan(&runID, &segID, &unitID, &ranges, &replicas, &state,
		&coordinator, &start, &end, &seg.FailCount, &hostID); err != nil {
		return coordination.Segment{}, err
	}
	var err error
	if seg.RunID, err = parseNullUUID(runID); err != nil {
		return coordination.Segment{}, err
	}
	if seg.ID, err = parseNullUUID(segID); err != nil {
		return coordination.Segment{}, err
	}
	if seg.RepairUnitID, err = parseNullUUID(unitID); err != nil {
		return coordination.Segment{}, err
	}
	if seg.HostID, err = parseNullUUID(hostID); err != nil {
		return coordination.Segment{}, err
	}
	if seg.TokenRanges, err = ring.UnmarshalRanges(ranges); err != nil {
		return coordination.Segment{}, fmt.Errorf("decode token ranges of segment %s: %w", seg.ID, err)
	}
	if err := json.Unmarshal([]byte(replicas), &seg.Replicas); err != nil {
		return coordination.Segment{}, fmt.Errorf("decode replicas of segment %s: %w", seg.ID, err)
	}
	seg.State = coordination.SegmentState(state)
	seg.CoordinatorHost = coordinator.String
	seg.StartTime = timeOrZero(start)
	seg.EndTime = timeOrZero(end)
	return seg, nil
}
