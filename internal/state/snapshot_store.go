// ./internal/state/snapshot_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/farmworks/pointsfarm/internal/types"
)

// SnapshotKind distinguishes periodic checkpoints from the terminal
// migration export.
type SnapshotKind string

const (
	KindCheckpoint SnapshotKind = "checkpoint"
	KindMigration  SnapshotKind = "migration"
)

// SnapshotMeta describes a stored snapshot without its payload.
type SnapshotMeta struct {
	RowID        int64        `json:"rowId"`
	UUID         string       `json:"uuid"`
	TakenAtBlock uint64       `json:"takenAtBlock"`
	Timestamp    time.Time    `json:"timestamp"`
	Kind         SnapshotKind `json:"kind"`
}

// MigrationProvenance records how a migration snapshot was produced.
type MigrationProvenance struct {
	ExcludedAccounts    []string
	RemappedAccounts    map[string]string
	SuccessorStartBlock uint64
}

// SaveSnapshot stores a ledger snapshot. Provenance is nil for plain
// checkpoints.
func SaveSnapshot(snap types.Snapshot, kind SnapshotKind, prov *MigrationProvenance) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	scheduleJSON, err := json.Marshal(snap.Schedule)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal schedule: %w", err)
	}
	poolsJSON, err := json.Marshal(snap.Pools)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal pools: %w", err)
	}
	usersJSON, err := json.Marshal(snap.Users)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal users: %w", err)
	}

	var excluded interface{}
	var remapped interface{}
	var successorStart interface{}
	if prov != nil {
		excluded = pq.Array(prov.ExcludedAccounts)
		remappedJSON, err := json.Marshal(prov.RemappedAccounts)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal remapped_accounts: %w", err)
		}
		remapped = remappedJSON
		successorStart = int64(prov.SuccessorStartBlock)
	}

	query := `
		INSERT INTO ledger_snapshots (
			snapshot_uuid, taken_at_block, kind,
			schedule, pools, users,
			excluded_accounts, remapped_accounts, successor_start_block
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING snapshot_id;
	`

	var rowID int64
	err = DB.QueryRow(
		query,
		snap.ID, int64(snap.TakenAtBlock), string(kind),
		scheduleJSON, poolsJSON, usersJSON,
		excluded, remapped, successorStart,
	).Scan(&rowID)
	if err != nil {
		return 0, fmt.Errorf("failed to save ledger snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", rowID).
		Str("uuid", snap.ID).
		Uint64("taken_at_block", snap.TakenAtBlock).
		Str("kind", string(kind)).
		Int("pools", len(snap.Pools)).
		Int("users", len(snap.Users)).
		Msg("Ledger snapshot saved to database")

	return rowID, nil
}

// LoadLatestSnapshot returns the most recent snapshot of the given kind, or
// sql.ErrNoRows when none exists.
func LoadLatestSnapshot(kind SnapshotKind) (types.Snapshot, error) {
	if DB == nil {
		return types.Snapshot{}, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT snapshot_uuid, taken_at_block, schedule, pools, users
		FROM ledger_snapshots
		WHERE kind = $1
		ORDER BY snapshot_id DESC
		LIMIT 1;
	`
	return scanSnapshot(DB.QueryRow(query, string(kind)))
}

// LoadSnapshot returns one snapshot by its UUID.
func LoadSnapshot(uuid string) (types.Snapshot, error) {
	if DB == nil {
		return types.Snapshot{}, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT snapshot_uuid, taken_at_block, schedule, pools, users
		FROM ledger_snapshots
		WHERE snapshot_uuid = $1;
	`
	return scanSnapshot(DB.QueryRow(query, uuid))
}

func scanSnapshot(row *sql.Row) (types.Snapshot, error) {
	var snap types.Snapshot
	var takenAt int64
	var scheduleJSON, poolsJSON, usersJSON []byte

	if err := row.Scan(&snap.ID, &takenAt, &scheduleJSON, &poolsJSON, &usersJSON); err != nil {
		return types.Snapshot{}, err
	}
	snap.TakenAtBlock = uint64(takenAt)

	if err := json.Unmarshal(scheduleJSON, &snap.Schedule); err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}
	if err := json.Unmarshal(poolsJSON, &snap.Pools); err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to unmarshal pools: %w", err)
	}
	if err := json.Unmarshal(usersJSON, &snap.Users); err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to unmarshal users: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns metadata for the most recent snapshots, newest
// first.
func ListSnapshots(limit int) ([]SnapshotMeta, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT snapshot_id, snapshot_uuid, taken_at_block, snapshot_timestamp, kind
		FROM ledger_snapshots
		ORDER BY snapshot_id DESC
		LIMIT $1;
	`
	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotMeta
	for rows.Next() {
		var m SnapshotMeta
		var takenAt int64
		var kind string
		if err := rows.Scan(&m.RowID, &m.UUID, &takenAt, &m.Timestamp, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		m.TakenAtBlock = uint64(takenAt)
		m.Kind = SnapshotKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}
