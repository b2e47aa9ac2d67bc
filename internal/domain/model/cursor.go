package model

import "time"

// SyncCheckpoint is the singleton cursor recording the last fully processed
// block. An absent row means "unset"; block 0 is a legitimate value.
type SyncCheckpoint struct {
	ID                 string    `db:"id" json:"id"`
	LastProcessedBlock int64     `db:"last_processed_block" json:"last_processed_block"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// CheckpointID is the id of the singleton sync checkpoint row.
const CheckpointID = "auction"
