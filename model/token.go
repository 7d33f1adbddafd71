package model

import "time"

// Status token lifecycle state, detected → generating → uploading → ready → revealed,
// failed is terminal and reachable from any non-terminal state
type Status string

const (
	StatusDetected   Status = "detected"   //mint seen on chain, nothing rendered yet
	StatusGenerating Status = "generating" //claimed by the generation worker, render in flight
	StatusUploading  Status = "uploading"  //image rendered, pins outstanding
	StatusReady      Status = "ready"      //both content addresses set, awaiting reveal
	StatusRevealed   Status = "revealed"   //terminal, bound on chain to its metadata
	StatusFailed     Status = "failed"     //terminal, attempt budget exhausted or permanent error
)

// Author mint author identified by wallet address
type Author struct {
	Address   string    `json:"address" gorm:"type:CHAR(42);primaryKey"` //wallet address, lowercase
	Prompt    string    `json:"prompt" gorm:"type:VARCHAR(1000)"`        //image prompt, 1-1000 characters
	CreatedAt time.Time `json:"created_at"`
}

// Token one minted token and its pipeline state
type Token struct {
	TokenId    uint64     `json:"token_id" gorm:"primaryKey;autoIncrement:false"` //sequential id assigned by the contract
	Status     Status     `json:"status" gorm:"type:VARCHAR(16);index;default:detected"`
	Author     string     `json:"author" gorm:"type:CHAR(42);index"` //author wallet address
	Attempts   int        `json:"attempts"`                          //failed generation/upload attempts
	LastError  *string    `json:"last_error" gorm:"type:VARCHAR(512)"`
	ImageUrl   *string    `json:"image_url" gorm:"type:VARCHAR(1024)"` //renderer locator, time-limited
	ImageCid   *string    `json:"image_cid" gorm:"type:VARCHAR(64)"`   //pinned image content address
	MetaCid    *string    `json:"meta_cid" gorm:"type:VARCHAR(64)"`    //pinned metadata content address
	RevealTx   *string    `json:"reveal_tx" gorm:"type:CHAR(66)"`      //reveal transaction hash
	ClaimedBy  *string    `json:"-" gorm:"type:CHAR(36);index"`        //claimant lease, null when unclaimed
	ClaimedAt  *time.Time `json:"-"`
	DetectedAt time.Time  `json:"detected_at"`
}

// MintEvent accepted webhook delivery, deduplicated on (tx hash, log index)
type MintEvent struct {
	ID         uint64    `json:"id" gorm:"primaryKey"`
	TxHash     string    `json:"tx_hash" gorm:"type:CHAR(66);uniqueIndex:idx_tx_log"`
	LogIndex   uint      `json:"log_index" gorm:"uniqueIndex:idx_tx_log"`
	TokenId    uint64    `json:"token_id" gorm:"index"`
	Minter     string    `json:"minter" gorm:"type:CHAR(42)"`
	ReceivedAt time.Time `json:"received_at"`
}

// UploadRecord append-only audit of every pin attempt
type UploadRecord struct {
	ID        uint64    `json:"id" gorm:"primaryKey"`
	TokenId   uint64    `json:"token_id" gorm:"index"`
	Asset     string    `json:"asset" gorm:"type:VARCHAR(8)"` //image|metadata
	Ok        bool      `json:"ok"`
	Attempt   int       `json:"attempt"`
	Cid       *string   `json:"cid" gorm:"type:VARCHAR(64)"`
	Error     *string   `json:"error" gorm:"type:VARCHAR(512)"`
	CreatedAt time.Time `json:"created_at"`
}

// RevealBatch append-only audit of every submitted reveal transaction
type RevealBatch struct {
	TxHash      string    `json:"tx_hash" gorm:"type:CHAR(66);primaryKey"`
	TokenIds    string    `json:"token_ids" gorm:"type:TEXT"` //JSON array of member ids
	MetaUris    string    `json:"meta_uris" gorm:"type:TEXT"` //JSON array of metadata URIs
	Status      string    `json:"status" gorm:"type:VARCHAR(16)"` //pending|confirmed|failed
	GasLimit    uint64    `json:"gas_limit"`
	GasPrice    string    `json:"gas_price" gorm:"type:VARCHAR(32)"` //wei
	BlockNumber *uint64   `json:"block_number"`
	Error       *string   `json:"error" gorm:"type:VARCHAR(512)"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	BatchPending   = "pending"
	BatchConfirmed = "confirmed"
	BatchFailed    = "failed"
)
