package journal

import (
	"time"

	"gorm.io/datatypes"
)

// RunModel 是一次同步运行的汇总 (pipeline.Report 的投影)
type RunModel struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)"`
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time
	Status     string `gorm:"type:varchar(16);index"` // ok | failed | cancelled

	Assets        int
	Discovered    int
	AlbumsCreated int
	Hashed        int
	Unavailable   int
	Checked       int
	Present       int
	Uploaded      int
	Deduplicated  int
	Reconciled    int
	Unchanged     int
	Failed        int
	Cancelled     int

	// Errors: [{"stage": "...", "asset": "...", "variant": "...", "error": "..."}]
	Errors datatypes.JSON
}

func (RunModel) TableName() string {
	return "runs"
}

// UploadModel 记录每一次成功的上传
type UploadModel struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       string `gorm:"index;type:varchar(36);not null"`
	Fingerprint string `gorm:"index;type:char(32);not null"`
	RemoteID    int64  `gorm:"not null"`
	AssetID     string `gorm:"type:varchar(64)"`
	Path        string `gorm:"type:text"`
	Name        string `gorm:"type:varchar(255)"`
	Size        int64
	Chunks      int
	DurationMs  int64
	CreatedAt   time.Time
}

func (UploadModel) TableName() string {
	return "uploads"
}

// ErrorEntry 是 RunModel.Errors 里的一项
type ErrorEntry struct {
	Stage   string `json:"stage"`
	Asset   string `json:"asset,omitempty"`
	Variant string `json:"variant,omitempty"`
	Error   string `json:"error"`
}
