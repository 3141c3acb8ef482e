package domain

// Stage is a transfer's coarse lifecycle position.
type Stage string

const (
	StageDownload Stage = "download"
	StageUpload   Stage = "upload"
	StageDone     Stage = "done"
	StageError    Stage = "error"
)

// Terminal reports whether no further transitions are possible from the stage.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageError
}

// TransferKind selects the delivery method and the per-user concurrency ceiling.
type TransferKind string

const (
	TransferKindMirror TransferKind = "mirror"
	TransferKindAudio  TransferKind = "audio"
)

// TransferSnapshot is a read-only copy of an in-flight transfer, exposed
// to the admin API.
type TransferSnapshot struct {
	ID          string  `json:"id"`
	ChatID      int64   `json:"chat_id"`
	UserID      int64   `json:"user_id"`
	Label       string  `json:"label"`
	Stage       Stage   `json:"stage"`
	Percent     float64 `json:"percent"`
	Downloaded  int64   `json:"downloaded"`
	Total       int64   `json:"total,omitempty"`
	SpeedBps    float64 `json:"speed_bps,omitempty"`
	UserDisplay string  `json:"user_display"`
}
