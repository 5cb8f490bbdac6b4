package store

import (
	"time"
)

// Run kinds.
const (
	KindLine   = "line"
	KindModule = "module"
)

// Run statuses.
const (
	StatusPending = "PENDING"
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// ValidKind reports whether kind names a supported run family.
func ValidKind(kind string) bool {
	return kind == KindLine || kind == KindModule
}

// User represents an account in the system. New registrations start
// unapproved; an admin must approve them before login succeeds.
type User struct {
	UserID       string    `gorm:"primaryKey" json:"user_id"`
	PasswordHash string    `gorm:"not null" json:"-"`
	IsAdmin      bool      `gorm:"not null;default:false" json:"is_admin"`
	IsApproved   bool      `gorm:"not null;default:false" json:"is_approved"`
	CreatedAt    time.Time `json:"created_at"`
}

// Run is the durable record of one admitted test run. It carries the
// coarse status that survives restarts; fine-grained per-target progress
// lives only in the ephemeral run-state store.
type Run struct {
	RunID             string    `gorm:"primaryKey" json:"run_id"`
	Owner             string    `gorm:"index;not null" json:"owner"`
	Kind              string    `gorm:"index;not null" json:"kind"`
	Status            string    `gorm:"not null" json:"status"`
	RequestedAt       time.Time `gorm:"not null" json:"requested_at"`
	RawResultPath     *string   `json:"raw_result_path"`
	SummaryResultPath *string   `json:"summary_result_path"`
	OldVersion        *string   `json:"old_version,omitempty"`
	NewVersion        *string   `json:"new_version,omitempty"`
}

// LineConfig describes a development line available for line-kind runs.
type LineConfig struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	BusinessUnit string `gorm:"index;not null" json:"business_unit"`
	LineName     string `gorm:"uniqueIndex;not null" json:"line_name"`
	HomeDirPath  string `gorm:"not null" json:"home_dir_path"`
	IsTargetLine bool   `gorm:"not null;default:false" json:"is_target_line"`
}

// ModuleConfig describes a module server available for module-kind runs.
type ModuleConfig struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	ModuleName  string `gorm:"uniqueIndex;not null" json:"module_name"`
	HomeDirPath string `gorm:"not null" json:"home_dir_path"`
}

// Favorite is a user's bookmarked rule on a module server.
type Favorite struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Owner      string `gorm:"index;not null" json:"owner"`
	RuleName   string `gorm:"not null" json:"rule_name"`
	ModuleName string `gorm:"not null" json:"module_name"`
}
