package usecase

import (
	"fmt"
	"strings"
)

// BackupTrigger turns a backup interval into a cron spec. The named
// intervals run at minute zero (hourly) or at 02:00 local time (daily,
// weekly on Sunday); anything else is taken as a cron expression.
func BackupTrigger(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "hourly":
		return "0 * * * *"
	case "daily":
		return "0 2 * * *"
	case "weekly":
		return "0 2 * * 0"
	default:
		return strings.TrimSpace(interval)
	}
}

// MonitorTrigger fires every minutes minutes, counted from registration.
func MonitorTrigger(minutes int) string {
	return fmt.Sprintf("@every %dm", minutes)
}
