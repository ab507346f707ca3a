package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/semmidev/keeper/internal/domain"
)

// Open returns the persistent store for driver. For "json" path is the data
// directory; for "sqlite" it is the database file, or a directory in which
// keeper.db is created.
func Open(driver, path string) (domain.Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "json":
		return NewJSON(path)
	case "sqlite", "sqlite3":
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "keeper.db")
		}
		return NewSQLite(path)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
