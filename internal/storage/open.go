package storage

import (
	"errors"
	"strings"

	logx "driftnote/pkg/logx"
)

// Open initializes the configured store. An empty driver selects "memory".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory", "mem":
		log.Warn("memory storage selected; entries are lost on restart")
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
