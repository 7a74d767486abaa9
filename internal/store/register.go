package store

import "github.com/roach88/flocksync/internal/strategy"

func init() {
	strategy.Register("sqlite", OpenDSN)
	strategy.Register("sqlite3", OpenDSN)
	strategy.Register("badger", OpenBadgerDSN)
}
