package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/guileen/pglitepool/logger"
	"github.com/guileen/pglitepool/network"
)

const journalKeyPrefix = "pool-events/"

// Journal durably records pool events in Pebble, ordered by address and
// time, so a pool's history can be replayed after a restart.
type Journal struct {
	db  *pebble.DB
	seq atomic.Uint64
	log *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// OpenJournal opens or creates a journal in dir
func OpenJournal(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open event journal %s: %w", dir, err)
	}
	return &Journal{
		db:  db,
		log: logger.With(logger.Component("journal")),
	}, nil
}

// addressPrefix ends in a zero byte so one address is never a prefix of
// another's key range.
func addressPrefix(address string) []byte {
	return []byte(journalKeyPrefix + address + "\x00")
}

func addressUpperBound(address string) []byte {
	return []byte(journalKeyPrefix + address + "\x01")
}

func journalKey(address string, t time.Time, seq uint64) []byte {
	return fmt.Appendf(addressPrefix(address), "%020d/%020d", t.UnixNano(), seq)
}

// HandleEvent implements network.EventSink. Writes are not synced; a crash
// may lose the most recent events.
func (j *Journal) HandleEvent(evt *network.PoolEvent) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}

	value, err := json.Marshal(evt)
	if err != nil {
		j.log.Warn("encode pool event", logger.ErrorField(err))
		return
	}
	key := journalKey(evt.Address, evt.Time, j.seq.Add(1))
	if err := j.db.Set(key, value, pebble.NoSync); err != nil {
		j.log.Warn("write pool event", logger.ErrorField(err), "event", evt.Type)
	}
}

// Replay calls fn for each recorded event of address in the order recorded.
// It stops at the first error fn returns.
func (j *Journal) Replay(address string, fn func(evt network.PoolEvent) error) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return pebble.ErrClosed
	}

	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: addressPrefix(address),
		UpperBound: addressUpperBound(address),
	})
	if err != nil {
		return fmt.Errorf("open journal iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var evt network.PoolEvent
		if err := json.Unmarshal(iter.Value(), &evt); err != nil {
			return fmt.Errorf("decode journal entry %q: %w", iter.Key(), err)
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Prune deletes the events of address recorded before t
func (j *Journal) Prune(address string, before time.Time) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return pebble.ErrClosed
	}
	return j.db.DeleteRange(addressPrefix(address), journalKey(address, before, 0), pebble.Sync)
}

// Close flushes and closes the journal
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.db.Flush(); err != nil {
		j.log.Warn("flush event journal", logger.ErrorField(err))
	}
	return j.db.Close()
}
