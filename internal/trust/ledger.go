package trust

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/warden/backend/internal/models"
)

// Store is the durable side of the ledger. Satisfied by
// repository.TrustRepository; nil runs the ledger memory-only.
type Store interface {
	LoadRecord(userID uuid.UUID) (*models.TrustRecord, error)
	SaveRecord(rec *models.TrustRecord) error
	AppendHistory(userID uuid.UUID, entry *models.TrustHistoryEntry) error
}

// consecutive durable-write failures before raising a process-level alert
const storeAlertThreshold = 5

type ledgerEntry struct {
	mu  sync.Mutex
	rec *models.TrustRecord
}

type persistJob struct {
	userID  uuid.UUID
	history *models.TrustHistoryEntry
}

// Ledger is the per-user trust state arena. Records are partitioned by
// user ID and individually locked; there is no global lock around state
// mutation. Reads and writes are in-memory-fast with an asynchronous
// write-behind to the durable store. A crash before the write-behind
// completes loses at most the latest decay/update, which is recomputable
// from timestamps.
type Ledger struct {
	store   Store
	machine *Machine

	mu      sync.Mutex
	entries map[uuid.UUID]*ledgerEntry

	persist chan persistJob
	done    chan struct{}

	failMu      sync.Mutex
	consecFails int
}

func NewLedger(store Store, machine *Machine) *Ledger {
	l := &Ledger{
		store:   store,
		machine: machine,
		entries: make(map[uuid.UUID]*ledgerEntry),
		persist: make(chan persistJob, 256),
		done:    make(chan struct{}),
	}
	go l.writeBehind()
	return l
}

// Close drains pending writes and stops the persister
func (l *Ledger) Close() {
	close(l.persist)
	<-l.done
}

// Update runs fn against the user's record under its lock, creating the
// record lazily when the user has never been seen. fn may return a
// history entry to persist alongside the record. The returned record is
// a clone safe to use outside the ledger.
func (l *Ledger) Update(userID uuid.UUID, fn func(rec *models.TrustRecord) (*models.TrustHistoryEntry, error)) (*models.TrustRecord, error) {
	entry, err := l.getEntry(userID, true)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	hist, err := fn(entry.rec)
	if err != nil {
		return nil, err
	}
	if err := entry.rec.Validate(); err != nil {
		return nil, fmt.Errorf("trust record invariant violated: %w", err)
	}

	l.enqueuePersist(persistJob{userID: userID, history: hist})
	return entry.rec.Clone(), nil
}

// Snapshot returns a decayed copy of the user's record, or nil when the
// user has never been seen. Snapshots do not create records.
func (l *Ledger) Snapshot(userID uuid.UUID) (*models.TrustRecord, error) {
	entry, err := l.getEntry(userID, false)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	l.machine.Touch(entry.rec)
	l.enqueuePersist(persistJob{userID: userID})
	return entry.rec.Clone(), nil
}

func (l *Ledger) getEntry(userID uuid.UUID, create bool) (*ledgerEntry, error) {
	l.mu.Lock()
	if e, ok := l.entries[userID]; ok {
		l.mu.Unlock()
		return e, nil
	}
	l.mu.Unlock()

	// Load outside the arena lock; a racing load for the same user is
	// resolved below, first registration wins.
	var rec *models.TrustRecord
	if l.store != nil {
		loaded, err := l.store.LoadRecord(userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load trust record: %w", err)
		}
		rec = loaded
	}
	if rec == nil {
		if !create {
			return nil, nil
		}
		rec = l.machine.NewRecord(userID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[userID]; ok {
		return e, nil
	}
	e := &ledgerEntry{rec: rec}
	l.entries[userID] = e
	return e, nil
}

func (l *Ledger) enqueuePersist(job persistJob) {
	if l.store == nil {
		return
	}
	select {
	case l.persist <- job:
	default:
		// Write-behind queue full; the record stays dirty in memory and
		// the next mutation re-enqueues it.
		log.Printf("Trust persist queue full, deferring write for %s", job.userID)
	}
}

func (l *Ledger) writeBehind() {
	defer close(l.done)
	for job := range l.persist {
		entry, err := l.getEntry(job.userID, false)
		if err != nil || entry == nil {
			continue
		}

		entry.mu.Lock()
		rec := entry.rec.Clone()
		entry.mu.Unlock()

		if err := l.store.SaveRecord(rec); err != nil {
			l.noteStoreFailure(err)
			continue
		}
		if job.history != nil {
			if err := l.store.AppendHistory(job.userID, job.history); err != nil {
				l.noteStoreFailure(err)
				continue
			}
		}
		l.noteStoreSuccess()
	}
}

func (l *Ledger) noteStoreFailure(err error) {
	l.failMu.Lock()
	defer l.failMu.Unlock()
	l.consecFails++
	log.Printf("Durable trust write failed (%d consecutive): %v", l.consecFails, err)
	if l.consecFails == storeAlertThreshold {
		log.Printf("ALERT: trust store unavailable, in-memory state still serving")
	}
}

func (l *Ledger) noteStoreSuccess() {
	l.failMu.Lock()
	defer l.failMu.Unlock()
	l.consecFails = 0
}
