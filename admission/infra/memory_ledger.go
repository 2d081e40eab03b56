package infra

import (
	"context"
	"sort"
	"sync"

	"serial-allocator/admission/domain"

	"github.com/pkg/errors"
)

type serialSlot struct {
	key    domain.Key
	serial domain.Serial
}

// MemoryLedger é o storage durável em memória: TxRunner com lock por chave
// (equivalente ao FOR UPDATE) e escritas só visíveis no commit, e Persister
// idempotente por referência.
type MemoryLedger struct {
	mu       sync.Mutex
	counters map[domain.Key]domain.Counter
	records  map[domain.Reference]storedRecord
	serials  map[serialSlot]domain.Reference
	nextID   int64

	locks *MemoryLocker

	commitHook  func(n int) error
	persistHook func(rec domain.Record) error
	commits     int
}

type storedRecord struct {
	id  domain.DurableID
	rec domain.Record
}

type MemoryLedgerOption func(*MemoryLedger)

// WithCommitHook é chamado antes de cada commit com o número sequencial do
// commit (começa em 1); um erro faz rollback. Serve para injetar falhas transitórias.
func WithCommitHook(fn func(n int) error) MemoryLedgerOption {
	return func(l *MemoryLedger) { l.commitHook = fn }
}

// WithPersistHook é chamado antes de cada Persist; um erro aborta a escrita.
func WithPersistHook(fn func(rec domain.Record) error) MemoryLedgerOption {
	return func(l *MemoryLedger) { l.persistHook = fn }
}

func NewMemoryLedger(opts ...MemoryLedgerOption) *MemoryLedger {
	l := &MemoryLedger{
		counters: make(map[domain.Key]domain.Counter),
		records:  make(map[domain.Reference]storedRecord),
		serials:  make(map[serialSlot]domain.Reference),
		locks:    NewMemoryLocker(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type memTx struct {
	l        *MemoryLedger
	leases   []domain.Lease
	held     map[domain.Key]bool
	counters map[domain.Key]domain.Counter
	records  []domain.Record
	ids      []domain.DurableID
}

func (l *MemoryLedger) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx := &memTx{l: l, held: make(map[domain.Key]bool), counters: make(map[domain.Key]domain.Counter)}
	defer func() {
		for _, lease := range tx.leases {
			_ = lease.Release(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return l.commit(tx)
}

func (l *MemoryLedger) commit(tx *memTx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.commits++
	if l.commitHook != nil {
		if err := l.commitHook(l.commits); err != nil {
			return err
		}
	}
	for _, rec := range tx.records {
		if _, ok := l.records[rec.Reference]; ok {
			return errors.Errorf("duplicate reference %s", rec.Reference)
		}
		if _, ok := l.serials[serialSlot{rec.Key, rec.Serial}]; ok {
			return errors.Wrapf(domain.ErrDuplicateSerial, "%s serial %d", rec.Key, rec.Serial)
		}
	}
	for k, c := range tx.counters {
		l.counters[k] = c
	}
	for i, rec := range tx.records {
		l.records[rec.Reference] = storedRecord{id: tx.ids[i], rec: rec}
		l.serials[serialSlot{rec.Key, rec.Serial}] = rec.Reference
	}
	return nil
}

func (t *memTx) LockCounter(ctx context.Context, key domain.Key) (domain.Counter, error) {
	if !t.held[key] {
		// sem limite próprio: a espera termina pelo ctx, como um FOR UPDATE.
		lease, err := t.l.locks.Acquire(ctx, key)
		if err != nil {
			return domain.Counter{}, err
		}
		t.leases = append(t.leases, lease)
		t.held[key] = true
	}
	if c, ok := t.counters[key]; ok {
		return c, nil
	}
	t.l.mu.Lock()
	c, ok := t.l.counters[key]
	t.l.mu.Unlock()
	if !ok {
		c = domain.Counter{Key: key}
	}
	return c, nil
}

func (t *memTx) SaveCounter(_ context.Context, c domain.Counter) error {
	if !t.held[c.Key] {
		return errors.Errorf("counter %s saved without lock", c.Key)
	}
	t.counters[c.Key] = c
	return nil
}

func (t *memTx) InsertRecord(_ context.Context, rec domain.Record) (domain.DurableID, error) {
	t.l.mu.Lock()
	t.l.nextID++
	id := domain.DurableID(t.l.nextID)
	t.l.mu.Unlock()
	t.records = append(t.records, rec)
	t.ids = append(t.ids, id)
	return id, nil
}

func (l *MemoryLedger) Persist(_ context.Context, rec domain.Record) (domain.DurableID, error) {
	if l.persistHook != nil {
		if err := l.persistHook(rec); err != nil {
			return 0, err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.records[rec.Reference]; ok {
		return s.id, nil
	}
	slot := serialSlot{rec.Key, rec.Serial}
	if other, ok := l.serials[slot]; ok {
		return 0, errors.Wrapf(domain.ErrDuplicateSerial, "%s serial %d held by %s", rec.Key, rec.Serial, other)
	}
	l.nextID++
	id := domain.DurableID(l.nextID)
	l.records[rec.Reference] = storedRecord{id: id, rec: rec}
	l.serials[slot] = rec.Reference
	return id, nil
}

// Records devolve os registros de key ordenados por serial.
func (l *MemoryLedger) Records(key domain.Key) []domain.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Record
	for _, s := range l.records {
		if s.rec.Key == key {
			out = append(out, s.rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

func (l *MemoryLedger) Counter(key domain.Key) (domain.Counter, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters[key]
	return c, ok
}

func (l *MemoryLedger) DurableID(ref domain.Reference) (domain.DurableID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.records[ref]
	return s.id, ok
}
