package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"serial-allocator/admission/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = domain.NewKey(5, domain.Date{Year: 2024, Month: time.January, Day: 1})

func testEvent(ref domain.Reference) domain.Event {
	return domain.Event{
		Reference:  ref,
		ResourceID: testKey.ResourceID,
		Date:       testKey.Date,
		Serial:     1,
		Payload:    []byte(`{"patientId":9}`),
		Attempt:    1,
		QueuedAt:   time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestMemoryLocker_TimeoutAndRelease(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	lease, err := l.TryAcquire(ctx, testKey, time.Second)
	require.NoError(t, err)
	assert.Equal(t, testKey, lease.Key())

	_, err = l.TryAcquire(ctx, testKey, 10*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrLockTimeout)

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx), "second release is a no-op")

	again, err := l.TryAcquire(ctx, testKey, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryCounterStore_ExpiresLazily(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	s := NewMemoryCounterStore(WithCounterClock(func() time.Time { return now }))
	ctx := context.Background()

	n, err := s.Increment(ctx, testKey)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NoError(t, s.ExpireAt(ctx, testKey, now.Add(time.Hour)))
	n, _ = s.Increment(ctx, testKey)
	assert.EqualValues(t, 2, n)
	n, _ = s.Decrement(ctx, testKey)
	assert.EqualValues(t, 1, n)

	now = now.Add(2 * time.Hour)
	assert.EqualValues(t, 0, s.Value(testKey))
	s.Cleanup()
	n, _ = s.Increment(ctx, testKey)
	assert.EqualValues(t, 1, n, "expired counter restarts")
}

func TestMemoryStatusTracker_TerminalIsImmutable(t *testing.T) {
	s := NewMemoryStatusTracker(time.Hour)
	ctx := context.Background()

	require.NoError(t, s.SetPending(ctx, "r1"))
	require.NoError(t, s.SetRetrying(ctx, "r1", 2, errors.New("timeout")))
	st, _ := s.GetStatus(ctx, "r1")
	assert.Equal(t, domain.StatePending, st.State)
	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, "timeout", st.Error)

	require.NoError(t, s.SetCompleted(ctx, "r1", 42))
	require.NoError(t, s.SetFailed(ctx, "r1", errors.New("late")))
	require.NoError(t, s.SetPending(ctx, "r1"))

	st, _ = s.GetStatus(ctx, "r1")
	assert.Equal(t, domain.StateCompleted, st.State)
	assert.Equal(t, domain.DurableID(42), st.DurableID)
	assert.Empty(t, st.Error)
}

func TestMemoryStatusTracker_ExpiresToUnknown(t *testing.T) {
	s := NewMemoryStatusTracker(time.Minute)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.SetPending(ctx, "r1"))
	now = now.Add(2 * time.Minute)

	st, err := s.GetStatus(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateUnknown, st.State)
	assert.Equal(t, domain.Reference("r1"), st.Reference)
}

func TestMemoryQueue_SettlementSemantics(t *testing.T) {
	q := NewMemoryQueue(5 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, testEvent("r1")))
	require.NoError(t, q.Publish(ctx, testEvent("r2")))

	ds, err := q.Claim(ctx, "c-0", 10)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, domain.Reference("r1"), ds[0].Event.Reference)
	assert.Equal(t, "c-0", ds[0].Consumer)

	require.NoError(t, q.Ack(ctx, ds[0]))
	assert.ErrorIs(t, q.Ack(ctx, ds[0]), domain.ErrNotFound, "a delivery settles once")

	require.NoError(t, q.Requeue(ctx, ds[1], "boom"))
	again, err := q.Claim(ctx, "c-0", 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 2, again[0].Event.Attempt)

	require.NoError(t, q.DeadLetter(ctx, again[0], "gave up"))
	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "gave up", dead[0].Reason)

	ready, inflight := q.Depth()
	assert.Zero(t, ready)
	assert.Zero(t, inflight)

	empty, err := q.Claim(ctx, "c-0", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryQueue_ClaimWakesOnPublish(t *testing.T) {
	q := NewMemoryQueue(time.Second)
	ctx := context.Background()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Publish(ctx, testEvent("late"))
	}()

	start := time.Now()
	ds, err := q.Claim(ctx, "c-0", 1)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMemoryQueue_UndecodablePayload(t *testing.T) {
	q := NewMemoryQueue(5 * time.Millisecond)
	q.PublishRaw([]byte(`{"serial":1}`))

	ds, err := q.Claim(context.Background(), "c-0", 1)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Error(t, ds[0].DecodeErr)
	assert.Contains(t, ds[0].DecodeErr.Error(), "missing reference")
}

func TestMemoryLedger_PersistIsIdempotentByReference(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	rec := testEvent("r1").Record()

	id1, err := l.Persist(ctx, rec)
	require.NoError(t, err)
	id2, err := l.Persist(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	other := rec
	other.Reference = "r2"
	_, err = l.Persist(ctx, other)
	assert.ErrorIs(t, err, domain.ErrDuplicateSerial)
	assert.Len(t, l.Records(testKey), 1)
}

func TestMemoryLedger_RollbackDiscardsWrites(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	boom := errors.New("boom")

	err := l.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		c, err := tx.LockCounter(ctx, testKey)
		if err != nil {
			return err
		}
		c.IssuedCount++
		c.IssuedSerial++
		if err := tx.SaveCounter(ctx, c); err != nil {
			return err
		}
		if _, err := tx.InsertRecord(ctx, testEvent("r1").Record()); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok := l.Counter(testKey)
	assert.False(t, ok)
	assert.Empty(t, l.Records(testKey))

	// o lock da chave foi devolvido
	err = l.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.LockCounter(ctx, testKey)
		return err
	})
	assert.NoError(t, err)
}

func TestMemoryLedger_SaveWithoutLockFails(t *testing.T) {
	l := NewMemoryLedger()
	err := l.InTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.SaveCounter(ctx, domain.Counter{Key: testKey, IssuedCount: 1})
	})
	assert.Error(t, err)
}

func TestStaticLookup(t *testing.T) {
	rs, err := ParseStaticResources("5:1:1:50, 6:2:1:30,")
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, domain.Resource{ID: 5, DoctorID: 1, HospitalID: 1, Capacity: 50}, rs[0])

	l := NewStaticLookup(rs...)
	r, err := l.Lookup(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 6, r.ID)
	assert.EqualValues(t, 30, r.Capacity)

	_, err = l.Lookup(context.Background(), 9, 9)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for _, bad := range []string{"5:1:1", "5:1:1:0", "a:b:c:d"} {
		_, err := ParseStaticResources(bad)
		assert.Error(t, err, "expected error for %q", bad)
	}
}

func TestKeySpace(t *testing.T) {
	k := NewKeySpace(" booking: ")
	assert.Equal(t, "booking:serial:5:2024-01-01", k.Counter(testKey))
	assert.Equal(t, "booking:lock:5:2024-01-01", k.Lock(testKey))
	assert.Equal(t, "booking:status:abc", k.Status("abc"))
	assert.Equal(t, "booking:events:dead", k.DeadStream())
	assert.Equal(t, "appt", NewKeySpace("").Prefix)
}
