package infra

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"serial-allocator/admission/domain"
	dbschema "serial-allocator/db"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	sqlEnsureCounter = `
INSERT INTO appointment_counters (doctor_hospital_id, appointment_date, current_serial, appointment_count, updated_at)
VALUES ($1, $2::date, 0, 0, now())
ON CONFLICT (doctor_hospital_id, appointment_date) DO NOTHING`

	sqlLockCounter = `
SELECT current_serial, appointment_count, updated_at
FROM appointment_counters
WHERE doctor_hospital_id = $1 AND appointment_date = $2::date
FOR UPDATE`

	sqlSaveCounter = `
UPDATE appointment_counters
SET current_serial = $3, appointment_count = $4, updated_at = $5
WHERE doctor_hospital_id = $1 AND appointment_date = $2::date`

	sqlInsertRecord = `
INSERT INTO appointments (reference, doctor_hospital_id, appointment_date, serial_number, payload, created_at)
VALUES ($1, $2, $3::date, $4, $5, $6)
RETURNING id`

	sqlPersistRecord = `
INSERT INTO appointments (reference, doctor_hospital_id, appointment_date, serial_number, payload, created_at)
VALUES ($1, $2, $3::date, $4, $5, $6)
ON CONFLICT (reference) DO NOTHING
RETURNING id`

	sqlRecordByReference = `SELECT id FROM appointments WHERE reference = $1`

	sqlLookupResource = `
SELECT id, doctor_id, hospital_id, daily_patient_limit
FROM doctor_hospitals
WHERE doctor_id = $1 AND hospital_id = $2`
)

// PGStore é o storage durável em Postgres: TxRunner da estratégia transacional,
// Persister dos workers e CapacityLookup da API.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// OpenPostgres abre o pool e valida a conexão.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return conn, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.PingContext(ctx), "ping postgres")
}

// Migrate aplica db/schema.sql.
func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, dbschema.Schema)
	return errors.Wrap(err, "apply schema")
}

// InTx roda fn em uma transação READ COMMITTED. O lock de linha vem do
// SELECT ... FOR UPDATE em LockCounter.
func (s *PGStore) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err, "begin tx")
	}
	if err := fn(ctx, pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return classify(tx.Commit(), "commit tx")
}

type pgTx struct {
	tx *sql.Tx
}

func (t pgTx) LockCounter(ctx context.Context, key domain.Key) (domain.Counter, error) {
	date := key.Date.String()
	if _, err := t.tx.ExecContext(ctx, sqlEnsureCounter, key.ResourceID, date); err != nil {
		return domain.Counter{}, classify(err, "ensure counter")
	}

	c := domain.Counter{Key: key}
	err := t.tx.QueryRowContext(ctx, sqlLockCounter, key.ResourceID, date).
		Scan(&c.IssuedSerial, &c.IssuedCount, &c.UpdatedAt)
	if err != nil {
		return domain.Counter{}, classify(err, "lock counter")
	}
	return c, nil
}

func (t pgTx) SaveCounter(ctx context.Context, c domain.Counter) error {
	_, err := t.tx.ExecContext(ctx, sqlSaveCounter,
		c.Key.ResourceID, c.Key.Date.String(), c.IssuedSerial, c.IssuedCount, c.UpdatedAt)
	return classify(err, "save counter")
}

func (t pgTx) InsertRecord(ctx context.Context, rec domain.Record) (domain.DurableID, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, sqlInsertRecord,
		string(rec.Reference), rec.Key.ResourceID, rec.Key.Date.String(), int64(rec.Serial), rec.Payload, rec.CreatedAt).
		Scan(&id)
	if err != nil {
		return 0, classify(err, "insert appointment")
	}
	return domain.DurableID(id), nil
}

// Persist grava o registro final fora de transação de contador. É idempotente
// por referência: um replay devolve o id já gravado.
func (s *PGStore) Persist(ctx context.Context, rec domain.Record) (domain.DurableID, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, sqlPersistRecord,
		string(rec.Reference), rec.Key.ResourceID, rec.Key.Date.String(), int64(rec.Serial), rec.Payload, rec.CreatedAt).
		Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx, sqlRecordByReference, string(rec.Reference)).Scan(&id)
	}
	if err != nil {
		return 0, classify(err, "persist appointment "+string(rec.Reference))
	}
	return domain.DurableID(id), nil
}

func (s *PGStore) Lookup(ctx context.Context, doctorID, hospitalID int64) (domain.Resource, error) {
	var r domain.Resource
	err := s.db.QueryRowContext(ctx, sqlLookupResource, doctorID, hospitalID).
		Scan(&r.ID, &r.DoctorID, &r.HospitalID, &r.Capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Resource{}, errors.Wrapf(domain.ErrNotFound, "doctor %d at hospital %d", doctorID, hospitalID)
	}
	if err != nil {
		return domain.Resource{}, classify(err, "lookup doctor_hospital")
	}
	return r, nil
}

// classify embrulha o erro do driver e marca como domain.ErrTransient o que pode
// ser repetido: serialization failure, deadlock e falhas de conexão.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, msg)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint != "appointments_reference_key" {
		return fmt.Errorf("%w: %w", domain.ErrDuplicateSerial, wrapped)
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, wrapped)
	}
	return wrapped
}

func isTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return true
		}
		return pqErr.Code.Class() == "08"
	}
	return errors.Is(err, driver.ErrBadConn)
}
