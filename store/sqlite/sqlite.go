/*
Package sqlite provides the SQLite-backed implementation of club.Store.

PURPOSE:
  One store carries all engine tables. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  sessions:       scheduled activity instances
  reservations:   seat claims, unique per (client, session)
  visits:         attendance proof, unique per reservation
  entitlements:   prepaid access grants with a checked counter
  activity_types, rooms, instructors, plans: catalog

INVARIANTS ENFORCED AT THE DATABASE:
  - idx_unique_client_session: one reservation per (client, session)
  - visits.reservation_id UNIQUE: one visit per reservation
  - CHECK (visits_remaining IS NULL OR visits_remaining >= 0): a finite
    visit counter can never go negative, whatever the code does
  - guarded UPDATEs (status = old, counter > 0) report via RowsAffected
    whether the precondition still held

CONCURRENCY:
  WithTx serializes all transactional work behind a mutex and a single
  database transaction; the connection pool is pinned to one connection
  so an in-memory database behaves like the file-backed one. Busy and
  locked errors are normalized to club.ErrSerialization so the ledgers
  can retry.

WAL MODE:
  Opened with WAL (Write-Ahead Logging) and foreign keys on.

USAGE:
  store, err := sqlite.New("./data/club.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - club/store.go: interface definition and method contracts
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/club-engine/club"
)

// dbtx is the subset of *sql.DB and *sql.Tx the queries use.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements every club.Store method except WithTx against either
// a live connection or an open transaction.
type conn struct {
	db dbtx
}

// Store implements club.Store using SQLite.
type Store struct {
	conn
	sqlDB *sql.DB
	mu    sync.Mutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database exists per connection, and
	// a single writer sidesteps SQLITE_BUSY between pooled conns.
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{db: db}, sqlDB: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Catalog
	CREATE TABLE IF NOT EXISTS activity_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		default_duration_min INTEGER NOT NULL,
		default_capacity INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		capacity INTEGER NOT NULL CHECK (capacity >= 1),
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS instructors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		price TEXT NOT NULL,
		duration_days INTEGER NOT NULL CHECK (duration_days >= 1),
		visit_limit INTEGER CHECK (visit_limit IS NULL OR visit_limit >= 1),
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	-- Entitlements
	CREATE TABLE IF NOT EXISTS entitlements (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		plan_id TEXT,
		valid_from TEXT NOT NULL,
		valid_to TEXT NOT NULL,
		status TEXT NOT NULL,
		visits_remaining INTEGER CHECK (visits_remaining IS NULL OR visits_remaining >= 0),
		purchased_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entitlements_client
		ON entitlements(client_id, status, valid_from, valid_to);
	CREATE INDEX IF NOT EXISTS idx_entitlements_valid_to
		ON entitlements(status, valid_to);

	-- Sessions
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		activity_type_id TEXT NOT NULL REFERENCES activity_types(id),
		instructor_id TEXT NOT NULL REFERENCES instructors(id),
		room_id TEXT NOT NULL REFERENCES rooms(id),
		start_at TEXT NOT NULL,
		duration_min INTEGER NOT NULL CHECK (duration_min > 0),
		capacity INTEGER NOT NULL CHECK (capacity >= 1),
		status TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_active
		ON sessions(status, instructor_id, room_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_start
		ON sessions(start_at);

	-- Reservations
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		entitlement_id TEXT NOT NULL REFERENCES entitlements(id),
		status TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL,
		cancelled_at TEXT,
		reminder_sent_at TEXT
	);

	-- CRITICAL: one reservation per (client, session), whatever the race
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_client_session
		ON reservations(client_id, session_id);
	CREATE INDEX IF NOT EXISTS idx_reservations_session_status
		ON reservations(session_id, status);
	CREATE INDEX IF NOT EXISTS idx_reservations_client
		ON reservations(client_id);
	CREATE INDEX IF NOT EXISTS idx_reservations_reminder
		ON reservations(status, reminder_sent_at);

	-- Visits
	CREATE TABLE IF NOT EXISTS visits (
		id TEXT PRIMARY KEY,
		reservation_id TEXT NOT NULL UNIQUE REFERENCES reservations(id),
		recorded_at TEXT NOT NULL,
		recorded_by TEXT
	);
	`

	_, err := s.sqlDB.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// txStore is a transaction-bound view of the store. Nested WithTx calls
// join the open transaction.
type txStore struct {
	conn
}

func (t txStore) WithTx(ctx context.Context, fn func(club.Store) error) error {
	return fn(t)
}

// WithTx executes fn inside one database transaction, serialized with
// every other WithTx call.
func (s *Store) WithTx(ctx context.Context, fn func(club.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return normalizeErr(err)
	}
	defer sqlTx.Rollback()

	if err := fn(txStore{conn{db: sqlTx}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return normalizeErr(err)
	}
	return nil
}

// =============================================================================
// SESSIONS
// =============================================================================

const sessionColumns = `id, activity_type_id, instructor_id, room_id, start_at,
	duration_min, capacity, status, notes, created_at, updated_at`

func (c conn) GetSession(ctx context.Context, id club.SessionID) (*club.Session, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSessionRow(row)
}

func (c conn) SaveSession(ctx context.Context, sn club.Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			activity_type_id = excluded.activity_type_id,
			instructor_id = excluded.instructor_id,
			room_id = excluded.room_id,
			start_at = excluded.start_at,
			duration_min = excluded.duration_min,
			capacity = excluded.capacity,
			status = excluded.status,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`
	_, err := c.db.ExecContext(ctx, query,
		sn.ID, sn.ActivityType, sn.Instructor, sn.Room,
		fmtTime(sn.StartAt),
		int(sn.Duration/time.Minute),
		sn.Capacity, sn.Status, sn.Notes,
		fmtTime(sn.CreatedAt), fmtTime(sn.UpdatedAt),
	)
	return normalizeErr(err)
}

func (c conn) TransitionSession(ctx context.Context, id club.SessionID, from, to club.SessionStatus) (bool, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, fmtTime(time.Now().UTC()), id, from)
	if err != nil {
		return false, normalizeErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (c conn) ActiveSessionsFor(ctx context.Context, instructor club.InstructorID, room club.RoomID) ([]club.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE status IN ('SCHEDULED', 'IN_PROGRESS')
		  AND (instructor_id = ? OR room_id = ?)
		ORDER BY start_at ASC
	`
	return c.querySessions(ctx, query, instructor, room)
}

func (c conn) SessionsInRange(ctx context.Context, from, to time.Time, filter club.SessionFilter) ([]club.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE start_at >= ? AND start_at < ?`
	args := []any{fmtTime(from), fmtTime(to)}

	if filter.Instructor != "" {
		query += ` AND instructor_id = ?`
		args = append(args, filter.Instructor)
	}
	if filter.Room != "" {
		query += ` AND room_id = ?`
		args = append(args, filter.Room)
	}
	if filter.Activity != "" {
		query += ` AND activity_type_id = ?`
		args = append(args, filter.Activity)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY start_at ASC`

	return c.querySessions(ctx, query, args...)
}

func (c conn) querySessions(ctx context.Context, query string, args ...any) ([]club.Session, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, normalizeErr(err)
	}
	defer rows.Close()

	var sessions []club.Session
	for rows.Next() {
		sn, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sn)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (club.Session, error) {
	var (
		sn          club.Session
		startAt     string
		durationMin int
		notes       sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := r.Scan(&sn.ID, &sn.ActivityType, &sn.Instructor, &sn.Room,
		&startAt, &durationMin, &sn.Capacity, &sn.Status, &notes,
		&createdAt, &updatedAt)
	if err != nil {
		return sn, err
	}
	sn.StartAt = parseTime(startAt)
	sn.Duration = time.Duration(durationMin) * time.Minute
	sn.Notes = notes.String
	sn.CreatedAt = parseTime(createdAt)
	sn.UpdatedAt = parseTime(updatedAt)
	return sn, nil
}

func scanSessionRow(row *sql.Row) (*club.Session, error) {
	sn, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, normalizeErr(err)
	}
	return &sn, nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

const reservationColumns = `id, client_id, session_id, entitlement_id, status,
	notes, created_at, cancelled_at, reminder_sent_at`

func (c conn) GetReservation(ctx context.Context, id club.ReservationID) (*club.Reservation, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	return scanReservationRow(row)
}

func (c conn) ReservationFor(ctx context.Context, client club.ClientID, session club.SessionID) (*club.Reservation, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE client_id = ? AND session_id = ?`,
		client, session)
	return scanReservationRow(row)
}

func (c conn) InsertReservation(ctx context.Context, r club.Reservation) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO reservations
		(id, client_id, session_id, entitlement_id, status, notes, created_at, cancelled_at, reminder_sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Client, r.Session, r.Entitlement, r.Status, r.Notes,
		fmtTime(r.CreatedAt), fmtTimePtr(r.CancelledAt), fmtTimePtr(r.ReminderSentAt),
	)
	return normalizeErr(err)
}

func (c conn) CountSeatsTaken(ctx context.Context, session club.SessionID) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE session_id = ? AND status IN ('CONFIRMED', 'COMPLETED')`,
		session).Scan(&count)
	return count, normalizeErr(err)
}

func (c conn) TransitionReservation(ctx context.Context, id club.ReservationID, from, to club.ReservationStatus, cancelledAt *time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if cancelledAt != nil {
		res, err = c.db.ExecContext(ctx,
			`UPDATE reservations SET status = ?, cancelled_at = ? WHERE id = ? AND status = ?`,
			to, fmtTime(*cancelledAt), id, from)
	} else {
		res, err = c.db.ExecContext(ctx,
			`UPDATE reservations SET status = ? WHERE id = ? AND status = ?`,
			to, id, from)
	}
	if err != nil {
		return false, normalizeErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (c conn) ReservationsByClient(ctx context.Context, client club.ClientID, status *club.ReservationStatus) ([]club.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE client_id = ?`
	args := []any{client}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`
	return c.queryReservations(ctx, query, args...)
}

func (c conn) ReservationsBySession(ctx context.Context, session club.SessionID) ([]club.Reservation, error) {
	return c.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE session_id = ? ORDER BY created_at ASC`,
		session)
}

func (c conn) ReservationsDueReminder(ctx context.Context, from, to time.Time) ([]club.Reservation, error) {
	query := `
		SELECT r.id, r.client_id, r.session_id, r.entitlement_id, r.status,
		       r.notes, r.created_at, r.cancelled_at, r.reminder_sent_at
		FROM reservations r
		JOIN sessions s ON s.id = r.session_id
		WHERE r.status = 'CONFIRMED'
		  AND r.reminder_sent_at IS NULL
		  AND s.start_at >= ? AND s.start_at < ?
		ORDER BY s.start_at ASC
	`
	return c.queryReservations(ctx, query, fmtTime(from), fmtTime(to))
}

func (c conn) MarkReminderSent(ctx context.Context, id club.ReservationID, at time.Time) (bool, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE reservations SET reminder_sent_at = ?
		 WHERE id = ? AND status = 'CONFIRMED' AND reminder_sent_at IS NULL`,
		fmtTime(at), id)
	if err != nil {
		return false, normalizeErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (c conn) ConfirmedWithoutVisit(ctx context.Context, from, to time.Time) ([]club.Reservation, error) {
	query := `
		SELECT r.id, r.client_id, r.session_id, r.entitlement_id, r.status,
		       r.notes, r.created_at, r.cancelled_at, r.reminder_sent_at
		FROM reservations r
		JOIN sessions s ON s.id = r.session_id
		WHERE r.status = 'CONFIRMED'
		  AND s.start_at > ? AND s.start_at <= ?
		  AND NOT EXISTS (SELECT 1 FROM visits v WHERE v.reservation_id = r.id)
		ORDER BY s.start_at ASC
	`
	return c.queryReservations(ctx, query, fmtTime(from), fmtTime(to))
}

func (c conn) ConfirmedStartedBefore(ctx context.Context, cutoff time.Time) ([]club.Reservation, error) {
	query := `
		SELECT r.id, r.client_id, r.session_id, r.entitlement_id, r.status,
		       r.notes, r.created_at, r.cancelled_at, r.reminder_sent_at
		FROM reservations r
		JOIN sessions s ON s.id = r.session_id
		WHERE r.status = 'CONFIRMED' AND s.start_at < ?
		ORDER BY s.start_at ASC
	`
	return c.queryReservations(ctx, query, fmtTime(cutoff))
}

func (c conn) queryReservations(ctx context.Context, query string, args ...any) ([]club.Reservation, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, normalizeErr(err)
	}
	defer rows.Close()

	var reservations []club.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

func scanReservation(sc rowScanner) (club.Reservation, error) {
	var (
		r              club.Reservation
		notes          sql.NullString
		createdAt      string
		cancelledAt    sql.NullString
		reminderSentAt sql.NullString
	)
	err := sc.Scan(&r.ID, &r.Client, &r.Session, &r.Entitlement, &r.Status,
		&notes, &createdAt, &cancelledAt, &reminderSentAt)
	if err != nil {
		return r, err
	}
	r.Notes = notes.String
	r.CreatedAt = parseTime(createdAt)
	r.CancelledAt = parseTimePtr(cancelledAt)
	r.ReminderSentAt = parseTimePtr(reminderSentAt)
	return r, nil
}

func scanReservationRow(row *sql.Row) (*club.Reservation, error) {
	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, normalizeErr(err)
	}
	return &r, nil
}

// =============================================================================
// VISITS
// =============================================================================

func (c conn) GetVisitByReservation(ctx context.Context, reservation club.ReservationID) (*club.Visit, error) {
	var (
		v          club.Visit
		recordedAt string
		recordedBy sql.NullString
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT id, reservation_id, recorded_at, recorded_by FROM visits WHERE reservation_id = ?`,
		reservation).Scan(&v.ID, &v.Reservation, &recordedAt, &recordedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, normalizeErr(err)
	}
	v.RecordedAt = parseTime(recordedAt)
	v.RecordedBy = recordedBy.String
	return &v, nil
}

func (c conn) InsertVisit(ctx context.Context, v club.Visit) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO visits (id, reservation_id, recorded_at, recorded_by) VALUES (?, ?, ?, ?)`,
		v.ID, v.Reservation, fmtTime(v.RecordedAt), v.RecordedBy)
	return normalizeErr(err)
}

// =============================================================================
// ENTITLEMENTS
// =============================================================================

const entitlementColumns = `id, client_id, plan_id, valid_from, valid_to,
	status, visits_remaining, purchased_at`

func (c conn) GetEntitlement(ctx context.Context, id club.EntitlementID) (*club.Entitlement, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE id = ?`, id)
	return scanEntitlementRow(row)
}

func (c conn) InsertEntitlement(ctx context.Context, e club.Entitlement) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO entitlements
		(id, client_id, plan_id, valid_from, valid_to, status, visits_remaining, purchased_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Client, nullString(string(e.Plan)),
		fmtDate(e.ValidFrom), fmtDate(e.ValidTo),
		e.Status, nullInt(e.Remaining), fmtTime(e.PurchasedAt),
	)
	return normalizeErr(err)
}

func (c conn) FindCovering(ctx context.Context, client club.ClientID, date time.Time) (*club.Entitlement, error) {
	// Earliest expiry first: short passes burn before long ones.
	query := `
		SELECT ` + entitlementColumns + `
		FROM entitlements
		WHERE client_id = ? AND status = 'ACTIVE'
		  AND valid_from <= ? AND valid_to >= ?
		ORDER BY valid_to ASC
		LIMIT 1
	`
	d := fmtDate(date)
	row := c.db.QueryRowContext(ctx, query, client, d, d)
	return scanEntitlementRow(row)
}

func (c conn) DebitEntitlement(ctx context.Context, id club.EntitlementID) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE entitlements SET visits_remaining = visits_remaining - 1
		WHERE id = ? AND visits_remaining IS NOT NULL AND visits_remaining > 0`,
		id)
	if err != nil {
		return normalizeErr(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	ent, err := c.GetEntitlement(ctx, id)
	if err != nil {
		return err
	}
	if ent == nil {
		return &club.NotFoundError{Kind: "entitlement", ID: string(id)}
	}
	if ent.Unlimited() {
		return nil
	}
	return club.ErrEntitlementExhausted
}

func (c conn) CreditEntitlement(ctx context.Context, id club.EntitlementID) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE entitlements SET visits_remaining = visits_remaining + 1
		WHERE id = ? AND visits_remaining IS NOT NULL`,
		id)
	if err != nil {
		return normalizeErr(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	ent, err := c.GetEntitlement(ctx, id)
	if err != nil {
		return err
	}
	if ent == nil {
		return &club.NotFoundError{Kind: "entitlement", ID: string(id)}
	}
	// Unlimited grant: credit is a no-op.
	return nil
}

func (c conn) ExpireEntitlements(ctx context.Context, asOf time.Time) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE entitlements SET status = 'EXPIRED' WHERE status = 'ACTIVE' AND valid_to < ?`,
		fmtDate(asOf))
	if err != nil {
		return 0, normalizeErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (c conn) EntitlementsByClient(ctx context.Context, client club.ClientID) ([]club.Entitlement, error) {
	return c.queryEntitlements(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE client_id = ? ORDER BY purchased_at DESC`,
		client)
}

func (c conn) EntitlementsExpiringOn(ctx context.Context, date time.Time) ([]club.Entitlement, error) {
	return c.queryEntitlements(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE status = 'ACTIVE' AND valid_to = ?`,
		fmtDate(date))
}

func (c conn) queryEntitlements(ctx context.Context, query string, args ...any) ([]club.Entitlement, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, normalizeErr(err)
	}
	defer rows.Close()

	var entitlements []club.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		entitlements = append(entitlements, e)
	}
	return entitlements, rows.Err()
}

func scanEntitlement(sc rowScanner) (club.Entitlement, error) {
	var (
		e           club.Entitlement
		plan        sql.NullString
		validFrom   string
		validTo     string
		remaining   sql.NullInt64
		purchasedAt string
	)
	err := sc.Scan(&e.ID, &e.Client, &plan, &validFrom, &validTo,
		&e.Status, &remaining, &purchasedAt)
	if err != nil {
		return e, err
	}
	e.Plan = club.PlanID(plan.String)
	e.ValidFrom = parseDate(validFrom)
	e.ValidTo = parseDate(validTo)
	if remaining.Valid {
		n := int(remaining.Int64)
		e.Remaining = &n
	}
	e.PurchasedAt = parseTime(purchasedAt)
	return e, nil
}

func scanEntitlementRow(row *sql.Row) (*club.Entitlement, error) {
	e, err := scanEntitlement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, normalizeErr(err)
	}
	return &e, nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (c conn) GetActivityType(ctx context.Context, id club.ActivityTypeID) (*club.ActivityType, error) {
	var (
		at          club.ActivityType
		description sql.NullString
		durationMin int
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, description, default_duration_min, default_capacity, active
		 FROM activity_types WHERE id = ?`, id).
		Scan(&at.ID, &at.Name, &description, &durationMin, &at.DefaultCapacity, &at.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, normalizeErr(err)
	}
	at.Description = description.String
	at.DefaultDuration = time.Duration(durationMin) * time.Minute
	return &at, nil
}

func (c conn) ListActivityTypes(ctx context.Context) ([]club.ActivityType, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, description, default_duration_min, default_capacity, active
		 FROM activity_types ORDER BY name`)
	if err != nil {
		return nil, normalizeErr(err)
	}
	defer rows.Close()

	var types []club.ActivityType
	for rows.Next() {
		var (
			at          club.ActivityType
			description sql.NullString
			durationMin int
		)
		if err := rows.Scan(&at.ID, &at.Name, &description, &durationMin, &at.DefaultCapacity, &at.Active); err != nil {
			return nil, err
		}
		at.Description = description.String
		at.DefaultDuration = time.Duration(durationMin) * time.Minute
		types = append(types, at)
	}
	return types, rows.Err()
}

func (c conn) SaveActivityType(ctx context.Context, at club.ActivityType) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO activity_types (id, name, description, default_duration_min, default_capacity, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			default_duration_min = excluded.default_duration_min,
			default_capacity = excluded.default_capacity,
			active = excluded.active`,
		at.ID, at.Name, at.Description, int(at.DefaultDuration/time.Minute), at.DefaultCapacity, at.Active)
	return normalizeErr(err)
}

func (c conn) GetRoom(ctx context.Context, id club.RoomID) (*club.Room, error) {
	var r club.Room
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, capacity, active FROM rooms WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.Capacity, &r.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, normalizeErr(err)
	}
	return &r, nil
}

func (c conn) ListRooms(ctx context.Context) ([]club.Room, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, name, capacity, active FROM rooms ORDER BY name`)
	if err != nil {
		return nil, normalizeErr(err)
	}
	defer rows.Close()

	var rooms []club.Room
	for rows.Next() {
		var r club.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Capacity, &r.Active); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func (c conn) SaveRoom(ctx context.Context, r club.Room) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, capacity, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			capacity = excluded.capacity,
			active = excluded.active`,
		r.ID, r.Name, r.Capacity, r.Active)
	return normalizeErr(err)
}

func (c conn) GetInstructor(ctx context.Context, id club.InstructorID) (*club.Instructor, error) {
	var i club.Instructor
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, active FROM instructors WHERE id = ?`, id).
		Scan(&i.ID, &i.Name, &i.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, normalizeErr(err)
	}
	return &i, nil
}

func (c conn) ListInstructors(ctx context.Context) ([]club.Instructor, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, name, active FROM instructors ORDER BY name`)
	if err != nil {
		return nil, normalizeErr(err)
	}
	defer rows.Close()

	var instructors []club.Instructor
	for rows.Next() {
		var i club.Instructor
		if err := rows.Scan(&i.ID, &i.Name, &i.Active); err != nil {
			return nil, err
		}
		instructors = append(instructors, i)
	}
	return instructors, rows.Err()
}

func (c conn) SaveInstructor(ctx context.Context, i club.Instructor) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO instructors (id, name, active)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			active = excluded.active`,
		i.ID, i.Name, i.Active)
	return normalizeErr(err)
}

func (c conn) GetPlan(ctx context.Context, id club.PlanID) (*club.Plan, error) {
	var (
		p          club.Plan
		price      string
		visitLimit sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, price, duration_days, visit_limit, active FROM plans WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &price, &p.DurationDays, &visitLimit, &p.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, normalizeErr(err)
	}
	p.Price = parseDecimal(price)
	if visitLimit.Valid {
		n := int(visitLimit.Int64)
		p.VisitLimit = &n
	}
	return &p, nil
}

func (c conn) ListPlans(ctx context.Context) ([]club.Plan, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, price, duration_days, visit_limit, active FROM plans ORDER BY price`)
	if err != nil {
		return nil, normalizeErr(err)
	}
	defer rows.Close()

	var plans []club.Plan
	for rows.Next() {
		var (
			p          club.Plan
			price      string
			visitLimit sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.Name, &price, &p.DurationDays, &visitLimit, &p.Active); err != nil {
			return nil, err
		}
		p.Price = parseDecimal(price)
		if visitLimit.Valid {
			n := int(visitLimit.Int64)
			p.VisitLimit = &n
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (c conn) SavePlan(ctx context.Context, p club.Plan) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO plans (id, name, price, duration_days, visit_limit, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			duration_days = excluded.duration_days,
			visit_limit = excluded.visit_limit,
			active = excluded.active`,
		p.ID, p.Name, p.Price.String(), p.DurationDays, nullInt(p.VisitLimit), p.Active)
	return normalizeErr(err)
}

// =============================================================================
// HELPERS
// =============================================================================

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func fmtDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseDate(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

// normalizeErr maps driver errors to the engine's taxonomy.
func normalizeErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "idx_unique_client_session"),
		strings.Contains(msg, "reservations.client_id"):
		return club.ErrDuplicateReservation
	case strings.Contains(msg, "visits.reservation_id"):
		return club.ErrVisitExists
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"):
		return fmt.Errorf("%w: %v", club.ErrSerialization, err)
	default:
		return err
	}
}
