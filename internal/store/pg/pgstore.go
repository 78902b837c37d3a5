// Package pg implements the draw store on PostgreSQL. Per-event mutual
// exclusion is an advisory lock keyed by a hash of the event id, held on a
// dedicated connection, so correctness holds across multiple service
// instances.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"hash/fnv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"horsedraw.org/internal/draw"
)

type Store struct {
	db *sql.DB
	// lockWait overrides the contended-lock wait budget; zero means the
	// default.
	lockWait time.Duration
}

var _ draw.Store = (*Store)(nil)

// Open connects to PostgreSQL with pool settings tuned for short request
// handlers.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle; used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// eventLockKey maps an event id onto the 64-bit advisory lock space.
func eventLockKey(eventID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(eventID))
	return int64(h.Sum64())
}

const (
	// lockWait bounds how long an operation retries a contended event lock
	// before reporting the event busy.
	lockWait          = 2 * time.Second
	lockRetryInterval = 50 * time.Millisecond
)

// AcquireEvent takes the event's advisory lock on a dedicated connection.
// A contended lock is retried with pg_try_advisory_lock until the wait
// budget runs out (ErrEventBusy) or the caller's context ends
// (ErrOperationTimedOut).
func (s *Store) AcquireEvent(ctx context.Context, eventID string) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, lockErr(ctx, err)
	}
	key := eventLockKey(eventID)
	wait := s.lockWait
	if wait <= 0 {
		wait = lockWait
	}
	deadline := time.Now().Add(wait)
	for {
		var locked bool
		if err := conn.QueryRowContext(ctx, `select pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
			_ = conn.Close()
			return nil, lockErr(ctx, err)
		}
		if locked {
			break
		}
		if !time.Now().Before(deadline) {
			_ = conn.Close()
			return nil, draw.ErrEventBusy
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, draw.ErrOperationTimedOut
		case <-time.After(lockRetryInterval):
		}
	}
	release := func() {
		// Unlock must not be cut short by the request context.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = conn.ExecContext(unlockCtx, `select pg_advisory_unlock($1)`, key)
		_ = conn.Close()
	}
	return release, nil
}

func lockErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
		return draw.ErrOperationTimedOut
	}
	return err
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (draw.Event, error) {
	var ev draw.Event
	err := s.db.QueryRowContext(ctx, `
		select id, name, requires_payment from events where id=$1
	`, eventID).Scan(&ev.ID, &ev.Name, &ev.RequiresPayment)
	if errors.Is(err, sql.ErrNoRows) {
		return draw.Event{}, draw.ErrEventNotFound
	}
	if err != nil {
		return draw.Event{}, err
	}
	return ev, nil
}

func (s *Store) Participants(ctx context.Context, eventID string) ([]draw.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, display_name, registered_at, eligible
		from participants
		where event_id=$1
		order by registered_at asc, id asc
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []draw.Participant
	for rows.Next() {
		var p draw.Participant
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.RegisteredAt, &p.Eligible); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Horses(ctx context.Context, eventID string) ([]draw.Horse, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, number, name, withdrawn
		from horses
		where event_id=$1
		order by number asc
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []draw.Horse
	for rows.Next() {
		var h draw.Horse
		if err := rows.Scan(&h.ID, &h.Number, &h.Name, &h.Withdrawn); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) ActiveAssignments(ctx context.Context, eventID string) ([]draw.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, participant_id, horse_id, draw_order, created_at
		from assignments
		where event_id=$1 and status=$2
		order by draw_order asc
	`, eventID, string(draw.AssignmentActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []draw.Assignment
	for rows.Next() {
		a := draw.Assignment{EventID: eventID, Status: draw.AssignmentActive}
		if err := rows.Scan(&a.ID, &a.ParticipantID, &a.HorseID, &a.DrawOrder, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Session(ctx context.Context, eventID string) (draw.DrawSession, error) {
	var sess draw.DrawSession
	var status string
	var seed sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select status, last_seed_used, assignment_count, updated_at
		from draw_sessions where event_id=$1
	`, eventID).Scan(&status, &seed, &sess.AssignmentCount, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return draw.DrawSession{EventID: eventID, Status: draw.SessionNotStarted}, nil
	}
	if err != nil {
		return draw.DrawSession{}, err
	}
	sess.EventID = eventID
	sess.Status = draw.SessionStatus(status)
	if seed.Valid {
		sess.LastSeedUsed = seed.String
	}
	return sess, nil
}

func (s *Store) SaveDraw(ctx context.Context, eventID string, assignments []draw.Assignment, session draw.DrawSession, entry draw.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range assignments {
		if _, err := tx.ExecContext(ctx, `
			insert into assignments(id, event_id, participant_id, horse_id, draw_order, status, created_at)
			values ($1,$2,$3,$4,$5,$6,$7)
		`, a.ID, eventID, a.ParticipantID, a.HorseID, a.DrawOrder, string(a.Status), a.CreatedAt); err != nil {
			return err
		}
	}
	if err := upsertSession(ctx, tx, session); err != nil {
		return err
	}
	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UndoAssignments(ctx context.Context, eventID string, assignmentIDs []string, reason string, at time.Time, session draw.DrawSession, entry draw.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range assignmentIDs {
		if _, err := tx.ExecContext(ctx, `
			update assignments
			set status=$3, undone_at=$4, undo_reason=$5
			where id=$1 and event_id=$2 and status=$6
		`, id, eventID, string(draw.AssignmentUndone), at, reason, string(draw.AssignmentActive)); err != nil {
			return err
		}
	}
	if err := upsertSession(ctx, tx, session); err != nil {
		return err
	}
	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertSession(ctx context.Context, tx *sql.Tx, session draw.DrawSession) error {
	_, err := tx.ExecContext(ctx, `
		insert into draw_sessions(event_id, status, last_seed_used, assignment_count, updated_at)
		values ($1,$2,nullif($3,''),$4,$5)
		on conflict (event_id) do update
		set status=excluded.status,
		    last_seed_used=excluded.last_seed_used,
		    assignment_count=excluded.assignment_count,
		    updated_at=excluded.updated_at
	`, session.EventID, string(session.Status), session.LastSeedUsed, session.AssignmentCount, session.UpdatedAt)
	return err
}

func insertAuditEntry(ctx context.Context, tx *sql.Tx, entry draw.AuditEntry) error {
	idsJSON, err := json.Marshal(entry.AssignmentIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		insert into audit_entries(id, event_id, operation, seed, prng_version, assignment_ids, actor, reason, created_at, result_digest)
		values ($1,$2,$3,nullif($4,''),nullif($5,''),$6,$7,nullif($8,''),$9,$10)
	`, entry.ID, entry.EventID, string(entry.Operation), entry.Seed, entry.PRNGVersion,
		idsJSON, entry.Actor, entry.Reason, entry.CreatedAt, entry.ResultDigest)
	return err
}

func (s *Store) AuditTrail(ctx context.Context, eventID string) ([]draw.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, operation, coalesce(seed,''), coalesce(prng_version,''), assignment_ids,
		       actor, coalesce(reason,''), created_at, result_digest
		from audit_entries
		where event_id=$1
		order by created_at asc, id asc
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []draw.AuditEntry
	for rows.Next() {
		e := draw.AuditEntry{EventID: eventID}
		var op string
		var idsJSON []byte
		if err := rows.Scan(&e.ID, &op, &e.Seed, &e.PRNGVersion, &idsJSON, &e.Actor, &e.Reason, &e.CreatedAt, &e.ResultDigest); err != nil {
			return nil, err
		}
		e.Operation = draw.Operation(op)
		if err := json.Unmarshal(idsJSON, &e.AssignmentIDs); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) PutEvent(ctx context.Context, event draw.Event) error {
	_, err := s.db.ExecContext(ctx, `
		insert into events(id, name, requires_payment)
		values ($1,$2,$3)
		on conflict (id) do update
		set name=excluded.name, requires_payment=excluded.requires_payment
	`, event.ID, event.Name, event.RequiresPayment)
	return err
}

func (s *Store) PutParticipants(ctx context.Context, eventID string, participants []draw.Participant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from participants where event_id=$1`, eventID); err != nil {
		return err
	}
	for _, p := range participants {
		if _, err := tx.ExecContext(ctx, `
			insert into participants(event_id, id, display_name, registered_at, eligible)
			values ($1,$2,$3,$4,$5)
		`, eventID, p.ID, p.DisplayName, p.RegisteredAt, p.Eligible); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) PutHorses(ctx context.Context, eventID string, horses []draw.Horse) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from horses where event_id=$1`, eventID); err != nil {
		return err
	}
	for _, h := range horses {
		if _, err := tx.ExecContext(ctx, `
			insert into horses(event_id, id, number, name, withdrawn)
			values ($1,$2,$3,$4,$5)
		`, eventID, h.ID, h.Number, h.Name, h.Withdrawn); err != nil {
			return err
		}
	}
	return tx.Commit()
}
