package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/dukepan/multi-rooms-chat-back/internal/metrics"
	"github.com/dukepan/multi-rooms-chat-back/internal/models"
)

var tracer = otel.Tracer("github.com/dukepan/multi-rooms-chat-back/internal/store")

// Postgres is the DurableStore implementation backed by pgx. Every pool
// call is wrapped in a span so a slow query shows up in the same trace
// as the wire-level request that triggered it.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens (and pings) a connection pool against dsn.
func NewPostgres(ctx context.Context, dsn string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) span(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "store."+op, trace.WithAttributes(attribute.String("db.system", "postgresql")))
}

func finish(op string, span trace.Span, err error) {
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.StoreErrors.WithLabelValues(op).Inc()
	}
	span.End()
}

func (p *Postgres) query(ctx context.Context, op, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := p.span(ctx, op)
	defer span.End()
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.StoreErrors.WithLabelValues(op).Inc()
	}
	return rows, err
}

func (p *Postgres) queryRow(ctx context.Context, op, sql string, args ...interface{}) pgx.Row {
	ctx, span := p.span(ctx, op)
	defer span.End()
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p *Postgres) exec(ctx context.Context, op, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := p.span(ctx, op)
	defer span.End()
	tag, err := p.pool.Exec(ctx, sql, args...)
	finish(op, span, err)
	return tag, err
}

// --- users ---

func (p *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.exec(ctx, "CreateUser", `
		INSERT INTO users (id, username, created_at, last_seen, is_online, connection_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		u.ID, u.Username, u.CreatedAt, u.LastSeen, u.IsOnline, u.ConnectionCount)
	return err
}

func (p *Postgres) TouchUserSeen(ctx context.Context, userID uuid.UUID, online bool) error {
	_, err := p.exec(ctx, "TouchUserSeen", `
		UPDATE users SET last_seen = now(), is_online = $2 WHERE id = $1`, userID, online)
	return err
}

func (p *Postgres) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := p.queryRow(ctx, "UserByUsername", `
		SELECT id, username, created_at, last_seen, is_online, total_messages, connection_count
		FROM users WHERE username = $1`, username)
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Username, &u.CreatedAt, &u.LastSeen, &u.IsOnline, &u.TotalMessages, &u.ConnectionCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (p *Postgres) IncrementUserMessageCount(ctx context.Context, userID uuid.UUID) error {
	_, err := p.exec(ctx, "IncrementUserMessageCount", `
		UPDATE users SET total_messages = total_messages + 1 WHERE id = $1`, userID)
	return err
}

// --- rooms ---

func (p *Postgres) CreateRoom(ctx context.Context, r *models.Room) error {
	_, err := p.exec(ctx, "CreateRoom", `
		INSERT INTO rooms (id, name, created_by, created_at, last_activity, is_active, current_users, peak_users)
		VALUES ($1, $2, $3, $4, $5, true, 1, 1)`,
		r.ID, r.Name, r.CreatedBy, r.CreatedAt, r.LastActivity)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrRoomExists
	}
	return err
}

func (p *Postgres) RoomByName(ctx context.Context, name string) (*models.Room, error) {
	row := p.queryRow(ctx, "RoomByName", `
		SELECT id, name, created_by, created_at, last_activity, is_active, current_users, peak_users, message_count, total_unique_users
		FROM rooms WHERE name = $1 AND is_active = true`, name)
	return scanRoom(row)
}

func (p *Postgres) RoomByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	row := p.queryRow(ctx, "RoomByID", `
		SELECT id, name, created_by, created_at, last_activity, is_active, current_users, peak_users, message_count, total_unique_users
		FROM rooms WHERE id = $1`, id)
	return scanRoom(row)
}

func scanRoom(row pgx.Row) (*models.Room, error) {
	r := &models.Room{}
	err := row.Scan(&r.ID, &r.Name, &r.CreatedBy, &r.CreatedAt, &r.LastActivity, &r.IsActive,
		&r.CurrentUsers, &r.PeakUsers, &r.MessageCount, &r.TotalUniqueUsers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *Postgres) ListActiveRooms(ctx context.Context) ([]*models.Room, error) {
	rows, err := p.query(ctx, "ListActiveRooms", `
		SELECT id, name, created_by, created_at, last_activity, is_active, current_users, peak_users, message_count, total_unique_users
		FROM rooms WHERE is_active = true ORDER BY last_activity DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateRoomActivity(ctx context.Context, roomID uuid.UUID, currentUsers, peakUsers int) error {
	_, err := p.exec(ctx, "UpdateRoomActivity", `
		UPDATE rooms SET last_activity = now(), current_users = $2, peak_users = GREATEST(peak_users, $3)
		WHERE id = $1`, roomID, currentUsers, peakUsers)
	return err
}

func (p *Postgres) DeactivateRoom(ctx context.Context, roomID uuid.UUID) error {
	_, err := p.exec(ctx, "DeactivateRoom", `UPDATE rooms SET is_active = false, current_users = 0 WHERE id = $1`, roomID)
	return err
}

// --- memberships ---

func (p *Postgres) UpsertMembership(ctx context.Context, m *models.Membership) error {
	_, err := p.exec(ctx, "UpsertMembership", `
		INSERT INTO memberships (room_id, user_id, username, joined_at, is_active, join_count)
		VALUES ($1, $2, $3, $4, true, 1)
		ON CONFLICT (room_id, user_id) DO UPDATE SET
			is_active = true, joined_at = $4, left_at = NULL, join_count = memberships.join_count + 1`,
		m.RoomID, m.UserID, m.Username, m.JoinedAt)
	return err
}

func (p *Postgres) EndMembership(ctx context.Context, roomID, userID uuid.UUID, leftAt time.Time) error {
	_, err := p.exec(ctx, "EndMembership", `
		UPDATE memberships SET is_active = false, left_at = $3 WHERE room_id = $1 AND user_id = $2`,
		roomID, userID, leftAt)
	return err
}

func (p *Postgres) IncrementMembershipMessageCount(ctx context.Context, roomID, userID uuid.UUID, at time.Time) error {
	_, err := p.exec(ctx, "IncrementMembershipMessageCount", `
		UPDATE memberships SET messages_in_room = messages_in_room + 1, last_message_at = $3
		WHERE room_id = $1 AND user_id = $2`, roomID, userID, at)
	return err
}

func (p *Postgres) MembersOf(ctx context.Context, roomID uuid.UUID) ([]*models.Membership, error) {
	rows, err := p.query(ctx, "MembersOf", `
		SELECT room_id, user_id, username, joined_at, left_at, is_active, messages_in_room, join_count, last_message_at
		FROM memberships WHERE room_id = $1 AND is_active = true`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Membership
	for rows.Next() {
		m := &models.Membership{}
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.Username, &m.JoinedAt, &m.LeftAt, &m.IsActive,
			&m.MessagesInRoom, &m.JoinCount, &m.LastMessageAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- messages ---

func (p *Postgres) NextSeq(ctx context.Context, roomID uuid.UUID) (int64, error) {
	row := p.queryRow(ctx, "NextSeq", `
		UPDATE rooms SET message_count = message_count + 1 WHERE id = $1 RETURNING message_count`, roomID)
	var seq int64
	err := row.Scan(&seq)
	return seq, err
}

func (p *Postgres) InsertMessage(ctx context.Context, m *models.Message) error {
	_, err := p.exec(ctx, "InsertMessage", `
		INSERT INTO messages (id, room_id, user_id, username, content, timestamp, seq, kind, edited)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.RoomID, m.UserID, m.Username, m.Content, m.Timestamp, m.Seq, m.Kind, m.Edited)
	return err
}

func (p *Postgres) RecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.Message, error) {
	rows, err := p.query(ctx, "RecentMessages", `
		SELECT id, room_id, user_id, username, content, timestamp, seq, kind, edited, edited_at
		FROM messages WHERE room_id = $1 ORDER BY seq DESC LIMIT $2`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m := &models.Message{}
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Username, &m.Content, &m.Timestamp,
			&m.Seq, &m.Kind, &m.Edited, &m.EditedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (p *Postgres) EditMessage(ctx context.Context, messageID uuid.UUID, newContent string, editedAt time.Time) error {
	_, err := p.exec(ctx, "EditMessage", `
		UPDATE messages SET content = $2, edited = true, edited_at = $3 WHERE id = $1`,
		messageID, newContent, editedAt)
	return err
}

func (p *Postgres) DeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	_, err := p.exec(ctx, "DeleteMessage", `DELETE FROM messages WHERE id = $1`, messageID)
	return err
}

func (p *Postgres) MessageByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	row := p.queryRow(ctx, "MessageByID", `
		SELECT id, room_id, user_id, username, content, timestamp, seq, kind, edited, edited_at
		FROM messages WHERE id = $1`, messageID)
	m := &models.Message{}
	err := row.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Username, &m.Content, &m.Timestamp,
		&m.Seq, &m.Kind, &m.Edited, &m.EditedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// --- housekeeping ---

func (p *Postgres) PurgeInactiveRooms(ctx context.Context, inactiveFor time.Duration) (int64, error) {
	tag, err := p.exec(ctx, "PurgeInactiveRooms", `
		UPDATE rooms SET is_active = false WHERE is_active = true AND current_users = 0 AND last_activity < $1`,
		time.Now().Add(-inactiveFor))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) PurgeOldMessages(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := p.exec(ctx, "PurgeOldMessages", `DELETE FROM messages WHERE timestamp < $1`,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) PurgeInactiveUsers(ctx context.Context, inactiveFor time.Duration) (int64, error) {
	tag, err := p.exec(ctx, "PurgeInactiveUsers", `
		DELETE FROM users WHERE is_online = false AND last_seen < $1`,
		time.Now().Add(-inactiveFor))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) PurgeInactiveMemberships(ctx context.Context, inactiveFor time.Duration) (int64, error) {
	tag, err := p.exec(ctx, "PurgeInactiveMemberships", `
		DELETE FROM memberships WHERE is_active = false AND left_at IS NOT NULL AND left_at < $1`,
		time.Now().Add(-inactiveFor))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ DurableStore = (*Postgres)(nil)
