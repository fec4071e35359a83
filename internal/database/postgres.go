package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SJKodehode/tutorial-chat-app/internal/metrics"
	"github.com/SJKodehode/tutorial-chat-app/internal/models"
	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

const notifyChannel = "table_changes"

// Schema creates the three tables and the trigger that publishes inserts on
// notifyChannel. It is safe to apply repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id uuid PRIMARY KEY,
	nickname text NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	name text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	room_id uuid NOT NULL REFERENCES rooms(id),
	text text NOT NULL,
	user_id uuid NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created_at);

CREATE OR REPLACE FUNCTION notify_table_change() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('table_changes', json_build_object(
		'type', TG_OP,
		'schema', TG_TABLE_SCHEMA,
		'table', TG_TABLE_NAME,
		'record', row_to_json(NEW),
		'commit_timestamp', now()
	)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS messages_notify ON messages;
CREATE TRIGGER messages_notify AFTER INSERT ON messages
	FOR EACH ROW EXECUTE FUNCTION notify_table_change();
`

// PostgresDB connects straight to the backend's Postgres database. Row-level
// security is bypassed, so this mode is meant for local development stacks.
type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// Profile Repository Implementation
func (db *PostgresDB) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	query := `SELECT id::text, nickname FROM profiles WHERE id = $1`

	profile := &models.Profile{}
	err := db.pool.QueryRow(ctx, query, userID).Scan(&profile.ID, &profile.Nickname)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return profile, nil
}

func (db *PostgresDB) UpsertProfile(ctx context.Context, profile *models.Profile) error {
	query := `
		INSERT INTO profiles (id, nickname) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET nickname = EXCLUDED.nickname`

	_, err := db.pool.Exec(ctx, query, profile.ID, profile.Nickname)
	return err
}

// Room Repository Implementation
func (db *PostgresDB) ListRooms(ctx context.Context) ([]*models.Room, error) {
	query := `SELECT id::text, name, created_at FROM rooms ORDER BY created_at`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		room := &models.Room{}
		if err := rows.Scan(&room.ID, &room.Name, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (db *PostgresDB) CreateRoom(ctx context.Context, req *models.CreateRoomRequest) (*models.Room, error) {
	query := `
		INSERT INTO rooms (name, created_at) VALUES ($1, NOW())
		RETURNING id::text, name, created_at`

	room := &models.Room{}
	err := db.pool.QueryRow(ctx, query, req.Name).Scan(&room.ID, &room.Name, &room.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

// Message Repository Implementation
func (db *PostgresDB) ListMessages(ctx context.Context, roomID string) ([]*models.Message, error) {
	query := `
		SELECT m.id::text, m.room_id::text, m.text, m.user_id::text, m.created_at, COALESCE(p.nickname, '')
		FROM messages m
		LEFT JOIN profiles p ON p.id = m.user_id
		WHERE m.room_id = $1
		ORDER BY m.created_at ASC`

	rows, err := db.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Text, &msg.UserID, &msg.CreatedAt, &msg.Nickname); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (db *PostgresDB) InsertMessage(ctx context.Context, msg *models.NewMessage) error {
	query := `INSERT INTO messages (room_id, text, user_id, created_at) VALUES ($1, $2, $3, NOW())`
	_, err := db.pool.Exec(ctx, query, msg.RoomID, msg.Text, msg.UserID)
	return err
}

// Change Feed Implementation

type pgSubscription struct {
	events chan models.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *pgSubscription) Events() <-chan models.ChangeEvent { return s.events }

func (s *pgSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		metrics.FeedSubscriptions.Dec()
	})
	return nil
}

// Subscribe holds one pooled connection in LISTEN for the lifetime of the
// subscription.
func (db *PostgresDB) Subscribe(ctx context.Context, filter models.ChangeFilter) (Subscription, error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	sub := &pgSubscription{
		events: make(chan models.ChangeEvent, 256),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	metrics.FeedSubscriptions.Inc()

	go func() {
		defer func() {
			// the conn may be mid-wait; a fresh context lets UNLISTEN run
			if _, err := conn.Exec(context.Background(), "UNLISTEN "+notifyChannel); err != nil {
				conn.Conn().Close(context.Background())
			}
			conn.Release()
			close(sub.events)
			close(sub.done)
		}()

		for {
			n, err := conn.Conn().WaitForNotification(listenCtx)
			if err != nil {
				if listenCtx.Err() == nil {
					logger.Error("Change feed listener stopped: %v", err)
				}
				return
			}

			var ev models.ChangeEvent
			if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
				logger.Warn("Change feed: bad notification payload: %v", err)
				continue
			}
			if !filter.Matches(ev) {
				continue
			}
			metrics.FeedEventsTotal.WithLabelValues(ev.Table, string(ev.Type)).Inc()
			metrics.ObserveDelivery(ev.CommitTimestamp, time.Now())

			select {
			case sub.events <- ev:
			case <-listenCtx.Done():
				return
			}
		}
	}()

	return sub, nil
}
