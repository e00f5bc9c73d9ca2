package settings

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"prepline-kds-service/internal/board"
	"prepline-kds-service/internal/config"
)

// Display is the operator-tunable configuration. The board reads it, never
// writes it; changes take effect on the next poll or tick.
type Display struct {
	WarningSeconds       int64     `json:"warningSeconds"`
	DangerSeconds        int64     `json:"dangerSeconds"`
	GraceWindowSeconds   int64     `json:"graceWindowSeconds"`
	LookbackMinutes      int64     `json:"lookbackMinutes"`
	RetentionHours       int64     `json:"retentionHours"`
	OpenTime             string    `json:"openTime"`
	CloseTime            string    `json:"closeTime"`
	LocationFilter       []string  `json:"locationFilter"`
	RushMarker           string    `json:"rushMarker"`
	AllowReopenCompleted bool      `json:"allowReopenCompleted"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Board converts the stored values into the engine's settings shape.
func (d Display) Board() board.Settings {
	return board.Settings{
		GraceWindow:          time.Duration(d.GraceWindowSeconds) * time.Second,
		WarningSeconds:       d.WarningSeconds,
		DangerSeconds:        d.DangerSeconds,
		LookbackWindow:       time.Duration(d.LookbackMinutes) * time.Minute,
		CompletedRetention:   time.Duration(d.RetentionHours) * time.Hour,
		AllowReopenCompleted: d.AllowReopenCompleted,
	}
}

// Defaults derives the fallback row from environment configuration, used
// until an operator saves settings.
func Defaults(cfg config.Config) Display {
	return Display{
		WarningSeconds:       cfg.WarningSeconds,
		DangerSeconds:        cfg.DangerSeconds,
		GraceWindowSeconds:   int64(cfg.GraceWindow / time.Second),
		LookbackMinutes:      int64(cfg.LookbackWindow / time.Minute),
		RetentionHours:       int64(cfg.CompletedRetention / time.Hour),
		RushMarker:           cfg.RushMarker,
		AllowReopenCompleted: cfg.AllowReopenCompleted,
	}
}

// Store persists display settings and paired devices in Postgres. A nil
// pool degrades to in-memory defaults so the board still runs without a
// database in development.
type Store struct {
	pool *pgxpool.Pool

	mu       sync.Mutex
	defaults Display
	devices  map[string]string
}

func New(pool *pgxpool.Pool, defaults Display) *Store {
	return &Store{pool: pool, defaults: defaults, devices: make(map[string]string)}
}

const schema = `
create table if not exists display_settings (
	id int primary key default 1 check (id = 1),
	warning_seconds bigint not null,
	danger_seconds bigint not null,
	grace_window_seconds bigint not null,
	lookback_minutes bigint not null,
	retention_hours bigint not null,
	open_time text not null default '',
	close_time text not null default '',
	location_filter text[] not null default '{}',
	rush_marker text not null default 'rush',
	allow_reopen_completed boolean not null default true,
	updated_at timestamptz not null default now()
);
create table if not exists display_devices (
	id bigserial primary key,
	name text not null unique,
	key_hash text not null,
	created_at timestamptz not null default now()
);`

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Store) Get(ctx context.Context) (Display, error) {
	if s.pool == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.defaults, nil
	}

	query := `
		select warning_seconds, danger_seconds, grace_window_seconds,
		       lookback_minutes, retention_hours, open_time, close_time,
		       location_filter, rush_marker, allow_reopen_completed, updated_at
		from display_settings where id = 1
	`
	var d Display
	err := s.pool.QueryRow(ctx, query).Scan(
		&d.WarningSeconds,
		&d.DangerSeconds,
		&d.GraceWindowSeconds,
		&d.LookbackMinutes,
		&d.RetentionHours,
		&d.OpenTime,
		&d.CloseTime,
		&d.LocationFilter,
		&d.RushMarker,
		&d.AllowReopenCompleted,
		&d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.defaults, nil
	}
	if err != nil {
		return s.defaults, err
	}
	return d, nil
}

func (s *Store) Put(ctx context.Context, d Display) error {
	if s.pool == nil {
		s.mu.Lock()
		s.defaults = d
		s.mu.Unlock()
		return nil
	}

	query := `
		insert into display_settings (
			id, warning_seconds, danger_seconds, grace_window_seconds,
			lookback_minutes, retention_hours, open_time, close_time,
			location_filter, rush_marker, allow_reopen_completed, updated_at
		) values (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		on conflict (id) do update set
			warning_seconds = excluded.warning_seconds,
			danger_seconds = excluded.danger_seconds,
			grace_window_seconds = excluded.grace_window_seconds,
			lookback_minutes = excluded.lookback_minutes,
			retention_hours = excluded.retention_hours,
			open_time = excluded.open_time,
			close_time = excluded.close_time,
			location_filter = excluded.location_filter,
			rush_marker = excluded.rush_marker,
			allow_reopen_completed = excluded.allow_reopen_completed,
			updated_at = now()
	`
	_, err := s.pool.Exec(ctx, query,
		d.WarningSeconds,
		d.DangerSeconds,
		d.GraceWindowSeconds,
		d.LookbackMinutes,
		d.RetentionHours,
		d.OpenTime,
		d.CloseTime,
		d.LocationFilter,
		d.RushMarker,
		d.AllowReopenCompleted,
	)
	return err
}

var ErrDeviceNotFound = errors.New("device not found")

// RegisterDevice stores a display device with its pairing key hashed.
// Re-registering a name rotates its key.
func (s *Store) RegisterDevice(ctx context.Context, name, key string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if s.pool == nil {
		s.mu.Lock()
		s.devices[name] = string(hash)
		s.mu.Unlock()
		return nil
	}
	_, err = s.pool.Exec(ctx, `
		insert into display_devices (name, key_hash) values ($1, $2)
		on conflict (name) do update set key_hash = excluded.key_hash
	`, name, string(hash))
	return err
}

// VerifyDevice checks a pairing key against the stored hash.
func (s *Store) VerifyDevice(ctx context.Context, name, key string) error {
	var hash string
	if s.pool == nil {
		s.mu.Lock()
		hash = s.devices[name]
		s.mu.Unlock()
		if hash == "" {
			return ErrDeviceNotFound
		}
	} else {
		err := s.pool.QueryRow(ctx, `select key_hash from display_devices where name = $1`, name).Scan(&hash)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDeviceNotFound
		}
		if err != nil {
			return err
		}
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
}
