// Package sqlite хранит состояние сервиса в одном файле SQLite.
// Данные живут в memory.Store, а после каждой успешной транзакции
// полный снимок сохраняется в таблицу state по корзинам.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
	"github.com/vladislavdragonenkov/ordering/internal/storage/memory"
)

// DefaultPath используется, если путь к файлу не задан.
const DefaultPath = "ordering.db"

const (
	bucketClients   = "clients"
	bucketProducts  = "products"
	bucketOrders    = "orders"
	bucketOutbox    = "outbox"
	bucketSequences = "sequences"
)

var buckets = []string{bucketClients, bucketProducts, bucketOrders, bucketOutbox, bucketSequences}

// Store — снапшотящая обёртка над memory.Store.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string

	// mu упорядочивает изменения и запись снимков; saved совпадает с содержимым файла.
	mu    sync.Mutex
	saved memory.Snapshot
}

// Open открывает (или создаёт) файл базы и загружает из него последнее состояние.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Один писатель: снимки пишутся последовательно.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}

	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.saved = s.ExportState()
	return s, nil
}

// Update применяет fn к состоянию в памяти и сохраняет снимок, если fn завершилась успешно.
// Если снимок записать не удалось, состояние в памяти возвращается к последнему сохранённому.
func (s *Store) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	return s.mutate(ctx, func() error { return s.Store.Update(ctx, fn) })
}

// MarkSent фиксирует публикацию события и сохраняет снимок.
func (s *Store) MarkSent(id string) error {
	return s.mutate(context.Background(), func() error { return s.Store.MarkSent(id) })
}

// MarkFailed фиксирует ошибку публикации и сохраняет снимок.
func (s *Store) MarkFailed(id string) error {
	return s.mutate(context.Background(), func() error { return s.Store.MarkFailed(id) })
}

func (s *Store) mutate(ctx context.Context, apply func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := apply(); err != nil {
		return err
	}

	snapshot := s.ExportState()
	if err := s.persist(ctx, snapshot); err != nil {
		s.ImportState(s.saved)
		return err
	}
	s.saved = snapshot
	return nil
}

// Ping проверяет доступность файла базы.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает файл базы.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path возвращает путь к файлу базы.
func (s *Store) Path() string { return s.path }

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		snapshot memory.Snapshot
		found    bool
	)
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		target := bucketTarget(&snapshot, bucket)
		if target == nil {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}

	if found {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, bucket := range buckets {
		data, err := json.Marshal(bucketTarget(&snapshot, bucket))
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state(bucket, payload) VALUES(?, ?) ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload`,
			bucket, data,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// bucketTarget возвращает поле снимка, которое хранится в корзине bucket.
func bucketTarget(snapshot *memory.Snapshot, bucket string) any {
	switch bucket {
	case bucketClients:
		return &snapshot.Clients
	case bucketProducts:
		return &snapshot.Products
	case bucketOrders:
		return &snapshot.Orders
	case bucketOutbox:
		return &snapshot.Outbox
	case bucketSequences:
		return &snapshot.Sequences
	default:
		return nil
	}
}

var (
	_ domain.Store            = (*Store)(nil)
	_ domain.OutboxRepository = (*Store)(nil)
)
