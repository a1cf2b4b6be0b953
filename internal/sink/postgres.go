package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/levinOo/go-telemetry-pipeline/internal/models"
	"github.com/levinOo/go-telemetry-pipeline/migrations"
)

const (
	defaultChunkSize = 1000
	pointColumns     = 6
)

// PostgresSink складывает точки в таблицу metric_points.
// Повторная доставка того же пакета безопасна: вставка идёт с ON CONFLICT (id) DO NOTHING.
type PostgresSink struct {
	db        *sql.DB
	dsn       string
	chunkSize int
	logger    *zap.SugaredLogger
}

// OpenPostgres открывает пул соединений pgx по dsn.
func OpenPostgres(dsn string, logger *zap.SugaredLogger) (*PostgresSink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewPostgresSink(db, dsn, logger), nil
}

// NewPostgresSink оборачивает готовое подключение. Пустой dsn отключает миграции в Init.
func NewPostgresSink(db *sql.DB, dsn string, logger *zap.SugaredLogger) *PostgresSink {
	return &PostgresSink{
		db:        db,
		dsn:       dsn,
		chunkSize: defaultChunkSize,
		logger:    logger,
	}
}

// Init проверяет соединение и применяет миграции.
func (s *PostgresSink) Init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database is unreachable: %w", err)
	}
	if s.dsn == "" {
		return nil
	}
	if err := migrations.Run(s.dsn); err != nil {
		return err
	}
	s.logger.Infow("Database migrations applied")
	return nil
}

func (s *PostgresSink) Export(ctx context.Context, batch []models.Point) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for start := 0; start < len(batch); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(batch) {
			end = len(batch)
		}

		query, args, err := insertQuery(batch[start:end])
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("batch insert failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func insertQuery(points []models.Point) (string, []interface{}, error) {
	valueStrings := make([]string, 0, len(points))
	valueArgs := make([]interface{}, 0, len(points)*pointColumns)
	argIndex := 1

	for _, p := range points {
		labels, err := p.Labels().MarshalJSON()
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode labels of %s: %w", p.Name(), err)
		}

		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			argIndex, argIndex+1, argIndex+2, argIndex+3, argIndex+4, argIndex+5))
		valueArgs = append(valueArgs, p.ID(), p.Name(), p.Value(), string(p.Kind()), string(labels), p.Timestamp())
		argIndex += pointColumns
	}

	query := fmt.Sprintf(`
		INSERT INTO metric_points (id, name, value, kind, labels, observed_at)
		VALUES %s
		ON CONFLICT (id) DO NOTHING
	`, strings.Join(valueStrings, ","))

	return query, valueArgs, nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
