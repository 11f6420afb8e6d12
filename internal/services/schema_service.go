package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/clients"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
)

// MetadataService reads the live schema of a source table.
type MetadataService interface {
	GetTableSchema(ctx context.Context, cfg *models.ConnectionConfig, database, table string) (*models.TableSchema, error)
}

// SchemaService reads MySQL information_schema.
type SchemaService struct {
	timeout time.Duration
	open    func(ctx context.Context, cfg *models.ConnectionConfig) (*sql.DB, error)
}

func NewSchemaService(timeout time.Duration) *SchemaService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SchemaService{
		timeout: timeout,
		open: func(ctx context.Context, cfg *models.ConnectionConfig) (*sql.DB, error) {
			return clients.OpenMySQL(ctx, cfg, timeout)
		},
	}
}

func (s *SchemaService) GetTableSchema(ctx context.Context, cfg *models.ConnectionConfig, database, table string) (*models.TableSchema, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	db, err := s.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	columns, err := s.getColumns(ctx, db, database, table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, apperr.InvalidInput("source table %s.%s does not exist or has no columns", database, table)
	}

	pks, err := s.getPrimaryKeys(ctx, db, database, table)
	if err != nil {
		return nil, err
	}

	indexes, err := s.getIndexes(ctx, db, database, table)
	if err != nil {
		return nil, err
	}

	schema := &models.TableSchema{
		SourceDatabase: database,
		SourceTable:    table,
		Columns:        columns,
		PrimaryKeys:    pks,
		Indexes:        indexes,
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return schema, nil
}

func (s *SchemaService) getColumns(ctx context.Context, db *sql.DB, database, table string) ([]models.ColumnSchema, error) {
	query := `SELECT
	            COLUMN_NAME,
	            COLUMN_TYPE,
	            IS_NULLABLE,
	            COLUMN_DEFAULT,
	            NUMERIC_PRECISION,
	            NUMERIC_SCALE,
	            CHARACTER_MAXIMUM_LENGTH,
	            COLUMN_COMMENT
	          FROM information_schema.COLUMNS
	          WHERE TABLE_SCHEMA = ?
	          AND TABLE_NAME = ?
	          ORDER BY ORDINAL_POSITION`

	rows, err := db.QueryContext(ctx, query, database, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns of %s.%s: %w", database, table, err)
	}
	defer rows.Close()

	var columns []models.ColumnSchema
	for rows.Next() {
		var r columnRow
		if err := rows.Scan(&r.name, &r.columnType, &r.isNullable, &r.def, &r.precision, &r.scale, &r.length, &r.comment); err != nil {
			return nil, err
		}
		columns = append(columns, r.toColumn())
	}
	return columns, rows.Err()
}

func (s *SchemaService) getPrimaryKeys(ctx context.Context, db *sql.DB, database, table string) ([]string, error) {
	query := `SELECT COLUMN_NAME
	          FROM information_schema.KEY_COLUMN_USAGE
	          WHERE TABLE_SCHEMA = ?
	          AND TABLE_NAME = ?
	          AND CONSTRAINT_NAME = 'PRIMARY'
	          ORDER BY ORDINAL_POSITION`

	rows, err := db.QueryContext(ctx, query, database, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get primary key of %s.%s: %w", database, table, err)
	}
	defer rows.Close()

	var pks []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		pks = append(pks, name)
	}
	return pks, rows.Err()
}

func (s *SchemaService) getIndexes(ctx context.Context, db *sql.DB, database, table string) ([]models.IndexSchema, error) {
	query := `SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE, SEQ_IN_INDEX
	          FROM information_schema.STATISTICS
	          WHERE TABLE_SCHEMA = ?
	          AND TABLE_NAME = ?
	          AND INDEX_NAME <> 'PRIMARY'
	          ORDER BY INDEX_NAME, SEQ_IN_INDEX`

	rows, err := db.QueryContext(ctx, query, database, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes of %s.%s: %w", database, table, err)
	}
	defer rows.Close()

	var indexes []models.IndexSchema
	for rows.Next() {
		var (
			idx       models.IndexSchema
			nonUnique int
		)
		if err := rows.Scan(&idx.Name, &idx.Column, &nonUnique, &idx.Sequence); err != nil {
			return nil, err
		}
		idx.Unique = nonUnique == 0
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

type columnRow struct {
	name       string
	columnType string
	isNullable string
	def        sql.NullString
	precision  sql.NullInt64
	scale      sql.NullInt64
	length     sql.NullInt64
	comment    sql.NullString
}

func (r columnRow) toColumn() models.ColumnSchema {
	col := models.ColumnSchema{
		Name:       r.name,
		SourceType: r.columnType,
		Nullable:   r.isNullable == "YES",
		Precision:  nullInt(r.precision),
		Scale:      nullInt(r.scale),
		MaxLength:  nullInt(r.length),
	}
	if r.def.Valid {
		d := r.def.String
		col.Default = &d
	}
	if r.comment.Valid && r.comment.String != "" {
		c := r.comment.String
		col.Comment = &c
	}
	return col
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
