package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/dataset"
)

const table = "atendimentos"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS atendimentos (
		id SERIAL PRIMARY KEY,
		codigo VARCHAR(255) NOT NULL,
		titulo TEXT,
		data_inicio VARCHAR(255),
		data_fim VARCHAR(255),
		origem VARCHAR(255),
		contato TEXT,
		email VARCHAR(255),
		descricao TEXT,
		atendente VARCHAR(255),
		atendente_equipe VARCHAR(255),
		atendente_unidade VARCHAR(255),
		cliente TEXT,
		produto TEXT,
		situacao VARCHAR(255),
		classificacao VARCHAR(255),
		sub_classificacao VARCHAR(255),
		tipo VARCHAR(255),
		prioridade VARCHAR(255),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	"CREATE INDEX IF NOT EXISTS idx_codigo ON atendimentos(codigo)",
	"CREATE INDEX IF NOT EXISTS idx_cliente ON atendimentos(cliente)",
}

// trigram support needs the pg_trgm extension, which managed instances may
// not allow; substring search still works without it.
var trigram = []string{
	"CREATE EXTENSION IF NOT EXISTS pg_trgm",
	"CREATE INDEX IF NOT EXISTS idx_cliente_trgm ON atendimentos USING gin(cliente gin_trgm_ops)",
}

type Driver struct {
	params database.Params
	logger *zap.SugaredLogger
}

func New(params database.Params, logger *zap.SugaredLogger) *Driver {
	return &Driver{params: params, logger: logger.With("backend", database.Postgres)}
}

func (d *Driver) Backend() database.Backend { return database.Postgres }

func (d *Driver) Connect(ctx context.Context) (database.Handle, error) {
	cfg, err := pgxpool.ParseConfig(dsn(d.params))
	if err != nil {
		return nil, &database.ConnectionError{Backend: database.Postgres, Err: err}
	}
	if d.params.PoolSize > 0 {
		cfg.MaxConns = int32(d.params.PoolSize)
	}
	if d.params.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = d.params.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &database.ConnectionError{Backend: database.Postgres, Err: err}
	}
	pingCtx, cancel := database.WithTimeout(ctx, d.params.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, &database.ConnectionError{Backend: database.Postgres, Err: err}
	}
	d.logger.Infof("Connected to %s", cfg.ConnConfig.Host)
	return &handle{pool: pool, params: d.params, logger: d.logger}, nil
}

func dsn(p database.Params) string {
	if p.URI != "" {
		return p.URI
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Database,
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u.String()
}

type handle struct {
	pool   *pgxpool.Pool
	params database.Params
	logger *zap.SugaredLogger
}

func (h *handle) executeTx(ctx context.Context, txFunc func(pgx.Tx) error) (err error) {
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	return txFunc(tx)
}

func (h *handle) Provision(ctx context.Context) error {
	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	err := h.executeTx(ctx, func(tx pgx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &database.ProvisionError{Backend: database.Postgres, Step: "schema", Err: err}
	}

	for _, stmt := range trigram {
		if _, err := h.pool.Exec(ctx, stmt); err != nil {
			h.logger.Warnf("Trigram index unavailable, substring search will scan: %v", err)
			break
		}
	}
	return nil
}

func (h *handle) InsertBatch(ctx context.Context, records []dataset.Record) (time.Duration, error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = r.Values()
	}

	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	start := time.Now()
	err := h.executeTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.CopyFrom(ctx, pgx.Identifier{table}, dataset.Columns, pgx.CopyFromRows(rows))
		return err
	})
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, &database.WriteError{Backend: database.Postgres, Records: len(records), Err: err}
	}
	return elapsed, nil
}

func (h *handle) QueryByCodes(ctx context.Context, codes []string) ([]dataset.Record, time.Duration, error) {
	start := time.Now()
	codes = database.UniqueCodes(codes)
	if len(codes) == 0 {
		return []dataset.Record{}, time.Since(start), nil
	}

	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	start = time.Now()
	rows, err := h.pool.Query(ctx, selectByCodes, codes)
	if err != nil {
		return nil, time.Since(start), &database.QueryError{Backend: database.Postgres, Op: "query-by-code", Err: err}
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, &database.QueryError{Backend: database.Postgres, Op: "query-by-code", Err: err}
	}
	return records, elapsed, nil
}

func (h *handle) QueryBySubstring(ctx context.Context, field, pattern string) ([]dataset.Record, time.Duration, error) {
	query, err := selectBySubstring(field, h.params.SubstringLimit)
	if err != nil {
		return nil, 0, &database.QueryError{Backend: database.Postgres, Op: "query-by-substring", Err: err}
	}

	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	args := []any{"%" + escapeLike(pattern) + "%"}
	if h.params.SubstringLimit > 0 {
		args = append(args, h.params.SubstringLimit)
	}
	start := time.Now()
	rows, err := h.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, time.Since(start), &database.QueryError{Backend: database.Postgres, Op: "query-by-substring", Err: err}
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, &database.QueryError{Backend: database.Postgres, Op: "query-by-substring", Err: err}
	}
	return records, elapsed, nil
}

func (h *handle) Count(ctx context.Context) (int64, error) {
	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	var n int64
	if err := h.pool.QueryRow(ctx, "SELECT COUNT(*) FROM atendimentos").Scan(&n); err != nil {
		return 0, &database.QueryError{Backend: database.Postgres, Op: "count", Err: err}
	}
	return n, nil
}

func (h *handle) Teardown(ctx context.Context) error {
	_, err := h.pool.Exec(ctx, "DROP TABLE IF EXISTS atendimentos CASCADE")
	if err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	h.logger.Debugf("Dropped %s", table)
	return nil
}

func (h *handle) Close(context.Context) error {
	h.pool.Close()
	return nil
}

var selectByCodes = fmt.Sprintf("SELECT %s FROM %s WHERE codigo = ANY($1)", strings.Join(dataset.Columns, ", "), table)

// selectBySubstring builds the search on field. A limit of 0 returns every
// match.
func selectBySubstring(field string, limit int) (string, error) {
	if !dataset.IsTextField(field) {
		return "", fmt.Errorf("field %q is not searchable", field)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ILIKE $1",
		strings.Join(dataset.Columns, ", "), table, pgx.Identifier{field}.Sanitize())
	if limit > 0 {
		query += " LIMIT $2"
	}
	return query, nil
}

// escapeLike quotes LIKE wildcards so the pattern matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func scanRecord(row pgx.CollectableRow) (dataset.Record, error) {
	var r dataset.Record
	// text columns are nullable
	fields := []*string{
		&r.Codigo, &r.Titulo, &r.DataInicio, &r.DataFim, &r.Origem, &r.Contato, &r.Email,
		&r.Descricao, &r.Atendente, &r.AtendenteEquipe, &r.AtendenteUnidade,
		&r.Cliente, &r.Produto, &r.Situacao, &r.Classificacao, &r.SubClassificacao,
		&r.Tipo, &r.Prioridade,
	}
	dest := make([]any, len(fields))
	nulls := make([]*string, len(fields))
	for i := range fields {
		dest[i] = &nulls[i]
	}
	if err := row.Scan(dest...); err != nil {
		return r, err
	}
	for i, v := range nulls {
		if v != nil {
			*fields[i] = *v
		}
	}
	return r, nil
}
