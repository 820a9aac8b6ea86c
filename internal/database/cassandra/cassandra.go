package cassandra

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/dataset"
)

const (
	insertBatchSize    = 50
	defaultFanOutLimit = 100
	defaultDatacenter  = "datacenter1"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// flavour holds what differs between Cassandra and ScyllaDB.
type flavour struct {
	backend      database.Backend
	tableOptions string
	// optional indexes; failures are logged and ignored
	extraIndexes []string
	// sasi reports whether the first extra index is a SASI CONTAINS index
	sasi bool
}

var (
	cassandraFlavour = flavour{
		backend: database.Cassandra,
		extraIndexes: []string{`CREATE CUSTOM INDEX IF NOT EXISTS idx_cliente_sasi ON %s (cliente)
			USING 'org.apache.cassandra.index.sasi.SASIIndex'
			WITH OPTIONS = {
				'mode': 'CONTAINS',
				'analyzer_class': 'org.apache.cassandra.index.sasi.analyzer.NonTokenizingAnalyzer',
				'case_sensitive': 'false'
			}`},
		sasi: true,
	}
	scyllaFlavour = flavour{
		backend: database.ScyllaDB,
		tableOptions: ` WITH compression = {'sstable_compression': 'LZ4Compressor'}
			AND compaction = {'class': 'LeveledCompactionStrategy'}
			AND caching = {'keys': 'ALL', 'rows_per_partition': 'ALL'}`,
		extraIndexes: []string{"CREATE INDEX IF NOT EXISTS idx_cliente_local ON %s ((codigo), cliente)"},
	}
)

type Driver struct {
	flavour flavour
	params  database.Params
	logger  *zap.SugaredLogger
}

func NewCassandra(params database.Params, logger *zap.SugaredLogger) *Driver {
	return newDriver(cassandraFlavour, params, logger)
}

func NewScylla(params database.Params, logger *zap.SugaredLogger) *Driver {
	return newDriver(scyllaFlavour, params, logger)
}

func newDriver(f flavour, params database.Params, logger *zap.SugaredLogger) *Driver {
	return &Driver{flavour: f, params: params, logger: logger.With("backend", f.backend)}
}

func (d *Driver) Backend() database.Backend { return d.flavour.backend }

func (d *Driver) Connect(ctx context.Context) (database.Handle, error) {
	if !identifier.MatchString(d.params.Database) {
		err := fmt.Errorf("invalid keyspace name %q", d.params.Database)
		return nil, &database.ConnectionError{Backend: d.flavour.backend, Err: err}
	}

	cluster := newCluster(d.params)
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, &database.ConnectionError{Backend: d.flavour.backend, Err: err}
	}
	d.logger.Infof("Connected to %s:%d", d.params.Host, cluster.Port)

	limit := d.params.FanOutLimit
	if limit <= 0 {
		limit = defaultFanOutLimit
	}
	return &handle{
		session:  session,
		flavour:  d.flavour,
		keyspace: d.params.Database,
		table:    d.params.Database + ".atendimentos",
		fanOut:   limit,
		params:   d.params,
		logger:   d.logger,
	}, nil
}

func newCluster(p database.Params) *gocql.ClusterConfig {
	hosts := strings.Split(p.Host, ",")
	cluster := gocql.NewCluster(hosts...)
	if p.Port > 0 {
		cluster.Port = p.Port
	}
	if p.User != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: p.User, Password: p.Password}
	}
	if p.ConnectTimeout > 0 {
		cluster.ConnectTimeout = p.ConnectTimeout
	}
	if p.OperationTimeout > 0 {
		cluster.Timeout = p.OperationTimeout
	}
	if p.PoolSize > 0 {
		cluster.NumConns = p.PoolSize
	}
	dc := p.Datacenter
	if dc == "" {
		dc = defaultDatacenter
	}
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(dc))
	cluster.Consistency = gocql.LocalOne
	return cluster
}

type handle struct {
	session  *gocql.Session
	flavour  flavour
	keyspace string
	table    string
	fanOut   int
	// set by Provision when the SASI index is in place
	sasi   bool
	params database.Params
	logger *zap.SugaredLogger
}

func createTable(table, options string) string {
	cols := make([]string, 0, len(dataset.Columns)+1)
	for _, c := range dataset.Columns {
		if c == "codigo" {
			cols = append(cols, "codigo text PRIMARY KEY")
			continue
		}
		cols = append(cols, c+" text")
	}
	cols = append(cols, "created_at timestamp")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)%s", table, strings.Join(cols, ", "), options)
}

func (h *handle) Provision(ctx context.Context) error {
	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	steps := []struct{ name, stmt string }{
		{"keyspace", fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}", h.keyspace)},
		{"table", createTable(h.table, h.flavour.tableOptions)},
		{"index", fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_cliente ON %s (cliente)", h.table)},
	}
	for _, s := range steps {
		if err := h.session.Query(s.stmt).WithContext(ctx).Exec(); err != nil {
			return &database.ProvisionError{Backend: h.flavour.backend, Step: s.name, Err: err}
		}
	}

	h.sasi = false
	for i, stmt := range h.flavour.extraIndexes {
		if err := h.session.Query(fmt.Sprintf(stmt, h.table)).WithContext(ctx).Exec(); err != nil {
			h.logger.Warnf("Optional index unavailable: %v", err)
			continue
		}
		if i == 0 && h.flavour.sasi {
			h.sasi = true
		}
	}
	return nil
}

// InsertBatch writes the records as unlogged batches of insertBatchSize
// statements, one after another.
func (h *handle) InsertBatch(ctx context.Context, records []dataset.Record) (time.Duration, error) {
	stmt := fmt.Sprintf("INSERT INTO %s (%s, created_at) VALUES (%s?)",
		h.table, strings.Join(dataset.Columns, ", "), strings.Repeat("?, ", len(dataset.Columns)))
	now := time.Now()
	chunks := database.Chunk(records, insertBatchSize)
	batches := make([]*gocql.Batch, len(chunks))
	for i, chunk := range chunks {
		b := h.session.NewBatch(gocql.UnloggedBatch)
		for _, r := range chunk {
			b.Query(stmt, append(r.Values(), now)...)
		}
		batches[i] = b
	}

	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	start := time.Now()
	for _, b := range batches {
		if err := h.session.ExecuteBatch(b.WithContext(ctx)); err != nil {
			return time.Since(start), &database.WriteError{Backend: h.flavour.backend, Records: len(records), Err: err}
		}
	}
	return time.Since(start), nil
}

// QueryByCodes issues one partition-key lookup per code, at most fanOut in
// flight, and reports the span of the whole join.
func (h *handle) QueryByCodes(ctx context.Context, codes []string) ([]dataset.Record, time.Duration, error) {
	start := time.Now()
	codes = database.UniqueCodes(codes)
	if len(codes) == 0 {
		return []dataset.Record{}, time.Since(start), nil
	}

	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE codigo = ?", strings.Join(dataset.Columns, ", "), h.table)
	var mu sync.Mutex
	records := make([]dataset.Record, 0, len(codes))

	start = time.Now()
	err := database.FanOut(ctx, h.fanOut, codes, func(ctx context.Context, code string) error {
		var r dataset.Record
		err := h.session.Query(stmt, code).WithContext(ctx).Scan(scanTargets(&r)...)
		if errors.Is(err, gocql.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		mu.Lock()
		records = append(records, r)
		mu.Unlock()
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, &database.QueryError{Backend: h.flavour.backend, Op: "query-by-code", Err: err}
	}
	return records, elapsed, nil
}

// QueryBySubstring uses the SASI index when Provision created one. Otherwise
// it reads a bounded slice of the table and matches client side.
func (h *handle) QueryBySubstring(ctx context.Context, field, pattern string) ([]dataset.Record, time.Duration, error) {
	if !dataset.IsTextField(field) {
		err := fmt.Errorf("field %q is not searchable", field)
		return nil, 0, &database.QueryError{Backend: h.flavour.backend, Op: "query-by-substring", Err: err}
	}

	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	limit := h.params.SubstringLimit
	start := time.Now()
	if h.sasi && field == "cliente" {
		records, err := h.scan(ctx, likeQuery(h.table, field, limit), []interface{}{"%" + pattern + "%"}, "", "", 0)
		if err == nil {
			return records, time.Since(start), nil
		}
		h.logger.Debugf("SASI query failed, falling back to scan: %v", err)
	}

	records, err := h.scan(ctx, scanQuery(h.table, limit), nil, field, pattern, limit)
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, &database.QueryError{Backend: h.flavour.backend, Op: "query-by-substring", Err: err}
	}
	return records, elapsed, nil
}

func likeQuery(table, field string, limit int) string {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIKE ?", strings.Join(dataset.Columns, ", "), table, field)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return q + " ALLOW FILTERING"
}

// scanQuery reads ten rows per wanted match.
func scanQuery(table string, limit int) string {
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(dataset.Columns, ", "), table)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit*10)
	}
	return q + " ALLOW FILTERING"
}

// scan runs query and keeps the rows whose field contains pattern. An empty
// field keeps every row.
func (h *handle) scan(ctx context.Context, query string, args []interface{}, field, pattern string, limit int) ([]dataset.Record, error) {
	iter := h.session.Query(query, args...).WithContext(ctx).Iter()
	records := []dataset.Record{}
	var r dataset.Record
	for iter.Scan(scanTargets(&r)...) {
		if field == "" || matches(r, field, pattern) {
			records = append(records, r)
			if limit > 0 && len(records) >= limit {
				break
			}
		}
		r = dataset.Record{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return records, nil
}

func matches(r dataset.Record, field, pattern string) bool {
	v, ok := r.Field(field)
	return ok && database.ContainsFold(v, pattern)
}

func scanTargets(r *dataset.Record) []interface{} {
	return []interface{}{
		&r.Codigo, &r.Titulo, &r.DataInicio, &r.DataFim, &r.Origem, &r.Contato, &r.Email,
		&r.Descricao, &r.Atendente, &r.AtendenteEquipe, &r.AtendenteUnidade,
		&r.Cliente, &r.Produto, &r.Situacao, &r.Classificacao, &r.SubClassificacao,
		&r.Tipo, &r.Prioridade,
	}
}

func (h *handle) Count(ctx context.Context) (int64, error) {
	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	var n int64
	if err := h.session.Query("SELECT COUNT(*) FROM " + h.table).WithContext(ctx).Scan(&n); err != nil {
		return 0, &database.QueryError{Backend: h.flavour.backend, Op: "count", Err: err}
	}
	return n, nil
}

// Teardown drops the keyspace, which takes the table and its indexes along.
func (h *handle) Teardown(ctx context.Context) error {
	if err := h.session.Query("DROP KEYSPACE IF EXISTS " + h.keyspace).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("drop keyspace %s: %w", h.keyspace, err)
	}
	h.sasi = false
	return nil
}

func (h *handle) Close(context.Context) error {
	if h.session != nil {
		h.session.Close()
	}
	return nil
}
