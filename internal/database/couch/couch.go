package couch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // "couch" driver
	"github.com/google/uuid"
	"go.uber.org/zap"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/dataset"
)

const (
	designID  = "_design/queries"
	byCodigo  = "_view/by_codigo"
	countView = "_view/count"
)

// document is a record as stored in CouchDB.
type document struct {
	ID  string `json:"_id"`
	Rev string `json:"_rev,omitempty"`
	dataset.Record
}

func designDoc() map[string]interface{} {
	return map[string]interface{}{
		"_id":      designID,
		"language": "javascript",
		"views": map[string]interface{}{
			"by_codigo": map[string]string{
				"map": "function(doc) { if (doc.codigo) { emit(doc.codigo, doc); } }",
			},
			"count": map[string]string{
				"map":    "function(doc) { if (doc.codigo) { emit(null, 1); } }",
				"reduce": "_count",
			},
		},
	}
}

var mangoIndexes = map[string]string{
	"codigo-index":  "codigo",
	"cliente-index": "cliente",
}

type Driver struct {
	params database.Params
	logger *zap.SugaredLogger
}

func New(params database.Params, logger *zap.SugaredLogger) *Driver {
	return &Driver{params: params, logger: logger.With("backend", database.CouchDB)}
}

func (d *Driver) Backend() database.Backend { return database.CouchDB }

func (d *Driver) Connect(ctx context.Context) (database.Handle, error) {
	client, err := kivik.New("couch", dsn(d.params))
	if err != nil {
		return nil, &database.ConnectionError{Backend: database.CouchDB, Err: err}
	}

	pingCtx, cancel := database.WithTimeout(ctx, d.params.ConnectTimeout)
	defer cancel()
	// DBExists needs valid credentials, Ping does not.
	if _, err := client.DBExists(pingCtx, d.params.Database); err != nil {
		_ = client.Close()
		return nil, &database.ConnectionError{Backend: database.CouchDB, Err: err}
	}
	d.logger.Infof("Connected to %s", d.params.Host)
	return &handle{client: client, params: d.params, logger: d.logger}, nil
}

func dsn(p database.Params) string {
	if p.URI != "" {
		return p.URI
	}
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/",
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u.String()
}

type handle struct {
	client *kivik.Client
	params database.Params
	logger *zap.SugaredLogger
}

func (h *handle) db() *kivik.DB {
	return h.client.DB(h.params.Database)
}

func (h *handle) Provision(ctx context.Context) error {
	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	err := h.client.CreateDB(ctx, h.params.Database)
	if err != nil && kivik.HTTPStatus(err) != http.StatusPreconditionFailed {
		return &database.ProvisionError{Backend: database.CouchDB, Step: "database", Err: err}
	}

	db := h.db()
	doc := designDoc()
	if rev, err := db.GetRev(ctx, designID); err == nil {
		doc["_rev"] = rev
	} else if kivik.HTTPStatus(err) != http.StatusNotFound {
		return &database.ProvisionError{Backend: database.CouchDB, Step: "design document", Err: err}
	}
	if _, err := db.Put(ctx, designID, doc); err != nil {
		return &database.ProvisionError{Backend: database.CouchDB, Step: "design document", Err: err}
	}

	for name, field := range mangoIndexes {
		index := map[string]interface{}{"fields": []string{field}}
		if err := db.CreateIndex(ctx, "", name, index); err != nil {
			h.logger.Warnf("Could not create %s: %v", name, err)
		}
	}
	return nil
}

func (h *handle) InsertBatch(ctx context.Context, records []dataset.Record) (time.Duration, error) {
	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = document{ID: uuid.NewString(), Record: r}
	}

	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	start := time.Now()
	res, err := h.db().BulkDocs(ctx, docs)
	elapsed := time.Since(start)
	if err == nil {
		err = bulkError(res)
	}
	if err != nil {
		return elapsed, &database.WriteError{Backend: database.CouchDB, Records: len(records), Err: err}
	}
	return elapsed, nil
}

func bulkError(res []kivik.BulkResult) error {
	var failed int
	var first error
	for _, r := range res {
		if r.Error != nil {
			failed++
			if first == nil {
				first = fmt.Errorf("document %s: %w", r.ID, r.Error)
			}
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d documents rejected, first: %w", failed, first)
}

// QueryByCodes posts every code to the by_codigo view in one request.
func (h *handle) QueryByCodes(ctx context.Context, codes []string) ([]dataset.Record, time.Duration, error) {
	start := time.Now()
	codes = database.UniqueCodes(codes)
	if len(codes) == 0 {
		return []dataset.Record{}, time.Since(start), nil
	}

	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	start = time.Now()
	rs := h.db().Query(ctx, designID, byCodigo, kivik.Param("keys", codes))
	records, err := collect(rs, func(rs *kivik.ResultSet, r *dataset.Record) error { return rs.ScanValue(r) })
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, &database.QueryError{Backend: database.CouchDB, Op: "query-by-code", Err: err}
	}
	return records, elapsed, nil
}

// QueryBySubstring runs a Mango regex selector. No index covers it, so
// CouchDB scans the database.
func (h *handle) QueryBySubstring(ctx context.Context, field, pattern string) ([]dataset.Record, time.Duration, error) {
	if !dataset.IsTextField(field) {
		err := fmt.Errorf("field %q is not searchable", field)
		return nil, 0, &database.QueryError{Backend: database.CouchDB, Op: "query-by-substring", Err: err}
	}

	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	start := time.Now()
	rs := h.db().Find(ctx, findQuery(field, pattern, h.params.SubstringLimit))
	records, err := collect(rs, func(rs *kivik.ResultSet, r *dataset.Record) error {
		var doc document
		if err := rs.ScanDoc(&doc); err != nil {
			return err
		}
		*r = doc.Record
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, &database.QueryError{Backend: database.CouchDB, Op: "query-by-substring", Err: err}
	}
	return records, elapsed, nil
}

func findQuery(field, pattern string, limit int) map[string]interface{} {
	q := map[string]interface{}{
		"selector": map[string]interface{}{
			field: map[string]interface{}{"$regex": "(?i)" + regexp.QuoteMeta(pattern)},
		},
	}
	if limit > 0 {
		q["limit"] = limit
	}
	return q
}

func collect(rs *kivik.ResultSet, scan func(*kivik.ResultSet, *dataset.Record) error) ([]dataset.Record, error) {
	defer rs.Close()
	records := []dataset.Record{}
	for rs.Next() {
		var r dataset.Record
		if err := scan(rs, &r); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rs.Err()
}

func (h *handle) Count(ctx context.Context) (int64, error) {
	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	rs := h.db().Query(ctx, designID, countView)
	defer rs.Close()
	var n int64
	if rs.Next() {
		if err := rs.ScanValue(&n); err != nil {
			return 0, &database.QueryError{Backend: database.CouchDB, Op: "count", Err: err}
		}
	}
	if err := rs.Err(); err != nil {
		return 0, &database.QueryError{Backend: database.CouchDB, Op: "count", Err: err}
	}
	return n, nil
}

// Teardown deletes the database. A missing database counts as done.
func (h *handle) Teardown(ctx context.Context) error {
	err := h.client.DestroyDB(ctx, h.params.Database)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("destroy %s: %w", h.params.Database, err)
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && kivik.HTTPStatus(err) == http.StatusNotFound
}

func (h *handle) Close(context.Context) error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}
