package runner

import (
	"context"
	"fmt"
	"time"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/dataset"
)

// CheckTest labels connection check outcomes in a Report.
const CheckTest database.TestType = "check"

// Check drives every selected backend once through connect, provision,
// insert, count, lookup by code, substring search, teardown and close on
// cfg.Records, without measuring or persisting anything. Only backend
// selection, the dataset, the substring field and driver resolution are
// validated.
func (r *Runner) Check(ctx context.Context) (*Report, error) {
	var problems []string
	if len(r.cfg.Backends) == 0 {
		problems = append(problems, "no backend selected")
	}
	for _, b := range r.cfg.Backends {
		if _, err := database.ParseBackend(string(b)); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(r.cfg.Records) == 0 {
		problems = append(problems, "dataset is empty")
	}
	if field := r.cfg.Settings.SubstringField; !dataset.IsTextField(field) {
		problems = append(problems, fmt.Sprintf("substring field %q is not searchable", field))
	}
	if len(problems) > 0 {
		return nil, &ConfigurationError{Problems: problems}
	}
	drivers, err := r.resolve()
	if err != nil {
		return nil, err
	}

	report := &Report{RunID: r.cfg.RunID}
	for _, driver := range drivers {
		if ctx.Err() != nil {
			r.logger.Warnf("Check interrupted, skipping remaining backends")
			break
		}
		outcome := r.checkBackend(ctx, driver)
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Err != nil {
			r.logger.Errorf("%s check failed (%s): %v", outcome.Backend, outcome.Class, outcome.Err)
		} else {
			r.logger.Infof("%s is working", outcome.Backend)
		}
	}
	return report, nil
}

func (r *Runner) checkBackend(ctx context.Context, driver database.Driver) (out Outcome) {
	b := driver.Backend()
	logger := r.logger.With("backend", b, "test", CheckTest)
	records := r.cfg.Records
	out = Outcome{Backend: b, Test: CheckTest, Result: &database.Result{Backend: b, Test: CheckTest}}
	start := time.Now()
	defer func() {
		out.Duration = time.Since(start)
		out.Result.TotalTime = out.Duration
		out.Class = classify(ctx, out.Err)
	}()

	step := func(name string, err error) bool {
		if err != nil {
			out.Err = fmt.Errorf("%s: %w", name, err)
			return false
		}
		out.Result.Operations++
		logger.Infof("%d. %s ok", out.Result.Operations, name)
		return true
	}

	h, err := driver.Connect(ctx)
	if !step("connect", err) {
		return out
	}
	released := false
	defer func() {
		if !released {
			r.finalize(ctx, h, logger, false)
		}
	}()

	if err := h.Teardown(ctx); err != nil {
		logger.Warnf("Failed to reset %s before provisioning: %v", b, err)
	}
	if !step("provision", h.Provision(ctx)) {
		return out
	}

	elapsed, err := h.InsertBatch(ctx, records)
	if !step("insert", err) {
		return out
	}
	out.Result.Records = int64(len(records))
	logger.Infof("Inserted %d records in %s", len(records), elapsed)

	n, err := h.Count(ctx)
	if err == nil && n != int64(len(records)) {
		err = &database.QueryError{Backend: b, Op: "count", Err: fmt.Errorf("found %d records, inserted %d", n, len(records))}
	}
	if !step("count", err) {
		return out
	}

	codes := dataset.Codes(records)
	found, elapsed, err := h.QueryByCodes(ctx, codes)
	if err == nil && len(found) != len(database.UniqueCodes(codes)) {
		err = &database.QueryError{Backend: b, Op: "query-by-code", Err: fmt.Errorf("found %d of %d codes", len(found), len(codes))}
	}
	if !step("query-by-code", err) {
		return out
	}
	logger.Infof("Found %d records by code in %s", len(found), elapsed)

	field := r.cfg.Settings.SubstringField
	pattern := checkPattern(records, field)
	found, elapsed, err = h.QueryBySubstring(ctx, field, pattern)
	if !step("query-by-substring", err) {
		return out
	}
	logger.Infof("Found %d records with %s containing %q in %s", len(found), field, pattern, elapsed)

	released = true
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.TeardownTimeout)
	defer cancel()
	terr := h.Teardown(tctx)
	cerr := h.Close(tctx)
	if step("teardown", terr) {
		step("close", cerr)
	} else if cerr != nil {
		logger.Warnf("Failed to close %s: %v", b, cerr)
	}
	return out
}

// checkPattern is a prefix of the first non-empty value of field, so the
// substring search has at least one match.
func checkPattern(records []dataset.Record, field string) string {
	for _, rec := range records {
		v, _ := rec.Field(field)
		if runes := []rune(v); len(runes) > 0 {
			if len(runes) > 4 {
				runes = runes[:4]
			}
			return string(runes)
		}
	}
	return "a"
}
