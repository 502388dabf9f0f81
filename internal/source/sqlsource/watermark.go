package sqlsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"idxsync/internal/errs"
)

var timeLayouts = []string{
	sqliteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// toTime converts a scanned timestamp column to UTC.
func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	case nil:
		return time.Time{}, fmt.Errorf("timestamp is null")
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (s *Source) ReadWatermark(ctx context.Context, name string) (time.Time, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Time{}, fmt.Errorf("index name is required")
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	b := s.newBuilder()
	q := "SELECT chg_dt FROM elastic_index_info_tbl WHERE index_name = " + b.arg(name)

	var raw any
	err := s.db.QueryRowContext(ctx, q, b.args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, errs.Configuration("read_watermark", "no watermark for %q; run a full reindex first", name)
	}
	if err != nil {
		return time.Time{}, errs.Wrap(errs.KindRemoteProtocol, "read_watermark", "query", err)
	}
	t, err := toTime(raw)
	if err != nil {
		return time.Time{}, errs.Parse("read_watermark", "decode chg_dt", err)
	}
	return t, nil
}

// WriteWatermark stores ts for name. Moving a watermark backwards is refused.
func (s *Source) WriteWatermark(ctx context.Context, name string, ts time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("index name is required")
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindRemoteProtocol, "write_watermark", "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	sel := s.newBuilder()
	selQ := "SELECT chg_dt FROM elastic_index_info_tbl WHERE index_name = " + sel.arg(name)
	if s.d.name != "sqlite" {
		selQ += " FOR UPDATE"
	}
	var raw any
	err = tx.QueryRowContext(ctx, selQ, sel.args...).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		ins := s.newBuilder()
		q := fmt.Sprintf("INSERT INTO elastic_index_info_tbl (index_name, chg_dt) VALUES (%s, %s)", ins.arg(name), ins.arg(s.d.timeArg(ts)))
		if _, err := tx.ExecContext(ctx, q, ins.args...); err != nil {
			return errs.Wrap(errs.KindRemoteProtocol, "write_watermark", "insert", err)
		}
	case err != nil:
		return errs.Wrap(errs.KindRemoteProtocol, "write_watermark", "select", err)
	default:
		cur, err := toTime(raw)
		if err != nil {
			return errs.Parse("write_watermark", "decode chg_dt", err)
		}
		if ts.UTC().Truncate(time.Second).Before(cur.Truncate(time.Second)) {
			return errs.DataIntegrity("write_watermark", "watermark for %q would move backwards from %s to %s",
				name, cur.Format(time.RFC3339), ts.UTC().Format(time.RFC3339))
		}
		upd := s.newBuilder()
		q := fmt.Sprintf("UPDATE elastic_index_info_tbl SET chg_dt = %s WHERE index_name = %s", upd.arg(s.d.timeArg(ts)), upd.arg(name))
		if _, err := tx.ExecContext(ctx, q, upd.args...); err != nil {
			return errs.Wrap(errs.KindRemoteProtocol, "write_watermark", "update", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindRemoteProtocol, "write_watermark", "commit", err)
	}
	return nil
}
