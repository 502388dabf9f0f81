package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"idxsync/internal/errs"
	"idxsync/internal/model"
	"idxsync/internal/source"
)

// taxonomyChunk bounds the IN list of a single taxonomy query.
const taxonomyChunk = 500

// rowsSelect is the denormalized projection: one row per store and
// recommendation. Expired or disabled recommendations yield a NULL name.
const rowsSelect = `SELECT s.seq, s.name, s.type, l.address, l.lat, l.lng,
  CASE WHEN z.name IS NULL THEN 0 ELSE 1 END AS zero_possible,
  r.recommend_name, l.location_city, l.location_county, l.location_district
FROM store s
JOIN store_location_info_tbl l ON l.seq = s.seq
LEFT JOIN zero_possible_market z ON z.seq = s.seq
LEFT JOIN store_recommend_tbl sr ON sr.seq = s.seq
LEFT JOIN recommend_tbl r ON r.recommend_seq = sr.recommend_seq
  AND r.recommend_yn = 'Y' AND sr.recommend_end_dt > %s
WHERE s.seq IN (SELECT k.seq FROM (%s) k)
ORDER BY s.seq`

func (s *Source) FetchSnapshotPage(ctx context.Context, at time.Time, cursor int64, batch int) ([]model.StoreRow, error) {
	if batch <= 0 {
		return nil, errs.Configuration("fetch_snapshot_page", "batch size must be > 0")
	}
	b := s.newBuilder()
	atArg := b.arg(s.d.timeArg(at))
	cursorArg := b.arg(cursor)
	keys := fmt.Sprintf(`SELECT s2.seq FROM store s2
JOIN store_location_info_tbl l2 ON l2.seq = s2.seq
WHERE s2.use_yn = 'Y' AND s2.seq > %s
ORDER BY s2.seq LIMIT %s`, cursorArg, b.arg(batch))

	return s.queryRows(ctx, "fetch_snapshot_page", fmt.Sprintf(rowsSelect, atArg, keys), b.args)
}

// subRecords are the aliases of the tables joined to a store in the change
// queries. A registration or change in any of them touches the store.
var subRecords = []string{"l2", "z2", "sr2", "r2", "tl2"}

// FetchChangedPage pages the stores of one change window. Created covers
// stores registered in the window. Updated covers active stores registered
// earlier whose row or any joined record was registered or changed in the
// window. Deleted covers inactive stores changed in the window.
func (s *Source) FetchChangedPage(ctx context.Context, w source.Window, cursor int64, batch int) ([]model.StoreRow, error) {
	if batch <= 0 {
		return nil, errs.Configuration("fetch_changed_page", "batch size must be > 0")
	}
	useYN := "Y"
	switch w.Kind {
	case source.ChangeCreated, source.ChangeUpdated:
	case source.ChangeDeleted:
		useYN = "N"
	default:
		return nil, errs.Configuration("fetch_changed_page", "invalid change kind %q", w.Kind)
	}

	// Placeholders are allocated in textual order for the "?" dialects.
	b := s.newBuilder()
	atArg := b.arg(s.d.timeArg(w.To))
	useArg := b.arg(useYN)
	cursorArg := b.arg(cursor)
	from, to := s.d.timeArg(w.From), s.d.timeArg(w.To)
	within := func(col string) string {
		return fmt.Sprintf("(%s > %s AND %s <= %s)", col, b.arg(from), col, b.arg(to))
	}

	var cond string
	switch w.Kind {
	case source.ChangeCreated:
		cond = within("s2.reg_dt")
	case source.ChangeUpdated:
		registered := within("s2.reg_dt")
		touched := []string{within("s2.chg_dt")}
		for _, alias := range subRecords {
			touched = append(touched, within(alias+".reg_dt"), within(alias+".chg_dt"))
		}
		cond = fmt.Sprintf("NOT %s AND (%s)", registered, strings.Join(touched, " OR "))
	case source.ChangeDeleted:
		touched := []string{within("s2.chg_dt")}
		for _, alias := range subRecords {
			touched = append(touched, within(alias+".chg_dt"))
		}
		cond = "(" + strings.Join(touched, " OR ") + ")"
	}

	keys := fmt.Sprintf(`SELECT DISTINCT s2.seq FROM store s2
JOIN store_location_info_tbl l2 ON l2.seq = s2.seq
LEFT JOIN zero_possible_market z2 ON z2.seq = s2.seq
LEFT JOIN store_recommend_tbl sr2 ON sr2.seq = s2.seq
LEFT JOIN recommend_tbl r2 ON r2.recommend_seq = sr2.recommend_seq
LEFT JOIN store_type_link_tbl tl2 ON tl2.seq = s2.seq
WHERE s2.use_yn = %s AND s2.seq > %s AND %s
ORDER BY s2.seq LIMIT %s`, useArg, cursorArg, cond, b.arg(batch))

	return s.queryRows(ctx, "fetch_changed_page", fmt.Sprintf(rowsSelect, atArg, keys), b.args)
}

func (s *Source) queryRows(ctx context.Context, op string, query string, args []any) ([]model.StoreRow, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindRemoteProtocol, op, "query", err)
	}
	defer rows.Close()

	var out []model.StoreRow
	for rows.Next() {
		var (
			r            model.StoreRow
			typ, addr    sql.NullString
			rec          sql.NullString
			city, county sql.NullString
			district     sql.NullString
			zero         int64
		)
		if err := rows.Scan(&r.Seq, &r.Name, &typ, &addr, &r.Lat, &r.Lng, &zero, &rec, &city, &county, &district); err != nil {
			return nil, errs.Parse(op, "scan store row", err)
		}
		r.Type = nullString(typ)
		r.Address = nullString(addr)
		r.ZeroPossible = zero != 0
		r.RecommendName = nullString(rec)
		r.LocationCity = nullString(city)
		r.LocationCounty = nullString(county)
		r.LocationDistrict = nullString(district)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindRemoteProtocol, op, "read rows", err)
	}
	return out, nil
}

func (s *Source) FetchTaxonomy(ctx context.Context, keys []int64) ([]model.TaxonomyRow, error) {
	const base = `SELECT s.seq, st.major_type, st.sub_type
FROM store s
LEFT JOIN store_type_link_tbl tl ON tl.seq = s.seq
LEFT JOIN store_type_sub st ON st.sub_type = tl.sub_type
WHERE %s
ORDER BY s.seq`

	if keys == nil {
		return s.queryTaxonomy(ctx, fmt.Sprintf(base, "s.use_yn = 'Y'"), nil)
	}

	var out []model.TaxonomyRow
	for start := 0; start < len(keys); start += taxonomyChunk {
		end := min(start+taxonomyChunk, len(keys))
		b := s.newBuilder()
		ph := make([]string, 0, end-start)
		for _, k := range keys[start:end] {
			ph = append(ph, b.arg(k))
		}
		rows, err := s.queryTaxonomy(ctx, fmt.Sprintf(base, "s.seq IN ("+strings.Join(ph, ",")+")"), b.args)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (s *Source) queryTaxonomy(ctx context.Context, query string, args []any) ([]model.TaxonomyRow, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindRemoteProtocol, "fetch_taxonomy", "query", err)
	}
	defer rows.Close()

	var out []model.TaxonomyRow
	for rows.Next() {
		var (
			r          model.TaxonomyRow
			major, sub sql.NullInt64
		)
		if err := rows.Scan(&r.Seq, &major, &sub); err != nil {
			return nil, errs.Parse("fetch_taxonomy", "scan taxonomy row", err)
		}
		r.MajorType = nullInt(major)
		r.SubType = nullInt(sub)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindRemoteProtocol, "fetch_taxonomy", "read rows", err)
	}
	return out, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
