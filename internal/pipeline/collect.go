package pipeline

import (
	"context"
	"fmt"
	"time"

	"gestor/internal/acessorias"
	"gestor/internal/repo"
)

func (e *Engine) lastWatermark(ctx context.Context, endpoint string) (*time.Time, error) {
	st, err := e.Repo.SyncState(ctx, endpoint)
	if err == repo.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st.LastSyncDH, nil
}

// SyncProcesses collects the processes feed, one paginated pass per
// configured status filter, and upserts the rows.
func (e *Engine) SyncProcesses(ctx context.Context, full bool) (ResourceResult, error) {
	result := ResourceResult{Resource: "processes"}

	var last *time.Time
	if !full {
		var err error
		last, err = e.lastWatermark(ctx, "processes")
		if err != nil {
			return result, err
		}
	}
	wm := Watermark(last, e.now())

	statuses := e.Config.Sync.Statuses
	if len(statuses) == 0 {
		statuses = []string{""}
	}
	perPage := e.Config.API.PageSize

	var rows []acessorias.Record
	lastPage := 0
	for _, status := range statuses {
		for page := 1; ; page++ {
			recs, err := e.Client.ListProcessesPage(ctx, acessorias.ProcessQuery{
				Status:   status,
				Page:     page,
				PerPage:  perPage,
				DtLastDH: wm,
			})
			if err != nil {
				return result, fmt.Errorf("processes status %q page %d: %w", status, page, err)
			}
			if len(recs) == 0 {
				break
			}
			e.Logger.Info("processes page", "status", status, "page", page, "rows", len(recs))
			rows = append(rows, recs...)
			lastPage = page
			if len(recs) < perPage {
				break
			}
		}
	}

	rows = dedupeByProcID(rows)
	result.Rows = len(rows)
	bulk := e.Repo.BulkUpsertProcesses(ctx, rows)
	result.Upserted = bulk.Upserted
	result.Skipped = bulk.Skipped

	newest := NewestObserved(rows, "DtLastDH", "ProcConclusao", "ProcInicio")
	if err := e.Repo.SaveSyncState(ctx, "processes", Advance(last, newest, e.now()), lastPage); err != nil {
		return result, err
	}
	return result, nil
}

// Later pages can repeat rows that moved while paginating; the last
// occurrence wins, order otherwise preserved.
func dedupeByProcID(rows []acessorias.Record) []acessorias.Record {
	order := make([]string, 0, len(rows))
	byID := make(map[string]acessorias.Record, len(rows))
	for i, row := range rows {
		id := ""
		if v, ok := row["ProcID"]; ok && v != nil {
			id = fmt.Sprint(v)
		}
		if id == "" {
			id = fmt.Sprintf("idx_%d", i)
		}
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = row
	}
	out := make([]acessorias.Record, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// SyncDeliveries collects the deliveries feed. Incremental mode pulls
// the watermark window from the bulk endpoint; full mode (or a missing
// watermark) backfills per company CNPJ over the configured history. An
// empty incremental window falls back to a one-month sweep.
func (e *Engine) SyncDeliveries(ctx context.Context, full bool) (ResourceResult, error) {
	result := ResourceResult{Resource: "deliveries"}

	var last *time.Time
	if !full {
		var err error
		last, err = e.lastWatermark(ctx, "deliveries")
		if err != nil {
			return result, err
		}
	}

	var (
		rows []acessorias.Record
		err  error
	)
	if last == nil {
		rows, err = e.backfillDeliveries(ctx)
	} else {
		rows, err = e.deltaDeliveries(ctx, Watermark(last, e.now()))
	}
	if err != nil {
		return result, err
	}

	result.Rows = len(rows)
	bulk := e.Repo.BulkUpsertDeliveries(ctx, rows)
	result.Upserted = bulk.Upserted
	result.Skipped = bulk.Skipped

	newest := NewestObserved(rows, "DtLastDH", "EntDtEvento")
	if err := e.Repo.SaveSyncState(ctx, "deliveries", Advance(last, newest, e.now()), 0); err != nil {
		return result, err
	}
	return result, nil
}

func (e *Engine) deltaDeliveries(ctx context.Context, wm time.Time) ([]acessorias.Record, error) {
	today := e.now().UTC()
	dtInitial := wm.Format("2006-01-02")
	if wm.After(today) {
		dtInitial = today.Format("2006-01-02")
	}
	dtFinal := today.Format("2006-01-02")

	rows, err := e.pagedDeliveries(ctx, acessorias.DeliveryQuery{
		DtLastDH:  wm,
		DtInitial: dtInitial,
		DtFinal:   dtFinal,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows, nil
	}

	// Quiet window: sweep the last month to catch late restatements.
	sweepStart := today.AddDate(0, -1, 0).Format("2006-01-02")
	e.Logger.Info("deliveries delta empty, sweeping last month", "from", sweepStart)
	return e.pagedDeliveries(ctx, acessorias.DeliveryQuery{
		DtInitial: sweepStart,
		DtFinal:   dtFinal,
	})
}

func (e *Engine) pagedDeliveries(ctx context.Context, q acessorias.DeliveryQuery) ([]acessorias.Record, error) {
	q.PerPage = e.Config.API.PageSize
	var out []acessorias.Record
	for page := 1; ; page++ {
		q.Page = page
		recs, err := e.Client.ListDeliveriesPage(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("deliveries page %d: %w", page, err)
		}
		if len(recs) == 0 {
			break
		}
		e.Logger.Info("deliveries page", "page", page, "rows", len(recs))
		out = append(out, recs...)
		if len(recs) < q.PerPage {
			break
		}
	}
	return out, nil
}

func (e *Engine) backfillDeliveries(ctx context.Context) ([]acessorias.Record, error) {
	companies, err := e.Repo.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	today := e.now().UTC()
	start := today.AddDate(0, -e.Config.Sync.MonthsHistory, 0).Format("2006-01-02")
	end := today.Format("2006-01-02")

	var out []acessorias.Record
	for _, company := range companies {
		if company.CNPJ == "" {
			continue
		}
		for page := 1; ; page++ {
			recs, err := e.Client.DeliveriesByCNPJPage(ctx, company.CNPJ, acessorias.DeliveryQuery{
				Page:      page,
				PerPage:   e.Config.API.PageSize,
				DtInitial: start,
				DtFinal:   end,
			})
			if err != nil {
				// One company failing must not sink the backfill.
				e.Logger.Warn("deliveries backfill failed", "cnpj", company.CNPJ, "error", err)
				break
			}
			if len(recs) == 0 {
				break
			}
			e.Logger.Info("deliveries backfill page", "cnpj", company.CNPJ, "page", page, "rows", len(recs))
			out = append(out, recs...)
			if len(recs) < e.Config.API.PageSize {
				break
			}
		}
	}
	return out, nil
}

// SyncCompanies collects companies with their obligations attached,
// derives the obligation counters, and upserts the rows.
func (e *Engine) SyncCompanies(ctx context.Context) (ResourceResult, error) {
	result := ResourceResult{Resource: "companies"}

	var rows []acessorias.Record
	for page := 1; ; page++ {
		recs, err := e.Client.ListCompaniesPage(ctx, page, e.Config.API.PageSize)
		if err != nil {
			return result, fmt.Errorf("companies page %d: %w", page, err)
		}
		if len(recs) == 0 {
			break
		}
		e.Logger.Info("companies page", "page", page, "rows", len(recs))
		rows = append(rows, recs...)
		if len(recs) < e.Config.API.PageSize {
			break
		}
	}

	today := e.now().UTC()
	for _, row := range rows {
		row["ObligationCounters"] = obligationCounters(row, today)
	}

	result.Rows = len(rows)
	bulk := e.Repo.BulkUpsertCompanies(ctx, rows)
	result.Upserted = bulk.Upserted
	result.Skipped = bulk.Skipped

	if err := e.Repo.SaveSyncState(ctx, "companies", Advance(nil, time.Time{}, e.now()), 0); err != nil {
		return result, err
	}
	return result, nil
}
