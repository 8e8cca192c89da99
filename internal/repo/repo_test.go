package repo

import (
	"context"
	"testing"
	"time"

	"gestor/internal/db"
	"gestor/internal/domain"
	"gestor/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	frozen := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	return Repo{DB: conn, Now: func() time.Time { return frozen }}
}

func TestUpsertCompanyIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	payload := Payload{"EmpresaID": float64(42), "CNPJ": "12.345.678/0001-95", "EmpNome": "Acme Contábil"}
	first, err := r.UpsertCompany(ctx, payload)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := r.UpsertCompany(ctx, payload)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same row, got ids %d and %d", first.ID, second.ID)
	}
	if second.CNPJ != "12345678000195" {
		t.Fatalf("expected digits-only cnpj, got %q", second.CNPJ)
	}

	companies, err := r.ListCompanies(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(companies) != 1 {
		t.Fatalf("expected 1 company, got %d", len(companies))
	}
}

func TestUpsertCompanyMatchesByCNPJWhenSourceIDMissing(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.UpsertCompany(ctx, Payload{"CNPJ": "12345678000195", "EmpNome": "Sem ID"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	c, err := r.UpsertCompany(ctx, Payload{"EmpresaID": float64(9), "CNPJ": "12345678000195", "EmpNome": "Com ID"})
	if err != nil {
		t.Fatalf("upsert with id: %v", err)
	}
	if c.Nome != "Com ID" {
		t.Fatalf("expected name refreshed, got %q", c.Nome)
	}
	companies, _ := r.ListCompanies(ctx)
	if len(companies) != 1 {
		t.Fatalf("expected merge into 1 row, got %d", len(companies))
	}
	if companies[0].SourceID == nil || *companies[0].SourceID != 9 {
		t.Fatalf("expected source id backfilled, got %v", companies[0].SourceID)
	}
}

func TestUpsertCompanyRequiresCNPJ(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.UpsertCompany(context.Background(), Payload{"EmpNome": "Sem documento"})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpsertProcessKeepsDatesOnBadValue(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.UpsertProcess(ctx, Payload{
		"ProcID":     float64(100),
		"CNPJ":       "12345678000195",
		"EmpNome":    "Acme",
		"ProcNome":   "Fechamento Fiscal",
		"ProcStatus": "A",
		"ProcInicio": "2024-05-02",
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	// Garbage date must not null the stored one.
	_, err = r.UpsertProcess(ctx, Payload{
		"ProcID":     float64(100),
		"CNPJ":       "12345678000195",
		"ProcStatus": "C",
		"ProcInicio": "quando der",
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	procs, err := r.ListProcesses(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(procs) != 1 {
		t.Fatalf("expected 1 process, got %d", len(procs))
	}
	if procs[0].Status != "Concluído" {
		t.Fatalf("expected refreshed status label, got %q", procs[0].Status)
	}
	if procs[0].DtInicio == nil || procs[0].DtInicio.Format("2006-01-02") != "2024-05-02" {
		t.Fatalf("expected start date preserved, got %v", procs[0].DtInicio)
	}
}

func TestUpsertProcessMapsStatusCodeToLabel(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	cases := []struct {
		code string
		want string
	}{
		{"A", "Em andamento"},
		{"c", "Concluído"},
		{"W", "Em espera"},
		// Unknown codes pass through untouched.
		{"Arquivado", "Arquivado"},
		{"", ""},
	}
	for i, tc := range cases {
		p, err := r.UpsertProcess(ctx, Payload{
			"ProcID":     float64(200 + i),
			"CNPJ":       "12345678000195",
			"EmpNome":    "Acme",
			"ProcStatus": tc.code,
		})
		if err != nil {
			t.Fatalf("upsert %q: %v", tc.code, err)
		}
		if p.Status != tc.want {
			t.Fatalf("status %q: expected %q, got %q", tc.code, tc.want, p.Status)
		}
	}

	procs, err := r.ListProcesses(ctx, "Em andamento")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(procs) != 1 || procs[0].ProcID != 200 {
		t.Fatalf("expected the stored status to be the label, got %+v", procs)
	}
}

func TestUpsertProcessRequiresProcID(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.UpsertProcess(context.Background(), Payload{"CNPJ": "12345678000195"})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpsertDeliveryCompositeKey(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	base := Payload{
		"CNPJ":        "12345678000195",
		"EmpNome":     "Acme",
		"Obrigacao":   "EFD-Reinf",
		"Competencia": "2024-05",
		"EntStatus":   "Pendente",
	}
	first, err := r.UpsertDelivery(ctx, base)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	updated := Payload{
		"CNPJ":        "12345678000195",
		"Obrigacao":   "EFD-Reinf",
		"Competencia": "2024-05",
		"EntStatus":   "Entregue",
		"EntDtEntrega": "2024-05-14",
	}
	second, err := r.UpsertDelivery(ctx, updated)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected composite key to dedupe, got ids %d and %d", first.ID, second.ID)
	}

	deliveries, err := r.ListDeliveries(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	if deliveries[0].Situacao != "Entregue" {
		t.Fatalf("expected refreshed situacao, got %q", deliveries[0].Situacao)
	}

	other := Payload{
		"CNPJ":        "12345678000195",
		"Obrigacao":   "EFD-Reinf",
		"Competencia": "2024-06",
		"EntStatus":   "Pendente",
	}
	if _, err := r.UpsertDelivery(ctx, other); err != nil {
		t.Fatalf("other competencia: %v", err)
	}
	deliveries, _ = r.ListDeliveries(ctx)
	if len(deliveries) != 2 {
		t.Fatalf("expected separate row per competencia, got %d", len(deliveries))
	}
}

func TestUpsertDeliveryCompetenciaFallback(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	d, err := r.UpsertDelivery(ctx, Payload{
		"CNPJ":      "12345678000195",
		"Obrigacao": "DCTFWeb",
		"EntDtPrazo": "15/05/2024",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if d.Competencia != "2024-05" {
		t.Fatalf("expected competencia from due date, got %q", d.Competencia)
	}

	d, err = r.UpsertDelivery(ctx, Payload{
		"CNPJ":      "12345678000195",
		"Obrigacao": "DEFIS",
	})
	if err != nil {
		t.Fatalf("upsert without dates: %v", err)
	}
	// Repo clock is frozen at 2024-06-10.
	if d.Competencia != "2024-06" {
		t.Fatalf("expected current-month fallback, got %q", d.Competencia)
	}
}

func TestBulkUpsertSkipsBadRows(t *testing.T) {
	r := newTestRepo(t)
	res := r.BulkUpsertDeliveries(context.Background(), []Payload{
		{"CNPJ": "12345678000195", "Obrigacao": "EFD-Reinf", "Competencia": "2024-05"},
		{"Obrigacao": "sem cnpj"},
		{"CNPJ": "12345678000195", "Competencia": "2024-05"},
	})
	if res.Upserted != 1 || res.Skipped != 2 {
		t.Fatalf("expected 1 upserted / 2 skipped, got %+v", res)
	}
}

func TestSyncStateRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.SyncState(ctx, "processes:A"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for fresh endpoint, got %v", err)
	}

	mark := time.Date(2024, 6, 10, 11, 55, 0, 0, time.UTC)
	if err := r.SaveSyncState(ctx, "processes:A", mark, 3); err != nil {
		t.Fatalf("save: %v", err)
	}
	st, err := r.SyncState(ctx, "processes:A")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.LastSyncDH == nil || !st.LastSyncDH.Equal(mark) {
		t.Fatalf("expected watermark %v, got %v", mark, st.LastSyncDH)
	}
	if st.LastPage == nil || *st.LastPage != 3 {
		t.Fatalf("expected last page 3, got %v", st.LastPage)
	}

	if err := r.ResetSyncState(ctx, "processes:A"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := r.SyncState(ctx, "processes:A"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after reset, got %v", err)
	}
}

func TestReplaceEventsIsWholesale(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	first := []KeyedEvent{
		{Key: "k1", Event: domain.Event{Source: "api", Categoria: "obrigacao", Subtipo: "EFD-Reinf"}},
		{Key: "k2", Event: domain.Event{Source: "api", Categoria: "processo", Status: "A"}},
	}
	if err := r.ReplaceEvents(ctx, first); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	second := []KeyedEvent{
		{Key: "k3", Event: domain.Event{Source: "email", Categoria: "obrigacao", Subtipo: "DCTFWeb"}},
	}
	if err := r.ReplaceEvents(ctx, second); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	events, err := r.ListEvents(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected wholesale replacement, got %d events", len(events))
	}
	if events[0].Key != "k3" || events[0].Event.Subtipo != "DCTFWeb" {
		t.Fatalf("unexpected surviving event: %+v", events[0])
	}

	byCat, err := r.ListEvents(ctx, "processo")
	if err != nil {
		t.Fatalf("list by categoria: %v", err)
	}
	if len(byCat) != 0 {
		t.Fatalf("expected no processo events, got %d", len(byCat))
	}
}

func TestDivergencesByRun(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	batch := []domain.Divergence{
		{ID: "d1", RunID: "run-1", Key: "k", API: domain.Event{Status: "Entregue"}, Mail: domain.Event{Status: "Pendente"}, TS: "2024-06-10T12:00:00Z"},
		{ID: "d2", RunID: "run-2", Key: "k", API: domain.Event{Status: "Atrasada"}, Mail: domain.Event{Status: "Entregue"}, TS: "2024-06-11T12:00:00Z"},
	}
	if err := r.InsertDivergences(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := r.ListDivergences(ctx, "run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "d1" {
		t.Fatalf("expected only run-1 divergence, got %+v", got)
	}
	if got[0].API.Status != "Entregue" || got[0].Mail.Status != "Pendente" {
		t.Fatalf("expected both sides round-tripped, got %+v", got[0])
	}

	all, err := r.ListDivergences(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both runs, got %d", len(all))
	}
}
