package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"gestor/internal/alerts"
	"gestor/internal/domain"
	"gestor/internal/flatten"
	"gestor/internal/fuse"
	"gestor/internal/repo"
)

func (e *Engine) rulesPath() string {
	return filepath.Join(e.Workspace, e.Config.RulesFile)
}

func (e *Engine) dataDir() string {
	return filepath.Join(e.Workspace, e.Config.DataDir)
}

// BuildEvents derives the API event stream from stored entities:
// flattened process steps plus delivery conversions. The delivery
// events are also returned separately for the company KPIs.
func (e *Engine) BuildEvents(ctx context.Context) (apiEvents, deliveryEvents []domain.Event, err error) {
	rules, err := flatten.LoadRules(e.rulesPath())
	if err != nil {
		return nil, nil, err
	}

	companies, err := e.Repo.ListCompanies(ctx)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[int64]domain.Company, len(companies))
	for _, c := range companies {
		byID[c.ID] = c
	}

	processes, err := e.Repo.ListProcesses(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	for _, p := range processes {
		payload := decodePayload(p.RawJSON)
		if _, ok := payload["ProcID"]; !ok {
			payload["ProcID"] = fmt.Sprint(p.ProcID)
		}
		if c, ok := byID[p.CompanyID]; ok {
			setDefault(payload, "EmpNome", c.Nome)
			setDefault(payload, "EmpCNPJ", c.CNPJ)
		}
		apiEvents = append(apiEvents, flatten.Flatten(payload, rules)...)
	}

	deliveries, err := e.Repo.ListDeliveries(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, d := range deliveries {
		payload := decodePayload(d.RawJSON)
		setDefault(payload, "Obrigacao", d.Tipo)
		setDefault(payload, "Competencia", d.Competencia)
		if c, ok := byID[d.CompanyID]; ok {
			setDefault(payload, "Empresa", c.Nome)
			setDefault(payload, "CNPJ", c.CNPJ)
		}
		deliveryEvents = append(deliveryEvents, flatten.DeliveryEvent(payload))
	}

	return append(apiEvents, deliveryEvents...), deliveryEvents, nil
}

func decodePayload(raw string) flatten.Payload {
	payload := flatten.Payload{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &payload)
	}
	return payload
}

func setDefault(payload flatten.Payload, key, value string) {
	if value == "" {
		return
	}
	if v, ok := payload[key]; ok && v != nil && fmt.Sprint(v) != "" {
		return
	}
	payload[key] = value
}

// MailEvents loads the pre-normalized mail-derived stream from the data
// dir. The file is opaque external input; a missing file means no mail
// events, not an error.
func (e *Engine) MailEvents() ([]domain.Event, error) {
	data, err := os.ReadFile(filepath.Join(e.dataDir(), "events_email.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var events []domain.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("events_email.json: %w", err)
	}
	return events, nil
}

// ReconcileResult is one reconciliation pass's output.
type ReconcileResult struct {
	Events      []domain.Event
	Divergences []domain.Divergence
	Alerts      domain.Alerts
	KPIs        domain.KPIs
}

// Reconcile rebuilds the event set from stored entities, fuses it with
// the mail stream, persists events and divergences, computes alerts
// and KPIs, and publishes the snapshots.
func (e *Engine) Reconcile(ctx context.Context, runID string) (ReconcileResult, error) {
	var result ReconcileResult

	apiEvents, deliveryEvents, err := e.BuildEvents(ctx)
	if err != nil {
		return result, err
	}
	mailEvents, err := e.MailEvents()
	if err != nil {
		return result, err
	}

	merged, divergences := fuse.Fuse(apiEvents, mailEvents, e.Config.Fusion.PreferMailKeywords)
	e.Logger.Info("events fused",
		"api", len(apiEvents),
		"mail", len(mailEvents),
		"merged", len(merged),
		"divergences", len(divergences))

	now := e.now().UTC()
	keyed := make([]repo.KeyedEvent, 0, len(merged))
	for _, kv := range merged {
		keyed = append(keyed, repo.KeyedEvent{Key: kv.Key, Event: kv.Event})
		result.Events = append(result.Events, kv.Event)
	}
	for i := range divergences {
		divergences[i].ID = uuid.NewString()
		divergences[i].RunID = runID
		divergences[i].TS = now.Format(time.RFC3339)
	}
	result.Divergences = divergences

	if err := e.Repo.ReplaceEvents(ctx, keyed); err != nil {
		return result, err
	}
	if err := e.Repo.InsertDivergences(ctx, divergences); err != nil {
		return result, err
	}

	processes, err := e.Repo.ListProcesses(ctx, "")
	if err != nil {
		return result, err
	}
	result.Alerts = alerts.Compute(result.Events, e.alertConfig(), now)
	result.KPIs = alerts.ComputeKPIs(processes, result.Events, deliveryEvents, now)

	if err := e.publishSnapshots(runID, processes, result); err != nil {
		return result, err
	}
	return result, nil
}
