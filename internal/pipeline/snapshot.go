package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"gestor/internal/domain"
)

// processSummary is the consumer-facing process row.
type processSummary struct {
	ProcID       int64  `json:"proc_id"`
	Empresa      int64  `json:"empresa_id"`
	Titulo       string `json:"titulo,omitempty"`
	Status       string `json:"status,omitempty"`
	Gestor       string `json:"gestor,omitempty"`
	Inicio       string `json:"inicio,omitempty"`
	Conclusao    string `json:"conclusao,omitempty"`
	DiasCorridos *int   `json:"dias_corridos,omitempty"`
	UltimoUpdate string `json:"ultimo_update,omitempty"`
}

// publishSnapshots writes the consumer-facing artifacts atomically. A
// reconcile that errors out before this point leaves the previous
// snapshots untouched.
func (e *Engine) publishSnapshots(runID string, processes []domain.Process, result ReconcileResult) error {
	dir := e.dataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	summaries := make([]processSummary, 0, len(processes))
	for _, p := range processes {
		s := processSummary{
			ProcID:  p.ProcID,
			Empresa: p.CompanyID,
			Titulo:  p.Titulo,
			Status:  p.Status,
			Gestor:  p.Gestor,
		}
		if p.DtInicio != nil {
			s.Inicio = p.DtInicio.Format("2006-01-02")
		}
		if p.DtConclusao != nil {
			s.Conclusao = p.DtConclusao.Format("2006-01-02")
			if p.DtInicio != nil {
				days := int(p.DtConclusao.Sub(*p.DtInicio).Hours() / 24)
				s.DiasCorridos = &days
			}
		}
		if p.UltimoEvento != nil {
			s.UltimoUpdate = p.UltimoEvento.Format(time.RFC3339)
		}
		summaries = append(summaries, s)
	}

	meta := map[string]any{
		"run_id":       runID,
		"generated_at": e.now().UTC().Format(time.RFC3339),
		"events":       len(result.Events),
		"divergences":  len(result.Divergences),
		"processes":    len(processes),
	}

	files := []struct {
		name string
		v    any
	}{
		{"events.json", result.Events},
		{"divergences.json", result.Divergences},
		{"alerts.json", result.Alerts},
		{"kpis.json", result.KPIs},
		{"processes.json", summaries},
		{"meta.json", meta},
	}
	for _, f := range files {
		if err := writeJSONAtomic(filepath.Join(dir, f.name), f.v); err != nil {
			return err
		}
	}
	return nil
}

// writeJSONAtomic writes via a temp file and rename so readers never
// observe a partial snapshot.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
