// Package alerts computes deadline-risk alerts and aggregate counters
// from the fused event list and the persisted entities.
package alerts

import (
	"math"
	"sort"
	"strings"
	"time"

	"gestor/internal/domain"
)

// Config carries the deadline table. Days are day-of-month due dates
// for the two fixed obligation categories.
type Config struct {
	ReinfDay       int
	EFDContribDay  int
	RiskWindowDays int
}

func monthlyDue(today time.Time, day int) time.Time {
	return time.Date(today.Year(), today.Month(), day, 0, 0, 0, 0, time.UTC)
}

func dueWithin(due, today time.Time, window int) bool {
	delta := int(due.Sub(today).Hours() / 24)
	return delta >= 0 && delta <= window
}

// Compute builds the three alert lists for one run. Obligation events
// enter a category list iff their effective due date falls inside
// [today, today+window]; blocking step events are surfaced
// unconditionally.
func Compute(events []domain.Event, cfg Config, today time.Time) domain.Alerts {
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	reinfDue := monthlyDue(today, cfg.ReinfDay)
	efdDue := monthlyDue(today, cfg.EFDContribDay)

	out := domain.Alerts{
		ReinfEmRisco:      []domain.AlertEntry{},
		EFDContribEmRisco: []domain.AlertEntry{},
		Bloqueantes:       []domain.AlertEntry{},
	}

	for _, ev := range events {
		if ev.Categoria == "process_step" && ev.Bloqueante && !strings.EqualFold(ev.PassoStatus, "OK") {
			out.Bloqueantes = append(out.Bloqueantes, domain.AlertEntry{
				ProcID:      ev.ProcID,
				Empresa:     ev.Empresa,
				Prazo:       ev.Prazo,
				Responsavel: ev.Responsavel,
				Status:      ev.PassoStatus,
			})
			continue
		}
		if ev.Categoria != "obrigacao" {
			continue
		}

		// Delivered or exempt obligations are no longer at risk. The
		// mail stream reports delivery by status alone, without a date.
		status := strings.ToLower(ev.Status)
		if ev.Entrega != "" || strings.HasPrefix(status, "entreg") || strings.HasPrefix(status, "disp") {
			continue
		}

		subtipo := strings.ToLower(ev.Subtipo)
		var (
			target   *[]domain.AlertEntry
			deadline time.Time
		)
		switch {
		case strings.Contains(subtipo, "reinf"):
			target = &out.ReinfEmRisco
			deadline = reinfDue
		case strings.Contains(subtipo, "efd") && strings.Contains(subtipo, "contrib"):
			target = &out.EFDContribEmRisco
			deadline = efdDue
		default:
			continue
		}

		// An explicit per-event due date overrides the month-based one.
		if ev.Prazo != "" {
			if t, err := time.Parse("2006-01-02", ev.Prazo); err == nil {
				deadline = t
			}
		}

		if dueWithin(deadline, today, cfg.RiskWindowDays) {
			*target = append(*target, domain.AlertEntry{
				ProcID:      ev.ProcID,
				Empresa:     ev.Empresa,
				Competencia: ev.Competencia,
				Prazo:       deadline.Format("2006-01-02"),
				Status:      ev.Status,
			})
		}
	}

	sortByPrazo(out.ReinfEmRisco)
	sortByPrazo(out.EFDContribEmRisco)
	sortByPrazo(out.Bloqueantes)
	return out
}

// Empty due dates sort first.
func sortByPrazo(entries []domain.AlertEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Prazo < entries[j].Prazo
	})
}

// ComputeKPIs aggregates counters over processes, the fused event
// list, and the delivery-derived events.
func ComputeKPIs(processes []domain.Process, events []domain.Event, deliveryEvents []domain.Event, today time.Time) domain.KPIs {
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	var kpis domain.KPIs
	kpis.Processes.ByStatus = map[string]int{}
	kpis.Obligations.BySubtipo = map[string]int{}
	kpis.Obligations.ByStatus = map[string]int{}
	kpis.Obligations.Totals = map[string]int{}
	kpis.Obligations.PorCompetencia = map[string]map[string]int{}
	kpis.Companies.ObligationsTotals = map[string]int{}

	var concluded, fechamento []float64
	for _, p := range processes {
		status := strings.TrimSpace(p.Status)
		if status == "" {
			status = "Sem status"
		}
		kpis.Processes.ByStatus[status]++
		if p.DtConclusao == nil {
			continue
		}
		concl := p.DtConclusao.UTC()
		if concl.Year() == today.Year() && concl.YearDay() == today.YearDay() {
			kpis.Processes.ConcluidosHoje++
		}
		if concl.Year() == today.Year() && concl.Month() == today.Month() {
			kpis.Processes.ConcluidosMes++
		}
		if p.DtInicio != nil {
			days := p.DtConclusao.Sub(*p.DtInicio).Hours() / 24
			if days > 0 {
				concluded = append(concluded, days)
				if strings.Contains(strings.ToLower(p.Titulo), "fechamento") {
					fechamento = append(fechamento, days)
				}
			}
		}
	}
	if len(concluded) > 0 {
		var sum float64
		for _, d := range concluded {
			sum += d
		}
		avg := math.Round(sum/float64(len(concluded))*100) / 100
		kpis.Processes.AvgDaysConcluded = &avg
	}
	if len(fechamento) > 0 {
		med := math.Round(median(fechamento)*100) / 100
		kpis.Processes.MedianDaysFechamento = &med
	}

	for _, ev := range events {
		if ev.Categoria != "obrigacao" {
			continue
		}
		subtipo := strings.TrimSpace(ev.Subtipo)
		if subtipo == "" {
			subtipo = "Sem subtipo"
		}
		status := strings.TrimSpace(ev.Status)
		if status == "" {
			status = "Sem status"
		}
		kpis.Obligations.BySubtipo[subtipo]++
		kpis.Obligations.ByStatus[status]++
		kpis.Obligations.Totals[status]++
		if series := competenciaSeries(ev.Subtipo); series != "" && ev.Competencia != "" {
			bucket := kpis.Obligations.PorCompetencia[ev.Competencia]
			if bucket == nil {
				bucket = map[string]int{}
				kpis.Obligations.PorCompetencia[ev.Competencia] = bucket
			}
			bucket[series]++
		}
	}

	for _, ev := range deliveryEvents {
		status := strings.TrimSpace(ev.Status)
		if status == "" {
			status = "Sem status"
		}
		kpis.Companies.ObligationsTotals[status]++
	}
	return kpis
}

func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// competenciaSeries picks the tracked monthly series, if any, for an
// obligation subtipo.
func competenciaSeries(subtipo string) string {
	s := strings.ToLower(subtipo)
	switch {
	case strings.Contains(s, "reinf"):
		return "reinf"
	case strings.Contains(s, "efd") && strings.Contains(s, "contrib"):
		return "efd_contrib"
	case strings.Contains(s, "difal"):
		return "difal"
	}
	return ""
}
