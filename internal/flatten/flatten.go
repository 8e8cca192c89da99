// Package flatten derives typed events from stored processes and
// deliveries: a depth-first walk of each process's step tree classified
// against an ordered rule table, plus a direct conversion of delivery
// rows.
package flatten

import (
	"fmt"
	"strings"

	"gestor/internal/dates"
	"gestor/internal/domain"
)

// Flatten walks the process's step tree depth-first, pre-order, and
// yields one event per rule-matched node. Unmatched nodes produce
// nothing but their children are still visited.
func Flatten(proc Payload, rules []Rule) []domain.Event {
	procID := str(proc, "ProcID", "ProcId")
	if procID == "" {
		if v, ok := proc["ProcID"]; ok && v != nil {
			procID = strings.TrimSpace(fmt.Sprint(v))
		}
	}
	base := domain.Event{
		Source:    "api",
		Categoria: "process_step",
		ProcID:    procID,
		Empresa:   str(proc, "EmpNome", "Empresa", "ProcEmpresaNome"),
		CNPJ:      str(proc, "EmpCNPJ", "CNPJ", "ProcEmpresaCNPJ"),
		Regime:    str(proc, "ProcDepartamento", "Departamento"),
	}
	dataEvento := dates.ToISODate(str(proc, "ProcConclusao", "ProcInicio"))

	var out []domain.Event
	walkSteps(ParseSteps(proc), rules, base, dataEvento, &out)
	return out
}

func walkSteps(nodes []domain.StepNode, rules []Rule, base domain.Event, dataEvento string, out *[]domain.Event) {
	for _, node := range nodes {
		label := node.Nome
		if node.Entrega != nil && node.Entrega.Nome != "" {
			label = node.Nome + " | " + node.Entrega.Nome
		}
		if rule, ok := Match(label, rules); ok {
			ev := base
			if rule.Categoria != "" {
				ev.Categoria = rule.Categoria
			}
			ev.Subtipo = rule.Subtipo
			ev.Status = rule.Status
			ev.PassoStatus = node.Status
			ev.Bloqueante = node.Bloqueante
			ev.DataEvento = dataEvento
			if node.Entrega != nil {
				ev.Responsavel = node.Entrega.Responsavel
				ev.Prazo = dates.ToISODate(node.Entrega.Prazo)
			}
			switch {
			case ev.Prazo != "":
				ev.Competencia = dates.Competence(ev.Prazo)
			case ev.DataEvento != "":
				ev.Competencia = dates.Competence(ev.DataEvento)
			}
			*out = append(*out, ev)
		}
		walkSteps(node.Children, rules, base, dataEvento, out)
	}
}

// DeliveryEvent converts one raw delivery payload into an obligation
// event. Status is inferred by priority: an explicit delivered date
// beats everything, then late, exempt, pending.
func DeliveryEvent(delivery Payload) domain.Event {
	statusText := strings.ToLower(str(delivery, "EntStatus", "Status", "status", "situacao"))
	entrega := dates.ToISODate(str(delivery, "EntDtEntrega", "Entrega", "entrega"))
	atraso := dates.ToISODate(str(delivery, "EntDtAtraso"))
	prazo := dates.ToISODate(str(delivery, "EntDtPrazo", "Prazo", "prazo"))

	var status string
	switch {
	case entrega != "":
		status = "Entregue"
	case strings.Contains(statusText, "atras") || atraso != "":
		status = "Atrasada"
	case strings.Contains(statusText, "disp"):
		status = "Dispensada"
	default:
		status = "Pendente"
	}

	ev := domain.Event{
		Source:      "api",
		Categoria:   "obrigacao",
		ProcID:      str(delivery, "ProcID", "proc_id"),
		Empresa:     str(delivery, "Empresa", "EmpNome", "empresa"),
		CNPJ:        str(delivery, "CNPJ", "EmpCNPJ", "cnpj"),
		Subtipo:     str(delivery, "Obrigacao", "Descricao", "Nome", "tipo"),
		Status:      status,
		Responsavel: str(delivery, "Responsavel", "EntResponsavel", "responsavel"),
		Prazo:       prazo,
		Entrega:     entrega,
		Competencia: str(delivery, "Competencia", "competencia"),
	}
	if ev.Competencia == "" {
		ev.Competencia = dates.Competence(prazo)
	}
	if atraso != "" && ev.Entrega == "" {
		ev.Atraso = atraso
	}
	return ev
}

// DeliveryEvents converts a batch.
func DeliveryEvents(deliveries []Payload) []domain.Event {
	out := make([]domain.Event, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, DeliveryEvent(d))
	}
	return out
}
