package flatten

import (
	"strings"

	"gestor/internal/domain"
)

// Payload is one raw record, same shape the repo stores.
type Payload = map[string]any

func str(payload Payload, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key]; ok && v != nil {
			if s, ok := v.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func asMap(v any) (Payload, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asList(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "sim" || s == "true" || s == "1" || s == "s"
	case float64:
		return t != 0
	}
	return false
}

// ParseSteps converts the untyped ProcPassos tree into typed StepNodes.
// Everything downstream of the ingestion boundary works on this type,
// never on the raw maps.
func ParseSteps(proc Payload) []domain.StepNode {
	passos, ok := asList(proc["ProcPassos"])
	if !ok {
		return nil
	}
	return parseStepList(passos)
}

func parseStepList(items []any) []domain.StepNode {
	var out []domain.StepNode
	for _, item := range items {
		m, ok := asMap(item)
		if !ok {
			continue
		}
		node := domain.StepNode{
			Nome:   str(m, "Nome", "Descricao"),
			Status: str(m, "Status"),
		}
		autom, ok := asMap(m["Automacao"])
		if !ok {
			autom, ok = asMap(m["AutomacaoEntrega"])
		}
		if ok {
			flagged := truthy(autom["Bloqueante"])
			node.Bloqueante = flagged && !strings.EqualFold(node.Status, "OK")
			if entrega, ok := asMap(autom["Entrega"]); ok {
				node.Entrega = &domain.StepEntrega{
					Nome:        str(entrega, "Nome"),
					Prazo:       str(entrega, "Prazo", "EntregaPrazo"),
					Responsavel: str(entrega, "Responsavel"),
				}
			}
		}
		if sub, ok := asList(m["ProcPassos"]); ok && len(sub) > 0 {
			node.Children = parseStepList(sub)
		}
		out = append(out, node)
	}
	return out
}
