package pipeline

import (
	"fmt"
	"strings"
	"time"

	"gestor/internal/acessorias"
	"gestor/internal/dates"
)

// Counter buckets for a company's obligations.
const (
	bucketEntregues  = "entregues"
	bucketAtrasadas  = "atrasadas"
	bucketProximos30 = "proximos30"
	bucketFuturas30  = "futuras30"
)

// Some API variants return the counters precomputed under these names.
var counterAliases = map[string]string{
	"Entregues":   bucketEntregues,
	"Atrasadas":   bucketAtrasadas,
	"Proximos30D": bucketProximos30,
	"Proximos30":  bucketProximos30,
	"Futuras30+":  bucketFuturas30,
	"Futuras30":   bucketFuturas30,
}

var (
	obligationStatusFields   = []string{"Status", "status", "EntStatus", "situacao"}
	obligationDueFields      = []string{"Prazo", "prazo", "EntDtPrazo", "DataPrazo"}
	obligationDeliveryFields = []string{"Entrega", "entrega", "EntDtEntrega"}
)

// obligationCounters derives the delivered/late/upcoming/future buckets
// for one company row. Precomputed alias fields win; otherwise the
// nested obligations list is classified.
func obligationCounters(company acessorias.Record, today time.Time) map[string]int {
	counters := map[string]int{}

	aliased := false
	for field, bucket := range counterAliases {
		if v, ok := company[field]; ok && v != nil {
			if n, ok := asInt(v); ok {
				counters[bucket] += n
				aliased = true
			}
		}
	}
	if aliased {
		return counters
	}

	raw, ok := company["Obligations"]
	if !ok {
		raw = company["obligations"]
	}
	list, ok := raw.([]any)
	if !ok {
		return counters
	}
	for _, item := range list {
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		counters[classifyObligation(rec, today)]++
	}
	return counters
}

func classifyObligation(rec map[string]any, today time.Time) string {
	var statusText strings.Builder
	for _, field := range obligationStatusFields {
		if v, ok := rec[field]; ok && v != nil {
			statusText.WriteString(strings.ToLower(fmt.Sprint(v)))
		}
	}
	if strings.Contains(statusText.String(), "entreg") {
		return bucketEntregues
	}
	for _, field := range obligationDeliveryFields {
		if v, ok := rec[field]; ok && v != nil && fmt.Sprint(v) != "" {
			return bucketEntregues
		}
	}

	for _, field := range obligationDueFields {
		v, ok := rec[field]
		if !ok || v == nil {
			continue
		}
		due, ok := dates.Parse(fmt.Sprint(v))
		if !ok {
			continue
		}
		todayDate := today.Truncate(24 * time.Hour)
		dueDate := due.Truncate(24 * time.Hour)
		switch {
		case dueDate.Before(todayDate):
			return bucketAtrasadas
		case !dueDate.After(todayDate.AddDate(0, 0, 30)):
			return bucketProximos30
		default:
			return bucketFuturas30
		}
	}
	return bucketFuturas30
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		var i int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &i); err == nil {
			return i, true
		}
	}
	return 0, false
}
