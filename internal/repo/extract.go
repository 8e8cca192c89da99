package repo

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gestor/internal/dates"
)

// Payload is one raw record from any feed. The API returns the same
// semantic attribute under several alternate field names; each list
// below is ordered, first non-empty wins.
type Payload = map[string]any

var (
	companyIDFields   = []string{"EmpresaID", "EmpID", "id_acessorias", "id"}
	companyCNPJFields = []string{"CNPJ", "EmpCNPJ", "cnpj", "Documento"}
	companyNameFields = []string{"EmpNome", "Nome", "empresa", "Razao", "RazaoSocial"}
	companyFantasia   = []string{"NomeFantasia", "fantasia"}
	companyEmail      = []string{"Email", "email"}
	companyPhone      = []string{"Telefone", "telefone"}
	companyCity       = []string{"Cidade", "cidade"}
	companyUF         = []string{"UF", "estado"}

	processIDFields     = []string{"ProcID", "proc_id", "id"}
	processTitleFields  = []string{"ProcNome", "titulo"}
	processStatusFields = []string{"ProcStatus", "status"}
	processDeptFields   = []string{"ProcDepartamento", "Departamento"}
	processGestor       = []string{"ProcGestor", "GestorNome", "gestor"}
	processStart        = []string{"ProcInicio", "inicio"}
	processForecast     = []string{"ProcPrevisaoConclusao", "dt_prev_conclusao"}
	processDone         = []string{"ProcConclusao", "conclusao"}
	processLastDH       = []string{"DtLastDH", "ultimo_evento"}

	deliveryIDFields     = []string{"DeliveryID", "EntID", "id_acessorias", "id"}
	deliveryTypeFields   = []string{"Obrigacao", "tipo", "Nome", "Descricao"}
	deliveryStatusFields = []string{"EntStatus", "situacao", "Status"}
	deliveryCompetencia  = []string{"Competencia", "competencia"}
	deliveryEventDate    = []string{"EntDtEvento", "dt_evento"}
	deliveryDueDate      = []string{"EntDtPrazo", "Prazo", "prazo"}
	deliveryDeliveredAt  = []string{"EntDtEntrega", "entrega"}
	deliveryResponsible  = []string{"Responsavel", "EntResponsavel", "responsavel"}
)

// processStatusLabels maps the API's one-letter process status codes to
// the labels consumers see. Unknown codes pass through untouched.
var processStatusLabels = map[string]string{
	"A": "Em andamento",
	"C": "Concluído",
	"D": "Devolvido",
	"P": "Pendente",
	"S": "Suspenso",
	"W": "Em espera",
	"X": "Cancelado",
}

func processStatusLabel(code string) string {
	code = strings.TrimSpace(code)
	if label, ok := processStatusLabels[strings.ToUpper(code)]; ok {
		return label
	}
	return code
}

func firstString(payload Payload, keys []string) string {
	for _, key := range keys {
		v, ok := payload[key]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			return s
		}
	}
	return ""
}

func firstInt64(payload Payload, keys []string) *int64 {
	for _, key := range keys {
		v, ok := payload[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			i := int64(n)
			return &i
		case int:
			i := int64(n)
			return &i
		case int64:
			return &n
		case string:
			s := strings.TrimSpace(n)
			if s == "" {
				continue
			}
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return &i
			}
		}
	}
	return nil
}

// firstTime is best-effort: unparsable values are treated as absent so
// the caller keeps the previously stored date.
func firstTime(payload Payload, keys []string) *time.Time {
	s := firstString(payload, keys)
	if s == "" {
		return nil
	}
	if t, ok := dates.Parse(s); ok {
		return &t
	}
	return nil
}

func digitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
