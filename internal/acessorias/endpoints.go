package acessorias

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// DtLastDHLayout is the watermark format the bulk endpoints require.
const DtLastDHLayout = "2006-01-02 15:04:05"

// Record is one raw row as returned by the API.
type Record = map[string]any

// Query parameters the processes endpoint accepts besides pagination.
var allowedProcessFilters = map[string]bool{
	"ProcNome":         true,
	"ProcInicioIni":    true,
	"ProcInicioFim":    true,
	"ProcConclusaoIni": true,
	"ProcConclusaoFim": true,
}

// ProcessQuery selects one page of the processes feed.
type ProcessQuery struct {
	Status   string
	Page     int
	PerPage  int
	DtLastDH time.Time
	Filters  map[string]string
}

// ListProcessesPage fetches a single page; the caller drives the page
// increment and stops on a short or empty page.
func (c *Client) ListProcessesPage(ctx context.Context, q ProcessQuery) ([]Record, error) {
	params := url.Values{}
	params.Set("Pagina", strconv.Itoa(q.Page))
	params.Set("Registros", strconv.Itoa(q.PerPage))
	if q.Status != "" {
		params.Set("ProcStatus", q.Status)
	}
	if !q.DtLastDH.IsZero() {
		params.Set("DtLastDH", q.DtLastDH.UTC().Format(DtLastDHLayout))
	}
	for k, v := range q.Filters {
		if allowedProcessFilters[k] && v != "" {
			params.Set(k, v)
		}
	}
	payload, err := c.request(ctx, "GET", "processes/ListAll", params)
	if err != nil {
		return nil, err
	}
	return normalizeRecords(payloadItems(payload)), nil
}

// DeliveryQuery selects one page of the deliveries feed.
type DeliveryQuery struct {
	Identifier string // "ListAll" or a CNPJ
	Page       int
	PerPage    int
	DtLastDH   time.Time
	DtInitial  string // YYYY-MM-DD
	DtFinal    string // YYYY-MM-DD
}

// ListDeliveriesPage fetches one page of the bulk deliveries feed.
func (c *Client) ListDeliveriesPage(ctx context.Context, q DeliveryQuery) ([]Record, error) {
	identifier := q.Identifier
	if identifier == "" {
		identifier = "ListAll"
	}
	params := url.Values{}
	params.Set("Pagina", strconv.Itoa(q.Page))
	params.Set("Registros", strconv.Itoa(q.PerPage))
	if q.DtInitial != "" {
		params.Set("DtInitial", q.DtInitial)
	}
	if q.DtFinal != "" {
		params.Set("DtFinal", q.DtFinal)
	}
	if !q.DtLastDH.IsZero() {
		params.Set("DtLastDH", q.DtLastDH.UTC().Format(DtLastDHLayout))
	}
	params.Set("config", "")
	payload, err := c.request(ctx, "GET", fmt.Sprintf("deliveries/%s/", identifier), params)
	if err != nil {
		return nil, err
	}
	return normalizeRecords(payloadItems(payload)), nil
}

// DeliveriesByCNPJPage fetches one page of a single company's
// deliveries, used by the full backfill.
func (c *Client) DeliveriesByCNPJPage(ctx context.Context, cnpj string, q DeliveryQuery) ([]Record, error) {
	cleaned := NormalizeCNPJ(cnpj)
	if cleaned == "" {
		return nil, fmt.Errorf("invalid CNPJ for deliveries lookup: %q", cnpj)
	}
	params := url.Values{}
	params.Set("Pagina", strconv.Itoa(q.Page))
	params.Set("Registros", strconv.Itoa(q.PerPage))
	if q.DtInitial != "" {
		params.Set("DtInitial", q.DtInitial)
	}
	if q.DtFinal != "" {
		params.Set("DtFinal", q.DtFinal)
	}
	payload, err := c.request(ctx, "GET", "deliveries/"+cleaned, params)
	if err != nil {
		return nil, err
	}
	return normalizeRecords(payloadItems(payload)), nil
}

// ListCompaniesPage fetches one page of companies with their obligation
// counters attached.
func (c *Client) ListCompaniesPage(ctx context.Context, page, perPage int) ([]Record, error) {
	params := url.Values{}
	params.Set("Pagina", strconv.Itoa(page))
	params.Set("Registros", strconv.Itoa(perPage))
	params.Set("obligations", "")
	payload, err := c.request(ctx, "GET", "companies/ListAll/", params)
	if err != nil {
		return nil, err
	}
	return normalizeRecords(payloadItems(payload)), nil
}

// payloadItems accepts the three shapes the API returns: a bare list,
// an {"items": [...]} wrapper, or a single object.
func payloadItems(payload any) []Record {
	switch v := payload.(type) {
	case []any:
		items := make([]Record, 0, len(v))
		for _, item := range v {
			if rec, ok := item.(map[string]any); ok {
				items = append(items, rec)
			}
		}
		return items
	case map[string]any:
		if raw, ok := v["items"]; ok {
			list, _ := raw.([]any)
			items := make([]Record, 0, len(list))
			for _, item := range list {
				if rec, ok := item.(map[string]any); ok {
					items = append(items, rec)
				}
			}
			return items
		}
		return []Record{v}
	default:
		return nil
	}
}

var cnpjKeys = map[string]bool{
	"cnpj":     true,
	"cnpjcpf":  true,
	"cnpj_cpf": true,
	"emp_cnpj": true,
}

// normalizeRecords trims string fields and reduces CNPJ-ish keys to
// digits at the ingestion boundary.
func normalizeRecords(records []Record) []Record {
	for _, rec := range records {
		for key, value := range rec {
			if cnpjKeys[strings.ToLower(key)] {
				rec[key] = NormalizeCNPJ(fmt.Sprint(value))
				continue
			}
			if s, ok := value.(string); ok {
				rec[key] = strings.TrimSpace(s)
			}
		}
	}
	return records
}

// NormalizeCNPJ strips everything but digits.
func NormalizeCNPJ(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
