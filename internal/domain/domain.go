package domain

import "time"

// Company is keyed by its digits-only CNPJ. Rows are created on first
// sighting from any feed and refreshed on every subsequent one.
type Company struct {
	ID           int64  `json:"id"`
	SourceID     *int64 `json:"id_acessorias,omitempty"`
	CNPJ         string `json:"cnpj"`
	Nome         string `json:"nome"`
	NomeFantasia string `json:"nome_fantasia,omitempty"`
	Email        string `json:"email,omitempty"`
	Telefone     string `json:"telefone,omitempty"`
	Cidade       string `json:"cidade,omitempty"`
	UF           string `json:"uf,omitempty"`
	RawJSON      string `json:"-"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// Process is keyed by the source-assigned ProcID. The nested step tree
// lives in RawJSON; the upstream API is the authority on status.
type Process struct {
	ID              int64      `json:"id"`
	ProcID          int64      `json:"proc_id"`
	CompanyID       int64      `json:"empresa_id"`
	Titulo          string     `json:"titulo,omitempty"`
	Status          string     `json:"status,omitempty"`
	Departamento    string     `json:"departamento,omitempty"`
	Gestor          string     `json:"gestor,omitempty"`
	DtInicio        *time.Time `json:"inicio,omitempty"`
	DtPrevConclusao *time.Time `json:"prev_conclusao,omitempty"`
	DtConclusao     *time.Time `json:"conclusao,omitempty"`
	UltimoEvento    *time.Time `json:"ultimo_evento,omitempty"`
	RawJSON         string     `json:"-"`
}

// Delivery is a tax obligation. At most one row exists per
// (company, tipo, competencia); the source-assigned ID is kept when the
// API supplies one.
type Delivery struct {
	ID          int64      `json:"id"`
	SourceID    *int64     `json:"id_acessorias,omitempty"`
	CompanyID   int64      `json:"empresa_id"`
	Tipo        string     `json:"tipo"`
	Situacao    string     `json:"situacao,omitempty"`
	Competencia string     `json:"competencia"`
	DtEvento    *time.Time `json:"dt_evento,omitempty"`
	DtPrazo     *time.Time `json:"dt_prazo,omitempty"`
	DtEntrega   *time.Time `json:"dt_entrega,omitempty"`
	Responsavel string     `json:"responsavel,omitempty"`
	RawJSON     string     `json:"-"`
}

// Event is derived, never an input. The full event set is rebuilt on
// every reconciliation pass.
type Event struct {
	Source      string `json:"source"`
	Categoria   string `json:"categoria"`
	ProcID      string `json:"proc_id,omitempty"`
	Empresa     string `json:"empresa,omitempty"`
	CNPJ        string `json:"cnpj,omitempty"`
	Regime      string `json:"regime,omitempty"`
	Subtipo     string `json:"subtipo,omitempty"`
	Status      string `json:"status,omitempty"`
	Responsavel string `json:"responsavel,omitempty"`
	Competencia string `json:"competencia,omitempty"`
	DataEvento  string `json:"data_evento,omitempty"`
	Prazo       string `json:"prazo,omitempty"`
	Entrega     string `json:"entrega,omitempty"`
	Atraso      string `json:"atraso,omitempty"`
	PassoStatus string `json:"passo_status,omitempty"`
	Bloqueante  bool   `json:"bloqueante,omitempty"`
	Descricao   string `json:"descricao,omitempty"`
	Mensagem    string `json:"mensagem,omitempty"`
}

// Divergence records two conflicting events that share a fusion key.
// Append-only audit artifact, one batch per run.
type Divergence struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
	Key   string `json:"key"`
	API   Event  `json:"api"`
	Mail  Event  `json:"email"`
	TS    string `json:"ts"`
}

// SyncState is the incremental cursor for one logical resource.
type SyncState struct {
	Endpoint   string     `json:"endpoint"`
	LastSyncDH *time.Time `json:"last_sync_dh,omitempty"`
	LastPage   *int       `json:"last_page,omitempty"`
	UpdatedAt  string     `json:"updated_at,omitempty"`
}

// StepNode is the typed form of one entry in a process step tree. The
// untyped ProcPassos payload is parsed into this at the ingestion
// boundary.
type StepNode struct {
	Nome       string
	Status     string
	Bloqueante bool
	Entrega    *StepEntrega
	Children   []StepNode
}

// StepEntrega is the optional delivery sub-object nested under a step.
type StepEntrega struct {
	Nome        string
	Prazo       string
	Responsavel string
}

// Alerts groups the per-run alert lists published to consumers.
type Alerts struct {
	ReinfEmRisco      []AlertEntry `json:"reinf_em_risco"`
	EFDContribEmRisco []AlertEntry `json:"efd_contrib_em_risco"`
	Bloqueantes       []AlertEntry `json:"bloqueantes"`
}

type AlertEntry struct {
	ProcID      string `json:"proc_id,omitempty"`
	Empresa     string `json:"empresa,omitempty"`
	Competencia string `json:"competencia,omitempty"`
	Prazo       string `json:"prazo,omitempty"`
	Status      string `json:"status,omitempty"`
	Responsavel string `json:"responsavel,omitempty"`
}

// KPIs are the aggregate counters published alongside alerts.
type KPIs struct {
	Processes struct {
		ByStatus             map[string]int `json:"by_status"`
		AvgDaysConcluded     *float64       `json:"avg_days_concluded"`
		MedianDaysFechamento *float64       `json:"median_days_fechamento"`
		ConcluidosHoje       int            `json:"concluidos_hoje"`
		ConcluidosMes        int            `json:"concluidos_mes"`
	} `json:"processes"`
	Obligations struct {
		BySubtipo      map[string]int            `json:"by_subtipo"`
		ByStatus       map[string]int            `json:"by_status"`
		Totals         map[string]int            `json:"totals"`
		PorCompetencia map[string]map[string]int `json:"por_competencia"`
	} `json:"obligations"`
	Companies struct {
		ObligationsTotals map[string]int `json:"obligations_totals"`
	} `json:"companies"`
}
