package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"gestor/internal/dates"
	"gestor/internal/domain"
)

// UpsertCompany inserts or refreshes a company keyed by source ID, then
// CNPJ. Mutable display fields are last-write-wins; the raw payload is
// kept verbatim.
func (r Repo) UpsertCompany(ctx context.Context, payload Payload) (domain.Company, error) {
	sourceID := firstInt64(payload, companyIDFields)
	cnpj := digitsOnly(firstString(payload, companyCNPJFields))
	if cnpj == "" {
		return domain.Company{}, &ValidationError{Entity: "company", Reason: "CNPJ is required"}
	}

	var c domain.Company
	found := false
	if sourceID != nil {
		err := r.DB.QueryRowContext(ctx, `SELECT id,cnpj FROM companies WHERE id_acessorias=?`, *sourceID).Scan(&c.ID, &c.CNPJ)
		if err == nil {
			found = true
		} else if err != sql.ErrNoRows {
			return domain.Company{}, err
		}
	}
	if !found {
		err := r.DB.QueryRowContext(ctx, `SELECT id,cnpj FROM companies WHERE cnpj=?`, cnpj).Scan(&c.ID, &c.CNPJ)
		if err == nil {
			found = true
		} else if err != sql.ErrNoRows {
			return domain.Company{}, err
		}
	}

	raw, _ := json.Marshal(payload)
	nome := firstString(payload, companyNameFields)
	uf := strings.ToUpper(firstString(payload, companyUF))
	if len(uf) > 2 {
		uf = uf[:2]
	}
	now := r.nowISO()

	if !found {
		res, err := r.DB.ExecContext(ctx, `INSERT INTO companies(id_acessorias,cnpj,nome,nome_fantasia,email,telefone,cidade,uf,raw_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			nullableInt64(sourceID), cnpj, nome,
			nullable(firstString(payload, companyFantasia)),
			nullable(firstString(payload, companyEmail)),
			nullable(firstString(payload, companyPhone)),
			nullable(firstString(payload, companyCity)),
			nullable(uf), string(raw), now, now)
		if err != nil {
			return domain.Company{}, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return domain.Company{}, err
		}
		c.ID = id
	} else {
		// COALESCE keeps previously stored values when the new payload
		// omits a field; nome and raw always refresh.
		_, err := r.DB.ExecContext(ctx, `UPDATE companies SET
id_acessorias=COALESCE(?,id_acessorias),
nome=CASE WHEN ?<>'' THEN ? ELSE nome END,
nome_fantasia=COALESCE(?,nome_fantasia),
email=COALESCE(?,email),
telefone=COALESCE(?,telefone),
cidade=COALESCE(?,cidade),
uf=COALESCE(?,uf),
raw_json=?, updated_at=? WHERE id=?`,
			nullableInt64(sourceID), nome, nome,
			nullable(firstString(payload, companyFantasia)),
			nullable(firstString(payload, companyEmail)),
			nullable(firstString(payload, companyPhone)),
			nullable(firstString(payload, companyCity)),
			nullable(uf), string(raw), now, c.ID)
		if err != nil {
			return domain.Company{}, err
		}
	}

	c.SourceID = sourceID
	c.CNPJ = cnpj
	c.Nome = nome
	return c, nil
}

// UpsertProcess inserts or refreshes a process keyed by ProcID. The
// owning company is upserted from the same payload.
func (r Repo) UpsertProcess(ctx context.Context, payload Payload) (domain.Process, error) {
	procID := firstInt64(payload, processIDFields)
	if procID == nil {
		return domain.Process{}, &ValidationError{Entity: "process", Reason: "ProcID is required"}
	}
	company, err := r.UpsertCompany(ctx, payload)
	if err != nil {
		return domain.Process{}, err
	}

	raw, _ := json.Marshal(payload)
	// The API reports status as a one-letter code; the label is what
	// gets stored and counted downstream.
	status := processStatusLabel(firstString(payload, processStatusFields))
	now := r.nowISO()

	var p domain.Process
	err = r.DB.QueryRowContext(ctx, `SELECT id FROM processes WHERE proc_id=?`, *procID).Scan(&p.ID)
	switch {
	case err == sql.ErrNoRows:
		res, err := r.DB.ExecContext(ctx, `INSERT INTO processes(proc_id,empresa_id,titulo,status,departamento,gestor,dt_inicio,dt_prev_conclusao,dt_conclusao,ultimo_evento,raw_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			*procID, company.ID,
			nullable(firstString(payload, processTitleFields)),
			nullable(status),
			nullable(firstString(payload, processDeptFields)),
			nullable(firstString(payload, processGestor)),
			nullableTime(firstTime(payload, processStart)),
			nullableTime(firstTime(payload, processForecast)),
			nullableTime(firstTime(payload, processDone)),
			nullableTime(firstTime(payload, processLastDH)),
			string(raw), now, now)
		if err != nil {
			return domain.Process{}, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return domain.Process{}, err
		}
		p.ID = id
	case err != nil:
		return domain.Process{}, err
	default:
		// Dates are best-effort: an unparsable or absent value keeps
		// the stored one instead of nulling it.
		_, err := r.DB.ExecContext(ctx, `UPDATE processes SET
empresa_id=?,
titulo=COALESCE(?,titulo),
status=COALESCE(?,status),
departamento=COALESCE(?,departamento),
gestor=COALESCE(?,gestor),
dt_inicio=COALESCE(?,dt_inicio),
dt_prev_conclusao=COALESCE(?,dt_prev_conclusao),
dt_conclusao=COALESCE(?,dt_conclusao),
ultimo_evento=COALESCE(?,ultimo_evento),
raw_json=?, updated_at=? WHERE id=?`,
			company.ID,
			nullable(firstString(payload, processTitleFields)),
			nullable(status),
			nullable(firstString(payload, processDeptFields)),
			nullable(firstString(payload, processGestor)),
			nullableTime(firstTime(payload, processStart)),
			nullableTime(firstTime(payload, processForecast)),
			nullableTime(firstTime(payload, processDone)),
			nullableTime(firstTime(payload, processLastDH)),
			string(raw), now, p.ID)
		if err != nil {
			return domain.Process{}, err
		}
	}

	p.ProcID = *procID
	p.CompanyID = company.ID
	p.Status = status
	return p, nil
}

// UpsertDelivery inserts or refreshes a delivery. Identity is the
// source ID when present, else (company, tipo, competencia); the
// composite key guarantees at most one row per obligation period.
func (r Repo) UpsertDelivery(ctx context.Context, payload Payload) (domain.Delivery, error) {
	company, err := r.UpsertCompany(ctx, payload)
	if err != nil {
		return domain.Delivery{}, err
	}
	tipo := firstString(payload, deliveryTypeFields)
	if tipo == "" {
		return domain.Delivery{}, &ValidationError{Entity: "delivery", Reason: "obligation name is required"}
	}
	sourceID := firstInt64(payload, deliveryIDFields)
	dtPrazo := firstTime(payload, deliveryDueDate)

	competencia := firstString(payload, deliveryCompetencia)
	if competencia == "" && dtPrazo != nil {
		competencia = dates.CompetenceOf(*dtPrazo)
	}
	if competencia == "" {
		competencia = dates.CompetenceOf(r.now().UTC())
	}

	var d domain.Delivery
	found := false
	if sourceID != nil {
		err := r.DB.QueryRowContext(ctx, `SELECT id FROM deliveries WHERE id_acessorias=?`, *sourceID).Scan(&d.ID)
		if err == nil {
			found = true
		} else if err != sql.ErrNoRows {
			return domain.Delivery{}, err
		}
	}
	if !found {
		err := r.DB.QueryRowContext(ctx, `SELECT id FROM deliveries WHERE empresa_id=? AND tipo=? AND competencia=?`,
			company.ID, tipo, competencia).Scan(&d.ID)
		if err == nil {
			found = true
		} else if err != sql.ErrNoRows {
			return domain.Delivery{}, err
		}
	}

	raw, _ := json.Marshal(payload)
	now := r.nowISO()

	if !found {
		res, err := r.DB.ExecContext(ctx, `INSERT INTO deliveries(id_acessorias,empresa_id,tipo,situacao,competencia,dt_evento,dt_prazo,dt_entrega,responsavel,raw_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			nullableInt64(sourceID), company.ID, tipo,
			nullable(firstString(payload, deliveryStatusFields)),
			competencia,
			nullableTime(firstTime(payload, deliveryEventDate)),
			nullableTime(dtPrazo),
			nullableTime(firstTime(payload, deliveryDeliveredAt)),
			nullable(firstString(payload, deliveryResponsible)),
			string(raw), now, now)
		if err != nil {
			return domain.Delivery{}, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return domain.Delivery{}, err
		}
		d.ID = id
	} else {
		_, err := r.DB.ExecContext(ctx, `UPDATE deliveries SET
id_acessorias=COALESCE(?,id_acessorias),
empresa_id=?, tipo=?, competencia=?,
situacao=COALESCE(?,situacao),
dt_evento=COALESCE(?,dt_evento),
dt_prazo=COALESCE(?,dt_prazo),
dt_entrega=COALESCE(?,dt_entrega),
responsavel=COALESCE(?,responsavel),
raw_json=?, updated_at=? WHERE id=?`,
			nullableInt64(sourceID), company.ID, tipo, competencia,
			nullable(firstString(payload, deliveryStatusFields)),
			nullableTime(firstTime(payload, deliveryEventDate)),
			nullableTime(dtPrazo),
			nullableTime(firstTime(payload, deliveryDeliveredAt)),
			nullable(firstString(payload, deliveryResponsible)),
			string(raw), now, d.ID)
		if err != nil {
			return domain.Delivery{}, err
		}
	}

	d.SourceID = sourceID
	d.CompanyID = company.ID
	d.Tipo = tipo
	d.Competencia = competencia
	d.Situacao = firstString(payload, deliveryStatusFields)
	return d, nil
}

// BulkResult reports how a batch fared. Skipped rows never abort the
// batch.
type BulkResult struct {
	Upserted int
	Skipped  int
}

func (r Repo) bulkUpsert(ctx context.Context, rows []Payload, upsert func(context.Context, Payload) error) BulkResult {
	var res BulkResult
	for _, row := range rows {
		if err := upsert(ctx, row); err != nil {
			res.Skipped++
			continue
		}
		res.Upserted++
	}
	return res
}

func (r Repo) BulkUpsertCompanies(ctx context.Context, rows []Payload) BulkResult {
	return r.bulkUpsert(ctx, rows, func(ctx context.Context, p Payload) error {
		_, err := r.UpsertCompany(ctx, p)
		return err
	})
}

func (r Repo) BulkUpsertProcesses(ctx context.Context, rows []Payload) BulkResult {
	return r.bulkUpsert(ctx, rows, func(ctx context.Context, p Payload) error {
		_, err := r.UpsertProcess(ctx, p)
		return err
	})
}

func (r Repo) BulkUpsertDeliveries(ctx context.Context, rows []Payload) BulkResult {
	return r.bulkUpsert(ctx, rows, func(ctx context.Context, p Payload) error {
		_, err := r.UpsertDelivery(ctx, p)
		return err
	})
}
