package repo

import (
	"context"
	"database/sql"

	"gestor/internal/domain"
)

// ListCompanies returns every company ordered by name.
func (r Repo) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,id_acessorias,cnpj,nome,nome_fantasia,email,telefone,cidade,uf,raw_json,updated_at
FROM companies ORDER BY nome, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Company
	for rows.Next() {
		var (
			c        domain.Company
			sourceID sql.NullInt64
			fantasia, email, telefone, cidade, uf, raw sql.NullString
		)
		if err := rows.Scan(&c.ID, &sourceID, &c.CNPJ, &c.Nome, &fantasia, &email, &telefone, &cidade, &uf, &raw, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if sourceID.Valid {
			c.SourceID = &sourceID.Int64
		}
		c.NomeFantasia = fantasia.String
		c.Email = email.String
		c.Telefone = telefone.String
		c.Cidade = cidade.String
		c.UF = uf.String
		c.RawJSON = raw.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// CompanyByCNPJ looks a company up by its digits-only CNPJ.
func (r Repo) CompanyByCNPJ(ctx context.Context, cnpj string) (domain.Company, error) {
	var (
		c        domain.Company
		sourceID sql.NullInt64
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,id_acessorias,cnpj,nome FROM companies WHERE cnpj=?`, cnpj).
		Scan(&c.ID, &sourceID, &c.CNPJ, &c.Nome)
	if err == sql.ErrNoRows {
		return domain.Company{}, ErrNotFound
	}
	if err != nil {
		return domain.Company{}, err
	}
	if sourceID.Valid {
		c.SourceID = &sourceID.Int64
	}
	return c, nil
}

// ListProcesses returns processes with their raw payloads, optionally
// filtered by status. The raw payload carries the step tree.
func (r Repo) ListProcesses(ctx context.Context, status string) ([]domain.Process, error) {
	query := `SELECT id,proc_id,empresa_id,titulo,status,departamento,gestor,dt_inicio,dt_prev_conclusao,dt_conclusao,ultimo_evento,raw_json
FROM processes ORDER BY proc_id`
	args := []any{}
	if status != "" {
		query = `SELECT id,proc_id,empresa_id,titulo,status,departamento,gestor,dt_inicio,dt_prev_conclusao,dt_conclusao,ultimo_evento,raw_json
FROM processes WHERE status=? ORDER BY proc_id`
		args = append(args, status)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Process
	for rows.Next() {
		var (
			p domain.Process
			titulo, st, dept, gestor, inicio, prev, concl, ultimo, raw sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.ProcID, &p.CompanyID, &titulo, &st, &dept, &gestor, &inicio, &prev, &concl, &ultimo, &raw); err != nil {
			return nil, err
		}
		p.Titulo = titulo.String
		p.Status = st.String
		p.Departamento = dept.String
		p.Gestor = gestor.String
		p.DtInicio = scanTime(inicio)
		p.DtPrevConclusao = scanTime(prev)
		p.DtConclusao = scanTime(concl)
		p.UltimoEvento = scanTime(ultimo)
		p.RawJSON = raw.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListDeliveries returns every stored delivery, newest competency first.
func (r Repo) ListDeliveries(ctx context.Context) ([]domain.Delivery, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,id_acessorias,empresa_id,tipo,situacao,competencia,dt_evento,dt_prazo,dt_entrega,responsavel,raw_json
FROM deliveries ORDER BY competencia DESC, tipo, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		var (
			d        domain.Delivery
			sourceID sql.NullInt64
			situacao, evento, prazo, entrega, resp, raw sql.NullString
		)
		if err := rows.Scan(&d.ID, &sourceID, &d.CompanyID, &d.Tipo, &situacao, &d.Competencia, &evento, &prazo, &entrega, &resp, &raw); err != nil {
			return nil, err
		}
		if sourceID.Valid {
			d.SourceID = &sourceID.Int64
		}
		d.Situacao = situacao.String
		d.DtEvento = scanTime(evento)
		d.DtPrazo = scanTime(prazo)
		d.DtEntrega = scanTime(entrega)
		d.Responsavel = resp.String
		d.RawJSON = raw.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// Counts returns the row totals per table, for the status command.
func (r Repo) Counts(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	for _, table := range []string{"companies", "processes", "deliveries", "events", "divergences"} {
		var n int
		if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, err
		}
		counts[table] = n
	}
	return counts, nil
}
