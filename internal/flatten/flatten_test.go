package flatten

import (
	"encoding/json"
	"testing"
)

func procPayload(t *testing.T, raw string) Payload {
	t.Helper()
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	return p
}

func TestMatchFirstRuleWins(t *testing.T) {
	rules := []Rule{
		{Contains: "REINF", Subtipo: "EFD-Reinf"},
		{Contains: "EFD", Subtipo: "EFD-Contribuições"},
	}
	rule, ok := Match("REINF EFD mensal", rules)
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.Subtipo != "EFD-Reinf" {
		t.Fatalf("expected first rule to win, got %q", rule.Subtipo)
	}
}

func TestMatchIsCaseInsensitive(t *testing.T) {
	rules := []Rule{{Contains: "reinf", Subtipo: "EFD-Reinf"}}
	if _, ok := Match("Apuração REINF", rules); !ok {
		t.Fatal("expected case-insensitive match")
	}
}

func TestParseRulesRejectsMalformed(t *testing.T) {
	if _, err := ParseRules([]byte(`{"matchers": [{"categoria": "x"}]}`)); err == nil {
		t.Fatal("expected schema violation for matcher without contains")
	}
	if _, err := ParseRules([]byte(`[1,2,3]`)); err == nil {
		t.Fatal("expected schema violation for non-object document")
	}
}

func TestParseRulesKeepsOrder(t *testing.T) {
	rules, err := ParseRules([]byte(`{"matchers": [
		{"contains": "reinf", "subtipo": "EFD-Reinf"},
		{"contains": "efd", "subtipo": "EFD-Contribuições"}
	]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rules) != 2 || rules[0].Contains != "reinf" || rules[1].Contains != "efd" {
		t.Fatalf("expected ordered rules, got %+v", rules)
	}
}

func TestFlattenWalksNestedStepsPreOrder(t *testing.T) {
	proc := procPayload(t, `{
		"ProcID": 77,
		"EmpNome": "Acme Contábil",
		"EmpCNPJ": "12345678000195",
		"ProcDepartamento": "Fiscal",
		"ProcInicio": "2024-05-02 09:00:00",
		"ProcPassos": [
			{
				"Nome": "Apuração REINF",
				"Status": "Pendente",
				"Automacao": {
					"Bloqueante": "sim",
					"Entrega": {"Nome": "EFD-Reinf", "Prazo": "15/05/2024", "Responsavel": "Maria"}
				},
				"ProcPassos": [
					{"Nome": "Conferência DCTF", "Status": "OK"}
				]
			},
			{"Nome": "Passo sem regra", "Status": "Pendente"}
		]
	}`)
	rules := []Rule{
		{Contains: "reinf", Subtipo: "EFD-Reinf", Status: "Pendente"},
		{Contains: "dctf", Subtipo: "DCTFWeb", Status: "Pendente"},
	}

	events := Flatten(proc, rules)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	first := events[0]
	if first.Subtipo != "EFD-Reinf" {
		t.Fatalf("expected parent first (pre-order), got %q", first.Subtipo)
	}
	if first.ProcID != "77" || first.Empresa != "Acme Contábil" || first.Regime != "Fiscal" {
		t.Fatalf("expected process context on event, got %+v", first)
	}
	if first.Prazo != "2024-05-15" || first.Competencia != "2024-05" {
		t.Fatalf("expected prazo and competencia from the delivery sub-object, got %q / %q", first.Prazo, first.Competencia)
	}
	if first.Responsavel != "Maria" {
		t.Fatalf("expected responsavel from delivery, got %q", first.Responsavel)
	}
	if !first.Bloqueante {
		t.Fatal("expected blocking: flag is sim and step is not OK")
	}

	second := events[1]
	if second.Subtipo != "DCTFWeb" {
		t.Fatalf("expected child visited after parent, got %q", second.Subtipo)
	}
	if second.Prazo != "" || second.Competencia != "2024-05" {
		t.Fatalf("expected competencia from process start date, got %q / %q", second.Prazo, second.Competencia)
	}
}

func TestFlattenLabelIncludesDeliveryName(t *testing.T) {
	proc := procPayload(t, `{
		"ProcID": 1,
		"ProcPassos": [
			{
				"Nome": "Passo genérico",
				"Status": "Pendente",
				"AutomacaoEntrega": {
					"Bloqueante": false,
					"Entrega": {"Nome": "EFD-Reinf mensal"}
				}
			}
		]
	}`)
	rules := []Rule{{Contains: "reinf", Subtipo: "EFD-Reinf"}}

	events := Flatten(proc, rules)
	if len(events) != 1 {
		t.Fatalf("expected delivery name to extend the label, got %d events", len(events))
	}
	if events[0].Bloqueante {
		t.Fatal("expected non-blocking for false flag")
	}
}

func TestFlattenBlockingRequiresOpenStep(t *testing.T) {
	proc := procPayload(t, `{
		"ProcID": 2,
		"ProcPassos": [
			{
				"Nome": "Apuração REINF",
				"Status": "OK",
				"Automacao": {"Bloqueante": "sim"}
			}
		]
	}`)
	rules := []Rule{{Contains: "reinf", Subtipo: "EFD-Reinf"}}

	events := Flatten(proc, rules)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Bloqueante {
		t.Fatal("expected blocking suppressed for a step already OK")
	}
}

func TestDeliveryEventStatusPriority(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"delivered beats late text", `{"EntStatus": "Atrasada", "EntDtEntrega": "2024-05-14"}`, "Entregue"},
		{"late date without delivery", `{"EntDtAtraso": "2024-05-16"}`, "Atrasada"},
		{"late text", `{"EntStatus": "Em atraso"}`, "Atrasada"},
		{"exempt", `{"EntStatus": "Dispensada"}`, "Dispensada"},
		{"pending text", `{"EntStatus": "Pendente"}`, "Pendente"},
		{"fallback", `{"EntStatus": "???"}`, "Pendente"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := DeliveryEvent(procPayload(t, tc.payload))
			if ev.Status != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, ev.Status)
			}
		})
	}
}

func TestDeliveryEventCompetenciaFromPrazo(t *testing.T) {
	ev := DeliveryEvent(procPayload(t, `{
		"CNPJ": "12345678000195",
		"Obrigacao": "EFD-Reinf",
		"EntDtPrazo": "15/05/2024"
	}`))
	if ev.Prazo != "2024-05-15" {
		t.Fatalf("expected ISO prazo, got %q", ev.Prazo)
	}
	if ev.Competencia != "2024-05" {
		t.Fatalf("expected competencia from prazo, got %q", ev.Competencia)
	}
	if ev.Categoria != "obrigacao" || ev.Source != "api" {
		t.Fatalf("unexpected event shape: %+v", ev)
	}
}

func TestDeliveryEventAtrasoOnlyWithoutEntrega(t *testing.T) {
	ev := DeliveryEvent(procPayload(t, `{"EntDtAtraso": "2024-05-16", "EntDtEntrega": "2024-05-20"}`))
	if ev.Atraso != "" {
		t.Fatalf("expected no atraso once delivered, got %q", ev.Atraso)
	}
}
