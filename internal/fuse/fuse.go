// Package fuse merges the API-derived event stream with the
// mail-derived one into a single canonical list, recording a
// divergence whenever the mail version displaces an API version.
package fuse

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"gestor/internal/domain"
)

// Keyed pairs an event with its canonical dedup key.
type Keyed struct {
	Key   string
	Event domain.Event
}

// Key is the canonical identity of an event. The source tag is part of
// the hash, so identical semantic events from different streams do not
// automatically collide; the key is deliberately coarse to catch
// near-duplicates describing the same obligation outcome.
func Key(ev domain.Event) string {
	joined := strings.Join([]string{
		ev.Source,
		ev.Empresa,
		ev.Subtipo,
		ev.Status,
		ev.Competencia,
		ev.Prazo,
		ev.Entrega,
	}, "||")
	sum := sha1.Sum([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// PreferMail is the conflict-resolution predicate: the mail version
// wins only when its text fields carry one of the configured override
// keywords. Deliberately heuristic; the keyword list is configuration.
func PreferMail(ev domain.Event, keywords []string) bool {
	blob := strings.ToLower(strings.Join([]string{
		ev.Subtipo, ev.Status, ev.Descricao, ev.Mensagem,
	}, " "))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(blob, kw) {
			return true
		}
	}
	return false
}

// Fuse seeds the merged set with the API events, then folds in the
// mail events: absent keys are added, same-category obligation
// collisions keep the API version, and otherwise the mail version wins
// only under PreferMail, with the displaced API event preserved as a
// divergence. Output order is insertion order, so fixed inputs produce
// identical output across runs.
func Fuse(apiEvents, mailEvents []domain.Event, keywords []string) ([]Keyed, []domain.Divergence) {
	order := make([]string, 0, len(apiEvents))
	merged := make(map[string]domain.Event, len(apiEvents))
	var divergences []domain.Divergence

	for _, ev := range apiEvents {
		key := Key(ev)
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] = ev
	}

	for _, ev := range mailEvents {
		key := Key(ev)
		existing, seen := merged[key]
		if !seen {
			order = append(order, key)
			merged[key] = ev
			continue
		}
		if existing.Categoria == "obrigacao" && ev.Categoria == "obrigacao" {
			continue
		}
		if PreferMail(ev, keywords) {
			divergences = append(divergences, domain.Divergence{
				Key:  key,
				API:  existing,
				Mail: ev,
			})
			merged[key] = ev
		}
	}

	out := make([]Keyed, 0, len(order))
	for _, key := range order {
		out = append(out, Keyed{Key: key, Event: merged[key]})
	}
	return out, divergences
}
