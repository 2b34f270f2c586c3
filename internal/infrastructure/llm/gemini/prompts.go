package gemini

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

const maxPromptTextChars = 30000

func buildKeyFactsPrompt(text string) string {
	snippet := text
	if len([]rune(snippet)) > maxPromptTextChars {
		snippet = string([]rune(snippet)[:maxPromptTextChars])
	}

	return `Deluješ kot natančen asistent za ekstrakcijo podatkov iz projektne dokumentacije.

Analiziraj besedilo in odgovori SAMO z enim JSON objektom s ključema "details" in "key_data":
- "details": objekt s seznamoma "eup" (vse oznake enot urejanja prostora) in "namenska_raba" (vse kratice podrobnejših namenskih rab, npr. SSe, IG).
- "key_data": objekt s tehničnimi podatki; ključi: glavni_objekt, vrsta_gradnje, klasifikacija_cc_si, tlorisne_dimenzije, gabariti_etaznost, faktor_zazidanosti_fz, faktor_izrabe_fi, zelene_povrsine, naklon_strehe, kritina_barva, smer_slemena, odmiki_parcel, komunalni_prikljucki, parcela_objekta, velikost_parcel.

Če podatka ni, uporabi prazen seznam za details oziroma "Ni podatka v dokumentaciji" za key_data. Brez markdowna, brez dodatnih ključev.

Dokumentacija:
` + snippet
}

func buildAssessmentPrompt(req domain.Requirement, facts *domain.KeyFacts, contextText string) string {
	return fmt.Sprintf(`Deluješ kot referent za preverjanje skladnosti projektne dokumentacije s prostorskimi akti.

Zahteva (%s):
%s

Ključni podatki projekta:
%s

%s

Presodi SAMO na podlagi navedenih podatkov in citiranih pravil. Odgovori z enim JSON objektom s ključi:
"status" (ena od vrednosti: "skladno", "neskladno", "ni podatka"),
"obrazlozitev" (kratka utemeljitev v slovenščini),
"citati" (seznam oznak uporabljenih pravil, lahko prazen).
Brez markdowna, brez dodatnih ključev.`,
		req.Topic, req.Text, formatFacts(facts), contextText)
}

func formatFacts(facts *domain.KeyFacts) string {
	if facts == nil {
		return "- ni podatkov"
	}
	lines := make([]string, 0, len(facts.Fields)+2)
	keys := make([]string, 0, len(facts.Fields))
	for key := range facts.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := strings.TrimSpace(facts.Fields[key])
		if value == "" {
			continue
		}
		lines = append(lines, "- "+key+": "+value)
	}
	if len(facts.ZoneUnits) > 0 {
		lines = append(lines, "- eup: "+strings.Join(facts.ZoneUnits, ", "))
	}
	if len(facts.LandUses) > 0 {
		lines = append(lines, "- namenska_raba: "+strings.Join(facts.LandUses, ", "))
	}
	if len(lines) == 0 {
		return "- ni podatkov"
	}
	return strings.Join(lines, "\n")
}
