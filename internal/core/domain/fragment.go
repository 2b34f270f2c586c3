package domain

// Fragment is one retrievable unit of regulatory text plus its citation
// metadata. It is built fresh per query from raw store rows and discarded
// after the context block is rendered; Score is a per-query working value,
// not a stored attribute.
type Fragment struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Score     float64        `json:"score"`
	Source    string         `json:"source,omitempty"`
	Article   string         `json:"article,omitempty"`
	Paragraph string         `json:"paragraph,omitempty"`
	Page      string         `json:"page,omitempty"`
	ZoneUnit  string         `json:"zone_unit,omitempty"`
	LandUse   string         `json:"land_use,omitempty"`
	Year      string         `json:"year,omitempty"`
	Embedding []float32      `json:"-"`
	Raw       map[string]any `json:"-"`
}

// AsMap flattens a Fragment into a plain serializable record for
// logging, UI and debugging callers.
func (f Fragment) AsMap() map[string]any {
	out := map[string]any{
		"id":    f.ID,
		"text":  f.Text,
		"score": f.Score,
	}
	if f.Source != "" {
		out["source"] = f.Source
	}
	if f.Article != "" {
		out["article"] = f.Article
	}
	if f.Paragraph != "" {
		out["paragraph"] = f.Paragraph
	}
	if f.Page != "" {
		out["page"] = f.Page
	}
	if f.ZoneUnit != "" {
		out["zone_unit"] = f.ZoneUnit
	}
	if f.LandUse != "" {
		out["land_use"] = f.LandUse
	}
	if f.Year != "" {
		out["year"] = f.Year
	}
	return out
}

// KeyFacts carries the structured facts extracted from one project
// submission: free-form labeled fields plus spatial classification codes.
type KeyFacts struct {
	Fields    map[string]string `json:"fields"`
	ZoneUnits []string          `json:"zone_units"`
	LandUses  []string          `json:"land_uses"`
}
