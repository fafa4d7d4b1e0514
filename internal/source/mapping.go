package source

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/geo"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/taxonomy"
)

// MappingError reports a raw item that cannot become a notice.
type MappingError struct {
	Source model.Source
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("map %s item: %s", e.Source, e.Reason)
}

// Map normalizes any raw item. It never panics on missing optional data; only
// a missing stable identifier is an error.
func Map(item RawItem) (model.NoticeFields, error) {
	switch it := item.(type) {
	case TEDItem:
		return MapTED(it)
	case *TEDItem:
		return MapTED(*it)
	case ANACItem:
		return MapANAC(it)
	case *ANACItem:
		return MapANAC(*it)
	case BOAMPItem:
		return MapBOAMP(it)
	case *BOAMPItem:
		return MapBOAMP(*it)
	case nil:
		return model.NoticeFields{}, &MappingError{Reason: "nil item"}
	default:
		return model.NoticeFields{}, &MappingError{Source: item.Source(), Reason: fmt.Sprintf("unsupported item type %T", item)}
	}
}

var tedLanguagePreference = []string{"eng", "en", "ENG", "EN"}

// MapTED normalizes a TED notice.
func MapTED(it TEDItem) (model.NoticeFields, error) {
	id := strings.TrimSpace(it.PublicationNumber)
	if id == "" {
		return model.NoticeFields{}, &MappingError{Source: model.SourceTED, Reason: "missing publication-number"}
	}

	category := ""
	if len(it.CPV) > 0 {
		category = taxonomy.NormalizeCode(it.CPV[0])
	}

	url := pickLocalized(it.Links.HTML, tedLanguagePreference)
	if url == "" {
		url = "https://ted.europa.eu/en/notice/-/detail/" + id
	}

	return model.NoticeFields{
		Source:          model.SourceTED,
		SourceID:        id,
		Title:           pickLocalized(it.Title, tedLanguagePreference),
		Description:     pickLocalized(it.Description, tedLanguagePreference),
		CategoryCode:    category,
		RegionCodes:     normalizeRegions(it.PlaceOfPerformance, ""),
		OrgNames:        normalizeOrgNames(it.BuyerName),
		URL:             url,
		PublicationDate: parseDate(it.PublicationDate),
		Deadline:        parseDate(deref(it.Deadline)),
		EstimatedValue:  positive(it.EstimatedValue),
		Currency:        strings.ToUpper(strings.TrimSpace(deref(it.Currency))),
		AwardWinner:     strings.TrimSpace(deref(it.WinnerName)),
		AwardValue:      positive(it.AwardValue),
		AwardDate:       parseDate(deref(it.AwardDate)),
		TendersReceived: nonNegative(it.TendersReceived),
		RawPayload:      it.Raw,
	}, nil
}

// MapANAC normalizes an ANAC tender record. Values are in EUR.
func MapANAC(it ANACItem) (model.NoticeFields, error) {
	id := strings.ToUpper(strings.TrimSpace(it.CIG))
	if id == "" {
		return model.NoticeFields{}, &MappingError{Source: model.SourceANAC, Reason: "missing cig"}
	}

	var regions []string
	if nuts := deref(it.NUTS); nuts != "" {
		regions = []string{nuts}
	}

	var orgs map[string]string
	if name := strings.TrimSpace(deref(it.Authority)); name != "" {
		orgs = map[string]string{"it": name}
	}

	fields := model.NoticeFields{
		Source:          model.SourceANAC,
		SourceID:        id,
		Title:           strings.TrimSpace(deref(it.Subject)),
		Description:     strings.TrimSpace(deref(it.Description)),
		CategoryCode:    taxonomy.NormalizeCode(deref(it.CPV)),
		RegionCodes:     normalizeRegions(regions, "IT"),
		OrgNames:        orgs,
		URL:             strings.TrimSpace(deref(it.URL)),
		PublicationDate: parseDate(deref(it.PublicationDate)),
		Deadline:        parseDate(deref(it.Deadline)),
		EstimatedValue:  positive(it.LotAmount),
		AwardWinner:     strings.TrimSpace(deref(it.Winner)),
		AwardValue:      positive(it.AwardAmount),
		AwardDate:       parseDate(deref(it.AwardDate)),
		TendersReceived: nonNegative(it.Offers),
		RawPayload:      it.Raw,
	}
	if fields.EstimatedValue != nil || fields.AwardValue != nil {
		fields.Currency = "EUR"
	}
	return fields, nil
}

// MapBOAMP normalizes a BOAMP record. Values are in EUR.
func MapBOAMP(it BOAMPItem) (model.NoticeFields, error) {
	id := strings.TrimSpace(it.IDWeb)
	if id == "" {
		return model.NoticeFields{}, &MappingError{Source: model.SourceBOAMP, Reason: "missing idweb"}
	}

	var orgs map[string]string
	if name := strings.TrimSpace(deref(it.Buyer)); name != "" {
		orgs = map[string]string{"fr": name}
	}

	url := strings.TrimSpace(deref(it.URL))
	if url == "" {
		url = "https://www.boamp.fr/pages/avis/?q=idweb:" + id
	}

	fields := model.NoticeFields{
		Source:          model.SourceBOAMP,
		SourceID:        id,
		Title:           strings.TrimSpace(deref(it.Object)),
		Description:     deref(it.Body),
		CategoryCode:    taxonomy.NormalizeCode(deref(it.CPV)),
		RegionCodes:     normalizeRegions(it.NUTS, "FR"),
		OrgNames:        orgs,
		URL:             url,
		PublicationDate: parseDate(deref(it.PublicationDate)),
		Deadline:        parseDate(deref(it.Deadline)),
		EstimatedValue:  positive(it.Amount),
		AwardWinner:     strings.TrimSpace(deref(it.Holder)),
		AwardValue:      positive(it.AwardAmount),
		AwardDate:       parseDate(deref(it.AwardDate)),
		TendersReceived: nonNegative(it.Offers),
		RawPayload:      it.Raw,
	}
	if fields.EstimatedValue != nil || fields.AwardValue != nil {
		fields.Currency = "EUR"
	}
	return fields, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02Z07:00",
	"2006-01-02",
	"02/01/2006",
}

// parseDate accepts the date shapes the upstream APIs emit. Unparseable
// values become nil rather than failing the item.
func parseDate(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// normalizeRegions keeps unique normalized codes in upstream order, falling
// back to the country code when nothing usable remains.
func normalizeRegions(codes []string, fallback string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, raw := range codes {
		code := geo.NormalizeCode(raw)
		if len(code) < 2 {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	if len(out) == 0 && fallback != "" {
		return []string{fallback}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeOrgNames(names map[string]string) map[string]string {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]string, len(names))
	for lang, name := range names {
		lang = strings.ToLower(strings.TrimSpace(lang))
		name = strings.TrimSpace(name)
		if lang == "" || name == "" {
			continue
		}
		out[lang] = name
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// pickLocalized returns the first preferred language present, else the value
// of the alphabetically first language.
func pickLocalized(values map[string]string, preference []string) string {
	for _, lang := range preference {
		if v := strings.TrimSpace(values[lang]); v != "" {
			return v
		}
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := strings.TrimSpace(values[k]); v != "" {
			return v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func positive(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	out := *v
	return &out
}

func nonNegative(v *int) *int {
	if v == nil || *v < 0 {
		return nil
	}
	out := *v
	return &out
}
