package source

import (
	"errors"
	"testing"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

func TestDecodeAndMapTEDPage(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"totalNoticeCount": 25,
		"notices": [{
			"publication-number": " 123456-2026 ",
			"notice-title": {"ita": "Lavori stradali", "eng": "Road works"},
			"description-proc": {"eng": "<p>Resurfacing of the ring road</p>"},
			"classification-cpv": ["45233120-6"],
			"place-of-performance": ["itc4c", "ITC4C", "x"],
			"buyer-name": {"ITA": "Comune di Milano"},
			"publication-date": "2026-03-02+01:00",
			"deadline-receipt-tender-date-lot": "2026-04-15T12:00:00Z",
			"estimated-value-proc": 1250000,
			"estimated-value-cur-proc": "eur",
			"received-submissions-count": -1
		}]
	}`)

	page, err := DecodePage(model.SourceTED, body)
	if err != nil {
		t.Fatalf("DecodePage: %v", err)
	}
	if page.TotalCount == nil || *page.TotalCount != 25 {
		t.Fatalf("expected total_count=25, got %v", page.TotalCount)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(page.Items))
	}

	fields, err := Map(page.Items[0])
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if fields.SourceID != "123456-2026" || fields.Source != model.SourceTED {
		t.Fatalf("unexpected identity %s/%s", fields.Source, fields.SourceID)
	}
	if fields.Title != "Road works" {
		t.Fatalf("expected english title, got %q", fields.Title)
	}
	if fields.CategoryCode != "45233120" {
		t.Fatalf("expected normalized cpv, got %q", fields.CategoryCode)
	}
	if len(fields.RegionCodes) != 1 || fields.RegionCodes[0] != "ITC4C" {
		t.Fatalf("expected deduped regions, got %v", fields.RegionCodes)
	}
	if fields.OrgNames["ita"] != "Comune di Milano" {
		t.Fatalf("expected lower-cased org language key, got %v", fields.OrgNames)
	}
	if fields.PublicationDate == nil || fields.PublicationDate.Day() != 1 {
		t.Fatalf("expected publication date shifted to UTC, got %v", fields.PublicationDate)
	}
	if fields.Deadline == nil || fields.Deadline.Hour() != 12 {
		t.Fatalf("expected deadline parsed, got %v", fields.Deadline)
	}
	if fields.Currency != "EUR" || fields.EstimatedValue == nil || *fields.EstimatedValue != 1250000 {
		t.Fatalf("unexpected value fields %v %s", fields.EstimatedValue, fields.Currency)
	}
	if fields.TendersReceived != nil {
		t.Fatalf("negative tender count must become nil")
	}
	if fields.URL != "https://ted.europa.eu/en/notice/-/detail/123456-2026" {
		t.Fatalf("unexpected fallback url %q", fields.URL)
	}
	if len(fields.RawPayload) == 0 {
		t.Fatalf("expected raw payload to be preserved")
	}
}

func TestMapMissingIdentifierIsMappingError(t *testing.T) {
	t.Parallel()

	cases := []RawItem{
		TEDItem{},
		ANACItem{CIG: "   "},
		BOAMPItem{},
	}
	for _, item := range cases {
		_, err := Map(item)
		var mapErr *MappingError
		if !errors.As(err, &mapErr) {
			t.Fatalf("%T: expected MappingError, got %v", item, err)
		}
		if mapErr.Source != item.Source() {
			t.Fatalf("%T: expected source %s, got %s", item, item.Source(), mapErr.Source)
		}
	}
}

func TestMapANACDefaultsCountryAndCurrency(t *testing.T) {
	t.Parallel()

	subject := "Fornitura arredi scolastici"
	cpv := "39160000-1"
	amount := 48000.0
	deadline := "not a date"
	fields, err := MapANAC(ANACItem{CIG: "z1a2b3c4d5", Subject: &subject, CPV: &cpv, LotAmount: &amount, Deadline: &deadline})
	if err != nil {
		t.Fatalf("MapANAC: %v", err)
	}
	if fields.SourceID != "Z1A2B3C4D5" {
		t.Fatalf("expected upper-cased CIG, got %q", fields.SourceID)
	}
	if len(fields.RegionCodes) != 1 || fields.RegionCodes[0] != "IT" {
		t.Fatalf("expected country fallback, got %v", fields.RegionCodes)
	}
	if fields.Currency != "EUR" {
		t.Fatalf("expected EUR, got %q", fields.Currency)
	}
	if fields.Deadline != nil {
		t.Fatalf("unparseable deadline must become nil")
	}
}

func TestMapBOAMPMalformedCategory(t *testing.T) {
	t.Parallel()

	cpv := "n/a"
	fields, err := MapBOAMP(BOAMPItem{IDWeb: "26-12345", CPV: &cpv, NUTS: []string{"FR101"}})
	if err != nil {
		t.Fatalf("MapBOAMP: %v", err)
	}
	if fields.CategoryCode != "" {
		t.Fatalf("expected malformed cpv to be dropped, got %q", fields.CategoryCode)
	}
	if fields.RegionCodes[0] != "FR101" {
		t.Fatalf("unexpected regions %v", fields.RegionCodes)
	}
	if fields.URL == "" {
		t.Fatalf("expected fallback url")
	}
}

func TestMapNilItem(t *testing.T) {
	t.Parallel()

	if _, err := Map(nil); err == nil {
		t.Fatalf("expected error for nil item")
	}
}
