// Package source holds the per-source raw item shapes, their mapping onto
// canonical notice fields, and the page fetchers used by ingestion.
package source

import (
	"encoding/json"
	"fmt"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

// RawItem is one upstream record. The concrete type identifies the source;
// TEDItem, ANACItem and BOAMPItem are the only implementations.
type RawItem interface {
	Source() model.Source
	rawItem()
}

// Page is one fetched page. TotalCount is nil when upstream did not report it.
type Page struct {
	Items      []RawItem
	TotalCount *int
}

// TEDItem is a notice from the EU Tenders Electronic Daily search API.
type TEDItem struct {
	PublicationNumber  string            `json:"publication-number"`
	Title              map[string]string `json:"notice-title"`
	Description        map[string]string `json:"description-proc"`
	CPV                []string          `json:"classification-cpv"`
	PlaceOfPerformance []string          `json:"place-of-performance"`
	BuyerName          map[string]string `json:"buyer-name"`
	PublicationDate    string            `json:"publication-date"`
	Deadline           *string           `json:"deadline-receipt-tender-date-lot"`
	EstimatedValue     *float64          `json:"estimated-value-proc"`
	Currency           *string           `json:"estimated-value-cur-proc"`
	WinnerName         *string           `json:"winner-name"`
	AwardValue         *float64          `json:"tender-value"`
	AwardDate          *string           `json:"award-date"`
	TendersReceived    *int              `json:"received-submissions-count"`
	Links              struct {
		HTML map[string]string `json:"html"`
	} `json:"links"`

	Raw json.RawMessage `json:"-"`
}

func (TEDItem) Source() model.Source { return model.SourceTED }
func (TEDItem) rawItem()             {}

func (it *TEDItem) UnmarshalJSON(data []byte) error {
	type plain TEDItem
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*it = TEDItem(v)
	it.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ANACItem is a tender record from the Italian anti-corruption authority.
type ANACItem struct {
	CIG             string   `json:"cig"`
	Subject         *string  `json:"oggetto"`
	Description     *string  `json:"descrizione"`
	CPV             *string  `json:"cod_cpv"`
	NUTS            *string  `json:"codice_nuts"`
	Authority       *string  `json:"denominazione_amministrazione_appaltante"`
	PublicationDate *string  `json:"data_pubblicazione"`
	Deadline        *string  `json:"data_scadenza_offerta"`
	LotAmount       *float64 `json:"importo_lotto"`
	Winner          *string  `json:"aggiudicatario"`
	AwardAmount     *float64 `json:"importo_aggiudicazione"`
	AwardDate       *string  `json:"data_aggiudicazione"`
	Offers          *int     `json:"numero_offerte"`
	URL             *string  `json:"url"`

	Raw json.RawMessage `json:"-"`
}

func (ANACItem) Source() model.Source { return model.SourceANAC }
func (ANACItem) rawItem()             {}

func (it *ANACItem) UnmarshalJSON(data []byte) error {
	type plain ANACItem
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*it = ANACItem(v)
	it.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// BOAMPItem is a record from the French official public procurement bulletin.
type BOAMPItem struct {
	IDWeb           string   `json:"idweb"`
	Object          *string  `json:"objet"`
	Body            *string  `json:"donnees"`
	CPV             *string  `json:"cpv_code"`
	NUTS            []string `json:"code_nuts"`
	Buyer           *string  `json:"nomacheteur"`
	PublicationDate *string  `json:"dateparution"`
	Deadline        *string  `json:"datelimitereponse"`
	Amount          *float64 `json:"montant"`
	Holder          *string  `json:"titulaire"`
	AwardAmount     *float64 `json:"montant_attribution"`
	AwardDate       *string  `json:"date_attribution"`
	Offers          *int     `json:"nb_offres"`
	URL             *string  `json:"url_avis"`

	Raw json.RawMessage `json:"-"`
}

func (BOAMPItem) Source() model.Source { return model.SourceBOAMP }
func (BOAMPItem) rawItem()             {}

func (it *BOAMPItem) UnmarshalJSON(data []byte) error {
	type plain BOAMPItem
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*it = BOAMPItem(v)
	it.Raw = append(json.RawMessage(nil), data...)
	return nil
}

type tedEnvelope struct {
	Total   *int      `json:"totalNoticeCount"`
	Notices []TEDItem `json:"notices"`
}

type anacEnvelope struct {
	Count   *int       `json:"count"`
	Results []ANACItem `json:"results"`
}

type boampEnvelope struct {
	Total   *int        `json:"total_count"`
	Results []BOAMPItem `json:"results"`
}

// DecodePage parses one upstream page body for a source.
func DecodePage(src model.Source, body []byte) (Page, error) {
	switch src {
	case model.SourceTED:
		var env tedEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return Page{}, fmt.Errorf("decode ted page: %w", err)
		}
		items := make([]RawItem, 0, len(env.Notices))
		for _, it := range env.Notices {
			items = append(items, it)
		}
		return Page{Items: items, TotalCount: env.Total}, nil
	case model.SourceANAC:
		var env anacEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return Page{}, fmt.Errorf("decode anac page: %w", err)
		}
		items := make([]RawItem, 0, len(env.Results))
		for _, it := range env.Results {
			items = append(items, it)
		}
		return Page{Items: items, TotalCount: env.Count}, nil
	case model.SourceBOAMP:
		var env boampEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return Page{}, fmt.Errorf("decode boamp page: %w", err)
		}
		items := make([]RawItem, 0, len(env.Results))
		for _, it := range env.Results {
			items = append(items, it)
		}
		return Page{Items: items, TotalCount: env.Total}, nil
	default:
		return Page{}, fmt.Errorf("unsupported source %q", src)
	}
}
