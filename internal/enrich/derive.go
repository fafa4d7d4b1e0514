package enrich

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/taxonomy"
)

// Version is bumped whenever Derive changes output for the same input, which
// marks every previously enriched notice stale.
const Version = 1

// Detector returns an ISO 639-1 code for a text sample.
type Detector func(text string) string

// Derive computes the enrichment fields of a notice from its core fields
// alone. Identical notices always produce identical results. EnrichedAt is
// left to the writer.
func Derive(n model.Notice, detect Detector) model.Derived {
	if detect == nil {
		detect = DetectLanguage
	}

	text := DescriptionText(n.Description, n.URL)

	sample := strings.TrimSpace(n.Title)
	if text != "" {
		sample = strings.TrimSpace(sample + "\n" + text)
	}

	return model.Derived{
		Language:           detect(sample),
		DescriptionText:    text,
		Country:            countryOf(n.RegionCodes),
		CategoryDivision:   taxonomy.Division(n.CategoryCode),
		PayloadFingerprint: Fingerprint(n.RawPayload),
		Version:            Version,
	}
}

// Fingerprint hashes a raw JSON payload after compacting insignificant
// whitespace. It returns "" for an empty payload.
func Fingerprint(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err == nil {
		trimmed = compact.Bytes()
	}
	sum := blake2b.Sum256(trimmed)
	return hex.EncodeToString(sum[:])
}

func countryOf(regions []string) string {
	for _, code := range regions {
		code = strings.TrimSpace(code)
		if len(code) < 2 {
			continue
		}
		country := strings.ToUpper(code[:2])
		if country[0] >= 'A' && country[0] <= 'Z' && country[1] >= 'A' && country[1] <= 'Z' {
			return country
		}
	}
	return ""
}
