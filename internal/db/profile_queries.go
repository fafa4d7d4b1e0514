package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/model"
)

// ProfileInput carries the editable company profile fields.
type ProfileInput struct {
	Name          string
	RegionCode    string
	Latitude      *float64
	Longitude     *float64
	ActivityCodes []string
}

const profileColumns = `
	pr.profile_id,
	pr.name,
	pr.region_code,
	pr.latitude,
	pr.longitude,
	pr.activity_codes`

func scanProfile(row scanner) (model.Profile, error) {
	var (
		pr         model.Profile
		activities []byte
	)
	if err := row.Scan(&pr.ID, &pr.Name, &pr.RegionCode, &pr.Latitude, &pr.Longitude, &activities); err != nil {
		return model.Profile{}, err
	}
	codes, err := decodeStrings(activities)
	if err != nil {
		return model.Profile{}, fmt.Errorf("profile %d activity_codes: %w", pr.ID, err)
	}
	pr.ActivityCodes = codes
	return pr, nil
}

// GetProfile loads one profile; ErrNoRows when absent.
func (p *Pool) GetProfile(ctx context.Context, profileID int64) (*model.Profile, error) {
	q := `
SELECT` + profileColumns + `
FROM procurewatch.profiles pr
WHERE pr.profile_id = $1
`
	pr, err := scanProfile(p.QueryRow(ctx, q, profileID))
	if err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query profile %d: %w", profileID, err)
	}
	return &pr, nil
}

// CreateProfile inserts a company profile.
func (p *Pool) CreateProfile(ctx context.Context, in ProfileInput) (*model.Profile, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("profile name is required")
	}
	activities, err := encodeStrings(in.ActivityCodes)
	if err != nil {
		return nil, err
	}

	q := `
INSERT INTO procurewatch.profiles AS pr (name, region_code, latitude, longitude, activity_codes)
VALUES ($1, $2, $3, $4, $5::jsonb)
RETURNING` + profileColumns

	pr, err := scanProfile(p.QueryRow(ctx, q, name, strings.ToUpper(strings.TrimSpace(in.RegionCode)), in.Latitude, in.Longitude, activities))
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	return &pr, nil
}
