package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/site-tracker/backend/internal/models"
)

// SaveAssociation replaces the association of a tag on a site.
func (s *SiteDB) SaveAssociation(ctx context.Context, siteID int64, a models.Association) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO associations (tag_id, target_type, target_id, site_id)
		VALUES (?, ?, ?, ?)`, a.TagID, string(a.TargetType), a.TargetID, siteID)
	return errors.Wrapf(err, "saving association of tag %s", a.TagID)
}

// DeleteAssociation removes the association of a tag on a site.
func (s *SiteDB) DeleteAssociation(ctx context.Context, siteID int64, tagID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM associations WHERE tag_id = ? AND site_id = ?`, tagID, siteID)
	return errors.Wrapf(err, "deleting association of tag %s", tagID)
}

// ListAssociations returns the associations of a site ordered by tag.
func (s *SiteDB) ListAssociations(ctx context.Context, siteID int64) ([]models.Association, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag_id, target_type, target_id FROM associations
		WHERE site_id = ? ORDER BY tag_id`, siteID)
	if err != nil {
		return nil, errors.Wrap(err, "listing associations")
	}
	defer rows.Close()

	out := make([]models.Association, 0)
	for rows.Next() {
		var a models.Association
		var targetType string
		if err := rows.Scan(&a.TagID, &targetType, &a.TargetID); err != nil {
			return nil, errors.Wrap(err, "scanning association")
		}
		a.TargetType = models.TargetType(targetType)
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "listing associations")
}

// SaveArea inserts or replaces a geofence.
func (s *SiteDB) SaveArea(ctx context.Context, area models.Area) error {
	points, err := json.Marshal(area.Points)
	if err != nil {
		return errors.Wrap(err, "encoding area points")
	}
	if area.CreatedAt.IsZero() {
		area.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO areas (id, site_id, name, type, points, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		area.ID, area.SiteID, area.Name, area.Type, string(points), area.CreatedAt.UnixMilli())
	return errors.Wrapf(err, "saving area %s", area.ID)
}

// DeleteArea removes a geofence.
func (s *SiteDB) DeleteArea(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM areas WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "deleting area %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "area %s", id)
	}
	return nil
}

// ListAreas returns the geofences of a site ordered by creation.
func (s *SiteDB) ListAreas(ctx context.Context, siteID int64) ([]models.Area, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, name, COALESCE(type, ''), COALESCE(points, '[]'), COALESCE(created_at, 0)
		FROM areas WHERE site_id = ? ORDER BY created_at, id`, siteID)
	if err != nil {
		return nil, errors.Wrap(err, "listing areas")
	}
	defer rows.Close()

	out := make([]models.Area, 0)
	for rows.Next() {
		var a models.Area
		var points string
		var created int64
		if err := rows.Scan(&a.ID, &a.SiteID, &a.Name, &a.Type, &points, &created); err != nil {
			return nil, errors.Wrap(err, "scanning area")
		}
		if err := json.Unmarshal([]byte(points), &a.Points); err != nil {
			return nil, errors.Wrapf(err, "decoding points of area %s", a.ID)
		}
		a.CreatedAt = time.UnixMilli(created)
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "listing areas")
}
