package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/site-tracker/backend/internal/models"
	"go.uber.org/zap"
)

const siteColumns = `id, name, COALESCE(server_ip, ''), COALESCE(server_port, 0), COALESCE(map_file, ''),
	COALESCE(map_width, 0), COALESCE(map_height, 0), COALESCE(map_corners, ''),
	COALESCE(company, ''), COALESCE(company_id, '')`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSite(row rowScanner) (models.Site, error) {
	var site models.Site
	var corners string
	err := row.Scan(&site.ID, &site.Name, &site.ServerIP, &site.ServerPort, &site.MapFile,
		&site.MapWidth, &site.MapHeight, &corners, &site.Company, &site.CompanyID)
	if err != nil {
		return site, err
	}
	if corners != "" {
		if err := json.Unmarshal([]byte(corners), &site.MapCorners); err != nil {
			return site, errors.Wrapf(err, "decoding corners of site %d", site.ID)
		}
	}
	return site, nil
}

func encodePoints(pts []models.Point) (string, error) {
	if len(pts) == 0 {
		return "", nil
	}
	data, err := json.Marshal(pts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListSites returns every site, or the sites of one company when companyID is set.
func (s *SiteDB) ListSites(ctx context.Context, companyID string) ([]models.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites`
	var args []interface{}
	if companyID != "" {
		query += ` WHERE company_id = ?`
		args = append(args, companyID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing sites")
	}
	defer rows.Close()

	sites := make([]models.Site, 0)
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning site")
		}
		sites = append(sites, site)
	}
	return sites, errors.Wrap(rows.Err(), "listing sites")
}

// GetSite returns one site.
func (s *SiteDB) GetSite(ctx context.Context, id int64) (models.Site, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = ?`, id)
	site, err := scanSite(row)
	if err == sql.ErrNoRows {
		return site, errors.Wrapf(ErrNotFound, "site %d", id)
	}
	if err != nil {
		return site, errors.Wrapf(err, "loading site %d", id)
	}
	return site, nil
}

// CreateSite inserts a site and returns it with its new id.
func (s *SiteDB) CreateSite(ctx context.Context, site models.Site) (models.Site, error) {
	corners, err := encodePoints(site.MapCorners)
	if err != nil {
		return site, errors.Wrap(err, "encoding corners")
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO sites (name, server_ip, server_port, map_file, map_width, map_height, map_corners, company, company_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		site.Name, site.ServerIP, site.ServerPort, site.MapFile, site.MapWidth, site.MapHeight,
		corners, site.Company, site.CompanyID,
	).Scan(&site.ID)
	if err != nil {
		return site, errors.Wrap(err, "creating site")
	}
	s.log.Info("site created", zap.Int64("id", site.ID), zap.String("name", site.Name))
	return site, nil
}

// UpdateSiteMap stores the floor plan metadata of a site.
func (s *SiteDB) UpdateSiteMap(ctx context.Context, siteID int64, mapFile string, width, height float64, corners []models.Point) error {
	encoded, err := encodePoints(corners)
	if err != nil {
		return errors.Wrap(err, "encoding corners")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sites SET map_file = ?, map_width = ?, map_height = ?, map_corners = ?
		WHERE id = ?`, mapFile, width, height, encoded, siteID)
	if err != nil {
		return errors.Wrapf(err, "updating map of site %d", siteID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "site %d", siteID)
	}
	return nil
}

// EnsureDemoSite creates demo when the database has no site yet and
// returns the first site.
func (s *SiteDB) EnsureDemoSite(ctx context.Context, demo models.Site) (models.Site, error) {
	sites, err := s.ListSites(ctx, "")
	if err != nil {
		return models.Site{}, err
	}
	if len(sites) > 0 {
		return sites[0], nil
	}
	return s.CreateSite(ctx, demo)
}
