package database

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/site-tracker/backend/internal/association"
	"github.com/site-tracker/backend/internal/models"
	"go.uber.org/zap"
)

// UpsertUser inserts or replaces an employee.
func (s *SiteDB) UpsertUser(ctx context.Context, u models.Employee) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO users (id, name, role, company_id) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.Role, u.CompanyID)
	return errors.Wrapf(err, "saving user %d", u.ID)
}

// UpsertAsset inserts or replaces an asset.
func (s *SiteDB) UpsertAsset(ctx context.Context, a models.Asset) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO assets (id, name, type, company_id) VALUES (?, ?, ?, ?)`,
		a.ID, a.Name, a.Type, a.CompanyID)
	return errors.Wrapf(err, "saving asset %d", a.ID)
}

// ImportDirectory upserts users and assets in one transaction.
func (s *SiteDB) ImportDirectory(ctx context.Context, users []models.Employee, assets []models.Asset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting import")
	}
	defer tx.Rollback()

	for _, u := range users {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO users (id, name, role, company_id) VALUES (?, ?, ?, ?)`,
			u.ID, u.Name, u.Role, u.CompanyID); err != nil {
			return errors.Wrapf(err, "importing user %d", u.ID)
		}
	}
	for _, a := range assets {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO assets (id, name, type, company_id) VALUES (?, ?, ?, ?)`,
			a.ID, a.Name, a.Type, a.CompanyID); err != nil {
			return errors.Wrapf(err, "importing asset %d", a.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing import")
	}
	s.log.Info("directory imported", zap.Int("users", len(users)), zap.Int("assets", len(assets)))
	return nil
}

// ListUsers returns the employees, optionally of one company.
func (s *SiteDB) ListUsers(ctx context.Context, companyID string) ([]models.Employee, error) {
	query := `SELECT id, name, COALESCE(role, ''), COALESCE(company_id, '') FROM users`
	var args []interface{}
	if companyID != "" {
		query += ` WHERE company_id = ?`
		args = append(args, companyID)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing users")
	}
	defer rows.Close()

	users := make([]models.Employee, 0)
	for rows.Next() {
		var u models.Employee
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.CompanyID); err != nil {
			return nil, errors.Wrap(err, "scanning user")
		}
		users = append(users, u)
	}
	return users, errors.Wrap(rows.Err(), "listing users")
}

// ListAssets returns the assets, optionally of one company.
func (s *SiteDB) ListAssets(ctx context.Context, companyID string) ([]models.Asset, error) {
	query := `SELECT id, name, COALESCE(type, ''), COALESCE(company_id, '') FROM assets`
	var args []interface{}
	if companyID != "" {
		query += ` WHERE company_id = ?`
		args = append(args, companyID)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing assets")
	}
	defer rows.Close()

	assets := make([]models.Asset, 0)
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.CompanyID); err != nil {
			return nil, errors.Wrap(err, "scanning asset")
		}
		assets = append(assets, a)
	}
	return assets, errors.Wrap(rows.Err(), "listing assets")
}

// Lookup implements association.Directory with one query per call.
func (s *SiteDB) Lookup(targetType models.TargetType, id int64) (string, bool) {
	var query string
	switch targetType {
	case models.TargetEmployee:
		query = `SELECT name FROM users WHERE id = ?`
	case models.TargetAsset:
		query = `SELECT name FROM assets WHERE id = ?`
	default:
		return "", false
	}
	var name string
	err := s.db.QueryRow(query, id).Scan(&name)
	if err != nil {
		if err != sql.ErrNoRows {
			s.log.Warn("directory lookup failed", zap.String("type", string(targetType)), zap.Int64("id", id), zap.Error(err))
		}
		return "", false
	}
	return name, true
}

// Directory loads every user and asset into an in-memory directory, for
// joins over many tags.
func (s *SiteDB) Directory(ctx context.Context) (*association.MapDirectory, error) {
	users, err := s.ListUsers(ctx, "")
	if err != nil {
		return nil, err
	}
	assets, err := s.ListAssets(ctx, "")
	if err != nil {
		return nil, err
	}
	return association.NewMapDirectory(users, assets), nil
}
