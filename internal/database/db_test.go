package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/site-tracker/backend/internal/models"
	"github.com/site-tracker/backend/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestDB(t *testing.T) *SiteDB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "site.duckdb"), Options{MemoryLimit: "256MB", Threads: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func demoSite() models.Site {
	return models.Site{
		Name:       "Cantiere Milano",
		ServerIP:   "127.0.0.1",
		ServerPort: 48300,
		MapWidth:   100,
		MapHeight:  80,
		MapCorners: []models.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 80}, {X: 0, Y: 80}},
		Company:    "Edil Srl",
		CompanyID:  "1",
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "site.duckdb")
	ctx := context.Background()

	db, err := Open(path, Options{})
	require.NoError(t, err)
	_, err = db.CreateSite(ctx, demoSite())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path, Options{})
	require.NoError(t, err)
	defer db.Close()
	sites, err := db.ListSites(ctx, "")
	require.NoError(t, err)
	assert.Len(t, sites, 1)
	assert.Equal(t, path, db.Path())
	assert.NoError(t, db.Ping(ctx))
}

func TestSites(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	site, err := db.EnsureDemoSite(ctx, demoSite())
	require.NoError(t, err)
	assert.NotZero(t, site.ID)

	again, err := db.EnsureDemoSite(ctx, models.Site{Name: "other"})
	require.NoError(t, err)
	assert.Equal(t, site.ID, again.ID)

	got, err := db.GetSite(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cantiere Milano", got.Name)
	assert.Len(t, got.MapCorners, 4)
	assert.Equal(t, 80.0, got.MapCorners[2].Y)

	require.NoError(t, db.UpdateSiteMap(ctx, site.ID, "plan.dxf", 120, 90, nil))
	got, err = db.GetSite(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, "plan.dxf", got.MapFile)
	assert.Equal(t, 120.0, got.MapWidth)
	assert.Empty(t, got.MapCorners)

	_, err = db.GetSite(ctx, 999)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(db.UpdateSiteMap(ctx, 999, "", 0, 0, nil), ErrNotFound))

	second, err := db.CreateSite(ctx, models.Site{Name: "Cantiere Torino", CompanyID: "2"})
	require.NoError(t, err)
	assert.Greater(t, second.ID, site.ID)

	byCompany, err := db.ListSites(ctx, "2")
	require.NoError(t, err)
	require.Len(t, byCompany, 1)
	assert.Equal(t, "Cantiere Torino", byCompany[0].Name)
}

func TestDirectory(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertUser(ctx, models.Employee{ID: 1, Name: "Mario Rossi", Role: "Operaio", CompanyID: "1"}))
	require.NoError(t, db.UpsertUser(ctx, models.Employee{ID: 1, Name: "Mario Rossi", Role: "Capocantiere", CompanyID: "1"}))
	require.NoError(t, db.ImportDirectory(ctx,
		[]models.Employee{{ID: 2, Name: "Lucia Bianchi", Role: "Ingegnere", CompanyID: "2"}},
		[]models.Asset{{ID: 10, Name: "Escavatore A", Type: "Macchina"}, {ID: 11, Name: "Cassa Attrezzi", Type: "Contenitore"}},
	))

	users, err := db.ListUsers(ctx, "")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Capocantiere", users[0].Role)

	users, err = db.ListUsers(ctx, "2")
	require.NoError(t, err)
	assert.Len(t, users, 1)

	assets, err := db.ListAssets(ctx, "")
	require.NoError(t, err)
	assert.Len(t, assets, 2)

	name, ok := db.Lookup(models.TargetAsset, 11)
	assert.True(t, ok)
	assert.Equal(t, "Cassa Attrezzi", name)
	_, ok = db.Lookup(models.TargetEmployee, 10)
	assert.False(t, ok)
	_, ok = db.Lookup("vehicle", 1)
	assert.False(t, ok)

	dir, err := db.Directory(ctx)
	require.NoError(t, err)
	name, ok = dir.Lookup(models.TargetEmployee, 2)
	assert.True(t, ok)
	assert.Equal(t, "Lucia Bianchi", name)
}

func TestAssociations(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveAssociation(ctx, 1, models.Association{TagID: "T1", TargetType: models.TargetEmployee, TargetID: 1}))
	require.NoError(t, db.SaveAssociation(ctx, 1, models.Association{TagID: "T1", TargetType: models.TargetAsset, TargetID: 10}))
	require.NoError(t, db.SaveAssociation(ctx, 2, models.Association{TagID: "T1", TargetType: models.TargetEmployee, TargetID: 2}))

	list, err := db.ListAssociations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.TargetAsset, list[0].TargetType)
	assert.Equal(t, int64(10), list[0].TargetID)

	require.NoError(t, db.DeleteAssociation(ctx, 1, "T1"))
	list, err = db.ListAssociations(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = db.ListAssociations(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAreas(t *testing.T) {
	db := createTestDB(t)
	ctx := context.Background()

	area := models.Area{
		ID:     "a1",
		SiteID: 1,
		Name:   "Zona Scavi",
		Type:   models.AreaTypeGeofence,
		Points: []models.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}},
	}
	require.NoError(t, db.SaveArea(ctx, area))

	areas, err := db.ListAreas(ctx, 1)
	require.NoError(t, err)
	require.Len(t, areas, 1)
	assert.Equal(t, "Zona Scavi", areas[0].Name)
	assert.Len(t, areas[0].Points, 3)
	assert.False(t, areas[0].CreatedAt.IsZero())

	require.NoError(t, db.DeleteArea(ctx, "a1"))
	assert.True(t, errors.Is(db.DeleteArea(ctx, "a1"), ErrNotFound))
}

func TestHistoryRecorder(t *testing.T) {
	db := createTestDB(t)
	rec := NewHistoryRecorder(db, 3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	t0 := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		p := models.TagPosition{TagID: "T1", X: float64(i), Y: 1, Timestamp: t0.Add(time.Duration(i) * time.Second)}
		rec.Handle(tracker.Update{Kind: tracker.UpdatePosition, Position: &p, SiteID: 1})
	}
	power := models.TagPower{TagID: "T1", Battery: 55, Timestamp: t0}
	rec.Handle(tracker.Update{Kind: tracker.UpdateBattery, Power: &power})
	alarm := models.Alarm{TagID: "T1", Type: "sos", Level: "high", Timestamp: t0}
	rec.Handle(tracker.Update{Kind: tracker.UpdateAlarm, Alarm: &alarm, SiteID: 1})
	rec.Handle(tracker.Update{Kind: tracker.UpdateStatus, Status: "connected", SiteID: 1, At: t0})

	cancel()
	<-done
	require.NoError(t, rec.LastError())
	assert.Zero(t, rec.Dropped())

	bg := context.Background()
	history, err := db.PositionHistory(bg, "T1", t0.Add(2*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 4.0, history[0].X)

	limited, err := db.PositionHistory(bg, "T1", time.Time{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	alarms, err := db.RecentAlarms(bg, 10)
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, "sos", alarms[0].Type)
	assert.Equal(t, int64(1), alarms[0].SiteID)

	n, err := db.CountAlarms(bg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, db.AppendLog(bg, "map", "map uploaded", 1))
	logs, err := db.ListLogs(bg, 1, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "map uploaded", logs[0].Message)
	assert.Equal(t, "feed connected", logs[1].Message)
}

func TestHistoryRecorder_FlushEmpty(t *testing.T) {
	db := createTestDB(t)
	rec := NewHistoryRecorder(db, 0, 0)
	assert.NoError(t, rec.Flush(context.Background()))
}
