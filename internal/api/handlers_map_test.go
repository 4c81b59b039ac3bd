package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/site-tracker/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planDXF = "0\nSECTION\n2\nENTITIES\n" +
	"0\nLINE\n8\nWALLS\n10\n0\n20\n0\n11\n100\n21\n0\n" +
	"0\nCIRCLE\n8\nPILLARS\n10\n50\n20\n40\n40\n5\n" +
	"0\nENDSEC\n0\nEOF\n"

const textOnlyDXF = "0\nSECTION\n2\nENTITIES\n0\nTEXT\n8\nNOTES\n0\nENDSEC\n0\nEOF\n"

func uploadBody(siteID int64, name, content string, wait bool) map[string]interface{} {
	return map[string]interface{}{
		"siteId": siteID,
		"name":   name,
		"data":   base64.StdEncoding.EncodeToString([]byte(content)),
		"wait":   wait,
	}
}

func TestMapHandler_UploadWait(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/map/upload", uploadBody(env.site.ID, "plan.dxf", planDXF, true))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sess models.ParseSession
	decode(t, rec, &sess)
	assert.Equal(t, models.SessionStatusComplete, sess.Status)
	assert.Equal(t, 2, sess.PrimitiveCount)

	// the site now points at the stored drawing
	site, err := env.db.GetSite(context.Background(), env.site.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.FileID, site.MapFile)
	info, err := env.store.Get(sess.FileID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusParsed, info.Status)

	rec = env.do(t, http.MethodGet, "/api/map/"+idString(env.site.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var m mapResponse
	decode(t, rec, &m)
	assert.True(t, m.Loaded)
	assert.Len(t, m.Primitives, 2)
	assert.Equal(t, sess.FileID, m.MapFile)
	assert.Equal(t, 100.0, m.MapWidth)
}

func TestMapHandler_UploadWithoutPrimitives(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/map/upload", uploadBody(env.site.ID, "plan.dxf", planDXF, true))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/map/upload", uploadBody(env.site.ID, "notes.dxf", textOnlyDXF, true))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "PARSE_ERROR", errorCode(t, rec))

	// the previous drawing stays active
	d, ok := env.sessions.Current(env.site.ID)
	require.True(t, ok)
	assert.Len(t, d.Primitives, 2)
}

func TestMapHandler_UploadAsync(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/map/upload", uploadBody(env.site.ID, "plan.dxf", planDXF, false))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var sess models.ParseSession
	decode(t, rec, &sess)
	require.NotEmpty(t, sess.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := env.sessions.Wait(ctx, sess.ID)
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/api/map/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.ParseSession
	decode(t, rec, &status)
	assert.Equal(t, models.SessionStatusComplete, status.Status)

	rec = env.do(t, http.MethodGet, "/api/map/sessions/"+sess.ID+"/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"status":"complete"`)

	rec = env.do(t, http.MethodGet, "/api/map/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapHandler_UploadValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		body     map[string]interface{}
		wantCode int
		errCode  string
	}{
		{"missing site", uploadBody(0, "plan.dxf", planDXF, false), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing name", uploadBody(env.site.ID, "", planDXF, false), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown site", uploadBody(9999, "plan.dxf", planDXF, false), http.StatusNotFound, "NOT_FOUND"},
		{
			"invalid base64",
			map[string]interface{}{"siteId": env.site.ID, "name": "plan.dxf", "data": "not-valid-base64!!!"},
			http.StatusBadRequest, "BAD_REQUEST",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/map/upload", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.errCode, errorCode(t, rec))
		})
	}
	assert.Equal(t, 0, env.store.GetFileCount())
}

func TestMapHandler_GetMapWithoutDrawing(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/map/"+idString(env.site.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var m mapResponse
	decode(t, rec, &m)
	assert.False(t, m.Loaded)
	assert.Empty(t, m.Primitives)
	assert.Equal(t, models.BoundingBox{MinX: -10, MinY: -10, MaxX: 110, MaxY: 110}, m.Bounds)

	rec = env.do(t, http.MethodGet, "/api/map/9999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapHandler_UpdateMapFile(t *testing.T) {
	env := newTestEnv(t)

	corners := []models.Point{{X: 0, Y: 0}, {X: 60, Y: 0}, {X: 60, Y: 30}, {X: 0, Y: 30}}
	rec := env.do(t, http.MethodPost, "/api/map-file", map[string]interface{}{
		"siteId": env.site.ID, "mapFile": "elsewhere/plan.dxf", "mapWidth": 60, "mapHeight": 30, "mapCorners": corners,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	site, err := env.db.GetSite(context.Background(), env.site.ID)
	require.NoError(t, err)
	assert.Equal(t, "plan", site.MapFile)
	assert.Equal(t, 60.0, site.MapWidth)
	assert.Len(t, site.MapCorners, 4)

	// a stored drawing is parsed
	env.store.AddFile("stored1", env.site.ID, "stored1.dxf", []byte(planDXF))
	rec = env.do(t, http.MethodPost, "/api/map-file", map[string]interface{}{
		"siteId": env.site.ID, "mapFile": "stored1.dxf", "mapWidth": 60, "mapHeight": 30,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"session"`)

	require.Eventually(t, func() bool {
		d, ok := env.sessions.Current(env.site.ID)
		return ok && len(d.Primitives) == 2
	}, 5*time.Second, 20*time.Millisecond)

	rec = env.do(t, http.MethodPost, "/api/map-file", map[string]interface{}{"siteId": 9999})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapHandler_Frame(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.put("TAG001", 10, 10)

	rec := env.do(t, http.MethodPost, "/api/map/upload", uploadBody(env.site.ID, "plan.dxf", planDXF, true))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/map/"+idString(env.site.ID)+"/frame.svg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(strings.TrimSpace(body), "<?xml"), body[:min(len(body), 80)])
	assert.Contains(t, body, models.UnassociatedLabel)
	assert.Contains(t, body, "Scale 1:")

	rec = env.do(t, http.MethodGet, "/api/map/9999/frame.svg", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
