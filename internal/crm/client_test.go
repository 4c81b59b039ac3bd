package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Mock(t *testing.T) {
	c := NewClient(Config{CompanyID: "7"}, nil)
	assert.True(t, c.Mock())

	users, err := c.FetchUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Mario Rossi", users[0].Name)
	assert.Equal(t, "Ingegnere", users[1].Role)
	assert.Equal(t, "7", users[0].CompanyID)

	assets, err := c.FetchAssets(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, int64(10), assets[0].ID)
	assert.Equal(t, "Contenitore", assets[1].Type)
}

func TestClient_Fetch(t *testing.T) {
	var gotCompany, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCompany = r.URL.Query().Get("companyId")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/users":
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"id": 5, "name": "Giulia Verdi", "role": "Geometra"},
			})
		case "/assets":
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"id": 20, "name": "Gru 1", "type": "Macchina", "companyId": "9"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, CompanyID: "3", APIKey: "secret"}, nil)
	assert.False(t, c.Mock())

	users, err := c.FetchUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Giulia Verdi", users[0].Name)
	assert.Equal(t, "3", users[0].CompanyID)
	assert.Equal(t, "3", gotCompany)
	assert.Equal(t, "Bearer secret", gotAuth)

	assets, err := c.FetchAssets(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "9", assets[0].CompanyID)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	_, err := c.FetchUsers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestParseCompanyID(t *testing.T) {
	id, err := ParseCompanyID("12")
	require.NoError(t, err)
	assert.Equal(t, "12", id)

	id, err = ParseCompanyID("")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = ParseCompanyID("abc")
	assert.Error(t, err)
}
