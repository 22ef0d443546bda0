package settings

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-registry/apk-registry/internal/auth"
	"github.com/apk-registry/apk-registry/internal/db/repositories"
	"github.com/apk-registry/apk-registry/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var settingCols = []string{"key", "value", "description", "updated_at", "updated_by"}

func newStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return repositories.NewSettingRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func serve(h gin.HandlerFunc, method, route, target, body string) *httptest.ResponseRecorder {
	r := gin.New()
	r.Handle(method, route, func(c *gin.Context) {
		c.Set(middleware.IdentityKey, &auth.Identity{UserID: "u-admin", Role: auth.RoleAdmin})
		c.Next()
	}, h)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListHandler(t *testing.T) {
	store, mock := newStore(t)
	now := time.Now()
	mock.ExpectQuery("SELECT key, value, description, updated_at, updated_by FROM settings ORDER BY key").
		WillReturnRows(sqlmock.NewRows(settingCols).
			AddRow("platform_dev_directory", "/mnt/dev", nil, now, nil).
			AddRow("platform_prod_directory", "/mnt/prod", "prod share", now, "u-admin"))

	w := serve(ListHandler(store), http.MethodGet, "/settings", "/settings", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"key":"platform_dev_directory"`)
	assert.Contains(t, w.Body.String(), `"description":"prod share"`)
}

func TestListHandler_Empty(t *testing.T) {
	store, mock := newStore(t)
	mock.ExpectQuery("FROM settings ORDER BY key").WillReturnRows(sqlmock.NewRows(settingCols))

	w := serve(ListHandler(store), http.MethodGet, "/settings", "/settings", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestListHandler_DatabaseError(t *testing.T) {
	store, mock := newStore(t)
	mock.ExpectQuery("FROM settings ORDER BY key").WillReturnError(sql.ErrConnDone)

	w := serve(ListHandler(store), http.MethodGet, "/settings", "/settings", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection")
}

func TestGetHandler(t *testing.T) {
	store, mock := newStore(t)
	mock.ExpectQuery("FROM settings WHERE key").
		WithArgs("platform_rc_directory").
		WillReturnRows(sqlmock.NewRows(settingCols).AddRow("platform_rc_directory", "/mnt/rc", nil, time.Now(), nil))

	w := serve(GetHandler(store), http.MethodGet, "/settings/:key", "/settings/platform_rc_directory", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"value":"/mnt/rc"`)
}

func TestGetHandler_NotFound(t *testing.T) {
	store, mock := newStore(t)
	mock.ExpectQuery("FROM settings WHERE key").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	w := serve(GetHandler(store), http.MethodGet, "/settings/:key", "/settings/missing", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateHandler(t *testing.T) {
	store, mock := newStore(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO settings").
		WithArgs("platform_prod_directory", "/mnt/prod", nil, "u-admin").
		WillReturnRows(sqlmock.NewRows([]string{"description", "updated_at"}).AddRow("prod share", now))

	w := serve(UpdateHandler(store), http.MethodPut, "/settings/:key", "/settings/platform_prod_directory",
		`{"value":"  /mnt/prod  "}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"value":"/mnt/prod"`)
	assert.Contains(t, w.Body.String(), `"updated_by":"u-admin"`)
	assert.Contains(t, w.Body.String(), `"description":"prod share"`)
}

func TestUpdateHandler_EmptyValueClearsOverride(t *testing.T) {
	store, mock := newStore(t)
	mock.ExpectQuery("INSERT INTO settings").
		WithArgs("platform_dev_directory", "", nil, "u-admin").
		WillReturnRows(sqlmock.NewRows([]string{"description", "updated_at"}).AddRow(nil, time.Now()))

	w := serve(UpdateHandler(store), http.MethodPut, "/settings/:key", "/settings/platform_dev_directory",
		`{"value":""}`)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateHandler_MissingValue(t *testing.T) {
	store, _ := newStore(t)

	w := serve(UpdateHandler(store), http.MethodPut, "/settings/:key", "/settings/platform_dev_directory",
		`{"description":"no value"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
