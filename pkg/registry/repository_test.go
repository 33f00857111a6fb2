package registry

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/padron/pkg/observability"
	"github.com/platinummonkey/padron/pkg/permissions"
	"github.com/platinummonkey/padron/pkg/storage"
)

func discardLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func allow(keys ...permissions.Key) permissions.Effective {
	eff := permissions.Resolve(nil)
	for _, k := range keys {
		eff[k] = true
	}
	return eff
}

func newMockRepository(t *testing.T, dialect string, metrics *observability.Metrics) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewRepository(db, Config{Dialect: dialect, Schema: "REPOS", CacheTTL: time.Hour}, discardLogger(), metrics)
	require.NoError(t, err)
	return repo, mock
}

// registryFixture creates the registry tables in sqlite3 with one person
// holding an outdated and a current situation
const registryFixture = `
CREATE TABLE PMH_HABITANTE (
	DBOID INTEGER PRIMARY KEY, DOC_IDENTIFICADOR TEXT, NOMBRE_COMPLETO TEXT, NACIM_FECHA DATE,
	SEXO TEXT, TELEFONO TEXT, MOVIL TEXT, FAX TEXT, EMAIL TEXT, COD_NIVEL_INSTRUCCION TEXT,
	NOMBRE_PADRE TEXT, NOMBRE_MADRE TEXT, ES_PROTEGIDO TEXT, NOMBRE_FONETICO TEXT,
	NOMBRE_LATIN TEXT, APELLIDO1_LATIN TEXT, APELLIDO2_LATIN TEXT);
CREATE TABLE PMH_INSCRIPCION (DBOID INTEGER PRIMARY KEY, ALTA_MUNI_FECHA DATE, ES_PARALIZADA TEXT);
CREATE TABLE PMH_MOVIMIENTO (DBOID INTEGER PRIMARY KEY, FECHA_MOVIMIENTO DATE, COD_TIPO_MOVIMIENTO TEXT);
CREATE TABLE PMH_VIVIENDA (
	DBOID INTEGER PRIMARY KEY, TIPO_VIA TEXT, NOMBRE_VIA TEXT, NUMERO TEXT, PISO TEXT, PUERTA TEXT,
	COD_POSTAL TEXT, MUNICIPIO TEXT);
CREATE TABLE PMH_SIT_HABITANTE (
	DBOID INTEGER PRIMARY KEY, HABITANTE_ID INTEGER, INSCRIPCION_ID INTEGER, MOVIMIENTO_ID INTEGER,
	VIVIENDA_ID INTEGER, ES_ALTA TEXT, ES_ULTIMO TEXT);
CREATE TABLE PMH_NIV_INSTRUCCION_T (DESCRIPCION TEXT, VALIDATED INTEGER);

INSERT INTO PMH_HABITANTE (DBOID, DOC_IDENTIFICADOR, NOMBRE_COMPLETO, NACIM_FECHA, SEXO, EMAIL, COD_NIVEL_INSTRUCCION, ES_PROTEGIDO)
	VALUES (1, '12345678Z', 'ANA GARCIA LOPEZ', '1985-03-07', '6', NULL, '32', 'F');
INSERT INTO PMH_INSCRIPCION VALUES (1, '2010-09-15', 'F');
INSERT INTO PMH_MOVIMIENTO VALUES (1, '2010-09-15', 'AL'), (2, '2019-05-02', 'MD');
INSERT INTO PMH_VIVIENDA VALUES (1, 'CL', 'VIEJA', '1', NULL, NULL, '28001', 'MADRID'),
	(2, 'CL', 'MAYOR', '12', '3', 'B', '28013', 'MADRID');
INSERT INTO PMH_SIT_HABITANTE VALUES (1, 1, 1, 1, 1, 'T', 'F'), (2, 1, 1, 2, 2, 'T', 'T');
INSERT INTO PMH_NIV_INSTRUCCION_T VALUES ('32 - Bachiller superior', 1), ('32 - Bachiller (antiguo)', 0);
`

func openFixtureDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open(storage.DriverSQLite, "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(registryFixture)
	require.NoError(t, err)
	return db
}

func newFixtureRepository(t *testing.T, metrics *observability.Metrics) *Repository {
	t.Helper()
	repo, err := NewRepository(openFixtureDB(t), Config{Dialect: storage.DriverSQLite}, discardLogger(), metrics)
	require.NoError(t, err)
	return repo
}

func valueOf(t *testing.T, inhabitant *Inhabitant, key string) *string {
	t.Helper()
	for _, e := range inhabitant.Entries {
		if e.Key == key {
			return e.Value
		}
	}
	t.Fatalf("entry %s not present", key)
	return nil
}

func TestNewRepository_Rejections(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewRepository(db, Config{Dialect: "mysql"}, discardLogger(), nil)
	assert.Error(t, err)

	_, err = NewRepository(db, Config{Dialect: storage.DriverOracle, Schema: "REPOS; DROP"}, discardLogger(), nil)
	assert.Error(t, err)
}

func TestInhabitantQuery_Dialects(t *testing.T) {
	fields := []permissions.Field{mustField(t, "fullName"), mustField(t, "address")}

	tests := []struct {
		dialect string
		where   string
		limit   string
	}{
		{storage.DriverOracle, "WHERE HAB.DOC_IDENTIFICADOR = :1 AND SIT.ES_ULTIMO = :2", "FETCH NEXT 1 ROWS ONLY"},
		{storage.DriverPostgres, "WHERE HAB.DOC_IDENTIFICADOR = $1 AND SIT.ES_ULTIMO = $2", "LIMIT 1"},
		{storage.DriverSQLite, "WHERE HAB.DOC_IDENTIFICADOR = ? AND SIT.ES_ULTIMO = ?", "LIMIT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			repo, _ := newMockRepository(t, tt.dialect, nil)
			query, args, err := repo.inhabitantQuery("12345678Z", fields).ToSql()
			require.NoError(t, err)

			assert.Contains(t, query, "SELECT HAB.NOMBRE_COMPLETO, VIV.TIPO_VIA, VIV.NOMBRE_VIA, VIV.NUMERO, VIV.PISO, VIV.PUERTA FROM REPOS.PMH_SIT_HABITANTE SIT")
			assert.Contains(t, query, "LEFT JOIN REPOS.PMH_VIVIENDA VIV ON VIV.DBOID = SIT.VIVIENDA_ID")
			assert.Contains(t, query, tt.where)
			assert.Contains(t, query, tt.limit)
			assert.Equal(t, []interface{}{"12345678Z", "T"}, args)
		})
	}
}

func TestNormalizeDocument(t *testing.T) {
	got, err := NormalizeDocument(" 12345678z ")
	require.NoError(t, err)
	assert.Equal(t, "12345678Z", got)

	for _, bad := range []string{"", "1234-5678", "12345678Z' OR '1'='1", "ABCDEFGHIJKLMNOPQRSTUVWXYZ"} {
		_, err := NormalizeDocument(bad)
		assert.ErrorIs(t, err, ErrInvalidDocument, bad)
	}
}

func TestAllowedFields_CatalogOrder(t *testing.T) {
	fields := AllowedFields(allow("address", "fullName", "birthDate"))
	require.Len(t, fields, 3)
	assert.Equal(t, permissions.Key("fullName"), fields[0].Key)
	assert.Equal(t, permissions.Key("birthDate"), fields[1].Key)
	assert.Equal(t, permissions.Key("address"), fields[2].Key)

	assert.Empty(t, AllowedFields(allow()))
}

func TestLookup_Fixture(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	repo := newFixtureRepository(t, metrics)
	eff := allow("fullName", "birthDate", "gender", "email", "instructionLevel", "isProtected", "lastMoveType", "address")

	inhabitant, err := repo.Lookup(context.Background(), "12345678z", eff)
	require.NoError(t, err)

	assert.Equal(t, "12345678Z", inhabitant.IDDoc)
	require.Len(t, inhabitant.Entries, 8)
	assert.Equal(t, "fullName", inhabitant.Entries[0].Key)
	assert.Equal(t, "Nombre completo", inhabitant.Entries[0].DisplayKey)

	assert.Equal(t, "ANA GARCIA LOPEZ", *valueOf(t, inhabitant, "fullName"))
	assert.Equal(t, "7 de MARZO, 1985", *valueOf(t, inhabitant, "birthDate"))
	assert.Equal(t, "Mujer", *valueOf(t, inhabitant, "gender"))
	assert.Nil(t, valueOf(t, inhabitant, "email"))
	assert.Equal(t, "32 - Bachiller superior", *valueOf(t, inhabitant, "instructionLevel"))
	assert.Equal(t, "No", *valueOf(t, inhabitant, "isProtected"))
	assert.Equal(t, "MD", *valueOf(t, inhabitant, "lastMoveType"), "only the current situation is read")
	assert.Equal(t, "CL MAYOR 12 3 B", *valueOf(t, inhabitant, "address"))

	_, err = repo.Lookup(context.Background(), "12345678Z", eff)
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.RegistryQueriesTotal.WithLabelValues("found")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RenderCacheLookupTotal.WithLabelValues("instruction_level", "miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RenderCacheLookupTotal.WithLabelValues("instruction_level", "hit")))
}

func TestLookup_Rejections(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	repo := newFixtureRepository(t, metrics)
	ctx := context.Background()

	_, err := repo.Lookup(ctx, "00000000T", allow("fullName"))
	assert.ErrorIs(t, err, ErrInhabitantNotFound)

	_, err = repo.Lookup(ctx, "12345678Z", allow())
	assert.ErrorIs(t, err, ErrNoAllowedFields)

	_, err = repo.Lookup(ctx, "1234/5678", allow("fullName"))
	assert.ErrorIs(t, err, ErrInvalidDocument)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RegistryQueriesTotal.WithLabelValues("not_found")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.RegistryQueriesTotal.WithLabelValues("rejected")))
}

func TestLookup_OracleQuery(t *testing.T) {
	repo, mock := newMockRepository(t, storage.DriverOracle, nil)

	mock.ExpectQuery(`SELECT HAB\.NOMBRE_COMPLETO, HAB\.NACIM_FECHA, HAB\.COD_NIVEL_INSTRUCCION FROM REPOS\.PMH_SIT_HABITANTE SIT .* FETCH NEXT 1 ROWS ONLY`).
		WithArgs("12345678Z", "T").
		WillReturnRows(sqlmock.NewRows([]string{"NOMBRE_COMPLETO", "NACIM_FECHA", "COD_NIVEL_INSTRUCCION"}).
			AddRow("ANA GARCIA LOPEZ", time.Date(1985, 3, 7, 0, 0, 0, 0, time.UTC), "99"))
	mock.ExpectQuery(`SELECT DESCRIPCION FROM REPOS\.PMH_NIV_INSTRUCCION_T WHERE DESCRIPCION LIKE :1 AND VALIDATED = :2`).
		WithArgs("99%", 1).
		WillReturnRows(sqlmock.NewRows([]string{"DESCRIPCION"}))

	inhabitant, err := repo.Lookup(context.Background(), "12345678Z", allow("fullName", "birthDate", "instructionLevel"))
	require.NoError(t, err)
	assert.Equal(t, "7 de MARZO, 1985", *valueOf(t, inhabitant, "birthDate"))
	assert.Equal(t, "99", *valueOf(t, inhabitant, "instructionLevel"), "codes without description are shown as is")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookup_DriverFailure(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	repo, mock := newMockRepository(t, storage.DriverOracle, metrics)

	mock.ExpectQuery(`SELECT HAB\.NOMBRE_COMPLETO`).WillReturnError(errors.New("ORA-12541: no listener"))

	_, err := repo.Lookup(context.Background(), "12345678Z", allow("fullName"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query inhabitant")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RegistryQueriesTotal.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StoreErrorsTotal.WithLabelValues("registry", "lookup")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDescribeInstructionLevel_FailureNotCached(t *testing.T) {
	repo, mock := newMockRepository(t, storage.DriverOracle, nil)

	mock.ExpectQuery(`SELECT DESCRIPCION`).WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(`SELECT DESCRIPCION`).
		WillReturnRows(sqlmock.NewRows([]string{"DESCRIPCION"}).AddRow("21 - Graduado escolar"))

	ctx := context.Background()
	assert.Equal(t, "21", repo.describeInstructionLevel(ctx, "21"))
	assert.Equal(t, "21 - Graduado escolar", repo.describeInstructionLevel(ctx, "21"))
	assert.Equal(t, "21 - Graduado escolar", repo.describeInstructionLevel(ctx, "21"))
	require.NoError(t, mock.ExpectationsWereMet())
}
