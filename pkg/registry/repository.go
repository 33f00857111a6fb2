package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/padron/pkg/observability"
	"github.com/platinummonkey/padron/pkg/permissions"
	"github.com/platinummonkey/padron/pkg/storage"
)

var registryTracer = otel.Tracer("padron/registry")

var (
	documentPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	schemaPattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// description is a cached instruction level lookup
type description struct {
	text  string
	found bool
}

// Repository reads inhabitant records from the municipal registry
type Repository struct {
	db           *sql.DB
	config       Config
	builder      sq.StatementBuilderType
	descriptions *expirable.LRU[string, description]
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// NewRepository creates a repository over db. metrics may be nil.
func NewRepository(db *sql.DB, config Config, logger *observability.Logger, metrics *observability.Metrics) (*Repository, error) {
	var placeholder sq.PlaceholderFormat
	switch config.Dialect {
	case storage.DriverOracle:
		placeholder = sq.Colon
	case storage.DriverPostgres:
		placeholder = sq.Dollar
	case storage.DriverSQLite:
		placeholder = sq.Question
	default:
		return nil, fmt.Errorf("unsupported registry dialect: %s", config.Dialect)
	}
	if config.Schema != "" && !schemaPattern.MatchString(config.Schema) {
		return nil, fmt.Errorf("invalid registry schema name: %q", config.Schema)
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 256
	}

	return &Repository{
		db:           db,
		config:       config,
		builder:      sq.StatementBuilder.PlaceholderFormat(placeholder),
		descriptions: expirable.NewLRU[string, description](config.CacheSize, nil, config.CacheTTL),
		logger:       logger,
		metrics:      metrics,
	}, nil
}

// NormalizeDocument trims and upper-cases an identity document and checks
// that it is alphanumeric
func NormalizeDocument(idDoc string) (string, error) {
	idDoc = strings.ToUpper(strings.TrimSpace(idDoc))
	if len(idDoc) > maxDocumentLength || !documentPattern.MatchString(idDoc) {
		return "", ErrInvalidDocument
	}
	return idDoc, nil
}

// AllowedFields lists the catalog fields allowed by eff in catalog order
func AllowedFields(eff permissions.Effective) []permissions.Field {
	var fields []permissions.Field
	for _, f := range permissions.Catalog() {
		if eff[f.Key] {
			fields = append(fields, f)
		}
	}
	return fields
}

// Lookup returns the current record of idDoc restricted to the fields eff
// allows
func (r *Repository) Lookup(ctx context.Context, idDoc string, eff permissions.Effective) (*Inhabitant, error) {
	ctx, span := registryTracer.Start(ctx, "Lookup")
	defer span.End()

	start := time.Now()
	inhabitant, err := r.lookup(ctx, idDoc, eff)

	outcome := "found"
	switch {
	case err == nil:
		span.SetAttributes(attribute.Int("registry.fields", len(inhabitant.Entries)))
	case errors.Is(err, ErrInhabitantNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrInvalidDocument), errors.Is(err, ErrNoAllowedFields):
		outcome = "rejected"
	default:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "registry lookup failed")
	}
	span.SetAttributes(attribute.String("registry.outcome", outcome))
	r.metrics.RecordRegistryQuery(outcome, time.Since(start))

	return inhabitant, err
}

func (r *Repository) lookup(ctx context.Context, idDoc string, eff permissions.Effective) (*Inhabitant, error) {
	idDoc, err := NormalizeDocument(idDoc)
	if err != nil {
		return nil, err
	}
	fields := AllowedFields(eff)
	if len(fields) == 0 {
		return nil, ErrNoAllowedFields
	}

	query, args, err := r.inhabitantQuery(idDoc, fields).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build inhabitant query: %w", err)
	}

	var columns int
	for _, f := range fields {
		columns += len(f.Columns)
	}
	raw := make([]interface{}, columns)
	dest := make([]interface{}, columns)
	for i := range raw {
		dest[i] = &raw[i]
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInhabitantNotFound
		}
		r.metrics.RecordStoreError("registry", "lookup")
		return nil, fmt.Errorf("failed to query inhabitant: %w", err)
	}

	inhabitant := &Inhabitant{IDDoc: idDoc, Entries: make([]Entry, 0, len(fields))}
	offset := 0
	for _, f := range fields {
		values := raw[offset : offset+len(f.Columns)]
		offset += len(f.Columns)

		entry := Entry{Key: string(f.Key), DisplayKey: f.DisplayKey}
		if s, ok := renderField(f, values); ok {
			if f.Render == permissions.RenderInstructionLevel {
				s = r.describeInstructionLevel(ctx, s)
			}
			entry.Value = &s
		}
		inhabitant.Entries = append(inhabitant.Entries, entry)
	}
	return inhabitant, nil
}

func (r *Repository) table(name string) string {
	if r.config.Schema == "" {
		return name
	}
	return r.config.Schema + "." + name
}

// inhabitantQuery selects the columns of fields for the current record of idDoc
func (r *Repository) inhabitantQuery(idDoc string, fields []permissions.Field) sq.SelectBuilder {
	var columns []string
	for _, f := range fields {
		columns = append(columns, f.Columns...)
	}

	q := r.builder.Select(columns...).
		From(r.table("PMH_SIT_HABITANTE") + " SIT").
		LeftJoin(r.table("PMH_HABITANTE") + " HAB ON HAB.DBOID = SIT.HABITANTE_ID").
		LeftJoin(r.table("PMH_INSCRIPCION") + " INS ON INS.DBOID = SIT.INSCRIPCION_ID").
		LeftJoin(r.table("PMH_MOVIMIENTO") + " MOV ON MOV.DBOID = SIT.MOVIMIENTO_ID").
		LeftJoin(r.table("PMH_VIVIENDA") + " VIV ON VIV.DBOID = SIT.VIVIENDA_ID").
		Where(sq.Eq{"HAB.DOC_IDENTIFICADOR": idDoc}).
		Where(sq.Eq{"SIT.ES_ULTIMO": "T"})

	if r.config.Dialect == storage.DriverOracle {
		return q.Suffix("FETCH NEXT 1 ROWS ONLY")
	}
	return q.Limit(1)
}

// describeInstructionLevel resolves an instruction level code to its
// description, falling back to the code itself
func (r *Repository) describeInstructionLevel(ctx context.Context, code string) string {
	if cached, ok := r.descriptions.Get(code); ok {
		r.metrics.RecordCacheLookup("instruction_level", true)
		if cached.found {
			return cached.text
		}
		return code
	}
	r.metrics.RecordCacheLookup("instruction_level", false)

	query, args, err := r.builder.Select("DESCRIPCION").
		From(r.table("PMH_NIV_INSTRUCCION_T")).
		Where(sq.Like{"DESCRIPCION": code + "%"}).
		Where(sq.Eq{"VALIDATED": 1}).
		ToSql()
	if err != nil {
		r.logger.WithError(err).Error("Failed to build instruction level query")
		return code
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.metrics.RecordStoreError("registry", "instruction_level")
		observability.FromContext(ctx).WithError(err).WithField("code", code).
			Warn("Instruction level lookup failed")
		return code
	}
	defer rows.Close()

	var d description
	if rows.Next() {
		var value sql.NullString
		if err := rows.Scan(&value); err != nil {
			r.metrics.RecordStoreError("registry", "instruction_level")
			return code
		}
		d = description{text: value.String, found: value.Valid && value.String != ""}
	}
	if err := rows.Err(); err != nil {
		r.metrics.RecordStoreError("registry", "instruction_level")
		return code
	}

	r.descriptions.Add(code, d)
	if !d.found {
		return code
	}
	return d.text
}
