package permissions

// Key identifies one queryable citizen-record field.
type Key string

// RenderKind tells the registry how to turn a raw column value into display text.
type RenderKind int

const (
	RenderText RenderKind = iota
	RenderDate
	RenderFlag
	RenderGender
	RenderInstructionLevel
)

// Field is one entry of the permission catalog.
type Field struct {
	Key        Key
	DisplayKey string
	// Columns are the registry columns fetched when the field is allowed.
	// Multi-column fields are joined with a single space when rendered.
	Columns []string
	Render  RenderKind
}

// Descriptor is the public view of a catalog field.
type Descriptor struct {
	PermissionKey Key    `json:"permissionKey"`
	DisplayKey    string `json:"displayKey"`
}

var catalog = []Field{
	{Key: "fullName", DisplayKey: "Nombre completo", Columns: []string{"HAB.NOMBRE_COMPLETO"}},
	{Key: "isRegistered", DisplayKey: "Empadronado", Columns: []string{"SIT.ES_ALTA"}, Render: RenderFlag},
	{Key: "registrationDate", DisplayKey: "Fecha de alta", Columns: []string{"INS.ALTA_MUNI_FECHA"}, Render: RenderDate},
	{Key: "birthDate", DisplayKey: "Fecha de nacimiento", Columns: []string{"HAB.NACIM_FECHA"}, Render: RenderDate},
	{Key: "gender", DisplayKey: "Sexo", Columns: []string{"HAB.SEXO"}, Render: RenderGender},
	{Key: "landlinePhone", DisplayKey: "Teléfono fijo", Columns: []string{"HAB.TELEFONO"}},
	{Key: "mobilePhone", DisplayKey: "Teléfono móvil", Columns: []string{"HAB.MOVIL"}},
	{Key: "faxNumber", DisplayKey: "Fax", Columns: []string{"HAB.FAX"}},
	{Key: "email", DisplayKey: "Correo electrónico", Columns: []string{"HAB.EMAIL"}},
	{Key: "instructionLevel", DisplayKey: "Nivel de estudios", Columns: []string{"HAB.COD_NIVEL_INSTRUCCION"}, Render: RenderInstructionLevel},
	{Key: "lastMoveDate", DisplayKey: "Fecha del último movimiento", Columns: []string{"MOV.FECHA_MOVIMIENTO"}, Render: RenderDate},
	{Key: "lastMoveType", DisplayKey: "Tipo del último movimiento", Columns: []string{"MOV.COD_TIPO_MOVIMIENTO"}},
	{Key: "fatherName", DisplayKey: "Nombre del padre", Columns: []string{"HAB.NOMBRE_PADRE"}},
	{Key: "motherName", DisplayKey: "Nombre de la madre", Columns: []string{"HAB.NOMBRE_MADRE"}},
	{Key: "isProtected", DisplayKey: "Datos protegidos", Columns: []string{"HAB.ES_PROTEGIDO"}, Render: RenderFlag},
	{Key: "isParalyzed", DisplayKey: "Inscripción paralizada", Columns: []string{"INS.ES_PARALIZADA"}, Render: RenderFlag},
	{Key: "phoneticName", DisplayKey: "Nombre fonético", Columns: []string{"HAB.NOMBRE_FONETICO"}},
	{Key: "latinizedName", DisplayKey: "Nombre latinizado", Columns: []string{"HAB.NOMBRE_LATIN"}},
	{Key: "latinizedSurname1", DisplayKey: "Primer apellido latinizado", Columns: []string{"HAB.APELLIDO1_LATIN"}},
	{Key: "latinizedSurname2", DisplayKey: "Segundo apellido latinizado", Columns: []string{"HAB.APELLIDO2_LATIN"}},
	{Key: "address", DisplayKey: "Domicilio", Columns: []string{"VIV.TIPO_VIA", "VIV.NOMBRE_VIA", "VIV.NUMERO", "VIV.PISO", "VIV.PUERTA"}},
	{Key: "postalCode", DisplayKey: "Código postal", Columns: []string{"VIV.COD_POSTAL"}},
	{Key: "municipality", DisplayKey: "Municipio", Columns: []string{"VIV.MUNICIPIO"}},
}

var catalogIndex = func() map[Key]int {
	idx := make(map[Key]int, len(catalog))
	for i, f := range catalog {
		idx[f.Key] = i
	}
	return idx
}()

// Catalog returns a copy of every catalog field in display order.
func Catalog() []Field {
	out := make([]Field, len(catalog))
	copy(out, catalog)
	return out
}

// Keys returns every catalog key in display order.
func Keys() []Key {
	keys := make([]Key, len(catalog))
	for i, f := range catalog {
		keys[i] = f.Key
	}
	return keys
}

// Lookup returns the catalog field for key.
func Lookup(key Key) (Field, bool) {
	i, ok := catalogIndex[key]
	if !ok {
		return Field{}, false
	}
	return catalog[i], true
}

// IsKnown reports whether key belongs to the catalog.
func IsKnown(key Key) bool {
	_, ok := catalogIndex[key]
	return ok
}

// Descriptors lists {permissionKey, displayKey} pairs for the admin UI.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(catalog))
	for i, f := range catalog {
		out[i] = Descriptor{PermissionKey: f.Key, DisplayKey: f.DisplayKey}
	}
	return out
}
