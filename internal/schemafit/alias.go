package schemafit

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/vinculacion/registro-api/internal/normalize"
)

// Field identifies one of the five canonical columns every upload must map.
type Field string

const (
	FieldFullName   Field = "full_name"
	FieldNationalID Field = "national_id"
	FieldEmail      Field = "institutional_email"
	FieldProgram    Field = "program_or_area"
	FieldPhone      Field = "phone"

	// FieldIgnore marks a header that carries no canonical value. Ignored
	// columns are still kept verbatim in the registration extras.
	FieldIgnore Field = "ignore"
)

// CanonicalFields lists the required fields in tie-break order: when two
// fields score equally for a header, the earlier one wins.
var CanonicalFields = []Field{FieldFullName, FieldNationalID, FieldEmail, FieldProgram, FieldPhone}

// AliasTable maps each canonical field to its accepted header labels. Labels
// are compared in folded form.
type AliasTable map[Field][]string

// DefaultAliasTable enumerates the Spanish header variants survey tools are
// known to emit.
func DefaultAliasTable() AliasTable {
	return AliasTable{
		FieldFullName: {
			"nombre completo", "nombre", "nombres", "full name", "name",
			"nombre y apellido", "nombres y apellidos", "apellidos y nombres",
			"nombre del estudiante", "nombre del participante", "participante",
			"estudiante", "tu nombre completo", "nombre apellido",
		},
		FieldNationalID: {
			"rut", "run", "cedula", "cedula de identidad", "documento",
			"documento de identidad", "numero de documento", "rut completo",
			"numero rut", "tu rut", "carnet", "carnet de identidad",
		},
		FieldEmail: {
			"correo institucional", "email institucional", "correo", "email",
			"mail", "e-mail", "correo electronico", "correo universitario",
			"email universitario", "correo estudiantil", "tu correo",
			"direccion de correo",
		},
		FieldProgram: {
			"carrera", "programa", "area", "programa de estudios",
			"carrera universitaria", "area de estudios", "especialidad",
			"unidad", "departamento", "que estudias", "tu carrera",
			"programa academico", "area academica",
		},
		FieldPhone: {
			"telefono", "celular", "movil", "phone", "numero de telefono",
			"numero de celular", "telefono movil", "telefono celular",
			"numero de contacto", "telefono de contacto", "tu telefono",
		},
	}
}

// LoadAliasFile reads a JSON alias table keyed by canonical field name. The
// labels are folded on load so operators may write them with accents.
func LoadAliasFile(path string) (AliasTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias file: %w", err)
	}
	var parsed map[string][]string
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse alias file: %w", err)
	}
	table := make(AliasTable, len(parsed))
	for key, labels := range parsed {
		field := Field(key)
		if !isCanonical(field) {
			return nil, fmt.Errorf("unknown canonical field %q in alias file", key)
		}
		folded := make([]string, 0, len(labels))
		for _, label := range labels {
			folded = append(folded, normalize.Fold(label))
		}
		table[field] = folded
	}
	for _, field := range CanonicalFields {
		if len(table[field]) == 0 {
			return nil, fmt.Errorf("alias file has no labels for %q", field)
		}
	}
	return table, nil
}

func isCanonical(f Field) bool {
	for _, c := range CanonicalFields {
		if c == f {
			return true
		}
	}
	return false
}
