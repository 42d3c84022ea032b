package validate

import (
	"errors"
	"strings"

	playground "github.com/go-playground/validator/v10"

	"github.com/vinculacion/registro-api/internal/normalize"
)

// ErrorKind tags recorded on registrations. Rows carrying tags are persisted
// anyway; the tags drive reporting and the administrative correction path.
const (
	ErrNameMissing           = "name.missing"
	ErrNameSingleToken       = "name.single_token"
	ErrNIDMalformed          = "nid.malformed"
	ErrNIDBadCheck           = "nid.bad_check"
	ErrEmailMalformed        = "email.malformed"
	ErrEmailNonInstitutional = "email.non_institutional"
	ErrProgramMissing        = "program.missing"
	ErrPhoneMalformed        = "phone.malformed"
	ErrPersistFailed         = "persist.failed"
)

// RowInput carries the raw values extracted for the five canonical fields.
type RowInput struct {
	FullName   string
	NationalID string
	Email      string
	Program    string
	Phone      string
}

// Row is the normalized result plus its (possibly empty) error tag set.
type Row struct {
	RawFullName    string
	NormalizedName string
	NationalID     string
	Email          string
	Program        string
	Phone          string
	Errors         []string
}

// Valid reports whether the row carries no error tags.
func (r Row) Valid() bool {
	return len(r.Errors) == 0
}

// HasError reports whether the row carries the given tag.
func (r Row) HasError(kind string) bool {
	for _, e := range r.Errors {
		if e == kind {
			return true
		}
	}
	return false
}

// Validator normalizes and tags rows. It never rejects a row and never
// returns an error; all findings land in Row.Errors.
type Validator struct {
	emailSuffixes []string
	structural    *playground.Validate
}

// New builds a Validator accepting the configured institution email domain
// suffixes.
func New(emailSuffixes []string) *Validator {
	folded := make([]string, 0, len(emailSuffixes))
	for _, s := range emailSuffixes {
		if f := normalize.Fold(s); f != "" {
			folded = append(folded, f)
		}
	}
	return &Validator{emailSuffixes: folded, structural: playground.New()}
}

// Row validates and normalizes one mapped row. The optional fields
// (national_id, institutional_email, phone) produce no tag when blank;
// full_name and program_or_area are required.
func (v *Validator) Row(in RowInput) Row {
	row := Row{RawFullName: strings.TrimSpace(in.FullName)}

	row.NormalizedName = normalize.Name(in.FullName)
	switch tokens := strings.Fields(row.NormalizedName); {
	case len(tokens) == 0:
		row.Errors = append(row.Errors, ErrNameMissing)
	case len(tokens) == 1:
		row.Errors = append(row.Errors, ErrNameSingleToken)
	}

	if raw := strings.TrimSpace(in.NationalID); raw != "" {
		id, err := normalize.ParseNationalID(raw)
		var cdErr *normalize.CheckDigitError
		switch {
		case err == nil:
			row.NationalID = id.String()
		case errors.As(err, &cdErr):
			row.Errors = append(row.Errors, ErrNIDBadCheck)
		default:
			row.Errors = append(row.Errors, ErrNIDMalformed)
		}
	}

	if raw := strings.TrimSpace(in.Email); raw != "" {
		email, err := normalize.Email(raw)
		if err != nil || v.structural.Var(email, "email") != nil {
			row.Errors = append(row.Errors, ErrEmailMalformed)
		} else {
			row.Email = email
			if !v.institutional(email) {
				row.Errors = append(row.Errors, ErrEmailNonInstitutional)
			}
		}
	}

	row.Program = strings.TrimSpace(in.Program)
	if row.Program == "" {
		row.Errors = append(row.Errors, ErrProgramMissing)
	}

	if raw := strings.TrimSpace(in.Phone); raw != "" {
		phone, err := normalize.Phone(raw)
		if err != nil {
			row.Errors = append(row.Errors, ErrPhoneMalformed)
		} else {
			row.Phone = phone
		}
	}

	return row
}

func (v *Validator) institutional(email string) bool {
	if len(v.emailSuffixes) == 0 {
		return true
	}
	domain := email[strings.LastIndex(email, "@")+1:]
	for _, suffix := range v.emailSuffixes {
		if domain == suffix || strings.HasSuffix(domain, "."+suffix) {
			return true
		}
	}
	return false
}
