package patient

import (
	"regexp"
	"strings"
	"time"

	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
)

var (
	dniSeparators   = regexp.MustCompile(`[-\s]`)
	phoneSeparators = regexp.MustCompile(`[-\s()]`)
	tenDigits       = regexp.MustCompile(`^\d{10}$`)
	mobilePhone     = regexp.MustCompile(`^09\d{8}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

var bloodTypes = map[string]bool{
	"A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "O+": true, "O-": true,
}

const maxAge = 150

func NormalizeDNI(v string) string   { return dniSeparators.ReplaceAllString(v, "") }
func NormalizePhone(v string) string { return phoneSeparators.ReplaceAllString(v, "") }

// ValidateDNI checks an Ecuadorian cédula: ten digits, a province code
// between 01 and 24, a third digit no greater than 6 and a modulo-10 check
// digit computed with alternating 2/1 weights.
func ValidateDNI(raw string) error {
	dni := NormalizeDNI(raw)
	if !tenDigits.MatchString(dni) {
		return apierr.Validation("dni", "must be exactly 10 digits")
	}
	province := int(dni[0]-'0')*10 + int(dni[1]-'0')
	if province < 1 || province > 24 {
		return apierr.Validation("dni", "first two digits must be a province code between 01 and 24")
	}
	if dni[2]-'0' > 6 {
		return apierr.Validation("dni", "third digit must be 6 or lower")
	}

	sum := 0
	for i := 0; i < 9; i++ {
		v := int(dni[i] - '0')
		if i%2 == 0 {
			v *= 2
			if v > 9 {
				v -= 9
			}
		}
		sum += v
	}
	check := (10 - sum%10) % 10
	if check != int(dni[9]-'0') {
		return apierr.Validation("dni", "check digit does not match")
	}
	return nil
}

func ValidatePhone(raw string) error {
	if !mobilePhone.MatchString(NormalizePhone(raw)) {
		return apierr.Validation("phone", "must start with 09 and have 10 digits")
	}
	return nil
}

func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return apierr.Validation("email", "invalid format")
	}
	return nil
}

func ValidateDateOfBirth(dob, now time.Time) error {
	if dob.IsZero() {
		return apierr.Validation("date_of_birth", "is required")
	}
	age := AgeAt(dob, now)
	if age < 0 || dob.After(now) {
		return apierr.Validation("date_of_birth", "cannot be in the future")
	}
	if age > maxAge {
		return apierr.Validation("date_of_birth", "age above 150 years")
	}
	return nil
}

// Validate normalizes p in place and checks every field.
func Validate(p *Patient, now time.Time) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.FirstName == "" || p.LastName == "" {
		return apierr.Validation("name", "first_name and last_name are required")
	}

	if err := ValidateDNI(p.DNI); err != nil {
		return err
	}
	p.DNI = NormalizeDNI(p.DNI)

	switch p.Gender {
	case GenderMale, GenderFemale, GenderOther:
	default:
		return apierr.Validation("gender", "must be M, F or O")
	}

	if err := ValidateDateOfBirth(p.DateOfBirth, now); err != nil {
		return err
	}

	if p.Phone != nil && *p.Phone != "" {
		if err := ValidatePhone(*p.Phone); err != nil {
			return err
		}
		phone := NormalizePhone(*p.Phone)
		p.Phone = &phone
	}
	if p.Email != nil && *p.Email != "" {
		if err := ValidateEmail(*p.Email); err != nil {
			return err
		}
	}
	if p.BloodType != nil && *p.BloodType != "" {
		bt := strings.ToUpper(strings.TrimSpace(*p.BloodType))
		if !bloodTypes[bt] {
			return apierr.Validation("blood_type", "must be one of A+, A-, B+, B-, AB+, AB-, O+, O-")
		}
		p.BloodType = &bt
	}
	return nil
}
