package domain

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Address struct {
	PostalCode string `json:"postalCode,omitempty" validate:"omitempty,cep"`
	Street     string `json:"street,omitempty" validate:"max=200"`
	Number     string `json:"number,omitempty" validate:"max=20"`
	District   string `json:"district,omitempty" validate:"max=100"`
	City       string `json:"city,omitempty" validate:"max=100"`
	State      string `json:"state,omitempty" validate:"omitempty,len=2,alpha"`
}

type Guest struct {
	Name    string   `json:"name" validate:"required,min=2,max=100"`
	Surname string   `json:"surname" validate:"required,min=2,max=100"`
	Email   string   `json:"email" validate:"required,email"`
	TaxID   string   `json:"taxId" validate:"required,cpf"`
	Phone   string   `json:"phone" validate:"required,phone_br"`
	Notes   string   `json:"notes,omitempty" validate:"max=1000"`
	Address *Address `json:"address,omitempty" validate:"omitempty"`
}

// Validate reports every invalid field, keyed by JSON name.
func (g Guest) Validate() error {
	return validateStruct(g, "guest")
}

type PaymentMethod string

const (
	PaymentPix    PaymentMethod = "pix"
	PaymentCard   PaymentMethod = "card"
	PaymentBoleto PaymentMethod = "boleto"
)

const MaxInstallments = 12

func (m PaymentMethod) Valid() bool {
	return m == PaymentPix || m == PaymentCard || m == PaymentBoleto
}

// ClampInstallments allows splitting only card payments.
func ClampInstallments(m PaymentMethod, n int) int {
	if m != PaymentCard {
		return 1
	}
	return clamp(n, 1, MaxInstallments)
}

var phoneRe = regexp.MustCompile(`^\(\d{2}\)\s\d{4,5}-\d{4}$|^\d{10,11}$`)

func ValidPhone(s string) bool { return phoneRe.MatchString(strings.TrimSpace(s)) }

func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidTaxID checks a CPF number with its two check digits. Punctuation is ignored.
func ValidTaxID(s string) bool {
	d := Digits(s)
	if len(d) != 11 {
		return false
	}
	if strings.Count(d, d[:1]) == 11 {
		return false
	}
	return cpfDigit(d, 9) == int(d[9]-'0') && cpfDigit(d, 10) == int(d[10]-'0')
}

func cpfDigit(d string, n int) int {
	sum := 0
	for i := 0; i < n; i++ {
		sum += int(d[i]-'0') * (n + 1 - i)
	}
	r := sum * 10 % 11
	if r == 10 {
		r = 0
	}
	return r
}

func ValidPostalCode(s string) bool { return len(Digits(s)) == 8 && len(s) <= 9 }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("cpf", func(fl validator.FieldLevel) bool { return ValidTaxID(fl.Field().String()) })
	_ = v.RegisterValidation("phone_br", func(fl validator.FieldLevel) bool { return ValidPhone(fl.Field().String()) })
	_ = v.RegisterValidation("cep", func(fl validator.FieldLevel) bool { return ValidPostalCode(fl.Field().String()) })
	return v
}

func validateStruct(s any, prefix string) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	ie := NewInputError()
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		if prefix != "" {
			ns = prefix + "." + ns
		}
		ie.Add(ns, messageFor(fe))
	}
	return ie
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " characters"
	case "max":
		return "must have at most " + fe.Param() + " characters"
	case "len":
		return "must have exactly " + fe.Param() + " characters"
	case "email":
		return "must be a valid e-mail address"
	case "cpf":
		return "must be a valid CPF"
	case "phone_br":
		return "must look like (11) 91234-5678"
	case "cep":
		return "must have 8 digits"
	default:
		return "is invalid"
	}
}
