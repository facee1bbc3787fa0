// Package validation checks request input before it reaches storage or Stripe.
//
// Struct fields are tagged with the custom tags registered here:
//
//	type input struct {
//		Email  string `json:"email"  validate:"promptr_email"`
//		Action string `json:"action" validate:"subscription_action"`
//	}
//
// Each tag has a matching function (EmailErrors, TokenErrors, ...) that lists
// every problem with a value, so a failed struct produces itemised details
// like "Email too short (min 5 characters)" rather than a bare tag name.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/promptr-access/internal/apperror"
)

// Actions accepted by the subscription manager.
const (
	ActionGetSubscriptionStatus = "get_subscription_status"
	ActionCreateCustomerPortal  = "create_customer_portal"
	ActionCancelSubscription    = "cancel_subscription"
	ActionDeleteAccount         = "delete_account"
)

var actions = map[string]bool{
	ActionGetSubscriptionStatus: true,
	ActionCreateCustomerPortal:  true,
	ActionCancelSubscription:    true,
	ActionDeleteAccount:         true,
}

var (
	emailPattern    = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$")
	tokenPattern    = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	tokenCharset    = regexp.MustCompile(`(?i)^[a-f0-9-]+$`)
	customerPattern = regexp.MustCompile(`^cus_[a-zA-Z0-9_]+$`)
)

// checks maps each custom tag to the function that explains its failures.
var checks = map[string]func(string) []string{
	"promptr_email":       EmailErrors,
	"access_token":        TokenErrors,
	"subscription_action": ActionErrors,
	"stripe_customer":     CustomerIDErrors,
}

var (
	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		for tag, check := range checks {
			if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
				return len(check(fl.Field().String())) == 0
			}); err != nil {
				panic(fmt.Sprintf("validation: registering %s: %v", tag, err))
			}
		}
		instance = v
	})
	return instance
}

// Struct validates s and returns an *apperror.AppError (ErrValidation) listing
// every problem, or nil when s is valid.
func Struct(s any) error {
	err := get().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validation: %w", err)
	}

	var details []string
	for _, fe := range fieldErrs {
		if check, ok := checks[fe.Tag()]; ok {
			details = append(details, check(fmt.Sprint(fe.Value()))...)
			continue
		}
		details = append(details, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return apperror.Invalid(dedupe(details))
}

// EmailErrors lists what is wrong with an email address; nil means valid.
func EmailErrors(email string) []string {
	if email == "" {
		return []string{"Email must be a string"}
	}

	var errs []string
	if len(email) > 254 {
		errs = append(errs, "Email too long (max 254 characters)")
	}
	if len(email) < 5 {
		errs = append(errs, "Email too short (min 5 characters)")
	}
	if !emailPattern.MatchString(email) {
		errs = append(errs, "Invalid email format")
	}
	if strings.Contains(email, "..") || strings.HasPrefix(email, ".") || strings.HasSuffix(email, ".") {
		errs = append(errs, "Invalid email format")
	}
	return dedupe(errs)
}

// TokenErrors lists what is wrong with an access token; nil means valid.
func TokenErrors(token string) []string {
	if token == "" {
		return []string{"Token must be a string"}
	}

	var errs []string
	if len(token) != 36 {
		errs = append(errs, "Invalid token format")
	}
	if !tokenPattern.MatchString(token) {
		errs = append(errs, "Invalid token format")
	}
	if !tokenCharset.MatchString(token) {
		errs = append(errs, "Token contains invalid characters")
	}
	return dedupe(errs)
}

func ActionErrors(action string) []string {
	if action == "" {
		return []string{"Action must be a string"}
	}

	var errs []string
	if len(action) > 50 {
		errs = append(errs, "Action too long")
	}
	if !actions[action] {
		errs = append(errs, "Invalid action type")
	}
	return errs
}

func CustomerIDErrors(id string) []string {
	if id == "" {
		return []string{"Customer ID must be a string"}
	}

	var errs []string
	if len(id) > 100 {
		errs = append(errs, "Customer ID too long")
	}
	if !strings.HasPrefix(id, "cus_") {
		errs = append(errs, "Invalid Stripe customer ID format")
	}
	if !customerPattern.MatchString(id) {
		errs = append(errs, "Customer ID contains invalid characters")
	}
	return errs
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
