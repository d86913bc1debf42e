package security

import (
	"fmt"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

const (
	DefaultMinPasswordLength = 12
	DefaultMinZxcvbnScore    = 2

	passwordSpecialChars = `!@#$%^&*(),.?":{}|<>`
)

var commonPasswordPatterns = []string{"123456", "password", "qwerty", "abc123"}

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string
	Message string
}

func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PasswordRule validates a password according to a specific policy rule.
type PasswordRule interface {
	Validate(password string) error
}

// PasswordRuleFunc adapts a function to be used as a PasswordRule.
type PasswordRuleFunc func(password string) error

func (f PasswordRuleFunc) Validate(password string) error {
	return f(password)
}

// PasswordValidator applies a sequence of password rules.
type PasswordValidator struct {
	rules []PasswordRule
}

func NewPasswordValidator(rules ...PasswordRule) *PasswordValidator {
	return &PasswordValidator{rules: append([]PasswordRule(nil), rules...)}
}

// Validate returns the first violation.
func (v *PasswordValidator) Validate(password string) error {
	for _, rule := range v.rules {
		if err := rule.Validate(password); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAll runs every rule and returns all violations in rule order.
func (v *PasswordValidator) ValidateAll(password string) []error {
	var errs []error
	for _, rule := range v.rules {
		if err := rule.Validate(password); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func MinLengthRule(min int) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if len([]rune(password)) < min {
			return &PasswordValidationError{
				Code:    "min_length",
				Message: fmt.Sprintf("password must be at least %d characters long", min),
			}
		}
		return nil
	})
}

func requireRune(code, message string, match func(rune) bool) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if strings.IndexFunc(password, match) >= 0 {
			return nil
		}
		return &PasswordValidationError{Code: code, Message: message}
	})
}

func RequireUppercaseRule() PasswordRule {
	return requireRune("uppercase", "password must include at least one uppercase letter", unicode.IsUpper)
}

func RequireLowercaseRule() PasswordRule {
	return requireRune("lowercase", "password must include at least one lowercase letter", unicode.IsLower)
}

func RequireDigitRule() PasswordRule {
	return requireRune("digit", "password must include at least one digit", unicode.IsDigit)
}

// RequireSpecialRule demands one of !@#$%^&*(),.?":{}|<>.
func RequireSpecialRule() PasswordRule {
	return requireRune("special", "password must include at least one special character ("+passwordSpecialChars+")", func(r rune) bool {
		return strings.ContainsRune(passwordSpecialChars, r)
	})
}

// ForbidPatternsRule rejects passwords containing any of patterns, ignoring case.
func ForbidPatternsRule(patterns ...string) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		lower := strings.ToLower(password)
		for _, pattern := range patterns {
			if strings.Contains(lower, pattern) {
				return &PasswordValidationError{
					Code:    "common_pattern",
					Message: "password contains a common pattern",
				}
			}
		}
		return nil
	})
}

// RequireDifferentFrom ensures the new password differs from the provided comparator.
func RequireDifferentFrom(comparator string) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if comparator != "" && password == comparator {
			return &PasswordValidationError{
				Code:    "different",
				Message: "new password must be different from current password",
			}
		}
		return nil
	})
}

// RequirePasswordStrengthRule enforces a minimum zxcvbn score. userInputs such as
// the email and username are penalised when they appear in the password.
func RequirePasswordStrengthRule(minScore int, userInputs ...string) PasswordRule {
	return PasswordRuleFunc(func(password string) error {
		if minScore <= 0 {
			return nil
		}
		if minScore > 4 {
			minScore = 4
		}

		if zxcvbn.PasswordStrength(password, userInputs).Score >= minScore {
			return nil
		}
		return &PasswordValidationError{
			Code:    "weak_password",
			Message: "password is too weak; choose a more complex value",
		}
	})
}

// PasswordPolicy builds the account password validator for a given user context.
type PasswordPolicy struct {
	minLength int
	minScore  int
}

// NewPasswordPolicy returns the account policy. Non-positive minLength falls back to the default.
func NewPasswordPolicy(minLength, minScore int) *PasswordPolicy {
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	return &PasswordPolicy{minLength: minLength, minScore: minScore}
}

// Validator returns the rule set with userInputs fed to the strength check.
func (p *PasswordPolicy) Validator(userInputs ...string) *PasswordValidator {
	inputs := make([]string, 0, len(userInputs))
	for _, in := range userInputs {
		if in = strings.TrimSpace(in); in != "" {
			inputs = append(inputs, in)
		}
	}

	return NewPasswordValidator(
		MinLengthRule(p.minLength),
		RequireUppercaseRule(),
		RequireLowercaseRule(),
		RequireDigitRule(),
		RequireSpecialRule(),
		ForbidPatternsRule(commonPasswordPatterns...),
		RequirePasswordStrengthRule(p.minScore, inputs...),
	)
}

// ValidateAll returns the message of every violated rule.
func (p *PasswordPolicy) ValidateAll(password string, userInputs ...string) []string {
	errs := p.Validator(userInputs...).ValidateAll(password)
	if len(errs) == 0 {
		return nil
	}
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}
	return messages
}
