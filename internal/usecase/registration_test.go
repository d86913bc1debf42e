package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/marioluccio/sobreando/internal/core/domain"
)

func validRegisterInput() RegisterInput {
	return RegisterInput{
		Email:           "a@x.com",
		Username:        "a",
		FirstName:       "Ana",
		LastName:        "Souza",
		Password:        strongPassword,
		PasswordConfirm: strongPassword,
	}
}

func TestRegisterCreatesUnverifiedUserWithProfile(t *testing.T) {
	env := newTestEnv(t)

	in := validRegisterInput()
	in.Email = "  A@X.com "
	in.Username = "Ana.S"
	res, err := env.registration.Register(context.Background(), in)
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	user := res.User
	if user.Email != "a@x.com" || user.Username != "ana.s" {
		t.Fatalf("expected lowercased identity, got %s / %s", user.Email, user.Username)
	}
	if user.IsVerified || !user.IsActive || user.SubscriptionPlan != domain.PlanFree {
		t.Fatalf("unexpected initial state %+v", user)
	}
	if user.PasswordHash != "" {
		t.Fatalf("returned user must be sanitized")
	}

	stored := env.db.users[user.ID]
	if stored == nil || !strings.HasPrefix(stored.PasswordHash, "argon2id$") {
		t.Fatalf("expected argon2 hash to be stored, got %+v", stored)
	}
	profile := env.db.profiles[user.ID]
	if profile == nil || profile.Language != domain.DefaultLanguage || profile.Visibility != domain.VisibilityPublic {
		t.Fatalf("expected default profile, got %+v", profile)
	}

	if n := len(env.tokens.unused(user.ID, domain.PurposeEmailVerification)); n != 1 {
		t.Fatalf("expected one verification token, got %d", n)
	}
	if !res.Verification.Delivered || env.mailer.sent[0].Subject != "Verificação de Email - Sombreando" {
		t.Fatalf("expected verification mail, got %+v", env.mailer.sent)
	}
	if len(env.events.registered) != 1 || env.events.registered[0].UserID != user.ID {
		t.Fatalf("expected registered event, got %+v", env.events.registered)
	}
}

func TestRegisterRejectsDuplicatesIgnoringCase(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "a@x.com", "a")

	in := validRegisterInput()
	in.Email = "A@X.COM"
	in.Username = "A"
	_, err := env.registration.Register(context.Background(), in)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Fields["email"][0] != msgEmailTaken || verr.Fields["username"][0] != msgUsernameTaken {
		t.Fatalf("unexpected field errors %v", verr.Fields)
	}
	if len(env.db.users) != 1 {
		t.Fatalf("duplicate must not be stored")
	}
}

func TestRegisterValidatesFields(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name   string
		mutate func(*RegisterInput)
		field  string
	}{
		{"missing email", func(in *RegisterInput) { in.Email = " " }, "email"},
		{"invalid email", func(in *RegisterInput) { in.Email = "not-an-email" }, "email"},
		{"blocked domain", func(in *RegisterInput) { in.Email = "spam@mailinator.com" }, "email"},
		{"invalid username", func(in *RegisterInput) { in.Username = "ana souza" }, "username"},
		{"missing first name", func(in *RegisterInput) { in.FirstName = "" }, "first_name"},
		{"missing last name", func(in *RegisterInput) { in.LastName = "" }, "last_name"},
		{"mismatch", func(in *RegisterInput) { in.PasswordConfirm = strongPassword + "x" }, "password_confirm"},
		{"weak password", func(in *RegisterInput) { in.Password, in.PasswordConfirm = "short", "short" }, "password"},
		{"common pattern", func(in *RegisterInput) { in.Password, in.PasswordConfirm = "Password!12345", "Password!12345" }, "password"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validRegisterInput()
			tc.mutate(&in)
			_, err := env.registration.Register(context.Background(), in)

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(verr.Fields[tc.field]) == 0 {
				t.Fatalf("expected error on %s, got %v", tc.field, verr.Fields)
			}
		})
	}
	if len(env.db.users) != 0 {
		t.Fatalf("invalid registrations must not persist users")
	}
}

func TestRegisterRollsBackOnTransactionFailure(t *testing.T) {
	env := newTestEnv(t)
	env.tx.err = errors.New("connection reset")

	_, err := env.registration.Register(context.Background(), validRegisterInput())
	if err == nil || !strings.Contains(err.Error(), "create account") {
		t.Fatalf("expected wrapped tx error, got %v", err)
	}
	if len(env.mailer.sent) != 0 || len(env.events.registered) != 0 {
		t.Fatalf("nothing must be sent when the account was not created")
	}
}

func TestRegisterEventFailureIsBestEffort(t *testing.T) {
	env := newTestEnv(t)
	env.events.err = errors.New("broker unavailable")

	if _, err := env.registration.Register(context.Background(), validRegisterInput()); err != nil {
		t.Fatalf("event failure must not fail registration: %v", err)
	}
	if env.logs.FilterMessage("failed to publish user registered event").Len() != 1 {
		t.Fatalf("expected a warning log")
	}
}

func TestSuggestUsernames(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "one@x.com", "maria1")
	env.register(t, "two@x.com", "maria3")

	suggestions, err := env.registration.SuggestUsernames(context.Background(), " Maria ", 5)
	if err != nil {
		t.Fatalf("SuggestUsernames returned error: %v", err)
	}
	if len(suggestions) != 5 {
		t.Fatalf("expected 5 suggestions, got %v", suggestions)
	}
	if suggestions[0] != "maria2" || suggestions[1] != "maria4" || suggestions[2] != "maria5" {
		t.Fatalf("expected numbered suggestions first, got %v", suggestions)
	}
	for _, s := range suggestions[3:] {
		if !strings.HasPrefix(s, "maria_") || len(s) != len("maria_000") {
			t.Fatalf("expected random suffix suggestion, got %s", s)
		}
	}
	for _, s := range suggestions {
		if s == "maria1" || s == "maria3" {
			t.Fatalf("taken username suggested: %s", s)
		}
	}
}

func TestSuggestUsernamesRequiresBase(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.registration.SuggestUsernames(context.Background(), "  ", 5)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
