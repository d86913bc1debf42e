package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/marioluccio/sobreando/internal/core/domain"
	"github.com/marioluccio/sobreando/internal/core/port"
)

// ProfileRepository implements port.ProfileRepository using PostgreSQL.
type ProfileRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewProfileRepository wires a PostgreSQL-backed profile repository.
func NewProfileRepository(exec pgExecutor) *ProfileRepository {
	return &ProfileRepository{exec: exec, builder: newBuilder()}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *ProfileRepository) WithTx(tx pgx.Tx) *ProfileRepository {
	if tx == nil {
		return r
	}
	return &ProfileRepository{exec: tx, builder: r.builder}
}

// Create inserts the profile row for a user.
func (r *ProfileRepository) Create(ctx context.Context, profile domain.UserProfile) error {
	stmt, args, err := r.builder.Insert(profilesTable).
		Columns(
			"user_id",
			"bio",
			"location",
			"website",
			"birth_date",
			"language",
			"timezone",
			"email_notifications",
			"push_notifications",
			"marketing_emails",
			"profile_visibility",
			"created_at",
			"updated_at",
		).
		Values(
			profile.UserID,
			profile.Bio,
			profile.Location,
			profile.Website,
			profile.BirthDate,
			profile.Language,
			profile.Timezone,
			profile.EmailNotifications,
			profile.PushNotifications,
			profile.MarketingEmails,
			string(profile.Visibility),
			profile.CreatedAt,
			profile.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert profile sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return mapWriteError("insert profile", err)
	}
	return nil
}

// GetByUserID loads the profile of a user.
func (r *ProfileRepository) GetByUserID(ctx context.Context, userID string) (*domain.UserProfile, error) {
	stmt, args, err := r.builder.Select(
		"user_id",
		"bio",
		"location",
		"website",
		"birth_date",
		"language",
		"timezone",
		"email_notifications",
		"push_notifications",
		"marketing_emails",
		"profile_visibility",
		"created_at",
		"updated_at",
	).
		From(profilesTable).
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select profile sql: %w", err)
	}

	var (
		profile    domain.UserProfile
		birthDate  sql.NullTime
		visibility string
	)
	err = r.exec.QueryRow(ctx, stmt, args...).Scan(
		&profile.UserID,
		&profile.Bio,
		&profile.Location,
		&profile.Website,
		&birthDate,
		&profile.Language,
		&profile.Timezone,
		&profile.EmailNotifications,
		&profile.PushNotifications,
		&profile.MarketingEmails,
		&visibility,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, mapReadError("select profile", err)
	}

	profile.BirthDate = timePtr(birthDate)
	profile.Visibility = domain.ProfileVisibility(visibility)
	return &profile, nil
}

// Update applies the non-nil fields of update to the profile row.
func (r *ProfileRepository) Update(ctx context.Context, userID string, update port.ProfileUpdate, at time.Time) error {
	query := r.builder.Update(profilesTable).
		Set("updated_at", at).
		Where(squirrel.Eq{"user_id": userID})

	if update.Bio != nil {
		query = query.Set("bio", *update.Bio)
	}
	if update.Location != nil {
		query = query.Set("location", *update.Location)
	}
	if update.Website != nil {
		query = query.Set("website", *update.Website)
	}
	if update.BirthDate != nil {
		query = query.Set("birth_date", *update.BirthDate)
	}
	if update.Language != nil {
		query = query.Set("language", *update.Language)
	}
	if update.Timezone != nil {
		query = query.Set("timezone", *update.Timezone)
	}
	if update.EmailNotifications != nil {
		query = query.Set("email_notifications", *update.EmailNotifications)
	}
	if update.PushNotifications != nil {
		query = query.Set("push_notifications", *update.PushNotifications)
	}
	if update.MarketingEmails != nil {
		query = query.Set("marketing_emails", *update.MarketingEmails)
	}
	if update.Visibility != nil {
		query = query.Set("profile_visibility", string(*update.Visibility))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build update profile sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return requireAffected(tag)
}
