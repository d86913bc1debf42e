package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/marioluccio/sobreando/internal/core/domain"
	"github.com/marioluccio/sobreando/internal/core/port"
)

var userColumns = []string{
	"id",
	"email",
	"username",
	"first_name",
	"last_name",
	"phone",
	"avatar",
	"password_hash",
	"is_verified",
	"is_2fa_enabled",
	"is_active",
	"company_name",
	"subscription_plan",
	"subscription_expires_at",
	"created_at",
	"updated_at",
	"last_login",
	"last_login_ip",
}

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository wires a PostgreSQL-backed user repository.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	if tx == nil {
		return r
	}
	return &UserRepository{exec: tx, builder: r.builder}
}

// Create inserts a new user row.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	plan := user.SubscriptionPlan
	if plan == "" {
		plan = domain.PlanFree
	}

	stmt, args, err := r.builder.Insert(usersTable).
		Columns(
			"id",
			"email",
			"username",
			"first_name",
			"last_name",
			"phone",
			"password_hash",
			"is_verified",
			"is_2fa_enabled",
			"is_active",
			"company_name",
			"subscription_plan",
			"created_at",
			"updated_at",
		).
		Values(
			user.ID,
			user.Email,
			user.Username,
			user.FirstName,
			user.LastName,
			nullableString(user.Phone),
			user.PasswordHash,
			user.IsVerified,
			user.Is2FAEnabled,
			user.IsActive,
			nullableString(user.CompanyName),
			string(plan),
			user.CreatedAt,
			user.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return mapWriteError("insert user", err)
	}
	return nil
}

// GetByID retrieves a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	stmt, args, err := r.builder.Select(userColumns...).
		From(usersTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}
	return r.scanOne(ctx, "select user by id", stmt, args)
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	stmt, args, err := r.builder.Select(userColumns...).
		From(usersTable).
		Where(squirrel.Expr("lower(email) = ?", strings.ToLower(strings.TrimSpace(email)))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user by email sql: %w", err)
	}
	return r.scanOne(ctx, "select user by email", stmt, args)
}

// ExistsByEmail reports whether any account already holds the email, ignoring case.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "email", email)
}

// ExistsByUsername reports whether any account already holds the username, ignoring case.
func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "username", username)
}

func (r *UserRepository) exists(ctx context.Context, column, value string) (bool, error) {
	inner := r.builder.Select("1").
		From(usersTable).
		Where(squirrel.Expr("lower("+column+") = ?", strings.ToLower(strings.TrimSpace(value))))

	stmt, args, err := r.builder.Select().
		Column(squirrel.Expr("EXISTS (?)", inner)).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists %s sql: %w", column, err)
	}

	var found bool
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("check %s exists: %w", column, err)
	}
	return found, nil
}

// Update applies the non-nil fields of update to the user row.
func (r *UserRepository) Update(ctx context.Context, id string, update port.UserUpdate, at time.Time) error {
	query := r.builder.Update(usersTable).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id})

	if update.FirstName != nil {
		query = query.Set("first_name", *update.FirstName)
	}
	if update.LastName != nil {
		query = query.Set("last_name", *update.LastName)
	}
	if update.Phone != nil {
		query = query.Set("phone", nullableString(update.Phone))
	}
	if update.CompanyName != nil {
		query = query.Set("company_name", nullableString(update.CompanyName))
	}

	return r.execUpdate(ctx, "update user", query)
}

// SetVerified flips the email verification flag.
func (r *UserRepository) SetVerified(ctx context.Context, id string, verified bool, at time.Time) error {
	return r.execUpdate(ctx, "set user verified", r.builder.Update(usersTable).
		Set("is_verified", verified).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}))
}

// SetTwoFactor flips the two-factor flag.
func (r *UserRepository) SetTwoFactor(ctx context.Context, id string, enabled bool, at time.Time) error {
	return r.execUpdate(ctx, "set user two factor", r.builder.Update(usersTable).
		Set("is_2fa_enabled", enabled).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}))
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id string, passwordHash string, at time.Time) error {
	return r.execUpdate(ctx, "update user password", r.builder.Update(usersTable).
		Set("password_hash", passwordHash).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}))
}

// UpdateLastLogin records the time and address of the latest successful login.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ip string, at time.Time) error {
	var ipValue any
	if ip != "" {
		ipValue = ip
	}
	return r.execUpdate(ctx, "update user last login", r.builder.Update(usersTable).
		Set("last_login", at).
		Set("last_login_ip", ipValue).
		Where(squirrel.Eq{"id": id}))
}

// UpdateAvatar stores the public URL of the uploaded avatar.
func (r *UserRepository) UpdateAvatar(ctx context.Context, id string, avatar string, at time.Time) error {
	return r.execUpdate(ctx, "update user avatar", r.builder.Update(usersTable).
		Set("avatar", avatar).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}))
}

// SoftDelete deactivates the account and frees its email and username.
func (r *UserRepository) SoftDelete(ctx context.Context, id string, email string, username string, at time.Time) error {
	return r.execUpdate(ctx, "soft delete user", r.builder.Update(usersTable).
		Set("is_active", false).
		Set("email", email).
		Set("username", username).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}))
}

func (r *UserRepository) execUpdate(ctx context.Context, op string, query squirrel.UpdateBuilder) error {
	stmt, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build %s sql: %w", op, err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return mapWriteError(op, err)
	}
	return requireAffected(tag)
}

func (r *UserRepository) scanOne(ctx context.Context, op, stmt string, args []any) (*domain.User, error) {
	var (
		user        domain.User
		phone       sql.NullString
		avatar      sql.NullString
		companyName sql.NullString
		plan        string
		expiresAt   sql.NullTime
		lastLogin   sql.NullTime
		lastLoginIP sql.NullString
	)

	err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&phone,
		&avatar,
		&user.PasswordHash,
		&user.IsVerified,
		&user.Is2FAEnabled,
		&user.IsActive,
		&companyName,
		&plan,
		&expiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
		&lastLogin,
		&lastLoginIP,
	)
	if err != nil {
		return nil, mapReadError(op, err)
	}

	user.Phone = stringPtr(phone)
	user.Avatar = stringPtr(avatar)
	user.CompanyName = stringPtr(companyName)
	user.SubscriptionPlan = domain.SubscriptionPlan(plan)
	user.SubscriptionExpiresAt = timePtr(expiresAt)
	user.LastLogin = timePtr(lastLogin)
	user.LastLoginIP = stringPtr(lastLoginIP)

	return &user, nil
}
