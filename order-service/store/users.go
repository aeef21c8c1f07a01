package store

import (
	"context"
	"fmt"

	"github.com/sdbondi/bn-api/order-service/models"

	"github.com/google/uuid"
)

const userColumns = "id, first_name, last_name, email, phone, is_stub, created_at"

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.IsStub, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *pgTx) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(t.tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

func (t *pgTx) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(t.tx.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(email) = lower($1)", email))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

func (t *pgTx) FindUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	u, err := scanUser(t.tx.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE phone = $1 ORDER BY created_at LIMIT 1", phone))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

func (t *pgTx) CreateStubUser(ctx context.Context, user *models.User) error {
	user.ID = uuid.New()
	user.IsStub = true
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO users (id, first_name, last_name, email, phone, is_stub)
		VALUES ($1, $2, $3, $4, $5, TRUE) RETURNING created_at`,
		user.ID, user.FirstName, user.LastName, user.Email, user.Phone).Scan(&user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (t *pgTx) HasScope(ctx context.Context, userID, organizationID uuid.UUID, scope string) (bool, error) {
	var ok bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_scopes WHERE user_id = $1 AND organization_id = $2 AND scope = $3)`,
		userID, organizationID, scope).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check scope: %w", err)
	}
	return ok, nil
}

const paymentMethodColumns = "id, user_id, name, provider, is_default, provider_data, created_at, updated_at"

func scanPaymentMethod(row scanner) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	var data []byte
	if err := row.Scan(&pm.ID, &pm.UserID, &pm.Name, &pm.Provider, &pm.IsDefault, &data, &pm.CreatedAt,
		&pm.UpdatedAt); err != nil {
		return nil, err
	}
	pm.ProviderData = data
	return &pm, nil
}

func (t *pgTx) FindPaymentMethod(ctx context.Context, userID uuid.UUID, name string) (*models.PaymentMethod, error) {
	pm, err := scanPaymentMethod(t.tx.QueryRowContext(ctx,
		"SELECT "+paymentMethodColumns+" FROM payment_methods WHERE user_id = $1 AND name = $2", userID, name))
	if err != nil {
		return nil, notFound(err, "payment method")
	}
	return pm, nil
}

func (t *pgTx) DefaultPaymentMethod(ctx context.Context, userID uuid.UUID) (*models.PaymentMethod, error) {
	pm, err := scanPaymentMethod(t.tx.QueryRowContext(ctx,
		"SELECT "+paymentMethodColumns+" FROM payment_methods WHERE user_id = $1 AND is_default", userID))
	if err != nil {
		return nil, notFound(err, "default payment method")
	}
	return pm, nil
}

func (t *pgTx) SavePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	if method.ID == uuid.Nil {
		method.ID = uuid.New()
		err := t.tx.QueryRowContext(ctx,
			`INSERT INTO payment_methods (id, user_id, name, provider, is_default, provider_data)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
			method.ID, method.UserID, method.Name, method.Provider, method.IsDefault,
			nullJSON(method.ProviderData)).Scan(&method.CreatedAt, &method.UpdatedAt)
		if err != nil {
			method.ID = uuid.Nil
			return fmt.Errorf("failed to create payment method: %w", err)
		}
	} else {
		_, err := t.tx.ExecContext(ctx,
			`UPDATE payment_methods SET provider = $2, is_default = $3, provider_data = $4, updated_at = now()
			WHERE id = $1`,
			method.ID, method.Provider, method.IsDefault, nullJSON(method.ProviderData))
		if err != nil {
			return fmt.Errorf("failed to update payment method: %w", err)
		}
	}

	if method.IsDefault {
		_, err := t.tx.ExecContext(ctx,
			"UPDATE payment_methods SET is_default = FALSE WHERE user_id = $1 AND id <> $2",
			method.UserID, method.ID)
		if err != nil {
			return fmt.Errorf("failed to clear default payment method: %w", err)
		}
	}
	return nil
}
