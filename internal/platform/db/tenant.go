package db

import (
	"context"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	// ClinicIDKey carries the resolved clinic (tenant) id through a request.
	ClinicIDKey contextKey = "clinic_id"
	// DBTxKey carries an open transaction; repositories route queries
	// through it when present so multi-table writes commit atomically.
	DBTxKey contextKey = "db_tx"
)

// ClinicMiddleware resolves the clinic id for each request and stores it in
// the request context. All patient/invoice/payment tables share one physical
// store, so every downstream query must scope by this id; the single
// exception (lookup by globally-unique Stripe customer reference)
// re-validates the matched row against it.
func ClinicMiddleware(defaultClinic int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			clinicID, err := extractClinicID(c, defaultClinic)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic identifier")
			}

			ctx := WithClinic(c.Request().Context(), clinicID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("clinic_id", clinicID)

			return next(c)
		}
	}
}

func extractClinicID(c echo.Context, defaultClinic int64) (int64, error) {
	raw := c.Request().Header.Get("X-Clinic-ID")
	if raw == "" {
		raw = c.QueryParam("clinic_id")
	}
	if raw == "" {
		return defaultClinic, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// WithClinic returns a context carrying the clinic id.
func WithClinic(ctx context.Context, clinicID int64) context.Context {
	return context.WithValue(ctx, ClinicIDKey, clinicID)
}

// ClinicFromContext retrieves the clinic id from context (0 if absent).
func ClinicFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(ClinicIDKey).(int64)
	return id
}

// ContextWithTx returns a context carrying an open transaction.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// TxFromContext retrieves the transaction from context, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on pool, runs fn with a context that routes
// repository queries through the transaction, and commits. Any error from fn
// rolls the whole transaction back, so a partial multi-table write is never
// observable.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ContextWithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
