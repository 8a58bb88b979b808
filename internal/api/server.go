package api

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"
	"github.com/safar/flower-store/internal/auth"
	"github.com/safar/flower-store/internal/events"
	"github.com/safar/flower-store/internal/payment"
	"github.com/shopspring/decimal"
)

// PaymentGateway is what the order handlers need from the payment client.
type PaymentGateway interface {
	CreatePaymentURL(ctx context.Context, orderID, appUser string, amount decimal.Decimal) (string, error)
	VerifyCallback(data, mac string) error
	ParseCallback(data string) (*payment.CallbackData, error)
}

type Server struct {
	db        *sql.DB
	jwt       *auth.JWTService
	gateway   PaymentGateway
	publisher *events.Publisher
	logger    zerolog.Logger
}

func NewServer(db *sql.DB, jwtService *auth.JWTService, gateway PaymentGateway, publisher *events.Publisher, logger zerolog.Logger) *Server {
	return &Server{
		db:        db,
		jwt:       jwtService,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
	}
}
