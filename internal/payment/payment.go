// Package payment defines the charge capability used to settle raffle
// winners and a mocked gateway implementing it.
package payment

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"
)

// ErrDeclined is returned when the gateway refuses the charge. Any other
// error from Charge is a transport failure and may be retried.
var ErrDeclined = errors.New("payment declined")

// ChargeRequest identifies one settlement attempt.
type ChargeRequest struct {
	EntryID   uint64
	ProductID uint64
	UserID    uint64
	Token     string
}

// Gateway charges a raffle winner and returns a transaction code.
// It is called at most once per settlement attempt.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (string, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, req ChargeRequest) (string, error)

func (f GatewayFunc) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	return f(ctx, req)
}

// Mocked approves charges with a random transaction code, declining a
// configurable share of them and every request without a token.
type Mocked struct {
	declineRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMocked creates a mocked gateway declining declineRate of charges.
func NewMocked(declineRate float64) *Mocked {
	return &Mocked{
		declineRate: declineRate,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *Mocked) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Token == "" {
		return "", ErrDeclined
	}

	m.mu.Lock()
	roll := m.rnd.Float64()
	m.mu.Unlock()
	if roll < m.declineRate {
		logger.Infof("payment: mocked decline entry=%d product=%d", req.EntryID, req.ProductID)
		return "", ErrDeclined
	}

	code := uuid.NewString()
	logger.Infof("payment: mocked charge entry=%d product=%d code=%s", req.EntryID, req.ProductID, code)
	return code, nil
}
