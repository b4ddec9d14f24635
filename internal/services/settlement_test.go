package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"raffle/internal/models"
	"raffle/internal/payment"
)

func TestSettle(t *testing.T) {
	ctx := context.Background()

	t.Run("Test successful settlement", func(t *testing.T) {
		env := newTestEnv(t, approveAll())
		p := env.product(t, 1)
		e := env.entry(t, 1, p.ID)

		out, err := env.settler.Settle(ctx, e.ID)
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if !out.Settled() || out.Order == nil {
			t.Fatalf("Expected a settled outcome with an order, but got %+v", out)
		}
		if !out.Order.Amount.Equal(p.Price) {
			t.Errorf("Expected amount %s, but got %s", p.Price, out.Order.Amount)
		}
		if out.Order.Status != models.OrderCompleted || out.Order.PaymentStatus != models.PaymentSuccess {
			t.Errorf("Expected completed/success order, but got %s/%s", out.Order.Status, out.Order.PaymentStatus)
		}
		if q := env.quantity(t, p.ID); q != 0 {
			t.Errorf("Expected quantity 0, but got %d", q)
		}
		got, _ := env.store.GetEntry(e.ID)
		if got.Status != models.EntryWinner {
			t.Errorf("Expected entry to be winner, but got %s", got.Status)
		}
	})

	t.Run("Test declined payment changes nothing", func(t *testing.T) {
		gw := payment.GatewayFunc(func(context.Context, payment.ChargeRequest) (string, error) {
			return "", payment.ErrDeclined
		})
		env := newTestEnv(t, gw)
		p := env.product(t, 1)
		e := env.entry(t, 1, p.ID)

		out, err := env.settler.Settle(ctx, e.ID)
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if out.Status != StatusFailed || out.Reason != ReasonPaymentDeclined {
			t.Fatalf("Expected FAILED/PaymentDeclined, but got %s/%s", out.Status, out.Reason)
		}
		if q := env.quantity(t, p.ID); q != 1 {
			t.Errorf("Expected quantity to stay 1, but got %d", q)
		}
		if n := len(env.orders(t, p.ID)); n != 0 {
			t.Errorf("Expected no orders, but got %d", n)
		}
		got, _ := env.store.GetEntry(e.ID)
		if got.Status != models.EntryPending {
			t.Errorf("Expected entry to stay pending, but got %s", got.Status)
		}
		if res, _ := env.store.Reservations(); len(res) != 0 {
			t.Errorf("Expected no reservations left, but got %d", len(res))
		}
	})

	t.Run("Test out of stock", func(t *testing.T) {
		env := newTestEnv(t, approveAll())
		p := env.product(t, 0)
		e := env.entry(t, 1, p.ID)

		out, err := env.settler.Settle(ctx, e.ID)
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if out.Reason != ReasonOutOfStock {
			t.Errorf("Expected OutOfStock, but got %s", out.Reason)
		}
		got, _ := env.store.GetEntry(e.ID)
		if got.Status != models.EntryPending {
			t.Errorf("Expected entry to stay pending, but got %s", got.Status)
		}
	})

	t.Run("Test missing entry", func(t *testing.T) {
		env := newTestEnv(t, approveAll())
		out, err := env.settler.Settle(ctx, 4242)
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if out.Reason != ReasonEntryNotFound {
			t.Errorf("Expected EntryNotFound, but got %s", out.Reason)
		}
	})

	t.Run("Test settling twice", func(t *testing.T) {
		env := newTestEnv(t, approveAll())
		p := env.product(t, 2)
		e := env.entry(t, 1, p.ID)

		if out, _ := env.settler.Settle(ctx, e.ID); !out.Settled() {
			t.Fatalf("Expected first settlement to succeed, but got %+v", out)
		}
		out, err := env.settler.Settle(ctx, e.ID)
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if out.Reason != ReasonInvalidStateTransition {
			t.Errorf("Expected InvalidStateTransition, but got %s", out.Reason)
		}
		if q := env.quantity(t, p.ID); q != 1 {
			t.Errorf("Expected quantity 1, but got %d", q)
		}
	})

	t.Run("Test gateway failure is transient", func(t *testing.T) {
		gw := payment.GatewayFunc(func(context.Context, payment.ChargeRequest) (string, error) {
			return "", errors.New("connection reset")
		})
		env := newTestEnv(t, gw)
		p := env.product(t, 1)
		e := env.entry(t, 1, p.ID)

		_, err := env.settler.Settle(ctx, e.ID)
		if !errors.Is(err, ErrTransient) {
			t.Fatalf("Expected a transient error, but got %v", err)
		}
		if q := env.quantity(t, p.ID); q != 1 {
			t.Errorf("Expected stock to be released, but got quantity %d", q)
		}
	})

	t.Run("Test entry cancelled during charge", func(t *testing.T) {
		var env *testEnv
		var target *models.RaffleEntry
		gw := payment.GatewayFunc(func(context.Context, payment.ChargeRequest) (string, error) {
			if _, err := env.store.DeletePending(target.UserID, target.ProductID); err != nil {
				return "", err
			}
			return uuid.NewString(), nil
		})
		env = newTestEnv(t, gw)
		p := env.product(t, 1)
		target = env.entry(t, 1, p.ID)

		out, err := env.settler.Settle(ctx, target.ID)
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if out.Reason != ReasonInvalidStateTransition {
			t.Errorf("Expected InvalidStateTransition, but got %s", out.Reason)
		}
		if q := env.quantity(t, p.ID); q != 1 {
			t.Errorf("Expected stock to be released, but got quantity %d", q)
		}
		if n := len(env.orders(t, p.ID)); n != 0 {
			t.Errorf("Expected no orders, but got %d", n)
		}
	})
}

func TestSettleSameEntryConcurrently(t *testing.T) {
	gw := payment.GatewayFunc(func(context.Context, payment.ChargeRequest) (string, error) {
		time.Sleep(5 * time.Millisecond)
		return uuid.NewString(), nil
	})
	env := newTestEnv(t, gw)
	p := env.product(t, 5)
	e := env.entry(t, 1, p.ID)

	const workers = 10
	outcomes := make([]Outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := env.settler.Settle(context.Background(), e.ID)
			if err != nil {
				t.Errorf("Expected no error, but got %v", err)
			}
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	settled := 0
	for _, out := range outcomes {
		if out.Settled() {
			settled++
			continue
		}
		if out.Reason != ReasonSettlementInProgress && out.Reason != ReasonInvalidStateTransition {
			t.Errorf("Unexpected failure reason %s", out.Reason)
		}
	}
	if settled != 1 {
		t.Errorf("Expected exactly 1 settlement, but got %d", settled)
	}
	if n := len(env.orders(t, p.ID)); n != 1 {
		t.Errorf("Expected exactly 1 order, but got %d", n)
	}
	if q := env.quantity(t, p.ID); q != 4 {
		t.Errorf("Expected quantity 4, but got %d", q)
	}
}

func TestSettleSlowChargeKeepsReservation(t *testing.T) {
	const (
		chargeTimeout  = 30 * time.Millisecond
		reservationTTL = 10 * chargeTimeout
	)
	var env *testEnv
	swept := -1
	gw := payment.GatewayFunc(func(ctx context.Context, _ payment.ChargeRequest) (string, error) {
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			return uuid.NewString(), nil
		}
		// A scheduler tick landing right now must not take the unit away.
		n, err := env.store.ReleaseStaleReservations(reservationTTL)
		if err != nil {
			return "", err
		}
		swept = n
		return "", ctx.Err()
	})
	env = newTestEnv(t, gw)
	settler := NewSettlementProcessor(env.store, gw, env.catalog, chargeTimeout)
	p := env.product(t, 1)
	e := env.entry(t, 1, p.ID)

	started := time.Now()
	out, err := settler.Settle(context.Background(), e.ID)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("Expected a transient error, but got %v", err)
	}
	if out.Reason != ReasonTransient {
		t.Errorf("Expected TransientFailure, but got %s", out.Reason)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Errorf("Expected the charge to be cut off, but it ran %s", elapsed)
	}
	if swept != 0 {
		t.Errorf("Expected the sweep to leave the reservation alone, but it released %d", swept)
	}
	if q := env.quantity(t, p.ID); q != 1 {
		t.Errorf("Expected stock to be released once, but got quantity %d", q)
	}
	if res, _ := env.store.Reservations(); len(res) != 0 {
		t.Errorf("Expected no reservations left, but got %d", len(res))
	}
	if n := len(env.orders(t, p.ID)); n != 0 {
		t.Errorf("Expected no orders, but got %d", n)
	}
}

func TestSettleBatchWithDeclines(t *testing.T) {
	gw := payment.GatewayFunc(func(_ context.Context, req payment.ChargeRequest) (string, error) {
		if req.UserID%2 == 0 {
			return "", payment.ErrDeclined
		}
		return uuid.NewString(), nil
	})
	env := newTestEnv(t, gw)
	p := env.product(t, 6)

	ids := make([]uint64, 0, 6)
	declined := map[uint64]bool{}
	for user := uint64(1); user <= 6; user++ {
		e := env.entry(t, user, p.ID)
		ids = append(ids, e.ID)
		declined[e.ID] = user%2 == 0
	}

	res, err := env.batches.Run(waitCtx(t), BatchName(p.ID), ids)
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if res.Total != 6 || res.Settled != 3 || res.Failed != 3 {
		t.Errorf("Expected 6/3/3, but got %d/%d/%d", res.Total, res.Settled, res.Failed)
	}
	if res.Reasons[ReasonPaymentDeclined] != 3 {
		t.Errorf("Expected 3 declined, but got %v", res.Reasons)
	}
	if q := env.quantity(t, p.ID); q != 3 {
		t.Errorf("Expected quantity 3, but got %d", q)
	}
	orders := env.orders(t, p.ID)
	if len(orders) != 3 {
		t.Fatalf("Expected 3 orders, but got %d", len(orders))
	}
	for _, o := range orders {
		if declined[o.EntryID] {
			t.Errorf("Expected no order for declined entry %d", o.EntryID)
		}
	}
	stats := env.stats(t, p.ID)
	if stats[models.EntryPending] != 3 || stats[models.EntryWinner] != 3 {
		t.Errorf("Expected 3 pending and 3 winners, but got %v", stats)
	}
	for id, wasDeclined := range declined {
		got, err := env.store.GetEntry(id)
		if err != nil {
			t.Fatalf("get entry: %v", err)
		}
		want := models.EntryWinner
		if wasDeclined {
			want = models.EntryPending
		}
		if got.Status != want {
			t.Errorf("Expected entry %d to be %s, but got %s", id, want, got.Status)
		}
	}
	if res, _ := env.store.Reservations(); len(res) != 0 {
		t.Errorf("Expected no reservations left, but got %d", len(res))
	}
}

func TestSettleMoreEntriesThanStock(t *testing.T) {
	gw := payment.GatewayFunc(func(context.Context, payment.ChargeRequest) (string, error) {
		time.Sleep(2 * time.Millisecond)
		return uuid.NewString(), nil
	})
	env := newTestEnv(t, gw)
	p := env.product(t, 3)

	const entries = 20
	ids := make([]uint64, entries)
	for i := range ids {
		ids[i] = env.entry(t, uint64(i+1), p.ID).ID
	}

	outcomes := make([]Outcome, entries)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := env.settler.Settle(context.Background(), id)
			if err != nil {
				t.Errorf("Expected no error, but got %v", err)
			}
			outcomes[i] = out
		}()
	}
	wg.Wait()

	settled := 0
	for _, out := range outcomes {
		switch {
		case out.Settled():
			settled++
		case out.Reason != ReasonOutOfStock:
			t.Errorf("Expected OutOfStock for losers, but got %s", out.Reason)
		}
	}
	if settled != 3 {
		t.Errorf("Expected 3 settlements, but got %d", settled)
	}
	if q := env.quantity(t, p.ID); q != 0 {
		t.Errorf("Expected quantity 0, but got %d", q)
	}
	if n := len(env.orders(t, p.ID)); n != 3 {
		t.Errorf("Expected 3 orders, but got %d", n)
	}
	if stats := env.stats(t, p.ID); stats[models.EntryWinner] != 3 || stats[models.EntryPending] != entries-3 {
		t.Errorf("Expected 3 winners and %d pending, but got %v", entries-3, stats)
	}
}
