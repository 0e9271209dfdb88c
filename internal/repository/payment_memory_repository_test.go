package repository

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/LDamian96/sistema-gestion-escolar-sub004/internal/constants"
)

func TestMemoryPaymentRepositoryCompareAndSetSingleWinner(t *testing.T) {
	repo := NewMemoryPaymentRepository()
	if err := repo.Create(newPendingPayment("mem-1", "school-a")); err != nil {
		t.Fatalf("create payment failed: %v", err)
	}

	var wins int32
	var wg sync.WaitGroup
	targets := []string{constants.PaymentStatusPaid, constants.PaymentStatusCancelled}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			_, err := repo.CompareAndSetStatus("mem-1", "school-a", constants.PaymentStatusPending, target, PaymentTransitionFields{})
			if err == nil {
				atomic.AddInt32(&wins, 1)
				return
			}
			if !errors.Is(err, ErrConflict) {
				t.Errorf("unexpected cas error: %v", err)
			}
		}(targets[i%2])
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("exactly one cas should win, got %d", wins)
	}
}

func TestMemoryPaymentRepositoryReturnsCopies(t *testing.T) {
	repo := NewMemoryPaymentRepository()
	if err := repo.Create(newPendingPayment("mem-2", "school-a")); err != nil {
		t.Fatalf("create payment failed: %v", err)
	}
	if err := repo.SetCheckoutReference("mem-2", "school-a", "pref-1", "mercadopago:pending"); err != nil {
		t.Fatalf("set reference failed: %v", err)
	}
	got, err := repo.GetByIDAndSchool("mem-2", "school-a")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	*got.TransactionID = "tampered"
	got.Status = constants.PaymentStatusPaid

	again, _ := repo.GetByIDAndSchool("mem-2", "school-a")
	if again.TransactionRef() != "pref-1" || again.Status != constants.PaymentStatusPending {
		t.Fatalf("store should not share memory with callers, got %+v", again)
	}
	if _, err := repo.GetByIDAndSchool("mem-2", "school-b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("tenant mismatch want ErrNotFound got %v", err)
	}
}
