package state

import (
	"testing"

	"github.com/monadexec/execore/types"
)

func TestTransactionStateRejectRestoresAccount(t *testing.T) {
	bs := newTestBlockState(t)
	a := testAddr(1)
	tx := NewTransactionState(bs)

	orig, err := tx.ReadAccount(a)
	if err != nil {
		t.Fatalf("ReadAccount: %v", err)
	}
	if orig != nil {
		t.Fatalf("ReadAccount = %+v, want nil", orig)
	}

	cp := tx.PushCheckpoint()
	acct := types.EmptyAccount()
	acct.Nonce = 7
	if err := tx.WriteAccount(a, &acct); err != nil {
		t.Fatalf("WriteAccount: %v", err)
	}
	got, _ := tx.ReadAccount(a)
	if got == nil || got.Nonce != 7 {
		t.Fatalf("ReadAccount mid-frame = %+v, want nonce=7", got)
	}

	tx.Reject(cp)
	got, err = tx.ReadAccount(a)
	if err != nil {
		t.Fatalf("ReadAccount after reject: %v", err)
	}
	if got != nil {
		t.Fatalf("ReadAccount after reject = %+v, want nil (restored)", got)
	}
}

func TestTransactionStateRejectDropsLogsAndRefund(t *testing.T) {
	bs := newTestBlockState(t)
	tx := NewTransactionState(bs)

	tx.sub.StoreLog(types.Log{})
	tx.AddRefund(100)

	cp := tx.PushCheckpoint()
	tx.sub.StoreLog(types.Log{})
	tx.AddRefund(50)
	if tx.Refund() != 150 {
		t.Fatalf("Refund mid-frame = %d, want 150", tx.Refund())
	}

	tx.Reject(cp)
	if tx.Refund() != 100 {
		t.Fatalf("Refund after reject = %d, want 100", tx.Refund())
	}
	if len(tx.Substate().Logs()) != 1 {
		t.Fatalf("Logs after reject = %d, want 1", len(tx.Substate().Logs()))
	}
}

func TestTransactionStateDestructRevertsOnReject(t *testing.T) {
	bs := newTestBlockState(t)
	a := testAddr(9)
	tx := NewTransactionState(bs)

	cp := tx.PushCheckpoint()
	tx.Destruct(a)
	if !tx.Substate().IsDestructed(a) {
		t.Fatalf("IsDestructed mid-frame = false, want true")
	}
	tx.Reject(cp)
	if tx.Substate().IsDestructed(a) {
		t.Fatalf("IsDestructed after reject = true, want false")
	}
}

func TestTransactionStateAccessStorageWarmsAcrossReject(t *testing.T) {
	bs := newTestBlockState(t)
	a := testAddr(3)
	slot := types.HexToHash("1")
	tx := NewTransactionState(bs)

	if status := tx.Substate().AccessStorage(a, slot); status != AccessCold {
		t.Fatalf("first AccessStorage = %v, want cold", status)
	}
	cp := tx.PushCheckpoint()
	if status := tx.Substate().AccessStorage(a, slot); status != AccessWarm {
		t.Fatalf("second AccessStorage = %v, want warm", status)
	}
	tx.Reject(cp)
	// EIP-2929 access lists are not rolled back by a revert.
	if status := tx.Substate().AccessStorage(a, slot); status != AccessWarm {
		t.Fatalf("AccessStorage after reject = %v, want still warm", status)
	}
}

func TestTransactionStateStorageWriteRollsBack(t *testing.T) {
	bs := newTestBlockState(t)
	a := testAddr(4)
	slot := types.HexToHash("1")
	tx := NewTransactionState(bs)

	before, err := tx.ReadStorage(a, 0, slot)
	if err != nil {
		t.Fatalf("ReadStorage: %v", err)
	}
	if !before.IsZero() {
		t.Fatalf("ReadStorage initial = %s, want zero", before.Hex())
	}

	cp := tx.PushCheckpoint()
	if err := tx.WriteStorage(a, 0, slot, types.HexToHash("2a")); err != nil {
		t.Fatalf("WriteStorage: %v", err)
	}
	tx.Reject(cp)

	after, err := tx.ReadStorage(a, 0, slot)
	if err != nil {
		t.Fatalf("ReadStorage after reject: %v", err)
	}
	if !after.IsZero() {
		t.Fatalf("ReadStorage after reject = %s, want zero (restored)", after.Hex())
	}
}
