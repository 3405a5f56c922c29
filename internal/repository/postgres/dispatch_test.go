package postgres

import "testing"

func TestNullUUID_EmptyBecomesNull(t *testing.T) {
	// Dispatch records without an assignment carry no ledger reference.
	// Binding "" into a uuid column is a syntax error on the server side.
	v := nullUUID("")
	if v.Valid {
		t.Fatal("expected empty ledger id to bind as NULL")
	}
}

func TestNullUUID_PresentValueKept(t *testing.T) {
	id := "0d4de3a2-5c42-4f6b-9a0e-2f6f1c2b7a11"
	v := nullUUID(id)
	if !v.Valid || v.String != id {
		t.Fatalf("expected valid value %q, got %+v", id, v)
	}
}
