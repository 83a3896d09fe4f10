package memory

import (
	"context"
	"testing"
	"time"

	"github.com/processwarp/core/internal/addr"
	"github.com/processwarp/core/internal/page"
	"github.com/processwarp/core/internal/transport"
)

func TestEnsureReadableFaultsInFromOwner(t *testing.T) {
	hub := transport.NewHub()
	ownerNID := addr.NewNID()
	readerNID := addr.NewNID()

	ownerStore := page.NewStore()
	var ownerNIDBytes [16]byte
	copy(ownerNIDBytes[:], ownerNID[:])
	p := ownerStore.GetOrCreate(0x100, ownerNIDBytes)
	p.BeginOwnership(page.OwnedWritable, nil)
	if err := p.WriteAt(0, []byte("hello")); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	ownerAcc := New(ownerNID, ownerStore, hub.Endpoint(ownerNID))
	_ = ownerAcc

	readerStore := page.NewStore()
	readerAcc := New(readerNID, readerStore, hub.Endpoint(readerNID))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := readerAcc.EnsureReadable(ctx, 0x100, ownerNID)
	if err != nil {
		t.Fatalf("EnsureReadable: %v", err)
	}
	if got.State() == page.Invalid {
		t.Fatal("page still INVALID after EnsureReadable")
	}
	data, err := readerAcc.Read(got, 0, 5)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("Read = %q, want %q", data, "hello")
	}
}

func TestEnsureWritableTransfersOwnership(t *testing.T) {
	hub := transport.NewHub()
	ownerNID := addr.NewNID()
	writerNID := addr.NewNID()

	ownerStore := page.NewStore()
	p := ownerStore.GetOrCreate(0x200, [16]byte{})
	p.BeginOwnership(page.OwnedWritable, nil)

	New(ownerNID, ownerStore, hub.Endpoint(ownerNID))

	writerStore := page.NewStore()
	writerAcc := New(writerNID, writerStore, hub.Endpoint(writerNID))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := writerAcc.EnsureWritable(ctx, 0x200, ownerNID)
	if err != nil {
		t.Fatalf("EnsureWritable: %v", err)
	}
	if got.State() != page.OwnedWritable {
		t.Fatalf("state = %s, want OWNED-WRITABLE", got.State())
	}
	if p.State() != page.Invalid {
		t.Fatalf("original owner's page should be INVALID after transfer, got %s", p.State())
	}
}

func TestEnsureReadableBadAccessWithNoHome(t *testing.T) {
	hub := transport.NewHub()
	self := addr.NewNID()
	acc := New(self, page.NewStore(), hub.Endpoint(self))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := acc.EnsureReadable(ctx, 0x999, addr.NIDNone); err == nil {
		t.Fatal("expected BAD-ACCESS for a page with no known home")
	}
}
