package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"shelfledger/internal/payment"
	"shelfledger/pkg/storage"
	"shelfledger/pkg/store"
)

func TestCoverUploadAndURL(t *testing.T) {
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	a, err := New(Config{
		Store:          store.NewMemoryStore(),
		Gateway:        payment.NewMockGateway("k", "s"),
		Covers:         files,
		LoanPeriodDays: 14,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	b := addBook(t, a, "Dune", "isbn-1", 1)

	if _, err := a.CoverURL(ctx, b.ID); !errors.Is(err, ErrNoCover) {
		t.Fatalf("cover before upload: err = %v, want ErrNoCover", err)
	}
	if err := a.UploadCover(ctx, "missing", "cover.png", strings.NewReader("png"), 3); !errors.Is(err, store.ErrBookNotFound) {
		t.Fatalf("upload for unknown book: err = %v", err)
	}

	if err := a.UploadCover(ctx, b.ID, "cover.png", strings.NewReader("png-bytes"), 9); err != nil {
		t.Fatalf("UploadCover: %v", err)
	}
	url, err := a.CoverURL(ctx, b.ID)
	if err != nil {
		t.Fatalf("CoverURL: %v", err)
	}
	if !strings.Contains(url, "covers/"+b.ID) {
		t.Fatalf("url = %q, want it to reference the cover key", url)
	}
}
