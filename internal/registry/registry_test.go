package registry

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestNewContentRef_ValidatesType(t *testing.T) {
	ref, err := NewContentRef("media", "abc-123")
	if err != nil {
		t.Fatalf("NewContentRef returned error: %v", err)
	}
	if ref.Room() != "media:abc-123" {
		t.Fatalf("unexpected room: %s", ref.Room())
	}

	if _, err := NewContentRef("playlist", "abc-123"); err == nil {
		t.Fatal("expected error for unknown content type")
	}
	if _, err := NewContentRef("media", ""); err == nil {
		t.Fatal("expected error for empty content id")
	}
}

func TestValidType(t *testing.T) {
	for _, ct := range []ContentType{ContentTypeMedia, ContentTypeDevotional, ContentTypeArtist, ContentTypeMerchandise, ContentTypeEbook, ContentTypePodcast} {
		if !ValidType(ct) {
			t.Errorf("expected %s to be valid", ct)
		}
	}
	if ValidType("unknown") {
		t.Error("expected unknown type to be invalid")
	}
}

func TestPostgresResolver_Resolve(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("media", "abc-123").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	resolver := NewPostgresResolver(db)
	exists, err := resolver.Resolve(context.Background(), ContentRef{Type: ContentTypeMedia, ID: "abc-123"})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected content to exist")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresResolver_ResolveMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("ebook", "gone").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	resolver := NewPostgresResolver(db)
	exists, err := resolver.Resolve(context.Background(), ContentRef{Type: ContentTypeEbook, ID: "gone"})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if exists {
		t.Fatal("expected content to be missing")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
