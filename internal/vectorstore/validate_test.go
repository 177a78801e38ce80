package vectorstore

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateStoreID(t *testing.T) {
	valid := []string{"a", "products", "my_store", "_private", "store_2"}
	for _, id := range valid {
		if err := validateStoreID(id); err != nil {
			t.Errorf("validateStoreID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{
		"",
		"1store",
		"Store",
		"my-store",
		"my store",
		"store;drop table stores;--",
		`store"`,
		"store'",
		"café",
		strings.Repeat("a", 64),
	}
	for _, id := range invalid {
		err := validateStoreID(id)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("validateStoreID(%q) = %v, want ErrInvalidInput", id, err)
		}
	}
}

func TestValidateStoreIDReserved(t *testing.T) {
	for _, id := range []string{"stores", "embeddings_models"} {
		err := validateStoreID(id)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("validateStoreID(%q) = %v, want ErrInvalidInput for reserved name", id, err)
		}
	}
}

func TestValidateMetadataKey(t *testing.T) {
	if err := validateMetadataKey("category"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, key := range []string{"bad-key", "key'", "1key", ""} {
		if err := validateMetadataKey(key); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("validateMetadataKey(%q) = %v, want ErrInvalidInput", key, err)
		}
	}
}
