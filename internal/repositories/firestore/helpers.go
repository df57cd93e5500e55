package firestore

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// txGet reads the document through the active transaction when one is present.
func txGet(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx, ok := txFromContext(ctx); ok {
		return tx.Get(ref)
	}
	return ref.Get(ctx)
}

func txCreate(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := txFromContext(ctx); ok {
		return tx.Create(ref, data)
	}
	_, err := ref.Create(ctx, data)
	return err
}

func txSet(ctx context.Context, ref *firestore.DocumentRef, data any, opts ...firestore.SetOption) error {
	if tx, ok := txFromContext(ctx); ok {
		return tx.Set(ref, data, opts...)
	}
	_, err := ref.Set(ctx, data, opts...)
	return err
}

func txUpdate(ctx context.Context, ref *firestore.DocumentRef, updates []firestore.Update) error {
	if tx, ok := txFromContext(ctx); ok {
		return tx.Update(ref, updates)
	}
	_, err := ref.Update(ctx, updates)
	return err
}

func txDelete(ctx context.Context, ref *firestore.DocumentRef) error {
	if tx, ok := txFromContext(ctx); ok {
		return tx.Delete(ref)
	}
	_, err := ref.Delete(ctx)
	return err
}

// txDocuments runs the query through the active transaction when one is present.
func txDocuments(ctx context.Context, query firestore.Query) *firestore.DocumentIterator {
	if tx, ok := txFromContext(ctx); ok {
		return tx.Documents(query)
	}
	return query.Documents(ctx)
}

func chooseTime(primary time.Time, fallback time.Time) time.Time {
	if !primary.IsZero() {
		return primary.UTC()
	}
	if !fallback.IsZero() {
		return fallback.UTC()
	}
	return time.Time{}
}

func normalizeTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	if value.IsZero() {
		return nil
	}
	ts := value.UTC()
	return &ts
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, strings.TrimSpace(value))
	}
	return out
}

func trimPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
