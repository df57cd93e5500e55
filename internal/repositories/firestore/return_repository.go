package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/DawnBreaker207/Graduate-Project/internal/domain"
	pfirestore "github.com/DawnBreaker207/Graduate-Project/internal/platform/firestore"
	"github.com/DawnBreaker207/Graduate-Project/internal/repositories"
)

const returnsCollection = "returns"

// ReturnRepository persists return requests filed against delivered orders.
type ReturnRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[returnDocument]
}

// NewReturnRepository constructs a Firestore-backed return repository.
func NewReturnRepository(provider *pfirestore.Provider) (*ReturnRepository, error) {
	if provider == nil {
		return nil, errors.New("return repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[returnDocument](provider, returnsCollection, nil, nil)
	return &ReturnRepository{provider: provider, base: base}, nil
}

// Insert stores a new return request. The ID must be unique.
func (r *ReturnRepository) Insert(ctx context.Context, request domain.ReturnRequest) error {
	if r == nil || r.base == nil {
		return errors.New("return repository not initialised")
	}
	returnID := strings.TrimSpace(request.ID)
	if returnID == "" {
		return errors.New("return repository: return id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, returnID)
	if err != nil {
		return err
	}
	if err := txCreate(ctx, docRef, encodeReturnDocument(request)); err != nil {
		return pfirestore.WrapError("returns.insert", err)
	}
	return nil
}

// Update replaces the persisted return request snapshot.
func (r *ReturnRepository) Update(ctx context.Context, request domain.ReturnRequest) error {
	if r == nil || r.base == nil {
		return errors.New("return repository not initialised")
	}
	returnID := strings.TrimSpace(request.ID)
	if returnID == "" {
		return errors.New("return repository: return id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, returnID)
	if err != nil {
		return err
	}
	if err := txSet(ctx, docRef, encodeReturnDocument(request)); err != nil {
		return pfirestore.WrapError("returns.update", err)
	}
	return nil
}

// FindByID fetches a single return request.
func (r *ReturnRepository) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	if r == nil || r.base == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.ReturnRequest{}, errors.New("return repository: return id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, returnID)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	snap, err := txGet(ctx, docRef)
	if err != nil {
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.get", err)
	}
	var doc returnDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("returns: decode document %s: %w", returnID, err)
	}
	return decodeReturnDocument(returnID, doc, snap.CreateTime), nil
}

// FindByOrder returns the return request filed against the order, if any.
func (r *ReturnRepository) FindByOrder(ctx context.Context, orderID string) (domain.ReturnRequest, error) {
	if r == nil || r.provider == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.ReturnRequest{}, errors.New("return repository: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	query := client.Collection(returnsCollection).
		Where("orderId", "==", orderID).
		Limit(1)

	iter := txDocuments(ctx, query)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.find_by_order", status.Error(codes.NotFound, "return request not found"))
	}
	if err != nil {
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.find_by_order", err)
	}
	var doc returnDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("returns: decode document %s: %w", snap.Ref.ID, err)
	}
	return decodeReturnDocument(snap.Ref.ID, doc, snap.CreateTime), nil
}

// List returns return requests ordered by most recent creation.
func (r *ReturnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.ReturnRequest]{}, errors.New("return repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeReturnListToken(token)
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, fmt.Errorf("return repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	phoneNumber := strings.TrimSpace(filter.PhoneNumber)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Confirmed != nil {
			q = q.Where("confirmed", "==", *filter.Confirmed)
		}
		if phoneNumber != "" {
			q = q.Where("phoneNumber", "==", phoneNumber)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeReturnListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.ReturnRequest, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeReturnDocument(doc.ID, doc.Data, doc.CreateTime))
	}

	return domain.CursorPage[domain.ReturnRequest]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type returnDocument struct {
	OrderID      string    `firestore:"orderId"`
	Reason       string    `firestore:"reason"`
	CustomerName string    `firestore:"customerName"`
	PhoneNumber  string    `firestore:"phoneNumber"`
	Images       []string  `firestore:"images,omitempty"`
	Confirmed    bool      `firestore:"confirmed"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func encodeReturnDocument(request domain.ReturnRequest) returnDocument {
	return returnDocument{
		OrderID:      strings.TrimSpace(request.OrderID),
		Reason:       strings.TrimSpace(request.Reason),
		CustomerName: strings.TrimSpace(request.CustomerName),
		PhoneNumber:  strings.TrimSpace(request.PhoneNumber),
		Images:       cloneStrings(request.Images),
		Confirmed:    request.Confirmed,
		CreatedAt:    request.CreatedAt.UTC(),
	}
}

func decodeReturnDocument(id string, doc returnDocument, createdAt time.Time) domain.ReturnRequest {
	return domain.ReturnRequest{
		ID:           strings.TrimSpace(id),
		OrderID:      strings.TrimSpace(doc.OrderID),
		Reason:       strings.TrimSpace(doc.Reason),
		CustomerName: strings.TrimSpace(doc.CustomerName),
		PhoneNumber:  strings.TrimSpace(doc.PhoneNumber),
		Images:       cloneStrings(doc.Images),
		Confirmed:    doc.Confirmed,
		CreatedAt:    chooseTime(doc.CreatedAt, createdAt),
	}
}

func encodeReturnListToken(createdAt time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeReturnListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}
