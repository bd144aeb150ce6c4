package application

import (
	"context"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/rediskeys"
)

// DocumentQueryService serves document reads cache-aside and invalidates on every write.
type DocumentQueryService struct {
	store   domain.DocumentStore
	cache   *CacheService
	logger  domain.Logger
	docTTL  time.Duration
	listTTL time.Duration
}

// NewDocumentQueryService creates the service.
func NewDocumentQueryService(store domain.DocumentStore, cache *CacheService, logger domain.Logger, docTTL, listTTL time.Duration) *DocumentQueryService {
	return &DocumentQueryService{store: store, cache: cache, logger: logger, docTTL: docTTL, listTTL: listTTL}
}

// Get returns a single document of ownerID. domain.ErrNotFound passes through uncached.
func (s *DocumentQueryService) Get(ctx context.Context, ownerID, docID string) (*domain.Document, error) {
	key := rediskeys.DocKey(ownerID, docID)
	return GetOrFetch(ctx, s.cache, key, s.docTTL, func(ctx context.Context) (*domain.Document, error) {
		doc, err := s.store.GetDocument(ctx, ownerID, docID)
		if err == nil {
			s.tag(ctx, ownerID, key)
		}
		return doc, err
	})
}

// List returns one page of ownerID's documents.
func (s *DocumentQueryService) List(ctx context.Context, ownerID string, limit, offset int) ([]domain.Document, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	key := rediskeys.DocListKey(ownerID, limit, offset)
	return GetOrFetch(ctx, s.cache, key, s.listTTL, func(ctx context.Context) ([]domain.Document, error) {
		docs, err := s.store.ListDocuments(ctx, ownerID, limit, offset)
		if err == nil {
			s.tag(ctx, ownerID, key)
		}
		return docs, err
	})
}

// tag registers key under the owner's tag. It runs inside the fetch, before the
// value is written, so an invalidation can never miss a freshly cached view.
func (s *DocumentQueryService) tag(ctx context.Context, ownerID, key string) {
	s.cache.AddToTag(ctx, rediskeys.DocsTagKey(ownerID), key)
}

// Delete removes the document and drops every cached view of the owner's documents.
func (s *DocumentQueryService) Delete(ctx context.Context, ownerID, docID string) error {
	if err := s.store.DeleteDocument(ctx, ownerID, docID); err != nil {
		return err
	}
	s.cache.Delete(ctx, rediskeys.DocKey(ownerID, docID))
	s.cache.InvalidateTag(ctx, rediskeys.DocsTagKey(ownerID))
	s.logger.Info(ctx, "Document deleted", "doc_id", docID)
	return nil
}
