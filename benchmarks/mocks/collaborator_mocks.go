package mocks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// MockSpillStore implements domain.SpillStore in memory.
type MockSpillStore struct {
	mu      sync.Mutex
	files   map[string][]byte
	seq     int
	removed map[string]int
}

// NewMockSpillStore creates an empty spill store.
func NewMockSpillStore() *MockSpillStore {
	return &MockSpillStore{files: make(map[string][]byte), removed: make(map[string]int)}
}

func (s *MockSpillStore) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ref := fmt.Sprintf("spill-%d-%s", s.seq, name)
	s.files[ref] = b
	return ref, nil
}

func (s *MockSpillStore) Open(ctx context.Context, ref string) (*domain.SpilledFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.SpilledFile{Ref: ref, Size: int64(len(b)), Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (s *MockSpillStore) Remove(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[ref]; ok {
		delete(s.files, ref)
		s.removed[ref]++
	}
	return nil
}

// Exists reports whether ref is still stored.
func (s *MockSpillStore) Exists(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[ref]
	return ok
}

// Removals returns how many times ref was actually removed.
func (s *MockSpillStore) Removals(ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed[ref]
}

// MockTranslator implements domain.Translator. Fn overrides the default echo behavior.
type MockTranslator struct {
	Fn    func(ctx context.Context, file *domain.SpilledFile, lang string) (*domain.TranslationResult, error)
	Calls int64
}

func (m *MockTranslator) Translate(ctx context.Context, file *domain.SpilledFile, lang string) (*domain.TranslationResult, error) {
	atomic.AddInt64(&m.Calls, 1)
	if m.Fn != nil {
		return m.Fn(ctx, file, lang)
	}
	b, err := io.ReadAll(file.Body)
	if err != nil {
		return nil, err
	}
	return &domain.TranslationResult{TranslatedText: fmt.Sprintf("[%s] %s", lang, b)}, nil
}

// MockSummarizer implements domain.Summarizer.
type MockSummarizer struct {
	Fn    func(ctx context.Context, text, lang string) (*domain.Summary, error)
	Calls int64
}

func (m *MockSummarizer) Summarize(ctx context.Context, text, lang string) (*domain.Summary, error) {
	atomic.AddInt64(&m.Calls, 1)
	if m.Fn != nil {
		return m.Fn(ctx, text, lang)
	}
	return &domain.Summary{Title: "summary", Summary: text}, nil
}

// MockDocumentStore implements domain.DocumentStore in memory.
type MockDocumentStore struct {
	mu         sync.Mutex
	docs       map[string]domain.Document
	GetCalls   int64
	ListCalls  int64
	GetDelay   time.Duration
	PersistErr error
}

// NewMockDocumentStore creates an empty store.
func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{docs: make(map[string]domain.Document)}
}

func docKey(owner, id string) string { return owner + "/" + id }

func (s *MockDocumentStore) PersistDocument(ctx context.Context, doc domain.Document) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PersistErr != nil {
		return nil, s.PersistErr
	}
	s.docs[docKey(doc.OwnerID, doc.ID)] = doc
	return &doc, nil
}

func (s *MockDocumentStore) GetDocument(ctx context.Context, ownerID, docID string) (*domain.Document, error) {
	atomic.AddInt64(&s.GetCalls, 1)
	if s.GetDelay > 0 {
		time.Sleep(s.GetDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docKey(ownerID, docID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &doc, nil
}

func (s *MockDocumentStore) ListDocuments(ctx context.Context, ownerID string, limit, offset int) ([]domain.Document, error) {
	atomic.AddInt64(&s.ListCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Document{}
	for _, d := range s.docs {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return []domain.Document{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MockDocumentStore) DeleteDocument(ctx context.Context, ownerID, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := docKey(ownerID, docID)
	if _, ok := s.docs[k]; !ok {
		return domain.ErrNotFound
	}
	delete(s.docs, k)
	return nil
}

func (s *MockDocumentStore) Ping(ctx context.Context) error { return nil }

// Put stores doc directly.
func (s *MockDocumentStore) Put(doc domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docKey(doc.OwnerID, doc.ID)] = doc
}

// Count returns the number of stored documents.
func (s *MockDocumentStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// MockMailer implements domain.Mailer. FailFor decides per recipient and attempt.
type MockMailer struct {
	mu      sync.Mutex
	FailFor func(to string, attempt int) bool
	sent    []string
	tries   map[string]int
}

func (m *MockMailer) SendEmail(ctx context.Context, to, subject, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tries == nil {
		m.tries = make(map[string]int)
	}
	m.tries[to]++
	if m.FailFor != nil && m.FailFor(to, m.tries[to]) {
		return fmt.Errorf("smtp: 451 temporary failure for %s", to)
	}
	m.sent = append(m.sent, to)
	return nil
}

// Sent returns the recipients that were delivered to.
func (m *MockMailer) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// Attempts returns the total number of send calls.
func (m *MockMailer) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.tries {
		n += c
	}
	return n
}

// MockIdentityDirectory implements domain.IdentityDirectory with scripted results.
type MockIdentityDirectory struct {
	mu      sync.Mutex
	Results map[string]error
	deleted []string
}

func (m *MockIdentityDirectory) DeleteUser(ctx context.Context, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Results[externalID]; err != nil {
		return err
	}
	m.deleted = append(m.deleted, externalID)
	return nil
}

// MockBatchStore implements domain.BatchStore over in-memory users.
type MockBatchStore struct {
	mu           sync.Mutex
	Disabled     []domain.UserRecord
	Purge        []domain.UserRecord
	Reminders    []domain.ReminderCandidate
	Quota        []domain.UserRecord
	DeleteErr    map[string]error
	ResetErr     map[string]error
	cleaned      map[string]bool
	purged       map[string]bool
	resetCalls   map[string]int
	cleanupLists int
}

// NewMockBatchStore creates an empty store.
func NewMockBatchStore() *MockBatchStore {
	return &MockBatchStore{
		DeleteErr:  make(map[string]error),
		ResetErr:   make(map[string]error),
		cleaned:    make(map[string]bool),
		purged:     make(map[string]bool),
		resetCalls: make(map[string]int),
	}
}

func (s *MockBatchStore) ListDisabledUncleaned(ctx context.Context, limit int) ([]domain.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLists++
	var out []domain.UserRecord
	for _, u := range s.Disabled {
		if !s.cleaned[u.ID] && len(out) < limit {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MockBatchStore) DeleteUserData(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DeleteErr[userID]
}

func (s *MockBatchStore) MarkCleaned(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleaned[userID] = true
	return nil
}

func (s *MockBatchStore) ListPurgeCandidates(ctx context.Context, limit int) ([]domain.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.UserRecord
	for _, u := range s.Purge {
		if !s.purged[u.ID] && len(out) < limit {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MockBatchStore) MarkPurged(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged[userID] = true
	return nil
}

func (s *MockBatchStore) ListReminderCandidates(ctx context.Context, limit int) ([]domain.ReminderCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Reminders) > limit {
		return append([]domain.ReminderCandidate(nil), s.Reminders[:limit]...), nil
	}
	return append([]domain.ReminderCandidate(nil), s.Reminders...), nil
}

func (s *MockBatchStore) ListQuotaResetCandidates(ctx context.Context, day time.Time, limit int) ([]domain.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.UserRecord
	for _, u := range s.Quota {
		if s.resetCalls[u.ID] == 0 && len(out) < limit {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MockBatchStore) ResetQuota(ctx context.Context, userID string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ResetErr[userID]; err != nil {
		return err
	}
	s.resetCalls[userID]++
	return nil
}

// Cleaned reports whether userID was marked cleaned.
func (s *MockBatchStore) Cleaned(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleaned[userID]
}

// Purged reports whether userID was marked purged.
func (s *MockBatchStore) Purged(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purged[userID]
}

// ResetCalls returns how many times the quota of userID was reset.
func (s *MockBatchStore) ResetCalls(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetCalls[userID]
}

// CleanupListCalls returns how many times disabled users were listed.
func (s *MockBatchStore) CleanupListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLists
}
