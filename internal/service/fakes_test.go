package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-fiscal-issuance/internal/common/errors"
	"github.com/pesio-ai/be-fiscal-issuance/internal/common/logger"
	"github.com/pesio-ai/be-fiscal-issuance/internal/domain"
	"github.com/pesio-ai/be-fiscal-issuance/internal/repository"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zerolog.Nop()}
}

// fakeTxRunner executes transaction bodies directly; atomicity is provided
// by the per-store mutexes in the fakes.
type fakeTxRunner struct{}

func (f *fakeTxRunner) InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (f *fakeTxRunner) InSerializableTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type fakeProposalStore struct {
	mu        sync.Mutex
	proposals map[string]*repository.Proposal
}

func newFakeProposalStore() *fakeProposalStore {
	return &fakeProposalStore{proposals: make(map[string]*repository.Proposal)}
}

func (f *fakeProposalStore) put(p *repository.Proposal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposals[p.ID] = p
}

func (f *fakeProposalStore) Get(ctx context.Context, id string, tenantID *string) (*repository.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return nil, errors.NotFound("proposal", id)
	}
	if tenantID != nil && p.TenantID != *tenantID {
		return nil, errors.NotFound("proposal", id)
	}
	cp := *p
	return &cp, nil
}

type fakeDocumentStore struct {
	mu       sync.Mutex
	docs     map[string]*repository.FiscalDocument
	bySource map[string]string
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{
		docs:     make(map[string]*repository.FiscalDocument),
		bySource: make(map[string]string),
	}
}

func sourceKey(tenantID, proposalID string) string {
	return tenantID + "/" + proposalID
}

func (f *fakeDocumentStore) Create(ctx context.Context, tx pgx.Tx, doc *repository.FiscalDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.SourceProposalID != nil {
		key := sourceKey(doc.TenantID, *doc.SourceProposalID)
		if _, exists := f.bySource[key]; exists {
			return errors.New(errors.ErrCodeDuplicate, "a fiscal document already exists for this proposal")
		}
		f.bySource[key] = doc.ID
	}
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeDocumentStore) GetByID(ctx context.Context, id, tenantID string) (*repository.FiscalDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.TenantID != tenantID {
		return nil, errors.NotFound("fiscal document", id)
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDocumentStore) ExistsBySourceProposal(ctx context.Context, proposalID, tenantID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, exists := f.bySource[sourceKey(tenantID, proposalID)]
	return exists, nil
}

func (f *fakeDocumentStore) List(ctx context.Context, tenantID string, status, fromDate, toDate *string, limit, offset int) ([]*repository.FiscalDocument, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := make([]*repository.FiscalDocument, 0)
	for _, doc := range f.docs {
		if doc.TenantID != tenantID {
			continue
		}
		if status != nil && doc.Status != *status {
			continue
		}
		cp := *doc
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].DocumentNumber < matched[j].DocumentNumber })
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (f *fakeDocumentStore) UpdateOnCancel(ctx context.Context, tx pgx.Tx, id, tenantID string, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.TenantID != tenantID {
		return errors.NotFound("fiscal document", id)
	}
	doc.Status = domain.LifecycleCancelled
	doc.Version = version
	return nil
}

func (f *fakeDocumentStore) UpdateOnPayment(ctx context.Context, tx pgx.Tx, payment *repository.DocumentPayment, tenantID, paymentState string, amountPaid, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[payment.DocumentID]
	if !ok || doc.TenantID != tenantID {
		return errors.NotFound("fiscal document", payment.DocumentID)
	}
	payment.ID = uuid.NewString()
	payment.CreatedAt = time.Now()
	doc.AmountPaid = amountPaid
	doc.PaymentState = paymentState
	doc.Version = version
	return nil
}

type fakeEventLedger struct {
	mu sync.Mutex
	// events per aggregate, keyed by version
	events map[string]map[int64]domain.Event
	// failAppends injects a concurrency conflict into the next N appends.
	failAppends int
}

func newFakeEventLedger() *fakeEventLedger {
	return &fakeEventLedger{events: make(map[string]map[int64]domain.Event)}
}

func (f *fakeEventLedger) Append(ctx context.Context, tx pgx.Tx, event domain.Event, expectedVersion int64) (domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAppends > 0 {
		f.failAppends--
		return domain.Event{}, errors.New(errors.ErrCodeConcurrency, "injected append conflict")
	}
	versions, ok := f.events[event.AggregateID]
	if !ok {
		versions = make(map[int64]domain.Event)
		f.events[event.AggregateID] = versions
	}
	if _, exists := versions[expectedVersion]; exists {
		return domain.Event{}, errors.Newf(errors.ErrCodeConcurrency,
			"version %d already exists for aggregate %s", expectedVersion, event.AggregateID)
	}
	event.AggregateVersion = expectedVersion
	versions[expectedVersion] = event
	return event, nil
}

func (f *fakeEventLedger) ReadForAggregate(ctx context.Context, aggregateID string, fromVersion int64) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := f.events[aggregateID]
	out := make([]domain.Event, 0, len(versions))
	for v, e := range versions {
		if v >= fromVersion {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AggregateVersion < out[j].AggregateVersion })
	return out, nil
}

func (f *fakeEventLedger) ReadByType(ctx context.Context, tenantID, eventType string, from, to time.Time) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Event, 0)
	for _, versions := range f.events {
		for _, e := range versions {
			if e.TenantID == tenantID && e.EventType == eventType &&
				!e.OccurredOn.Before(from) && e.OccurredOn.Before(to) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredOn.Before(out[j].OccurredOn) })
	return out, nil
}

func (f *fakeEventLedger) ReadUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Event, 0)
	for _, versions := range f.events {
		for _, e := range versions {
			if !e.Published {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredOn.Equal(out[j].OccurredOn) {
			return out[i].OccurredOn.Before(out[j].OccurredOn)
		}
		return out[i].AggregateVersion < out[j].AggregateVersion
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeEventLedger) MarkPublished(ctx context.Context, tx pgx.Tx, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	marked := make(map[string]bool, len(ids))
	for _, id := range ids {
		marked[id] = true
	}
	for _, versions := range f.events {
		for v, e := range versions {
			if marked[e.ID] {
				e.Published = true
				versions[v] = e
			}
		}
	}
	return nil
}

func (f *fakeEventLedger) LastVersion(ctx context.Context, aggregateID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last int64
	for v := range f.events[aggregateID] {
		if v > last {
			last = v
		}
	}
	return last, nil
}

type fakeSequences struct {
	mu       sync.Mutex
	counters map[string]int64
	// failNext injects serialization losses into the next N calls.
	failNext int
	calls    int
}

func newFakeSequences() *fakeSequences {
	return &fakeSequences{counters: make(map[string]int64)}
}

func (f *fakeSequences) Next(ctx context.Context, tx pgx.Tx, tenantID, series string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failNext > 0 {
		f.failNext--
		return 0, errors.New(errors.ErrCodeConcurrency, "injected serialization failure")
	}
	key := tenantID + "/" + series
	f.counters[key]++
	return f.counters[key], nil
}

func (f *fakeSequences) Current(ctx context.Context, tenantID, series string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[tenantID+"/"+series], nil
}

type issuedNotification struct {
	DocumentID     string
	TenantID       string
	ClientID       string
	DocumentNumber string
	GrandTotal     string
}

type fakeNotifier struct {
	mu     sync.Mutex
	issued []issuedNotification
}

func (f *fakeNotifier) PublishDocumentIssued(ctx context.Context, documentID, tenantID, clientID, documentNumber, grandTotal string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued = append(f.issued, issuedNotification{
		DocumentID:     documentID,
		TenantID:       tenantID,
		ClientID:       clientID,
		DocumentNumber: documentNumber,
		GrandTotal:     grandTotal,
	})
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.issued)
}

type publishedMessage struct {
	Subject string
	Data    []byte
}

type fakeEventBus struct {
	mu sync.Mutex
	// failAfter fails every publish once this many have succeeded;
	// negative means never fail.
	failAfter int
	published []publishedMessage
}

func newFakeEventBus() *fakeEventBus {
	return &fakeEventBus{failAfter: -1}
}

func (f *fakeEventBus) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && len(f.published) >= f.failAfter {
		return errors.New(errors.ErrCodeInternal, "injected bus failure")
	}
	f.published = append(f.published, publishedMessage{Subject: subject, Data: data})
	return nil
}
