// Package memory implementaciones en memoria de los puertos de persistencia Verifactu
// (modo desarrollo y tests). Los datos se pierden al reiniciar el proceso.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jhoicas/verifactu-api/internal/domain"
	"github.com/jhoicas/verifactu-api/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// ChainStore implementa repository.ChainStore con un mapa protegido por mutex.
type ChainStore struct {
	mu      sync.RWMutex
	records map[string]*entity.InvoiceRecord
	seq     map[string]int64 // último ChainSeq por emisor
	now     func() time.Time
}

// NewChainStore crea un almacén vacío.
func NewChainStore() *ChainStore {
	return &ChainStore{
		records: make(map[string]*entity.InvoiceRecord),
		seq:     make(map[string]int64),
		now:     time.Now,
	}
}

// AppendIfTailMatches inserta rec si la cola del emisor coincide con expectedPrev.
func (s *ChainStore) AppendIfTailMatches(_ context.Context, expectedPrev *string, rec *entity.InvoiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tail := s.tailLocked(rec.IssuerNIF)
	switch {
	case tail == nil && expectedPrev != nil:
		return domain.ErrChainConflict
	case tail != nil && (expectedPrev == nil || !strings.EqualFold(*expectedPrev, tail.CurrentHash)):
		return domain.ErrChainConflict
	}
	for _, r := range s.records {
		if r.IssuerNIF == rec.IssuerNIF && r.InvoiceNumber == rec.InvoiceNumber {
			return domain.ErrConflict
		}
	}
	if _, dup := s.records[rec.ID]; dup {
		return domain.ErrConflict
	}

	s.seq[rec.IssuerNIF]++
	rec.ChainSeq = s.seq[rec.IssuerNIF]
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.ID] = clone(rec)
	return nil
}

// Tail último registro no anulado del emisor.
func (s *ChainStore) Tail(_ context.Context, issuerNIF string) (*entity.InvoiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tail := s.tailLocked(issuerNIF)
	if tail == nil {
		return nil, nil
	}
	return clone(tail), nil
}

func (s *ChainStore) tailLocked(issuerNIF string) *entity.InvoiceRecord {
	var tail *entity.InvoiceRecord
	for _, r := range s.records {
		if r.IssuerNIF != issuerNIF || r.IsCancelled() {
			continue
		}
		if tail == nil || r.ChainSeq > tail.ChainSeq {
			tail = r
		}
	}
	return tail
}

// GetByID devuelve nil, nil si no existe.
func (s *ChainStore) GetByID(_ context.Context, id string) (*entity.InvoiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return clone(r), nil
}

// GetByInvoiceNumber búsqueda por emisor y número; nil, nil si no existe.
func (s *ChainStore) GetByInvoiceNumber(_ context.Context, issuerNIF, invoiceNumber string) (*entity.InvoiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.IssuerNIF == issuerNIF && r.InvoiceNumber == invoiceNumber {
			return clone(r), nil
		}
	}
	return nil, nil
}

// List registros más recientes primero, con filtro por estado y paginación.
func (s *ChainStore) List(_ context.Context, f entity.RecordFilter) ([]*entity.InvoiceRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*entity.InvoiceRecord
	for _, r := range s.records {
		if f.IssuerNIF != "" && r.IssuerNIF != f.IssuerNIF {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].IssuerNIF != all[j].IssuerNIF {
			return all[i].IssuerNIF < all[j].IssuerNIF
		}
		return all[i].ChainSeq > all[j].ChainSeq
	})

	total := len(all)
	if f.Offset > 0 {
		if f.Offset >= len(all) {
			all = nil
		} else {
			all = all[f.Offset:]
		}
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	out := make([]*entity.InvoiceRecord, 0, len(all))
	for _, r := range all {
		out = append(out, clone(r))
	}
	return out, total, nil
}

// ListChain registros del emisor en orden de cadena.
func (s *ChainStore) ListChain(_ context.Context, issuerNIF string) ([]*entity.InvoiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.InvoiceRecord
	for _, r := range s.records {
		if r.IssuerNIF == issuerNIF {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainSeq < out[j].ChainSeq })
	return out, nil
}

// CountRectifications rectificativas que apuntan a originalID.
func (s *ChainStore) CountRectifications(_ context.Context, originalID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.records {
		if r.OriginalInvoiceID == originalID {
			n++
		}
	}
	return n, nil
}

// TransitionStatus compare-and-set del estado.
func (s *ChainStore) TransitionStatus(_ context.Context, id string, from []entity.RecordStatus, to entity.RecordStatus, outcome *entity.SubmissionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	allowed := false
	for _, st := range from {
		if r.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.ErrIllegalTransition
	}
	r.Status = to
	if outcome != nil {
		r.AEATErrorCode = outcome.ErrorCode
		r.AEATErrorMessage = outcome.ErrorMessage
		r.AEATResponse = outcome.RawResponse
		r.AEATCSV = outcome.CSV
		if !outcome.SubmittedAt.IsZero() {
			at := outcome.SubmittedAt
			r.SubmittedAt = &at
		}
	}
	r.UpdatedAt = s.now()
	return nil
}

// Stats recuento por estado.
func (s *ChainStore) Stats(_ context.Context, issuerNIF string) (*entity.RecordStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &entity.RecordStats{ByStatus: make(map[entity.RecordStatus]int), AcceptedAmount: decimal.Zero}
	for _, st := range entity.AllRecordStatuses {
		stats.ByStatus[st] = 0
	}
	for _, r := range s.records {
		if issuerNIF != "" && r.IssuerNIF != issuerNIF {
			continue
		}
		stats.Total++
		stats.ByStatus[r.Status]++
		if r.Status == entity.RecordStatusAccepted {
			stats.AcceptedAmount = stats.AcceptedAmount.Add(r.TotalAmount)
		}
	}
	return stats, nil
}

// clone copia superficial más punteros propios, para que los llamadores no muten el almacén.
func clone(r *entity.InvoiceRecord) *entity.InvoiceRecord {
	c := *r
	if r.PreviousHash != nil {
		h := *r.PreviousHash
		c.PreviousHash = &h
	}
	if r.PreviousInvoiceDate != nil {
		d := *r.PreviousInvoiceDate
		c.PreviousInvoiceDate = &d
	}
	if r.SubmittedAt != nil {
		at := *r.SubmittedAt
		c.SubmittedAt = &at
	}
	if r.Rectification != nil {
		rect := *r.Rectification
		c.Rectification = &rect
	}
	return &c
}
