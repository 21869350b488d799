package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/salesledger/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// ErrOutboxMessageNotFound возвращается при обновлении неизвестного сообщения.
var ErrOutboxMessageNotFound = errors.New("outbox message not found")

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	seq        uint64
	status     string
	attemptCnt int
	updatedAt  time.Time
}

type outboxTable struct {
	seq     uint64
	records map[string]*outboxRecord
}

func newOutboxTable() *outboxTable {
	return &outboxTable{records: make(map[string]*outboxRecord)}
}

func (t *outboxTable) insert(msg domain.OutboxMessage, now time.Time) {
	t.seq++
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	t.records[msg.ID] = &outboxRecord{
		msg:       msg,
		seq:       t.seq,
		status:    outboxStatusPending,
		updatedAt: now,
	}
}

func (t *outboxTable) pending() []*outboxRecord {
	result := make([]*outboxRecord, 0, len(t.records))
	for _, rec := range t.records {
		if rec.status == outboxStatusPending {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

// OutboxRepository — сторона outbox для worker: чтение pending и смена статусов.
type OutboxRepository struct {
	store *Store
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке фиксации.
func (r *OutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	pending := r.store.outbox.pending()
	if len(pending) > limit {
		pending = pending[:limit]
	}
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (r *OutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxStats{}, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	pending := r.store.outbox.pending()
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].msg.CreatedAt
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.mark(ctx, id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.mark(ctx, id, outboxStatusFailed)
}

func (r *OutboxRepository) mark(ctx context.Context, id, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	record, ok := r.store.outbox.records[id]
	if !ok {
		return ErrOutboxMessageNotFound
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = r.store.now()
	return nil
}

// AllPending возвращает копию всех сообщений со статусом `pending` (используется в тестах).
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	pending := r.store.outbox.pending()
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
