// Package memory is an in-process implementation of the repository interfaces.
// It backs tests and single-node development runs without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/repository"
)

// Store holds every collection behind one mutex. Transactions hold the mutex
// for their whole duration and restore a snapshot when they fail.
type Store struct {
	mu   sync.Mutex
	data *dataset
}

type dataset struct {
	investors map[string]domain.Investor
	staff     map[string]domain.StaffMember
	closures  map[string]domain.ClosureRequest
	tickets   map[string]domain.SupportTicket
	actions   map[string][]domain.TicketAction
}

func newDataset() *dataset {
	return &dataset{
		investors: map[string]domain.Investor{},
		staff:     map[string]domain.StaffMember{},
		closures:  map[string]domain.ClosureRequest{},
		tickets:   map[string]domain.SupportTicket{},
		actions:   map[string][]domain.TicketAction{},
	}
}

func (d *dataset) clone() *dataset {
	out := newDataset()
	for k, v := range d.investors {
		out.investors[k] = v
	}
	for k, v := range d.staff {
		out.staff[k] = v
	}
	for k, v := range d.closures {
		out.closures[k] = v
	}
	for k, v := range d.tickets {
		out.tickets[k] = copyTicket(v)
	}
	for k, v := range d.actions {
		out.actions[k] = append([]domain.TicketAction(nil), v...)
	}
	return out
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: newDataset()}
}

type txKey struct{ store *Store }

// lock acquires the store mutex unless ctx already belongs to one of its transactions.
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{s}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithinTx implements repository.TxManager.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{s}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{s}, true)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) Investors() repository.InvestorRepository   { return investorRepo{s} }
func (s *Store) Staff() repository.StaffDirectory           { return staffRepo{s} }
func (s *Store) Closures() repository.ClosureRepository     { return closureRepo{s} }
func (s *Store) Tickets() repository.TicketRepository       { return ticketRepo{s} }
func (s *Store) Actions() repository.TicketActionRepository { return actionRepo{s} }

type investorRepo struct{ s *Store }

func (r investorRepo) Create(ctx context.Context, investor *domain.Investor) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.data.investors[investor.ID]; ok {
		return repository.ErrConflict
	}
	now := time.Now()
	investor.CreatedAt, investor.UpdatedAt = now, now
	r.s.data.investors[investor.ID] = *investor
	return nil
}

func (r investorRepo) GetByID(ctx context.Context, id string) (*domain.Investor, error) {
	defer r.s.lock(ctx)()
	investor, ok := r.s.data.investors[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &investor, nil
}

func (r investorRepo) MarkClosed(ctx context.Context, id string, closedAt time.Time) error {
	defer r.s.lock(ctx)()
	investor, ok := r.s.data.investors[id]
	if !ok {
		return repository.ErrNotFound
	}
	investor.Balance = decimal.Zero
	investor.ClosedAt = &closedAt
	investor.UpdatedAt = closedAt
	r.s.data.investors[id] = investor
	return nil
}

type staffRepo struct{ s *Store }

func (r staffRepo) Create(ctx context.Context, staff *domain.StaffMember) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.data.staff[staff.ID]; ok {
		return repository.ErrConflict
	}
	r.s.data.staff[staff.ID] = *staff
	return nil
}

func (r staffRepo) GetByID(ctx context.Context, id string) (*domain.StaffMember, error) {
	defer r.s.lock(ctx)()
	staff, ok := r.s.data.staff[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &staff, nil
}

func (r staffRepo) ListByRole(ctx context.Context, role domain.Role) ([]domain.StaffMember, error) {
	defer r.s.lock(ctx)()
	var out []domain.StaffMember
	for _, staff := range r.s.data.staff {
		if staff.Role == role && staff.Active {
			out = append(out, staff)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type closureRepo struct{ s *Store }

func (r closureRepo) Create(ctx context.Context, req *domain.ClosureRequest) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.data.closures[req.ID]; ok {
		return repository.ErrConflict
	}
	for _, existing := range r.s.data.closures {
		if existing.InvestorID == req.InvestorID && !existing.IsTerminal() && !req.IsTerminal() {
			return repository.ErrConflict
		}
	}
	r.s.data.closures[req.ID] = *req
	return nil
}

func (r closureRepo) GetByID(ctx context.Context, id string) (*domain.ClosureRequest, error) {
	defer r.s.lock(ctx)()
	req, ok := r.s.data.closures[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &req, nil
}

func (r closureRepo) CurrentForInvestor(ctx context.Context, investorID string) (*domain.ClosureRequest, error) {
	defer r.s.lock(ctx)()
	var current *domain.ClosureRequest
	for _, req := range r.s.data.closures {
		if req.InvestorID != investorID {
			continue
		}
		if current == nil || req.CreatedAt.After(current.CreatedAt) ||
			(req.CreatedAt.Equal(current.CreatedAt) && req.ID > current.ID) {
			candidate := req
			current = &candidate
		}
	}
	if current == nil {
		return nil, repository.ErrNotFound
	}
	return current, nil
}

func (r closureRepo) UpdateState(ctx context.Context, id string, state domain.ClosureState, updatedAt time.Time) error {
	defer r.s.lock(ctx)()
	req, ok := r.s.data.closures[id]
	if !ok {
		return repository.ErrNotFound
	}
	req.State = state
	req.UpdatedAt = updatedAt
	r.s.data.closures[id] = req
	return nil
}

func (r closureRepo) ListByStatus(ctx context.Context, status domain.ClosureStatus) ([]domain.ClosureRequest, error) {
	defer r.s.lock(ctx)()
	var out []domain.ClosureRequest
	for _, req := range r.s.data.closures {
		if req.Status() == status {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].ApprovalDate(), out[j].ApprovalDate()
		switch {
		case ai != nil && aj != nil && !ai.Equal(*aj):
			return ai.Before(*aj)
		case (ai == nil) != (aj == nil):
			return ai != nil
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type ticketRepo struct{ s *Store }

func (r ticketRepo) Create(ctx context.Context, ticket *domain.SupportTicket) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.data.tickets[ticket.ID]; ok {
		return repository.ErrConflict
	}
	r.s.data.tickets[ticket.ID] = copyTicket(*ticket)
	return nil
}

func (r ticketRepo) GetByID(ctx context.Context, id string) (*domain.SupportTicket, error) {
	defer r.s.lock(ctx)()
	ticket, ok := r.s.data.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copyTicket(ticket)
	return &out, nil
}

func (r ticketRepo) Update(ctx context.Context, id string, patch repository.TicketPatch) error {
	defer r.s.lock(ctx)()
	ticket, ok := r.s.data.tickets[id]
	if !ok {
		return repository.ErrNotFound
	}
	ticket = copyTicket(ticket)
	patch.Apply(&ticket)
	r.s.data.tickets[id] = ticket
	return nil
}

func (r ticketRepo) AppendResponse(ctx context.Context, id string, resp domain.TicketResponse, patch repository.TicketPatch) error {
	defer r.s.lock(ctx)()
	ticket, ok := r.s.data.tickets[id]
	if !ok {
		return repository.ErrNotFound
	}
	ticket = copyTicket(ticket)
	ticket.Responses = append(ticket.Responses, resp)
	patch.Apply(&ticket)
	r.s.data.tickets[id] = ticket
	return nil
}

func (r ticketRepo) List(ctx context.Context, filter repository.TicketFilter) ([]domain.SupportTicket, error) {
	defer r.s.lock(ctx)()
	statuses := map[domain.TicketStatus]bool{}
	for _, status := range filter.Statuses {
		statuses[status] = true
	}
	out := []domain.SupportTicket{}
	for _, ticket := range r.s.data.tickets {
		if filter.InvestorID != nil && ticket.InvestorID != *filter.InvestorID {
			continue
		}
		if len(statuses) > 0 && !statuses[ticket.Status] {
			continue
		}
		if filter.EscalatedOnly && !ticket.Escalated {
			continue
		}
		out = append(out, copyTicket(ticket))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 {
		start := filter.Offset
		if start < 0 {
			start = 0
		}
		if start > len(out) {
			start = len(out)
		}
		end := start + filter.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, nil
}

type actionRepo struct{ s *Store }

func (r actionRepo) Append(ctx context.Context, action *domain.TicketAction) error {
	defer r.s.lock(ctx)()
	r.s.data.actions[action.TicketID] = append(r.s.data.actions[action.TicketID], *action)
	return nil
}

func (r actionRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketAction, error) {
	defer r.s.lock(ctx)()
	out := append([]domain.TicketAction{}, r.s.data.actions[ticketID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r actionRepo) Last(ctx context.Context, ticketID string) (*domain.TicketAction, error) {
	defer r.s.lock(ctx)()
	actions := r.s.data.actions[ticketID]
	if len(actions) == 0 {
		return nil, repository.ErrNotFound
	}
	last := actions[len(actions)-1]
	return &last, nil
}

func copyTicket(t domain.SupportTicket) domain.SupportTicket {
	t.Responses = append([]domain.TicketResponse(nil), t.Responses...)
	t.Tags = append([]string(nil), t.Tags...)
	t.Attachments = append([]string(nil), t.Attachments...)
	return t
}
