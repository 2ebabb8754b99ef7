package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/repository"
)

// ── fake clock ───────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ── fake directory ───────────────────────────────────────────────────────────

type fakeDirectory struct {
	mu       sync.Mutex
	actors   map[string]bool
	managers map[string]string // actor -> manager
	heads    map[string]string // department -> head
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		actors:   make(map[string]bool),
		managers: make(map[string]string),
		heads:    make(map[string]string),
	}
}

func (d *fakeDirectory) addActor(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors[id] = true
}

func (d *fakeDirectory) setManager(actor, manager string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors[actor] = true
	d.actors[manager] = true
	d.managers[actor] = manager
}

func (d *fakeDirectory) setDepartmentHead(dept, head string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors[head] = true
	d.heads[dept] = head
}

func (d *fakeDirectory) GetManager(_ context.Context, actorID string) (*string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.managers[actorID]; ok {
		return &m, nil
	}
	return nil, nil
}

func (d *fakeDirectory) GetDepartmentHead(_ context.Context, departmentID string) (*string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.heads[departmentID]; ok {
		return &h, nil
	}
	return nil, nil
}

func (d *fakeDirectory) ActorExists(_ context.Context, actorID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.actors[actorID], nil
}

// ── recording notifier ───────────────────────────────────────────────────────

type notification struct {
	EventType  string
	ActorID    string
	Title      string
	Message    string
	RelatedID  string
	RelatedTyp string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (n *recordingNotifier) Notify(_ context.Context, eventType, actorID, title, message, relatedID, relatedType string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{
		EventType:  eventType,
		ActorID:    actorID,
		Title:      title,
		Message:    message,
		RelatedID:  relatedID,
		RelatedTyp: relatedType,
	})
}

func (n *recordingNotifier) byType(eventType string) []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification
	for _, e := range n.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

// ── recording entity status updater ──────────────────────────────────────────

type recordingUpdater struct {
	mu       sync.Mutex
	approved []string
	rejected map[string]string // entity -> comments
	err      error
}

func newRecordingUpdater() *recordingUpdater {
	return &recordingUpdater{rejected: make(map[string]string)}
}

func (u *recordingUpdater) OnApproved(_ context.Context, entityID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.approved = append(u.approved, entityID)
	return nil
}

func (u *recordingUpdater) OnRejected(_ context.Context, entityID string, comments string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.rejected[entityID] = comments
	return nil
}

// ── in-memory workflow store ─────────────────────────────────────────────────

type memWorkflowStore struct {
	mu        sync.Mutex
	items     map[string]*repository.WorkflowInstance
	clock     Clock
	requests  *memRequestStore
	deadlines *memDeadlineStore
}

func newMemWorkflowStore(clock Clock, requests *memRequestStore, deadlines *memDeadlineStore) *memWorkflowStore {
	return &memWorkflowStore{
		items:     make(map[string]*repository.WorkflowInstance),
		clock:     clock,
		requests:  requests,
		deadlines: deadlines,
	}
}

func copyWorkflow(wf *repository.WorkflowInstance) *repository.WorkflowInstance {
	out := *wf
	out.Context = make(map[repository.ContextKey]string, len(wf.Context))
	for k, v := range wf.Context {
		out.Context[k] = v
	}
	return &out
}

func (s *memWorkflowStore) Create(_ context.Context, wf *repository.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf.ID = uuid.NewString()
	wf.CreatedAt = s.clock.Now()
	wf.UpdatedAt = wf.CreatedAt
	s.items[wf.ID] = copyWorkflow(wf)
	return nil
}

// CreateSubmission mirrors the transactional repository method: either every
// row lands or none does, so the injected failure is probed up front.
func (s *memWorkflowStore) CreateSubmission(ctx context.Context, wf *repository.WorkflowInstance, req *repository.ApprovalRequest, d *repository.WorkflowDeadline) error {
	if err := s.requests.failCreate; err != nil {
		return err
	}
	if err := s.Create(ctx, wf); err != nil {
		return err
	}
	req.WorkflowID = wf.ID
	if err := s.requests.Create(ctx, req); err != nil {
		return err
	}
	d.WorkflowID = wf.ID
	return s.deadlines.Create(ctx, d)
}

func (s *memWorkflowStore) GetByID(_ context.Context, id string) (*repository.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.items[id]
	if !ok {
		return nil, errors.NotFound("workflow_instance", id)
	}
	return copyWorkflow(wf), nil
}

func (s *memWorkflowStore) FindActiveByEntityID(_ context.Context, entityID string) ([]*repository.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.WorkflowInstance
	for _, wf := range s.items {
		if wf.EntityID == entityID && !wf.Status.IsTerminal() {
			out = append(out, copyWorkflow(wf))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memWorkflowStore) mutate(id string, fn func(*repository.WorkflowInstance)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.items[id]
	if !ok {
		return errors.NotFound("workflow_instance", id)
	}
	fn(wf)
	wf.UpdatedAt = s.clock.Now()
	return nil
}

func (s *memWorkflowStore) UpdateStatus(_ context.Context, id string, status repository.WorkflowStatus) error {
	return s.mutate(id, func(wf *repository.WorkflowInstance) { wf.Status = status })
}

func (s *memWorkflowStore) UpdateState(_ context.Context, id, state string) error {
	return s.mutate(id, func(wf *repository.WorkflowInstance) { wf.CurrentState = state })
}

func (s *memWorkflowStore) Assign(_ context.Context, id string, assignee *string) error {
	return s.mutate(id, func(wf *repository.WorkflowInstance) { wf.Assignee = assignee })
}

func (s *memWorkflowStore) UpdateDueDate(_ context.Context, id string, dueDate *time.Time) error {
	return s.mutate(id, func(wf *repository.WorkflowInstance) { wf.DueDate = dueDate })
}

func (s *memWorkflowStore) UpsertContext(_ context.Context, id string, key repository.ContextKey, value string) error {
	return s.mutate(id, func(wf *repository.WorkflowInstance) {
		if wf.Context == nil {
			wf.Context = make(map[repository.ContextKey]string)
		}
		wf.Context[key] = value
	})
}

// ── in-memory approval request store ─────────────────────────────────────────

type memRequestStore struct {
	mu         sync.Mutex
	items      map[string]*repository.ApprovalRequest
	clock      Clock
	failCreate error
}

func newMemRequestStore(clock Clock) *memRequestStore {
	return &memRequestStore{items: make(map[string]*repository.ApprovalRequest), clock: clock}
}

func copyRequest(req *repository.ApprovalRequest) *repository.ApprovalRequest {
	out := *req
	out.Chain = append([]repository.ChainLevel(nil), req.Chain...)
	return &out
}

func (s *memRequestStore) Create(_ context.Context, req *repository.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return s.failCreate
	}
	req.ID = uuid.NewString()
	req.CreatedAt = s.clock.Now()
	req.UpdatedAt = req.CreatedAt
	s.items[req.ID] = copyRequest(req)
	return nil
}

func (s *memRequestStore) GetByID(_ context.Context, id string) (*repository.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.items[id]
	if !ok {
		return nil, errors.NotFound("approval_request", id)
	}
	return copyRequest(req), nil
}

func (s *memRequestStore) FindActiveByEntity(_ context.Context, entityID string, approvalType repository.ApprovalType) (*repository.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.items {
		if req.EntityID == entityID && req.ApprovalType == approvalType && !req.Status.IsTerminal() {
			return copyRequest(req), nil
		}
	}
	return nil, nil
}

func (s *memRequestStore) mutate(id string, fn func(*repository.ApprovalRequest)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.items[id]
	if !ok {
		return errors.NotFound("approval_request", id)
	}
	fn(req)
	req.UpdatedAt = s.clock.Now()
	return nil
}

func (s *memRequestStore) Advance(_ context.Context, id string, level int, approver string, dueDate *time.Time) error {
	return s.mutate(id, func(req *repository.ApprovalRequest) {
		req.CurrentLevel = level
		req.Approver = &approver
		req.DueDate = dueDate
		req.Status = repository.RequestStatusPendingApproval
	})
}

func (s *memRequestStore) Decide(_ context.Context, id string, status repository.RequestStatus, decidedAt *time.Time, comments *string) error {
	return s.mutate(id, func(req *repository.ApprovalRequest) {
		req.Status = status
		req.DecidedAt = decidedAt
		req.ApproverComments = comments
	})
}

func (s *memRequestStore) SetApprover(_ context.Context, id, approver string) error {
	return s.mutate(id, func(req *repository.ApprovalRequest) { req.Approver = &approver })
}

func (s *memRequestStore) ListPendingForApprover(_ context.Context, approverID string, page, pageSize int) ([]*repository.ApprovalRequest, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*repository.ApprovalRequest
	for _, req := range s.items {
		if req.Approver != nil && *req.Approver == approverID && req.Status == repository.RequestStatusPendingApproval {
			all = append(all, copyRequest(req))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SubmittedAt.Before(all[j].SubmittedAt) })
	return paginate(all, page, pageSize), int64(len(all)), nil
}

func (s *memRequestStore) CountPendingForApprover(_ context.Context, approverID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, req := range s.items {
		if req.Approver != nil && *req.Approver == approverID && req.Status == repository.RequestStatusPendingApproval {
			count++
		}
	}
	return count, nil
}

func (s *memRequestStore) ListByRequestor(_ context.Context, requestorID string, page, pageSize int) ([]*repository.ApprovalRequest, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*repository.ApprovalRequest
	for _, req := range s.items {
		if req.Requestor == requestorID {
			all = append(all, copyRequest(req))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SubmittedAt.After(all[j].SubmittedAt) })
	return paginate(all, page, pageSize), int64(len(all)), nil
}

func paginate(all []*repository.ApprovalRequest, page, pageSize int) []*repository.ApprovalRequest {
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

// ── in-memory chain config store ─────────────────────────────────────────────

type memChainStore struct {
	mu      sync.Mutex
	configs []*repository.ApprovalChainConfig
}

func (s *memChainStore) add(cfg *repository.ApprovalChainConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	s.configs = append(s.configs, cfg)
}

func (s *memChainStore) ListActiveByType(_ context.Context, approvalType repository.ApprovalType) ([]*repository.ApprovalChainConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.ApprovalChainConfig
	for _, cfg := range s.configs {
		if cfg.ApprovalType == approvalType && cfg.IsActive {
			c := *cfg
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

// ── in-memory deadline store ─────────────────────────────────────────────────

type memDeadlineStore struct {
	mu    sync.Mutex
	items map[string]*repository.WorkflowDeadline
	clock Clock
}

func newMemDeadlineStore(clock Clock) *memDeadlineStore {
	return &memDeadlineStore{items: make(map[string]*repository.WorkflowDeadline), clock: clock}
}

func copyDeadline(d *repository.WorkflowDeadline) *repository.WorkflowDeadline {
	out := *d
	return &out
}

func (s *memDeadlineStore) Create(_ context.Context, d *repository.WorkflowDeadline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = uuid.NewString()
	d.Version = 1
	d.CreatedAt = s.clock.Now()
	d.UpdatedAt = d.CreatedAt
	s.items[d.ID] = copyDeadline(d)
	return nil
}

func (s *memDeadlineStore) GetByID(_ context.Context, id string) (*repository.WorkflowDeadline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.items[id]
	if !ok {
		return nil, errors.NotFound("workflow_deadline", id)
	}
	return copyDeadline(d), nil
}

func (s *memDeadlineStore) Reschedule(_ context.Context, id string, deadlineAt time.Time, warningAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.items[id]
	if !ok {
		return errors.NotFound("workflow_deadline", id)
	}
	d.DeadlineAt = deadlineAt
	d.WarningAt = warningAt
	d.WarningSent = false
	d.OverdueSent = false
	d.Version++
	d.UpdatedAt = s.clock.Now()
	return nil
}

func (s *memDeadlineStore) Complete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.items[id]
	if !ok {
		return errors.NotFound("workflow_deadline", id)
	}
	d.Completed = true
	d.Version++
	return nil
}

func (s *memDeadlineStore) CompleteForWorkflow(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.items {
		if d.WorkflowID == workflowID && !d.Completed {
			d.Completed = true
			d.Version++
		}
	}
	return nil
}

func (s *memDeadlineStore) ListWarningDue(_ context.Context, now time.Time) ([]*repository.WorkflowDeadline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.WorkflowDeadline
	for _, d := range s.items {
		if !d.Completed && !d.WarningSent && d.WarningAt != nil && !d.WarningAt.After(now) {
			out = append(out, copyDeadline(d))
		}
	}
	return out, nil
}

func (s *memDeadlineStore) ListOverdue(_ context.Context, now time.Time) ([]*repository.WorkflowDeadline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.WorkflowDeadline
	for _, d := range s.items {
		if !d.Completed && !d.DeadlineAt.After(now) {
			out = append(out, copyDeadline(d))
		}
	}
	return out, nil
}

func (s *memDeadlineStore) UpdateScanState(_ context.Context, id string, warningSent, overdueSent bool, escalationLevel, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.items[id]
	if !ok {
		return errors.NotFound("workflow_deadline", id)
	}
	if d.Version != version {
		return errors.Newf(errors.ErrCodeConflict, "deadline %s was modified concurrently", id)
	}
	d.WarningSent = warningSent
	d.OverdueSent = overdueSent
	d.EscalationLevel = escalationLevel
	d.Version++
	d.UpdatedAt = s.clock.Now()
	return nil
}

// ── engine fixture ───────────────────────────────────────────────────────────

type engineFixture struct {
	clock       *fakeClock
	directory   *fakeDirectory
	notifier    *recordingNotifier
	updater     *recordingUpdater
	workflows   *memWorkflowStore
	requests    *memRequestStore
	chains      *memChainStore
	deadlines   *memDeadlineStore
	state       *WorkflowStateManager
	resolver    *ChainResolver
	monitor     *DeadlineMonitor
	coordinator *ApprovalCoordinator
}

func newEngineFixture(now time.Time) *engineFixture {
	log := logger.Nop()
	clock := newFakeClock(now)
	directory := newFakeDirectory()
	notifier := &recordingNotifier{}
	updater := newRecordingUpdater()

	requests := newMemRequestStore(clock)
	chains := &memChainStore{}
	deadlines := newMemDeadlineStore(clock)
	workflows := newMemWorkflowStore(clock, requests, deadlines)

	state := NewWorkflowStateManager(workflows, clock, log)
	resolver := NewChainResolver(chains, directory, log)
	monitor := NewDeadlineMonitor(deadlines, directory, notifier, clock, log)

	updaters := EntityStatusRegistry{
		repository.ApprovalTypeLeave:   updater,
		repository.ApprovalTypeExpense: updater,
	}

	coordinator := NewApprovalCoordinator(
		resolver, state, requests, monitor,
		directory, notifier, updaters, clock,
		CoordinatorConfig{ApprovalDueDays: 5, WarningLeadHours: 24},
		log,
	)

	return &engineFixture{
		clock:       clock,
		directory:   directory,
		notifier:    notifier,
		updater:     updater,
		workflows:   workflows,
		requests:    requests,
		chains:      chains,
		deadlines:   deadlines,
		state:       state,
		resolver:    resolver,
		monitor:     monitor,
		coordinator: coordinator,
	}
}

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func intPtr(v int) *int { return &v }
