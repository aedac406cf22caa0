package labflow

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// memStore is a minimal in-memory Store used only by this package's own
// tests, standing in for a real SQL-backed adapter.
type memStore struct {
	mu sync.Mutex

	workflows   map[string]WorkflowRecord
	nextPK      int64
	steps       map[string]map[string]StepRecord // workflowID -> name -> step
	stepsByID   map[string]string                 // stepID -> workflowID/name key
	calcAttach  map[string][]string                // stepID -> calc IDs
	subAttach   map[string][]string                // stepID -> sub workflow IDs
	params      map[string]map[string]string
	attrs       map[string]map[string]string
	results     map[string]map[string]string
	reports     map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		workflows:  make(map[string]WorkflowRecord),
		steps:      make(map[string]map[string]StepRecord),
		stepsByID:  make(map[string]string),
		calcAttach: make(map[string][]string),
		subAttach:  make(map[string][]string),
		params:     make(map[string]map[string]string),
		attrs:      make(map[string]map[string]string),
		results:    make(map[string]map[string]string),
		reports:    make(map[string]string),
	}
}

func (m *memStore) Init(ctx context.Context) error { return nil }
func (m *memStore) Close() error                   { return nil }

func (m *memStore) CreateWorkflow(ctx context.Context, w WorkflowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPK++
	w.PK = m.nextPK
	m.workflows[w.ID] = w
	return nil
}

func (m *memStore) GetWorkflow(ctx context.Context, id string) (WorkflowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[id]
	if !ok {
		return WorkflowRecord{}, &NotExistent{Kind: "workflow", ID: id}
	}
	return w, nil
}

func (m *memStore) GetWorkflowByPK(ctx context.Context, pk int64) (WorkflowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workflows {
		if w.PK == pk {
			return w, nil
		}
	}
	return WorkflowRecord{}, &NotExistent{Kind: "workflow", ID: fmt.Sprintf("pk:%d", pk)}
}

func (m *memStore) UpdateWorkflow(ctx context.Context, w WorkflowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[w.ID]; !ok {
		return &NotExistent{Kind: "workflow", ID: w.ID}
	}
	m.workflows[w.ID] = w
	return nil
}

func (m *memStore) ListWorkflows(ctx context.Context, user string, status []State) ([]WorkflowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WorkflowRecord
	for _, w := range m.workflows {
		if user != "" && w.User != user {
			continue
		}
		if len(status) > 0 && !containsState(status, w.Status) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PK < out[j].PK })
	return out, nil
}

func (m *memStore) ListRootWorkflows(ctx context.Context, user string, includeFinished bool) ([]WorkflowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WorkflowRecord
	for _, w := range m.workflows {
		if user != "" && w.User != user {
			continue
		}
		if w.IsSubworkflow() {
			continue
		}
		if !includeFinished && w.Status == StateFinished {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PK < out[j].PK })
	return out, nil
}

func (m *memStore) ParentStep(ctx context.Context, workflowID string) (StepRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[workflowID]
	if !ok || w.ParentStepID == nil {
		return StepRecord{}, false, nil
	}
	key, ok := m.stepsByID[*w.ParentStepID]
	if !ok {
		return StepRecord{}, false, nil
	}
	parts := strings.SplitN(key, "/", 2)
	step, ok := m.steps[parts[0]][parts[1]]
	return step, ok, nil
}

func (m *memStore) CreateStep(ctx context.Context, s StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.steps[s.WorkflowID] == nil {
		m.steps[s.WorkflowID] = make(map[string]StepRecord)
	}
	m.steps[s.WorkflowID][s.Name] = s
	m.stepsByID[s.ID] = s.WorkflowID + "/" + s.Name
	return nil
}

func (m *memStore) GetStep(ctx context.Context, workflowID, name string) (StepRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.steps[workflowID][name]
	return s, ok, nil
}

func (m *memStore) UpdateStep(ctx context.Context, s StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.steps[s.WorkflowID] == nil {
		return &NotExistent{Kind: "step", ID: s.ID}
	}
	m.steps[s.WorkflowID][s.Name] = s
	return nil
}

func (m *memStore) ListSteps(ctx context.Context, workflowID string, status []State) ([]StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StepRecord
	for _, s := range m.steps[workflowID] {
		if len(status) > 0 && !containsState(status, s.Status) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) AppendCalculationAttachment(ctx context.Context, stepID, calcID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calcAttach[stepID] = append(m.calcAttach[stepID], calcID)
	return nil
}

func (m *memStore) AppendSubworkflowAttachment(ctx context.Context, stepID, childWorkflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subAttach[stepID] = append(m.subAttach[stepID], childWorkflowID)
	return nil
}

func (m *memStore) ClearStepAttachments(ctx context.Context, stepID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.calcAttach, stepID)
	delete(m.subAttach, stepID)
	return nil
}

func (m *memStore) StepCalculations(ctx context.Context, stepID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calcAttach[stepID]...), nil
}

func (m *memStore) StepSubworkflows(ctx context.Context, stepID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subAttach[stepID]...), nil
}

func (m *memStore) getBag(bags map[string]map[string]string, workflowID, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := bags[workflowID][key]
	return v, ok
}

func (m *memStore) setBag(bags map[string]map[string]string, workflowID, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bags[workflowID] == nil {
		bags[workflowID] = make(map[string]string)
	}
	bags[workflowID][key] = value
}

func (m *memStore) GetParam(ctx context.Context, workflowID, key string) (string, bool, error) {
	v, ok := m.getBag(m.params, workflowID, key)
	return v, ok, nil
}
func (m *memStore) SetParam(ctx context.Context, workflowID, key, value string, force bool) error {
	m.setBag(m.params, workflowID, key, value)
	return nil
}
func (m *memStore) GetAttr(ctx context.Context, workflowID, key string) (string, bool, error) {
	v, ok := m.getBag(m.attrs, workflowID, key)
	return v, ok, nil
}
func (m *memStore) SetAttr(ctx context.Context, workflowID, key, value string) error {
	m.setBag(m.attrs, workflowID, key, value)
	return nil
}
func (m *memStore) GetResult(ctx context.Context, workflowID, key string) (string, bool, error) {
	v, ok := m.getBag(m.results, workflowID, key)
	return v, ok, nil
}
func (m *memStore) SetResult(ctx context.Context, workflowID, key, value string) error {
	m.setBag(m.results, workflowID, key, value)
	return nil
}

func (m *memStore) AppendReport(ctx context.Context, workflowID, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reports[workflowID] == "" {
		m.reports[workflowID] = line
	} else {
		m.reports[workflowID] += "\n" + line
	}
	return nil
}
func (m *memStore) GetReport(ctx context.Context, workflowID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[workflowID], nil
}
func (m *memStore) ClearReport(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reports, workflowID)
	return nil
}

func containsState(list []State, s State) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// memRepo is an in-memory Repository used only by this package's tests.
type memRepo struct {
	mu      sync.Mutex
	seq     int
	folders map[string]map[string]string // folder -> rel path -> content marker
}

func newMemRepo() *memRepo {
	return &memRepo{folders: make(map[string]map[string]string)}
}

func (r *memRepo) MakeTempFolder(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	folder := fmt.Sprintf("tmp/%d", r.seq)
	r.folders[folder] = make(map[string]string)
	return folder, nil
}

func (r *memRepo) MoveInto(ctx context.Context, tempFolder, section, uuid string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dst := filepath.ToSlash(filepath.Join(section, uuid))
	r.folders[dst] = r.folders[tempFolder]
	if r.folders[dst] == nil {
		r.folders[dst] = make(map[string]string)
	}
	delete(r.folders, tempFolder)
	return dst, nil
}

func (r *memRepo) InsertPath(ctx context.Context, folder, srcAbs, dstRel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.folders[folder] == nil {
		r.folders[folder] = make(map[string]string)
	}
	r.folders[folder][dstRel] = srcAbs
	return nil
}

func (r *memRepo) RemovePath(ctx context.Context, folder, rel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.folders[folder], rel)
	return nil
}

func (r *memRepo) AbsPath(folder, rel string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.folders[folder][rel]
	if !ok {
		return "", &NotExistent{Kind: "path", ID: rel}
	}
	return v, nil
}

func (r *memRepo) List(ctx context.Context, folder, relDir string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for rel := range r.folders[folder] {
		if strings.HasPrefix(rel, relDir) {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out, nil
}

// fakeCalc is a test Calculation that starts non-terminal and only
// becomes terminal once Kill or SetFinished has been called.
type fakeCalc struct {
	mu       sync.Mutex
	id       string
	terminal bool
	killed   bool
}

func (c *fakeCalc) ID() string { return c.id }
func (c *fakeCalc) Kill(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killed = true
	c.terminal = true
	return nil
}
func (c *fakeCalc) SetFinished(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminal = true
	return nil
}
func (c *fakeCalc) IsTerminal(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal, nil
}

type fakeCalcSource struct {
	mu    sync.Mutex
	calcs map[string]*fakeCalc
}

func newFakeCalcSource() *fakeCalcSource {
	return &fakeCalcSource{calcs: make(map[string]*fakeCalc)}
}

func (s *fakeCalcSource) new(id string) *fakeCalc {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &fakeCalc{id: id}
	s.calcs[id] = c
	return c
}

func (s *fakeCalcSource) Calculation(ctx context.Context, id string) (Calculation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calcs[id]
	if !ok {
		return nil, &NotExistent{Kind: "calculation", ID: id}
	}
	return c, nil
}
