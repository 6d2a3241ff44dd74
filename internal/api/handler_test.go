package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/altiusproxy/slurmgate/internal/job"
	"github.com/altiusproxy/slurmgate/internal/notify"
	"github.com/altiusproxy/slurmgate/internal/registration"
	"github.com/altiusproxy/slurmgate/internal/registry"
	"github.com/altiusproxy/slurmgate/internal/scheduler"
)

type fakeStore struct {
	mu   sync.Mutex
	jobs map[int64]*job.Job
}

func newFakeStore() *fakeStore { return &fakeStore{jobs: make(map[int64]*job.Job)} }

func (s *fakeStore) Insert(ctx context.Context, j *job.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.JobID]; ok {
		return false, nil
	}
	s.jobs[j.JobID] = j
	return true, nil
}

func (s *fakeStore) Find(ctx context.Context, jobID int64) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID], nil
}

func (s *fakeStore) UpdateState(ctx context.Context, jobID int64, newState job.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return false, nil
	}
	j.State = newState
	return true, nil
}

func (s *fakeStore) Delete(ctx context.Context, jobID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return false, nil
	}
	delete(s.jobs, jobID)
	return true, nil
}

func (s *fakeStore) DeleteAndReturn(ctx context.Context, jobID int64) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	delete(s.jobs, jobID)
	return j, nil
}

func (s *fakeStore) Iterate(ctx context.Context) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

type fakeScheduler struct {
	mu          sync.Mutex
	nextJobID   int64
	snapshots   map[int64]scheduler.JobSnapshot
	submitErr   error
	cancelErr   error
	cancelCalls int
}

func (f *fakeScheduler) Submit(ctx context.Context, cmdScript string) (int64, error) {
	if f.submitErr != nil {
		return scheduler.BadJobID, f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextJobID++
	return f.nextJobID, nil
}

func (f *fakeScheduler) QueryJob(ctx context.Context, jobID int64) (scheduler.JobSnapshot, error) {
	snap, ok := f.snapshots[jobID]
	if !ok {
		return scheduler.JobSnapshot{}, scheduler.ErrJobNotFound
	}
	return snap, nil
}

func (f *fakeScheduler) QueryByState(ctx context.Context, state job.Status) ([]scheduler.JobSnapshot, error) {
	var out []scheduler.JobSnapshot
	for _, s := range f.snapshots {
		if s.State == state {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, jobID int64) error {
	f.mu.Lock()
	f.cancelCalls++
	f.mu.Unlock()
	return f.cancelErr
}

type nopNotifier struct{}

func (nopNotifier) Notify(ctx context.Context, routingKey string, change notify.StatusChange) {}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.Default()
	if err != nil {
		t.Fatalf("registry.Default: %v", err)
	}
	return r
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeStore, *fakeScheduler) {
	t.Helper()
	store := newFakeStore()
	sched := &fakeScheduler{snapshots: map[int64]scheduler.JobSnapshot{}}
	reg := testRegistry(t)
	registrar := registration.New(store, sched, reg, nopNotifier{})

	h := NewHandler(store, sched, reg, registrar)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store, sched
}

func doRequest(t *testing.T, srv *httptest.Server, method, path string, body []byte) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPing(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)
	resp := doRequest(t, srv, http.MethodGet, "/ping", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func validSubmitBody() []byte {
	body, _ := json.Marshal(map[string]any{
		"task": map[string]any{
			"name":   "echo_hello_world",
			"params": []string{"hi"},
			"uuid":   "123e4567-e89b-12d3-a456-426614174000",
			"slurm": map[string]any{
				"job_name":  "job1",
				"partition": "queue0",
			},
			"dirs": map[string]any{
				"input":  "/data/in",
				"output": "/data/out",
				"error":  "/data/err",
			},
		},
	})
	return body
}

func TestSubmit_ValidTaskReturns200WithTaskEnvelope(t *testing.T) {
	t.Parallel()
	srv, store, _ := newTestServer(t)
	resp := doRequest(t, srv, http.MethodPost, "/submit/", validSubmitBody())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got job.TaskEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "echo_hello_world" {
		t.Errorf("Name = %q, want echo_hello_world", got.Name)
	}
	if len(store.jobs) != 1 {
		t.Errorf("len(store.jobs) = %d, want 1", len(store.jobs))
	}
}

func TestSubmit_UnregisteredTaskReturns400(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{
		"task": map[string]any{
			"name":   "not_a_task",
			"params": []string{},
			"uuid":   "123e4567-e89b-12d3-a456-426614174000",
			"slurm": map[string]any{
				"job_name":  "job1",
				"partition": "queue0",
			},
			"dirs": map[string]any{"input": "/in", "output": "/out", "error": "/err"},
		},
	})
	resp := doRequest(t, srv, http.MethodPost, "/submit/", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmit_InvalidEnvelopeReturns400(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"task": map[string]any{}})
	resp := doRequest(t, srv, http.MethodPost, "/submit/", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmit_SchedulerFailureReturns400(t *testing.T) {
	t.Parallel()
	srv, store, sched := newTestServer(t)
	sched.submitErr = errors.New("sbatch: error: invalid partition")
	resp := doRequest(t, srv, http.MethodPost, "/submit/", validSubmitBody())
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if len(store.jobs) != 0 {
		t.Errorf("len(store.jobs) = %d, want 0 (a failed submission must not be tracked)", len(store.jobs))
	}
}

func TestSubmit_UnknownFieldReturns400(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]any{
		"task": map[string]any{
			"name":        "echo_hello_world",
			"params":      []string{"hi"},
			"uuid":        "123e4567-e89b-12d3-a456-426614174000",
			"bogus_field": "should be rejected",
			"slurm": map[string]any{
				"job_name":  "job1",
				"partition": "queue0",
			},
			"dirs": map[string]any{"input": "/data/in", "output": "/data/out", "error": "/data/err"},
		},
	})
	resp := doRequest(t, srv, http.MethodPost, "/submit/", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMonitorCreate_UnknownFieldReturns400(t *testing.T) {
	t.Parallel()
	srv, _, sched := newTestServer(t)
	sched.snapshots[321] = scheduler.JobSnapshot{JobID: 321, State: job.StatusRunning}
	body, _ := json.Marshal(map[string]any{
		"job": map[string]any{
			"slurm_job_id": 321,
			"task":         map[string]any{"name": "echo_hello_world"},
		},
		"bogus_field": "should be rejected",
	})
	resp := doRequest(t, srv, http.MethodPost, "/monitor/", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMonitorGetByJobID_NotFoundReturns404(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)
	resp := doRequest(t, srv, http.MethodGet, "/monitor/slurm_job_id/999", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMonitorGetByJobID_Found(t *testing.T) {
	t.Parallel()
	srv, _, sched := newTestServer(t)
	sched.snapshots[5] = scheduler.JobSnapshot{JobID: 5, State: job.StatusRunning}
	resp := doRequest(t, srv, http.MethodGet, "/monitor/slurm_job_id/5", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMonitorGetByState_UnknownStateReturns400(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)
	resp := doRequest(t, srv, http.MethodGet, "/monitor/slurm_state/BOGUS", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMonitorGetByState_KnownState(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)
	resp := doRequest(t, srv, http.MethodGet, "/monitor/slurm_state/RUNNING", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMonitorStatusTable_ReturnsKnownStates(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)
	resp := doRequest(t, srv, http.MethodGet, "/monitor/slurm_status_table", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		States map[string]struct {
			Code        string `json:"Code"`
			Explanation string `json:"Explanation"`
		} `json:"states"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	entry, ok := body.States["RUNNING"]
	if !ok {
		t.Fatal("status table missing RUNNING")
	}
	if entry.Code != "R" {
		t.Errorf("RUNNING code = %q, want R", entry.Code)
	}
}

// TestMonitorCreate_ConcurrentDoubleRegisterYieldsOneRecord verifies that a
// race to register the same job id resolves to exactly one stored record,
// never two and never zero.
func TestMonitorCreate_ConcurrentDoubleRegisterYieldsOneRecord(t *testing.T) {
	t.Parallel()
	srv, store, sched := newTestServer(t)
	sched.snapshots[321] = scheduler.JobSnapshot{JobID: 321, State: job.StatusRunning}

	body, _ := json.Marshal(map[string]any{
		"job": map[string]any{
			"slurm_job_id": 321,
			"task":         map[string]any{"name": "echo_hello_world"},
		},
	})

	const racers = 8
	var wg sync.WaitGroup
	statuses := make([]int, racers)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			resp := doRequest(t, srv, http.MethodPost, "/monitor/", body)
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for _, s := range statuses {
		if s != http.StatusOK {
			t.Errorf("registration status = %d, want 200", s)
		}
	}
	store.mu.Lock()
	n := len(store.jobs)
	store.mu.Unlock()
	if n != 1 {
		t.Errorf("records in store = %d, want exactly 1 (for job 321)", n)
	}
}

func TestMonitorDelete_NotFoundReturns404(t *testing.T) {
	t.Parallel()
	srv, _, sched := newTestServer(t)
	resp := doRequest(t, srv, http.MethodDelete, "/monitor/slurm_job_id/42", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	sched.mu.Lock()
	calls := sched.cancelCalls
	sched.mu.Unlock()
	if calls != 0 {
		t.Errorf("cancelCalls = %d, want 0 (jobs not under management must not be cancelled)", calls)
	}
}

func TestMonitorDelete_CancelFailureReturns400(t *testing.T) {
	t.Parallel()
	srv, store, sched := newTestServer(t)
	store.jobs[9] = &job.Job{JobID: 9, State: job.StatusRunning, Task: job.TaskEnvelope{Name: "echo_hello_world"}}
	sched.cancelErr = errors.New("scancel: error: kill job error")
	resp := doRequest(t, srv, http.MethodDelete, "/monitor/slurm_job_id/9", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if _, ok := store.jobs[9]; !ok {
		t.Error("record must remain tracked when scheduler-side cancel fails")
	}
}

// TestMonitorGetByJobID_TestSentinel drives the reserved synthetic job id
// through the real SSH client's short-circuit: no network, fixed COMPLETED
// snapshot.
func TestMonitorGetByJobID_TestSentinel(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	reg := testRegistry(t)
	sshc := &scheduler.SSHClient{}
	registrar := registration.New(store, sshc, reg, nopNotifier{})

	h := NewHandler(store, sshc, reg, registrar)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp := doRequest(t, srv, http.MethodGet, "/monitor/slurm_job_id/123", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Scheduler struct {
			JobID int64      `json:"job_id"`
			State job.Status `json:"state"`
		} `json:"scheduler"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Scheduler.State != job.StatusCompleted {
		t.Errorf("scheduler.state = %q, want COMPLETED", body.Scheduler.State)
	}
}

func TestMonitorDelete_RemovesRecord(t *testing.T) {
	t.Parallel()
	srv, store, _ := newTestServer(t)
	store.jobs[7] = &job.Job{JobID: 7, State: job.StatusRunning, Task: job.TaskEnvelope{Name: "echo_hello_world"}}
	resp := doRequest(t, srv, http.MethodDelete, "/monitor/slurm_job_id/7", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if _, ok := store.jobs[7]; ok {
		t.Error("record should have been deleted")
	}
}
