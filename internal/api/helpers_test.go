// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskPulse Contributors

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/stretchr/testify/require"

	"github.com/taskpulse/taskpulse/internal/api"
	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/bus"
	"github.com/taskpulse/taskpulse/internal/bus/memory"
	"github.com/taskpulse/taskpulse/internal/observability"
	"github.com/taskpulse/taskpulse/internal/realtime"
	"github.com/taskpulse/taskpulse/internal/store"
	"github.com/taskpulse/taskpulse/internal/task"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testNow = time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)

// memStore is an in-memory task.Store and api.UserStore.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]store.User
	projects map[int64]store.Project
	members  map[[2]int64]string
	boards   map[int64]store.Board
	tasks    map[int64]store.Task
	comments map[int64][]store.Comment
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[int64]store.User),
		projects: make(map[int64]store.Project),
		members:  make(map[[2]int64]string),
		boards:   make(map[int64]store.Board),
		tasks:    make(map[int64]store.Task),
		comments: make(map[int64][]store.Comment),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addUser(username, role string) store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := store.User{ID: m.id(), Username: username, Role: role, CreatedAt: testNow}
	m.users[u.ID] = u
	return u
}

func (m *memStore) GetUser(_ context.Context, id int64) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.User{}, oops.Code("USER_NOT_FOUND").Wrap(store.ErrNotFound)
	}
	return u, nil
}

func (m *memStore) CreateProject(_ context.Context, name, description string, ownerID int64) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := store.Project{ID: m.id(), Name: name, Description: description, OwnerID: ownerID, CreatedAt: testNow}
	m.projects[p.ID] = p
	m.members[[2]int64{p.ID, ownerID}] = store.MemberOwner
	return p, nil
}

func (m *memStore) GetProject(_ context.Context, id int64) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return store.Project{}, oops.Code("PROJECT_NOT_FOUND").Wrap(store.ErrNotFound)
	}
	return p, nil
}

func (m *memStore) ListProjects(_ context.Context, userID int64) ([]store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Project{}
	for key := range m.members {
		if key[1] == userID {
			out = append(out, m.projects[key[0]])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) AddMember(_ context.Context, projectID, userID int64, role string) (store.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return store.Member{}, oops.Code("USER_NOT_FOUND").Wrap(store.ErrNotFound)
	}
	key := [2]int64{projectID, userID}
	if _, ok := m.members[key]; ok {
		return store.Member{}, oops.Code("MEMBER_EXISTS").Wrap(store.ErrConflict)
	}
	m.members[key] = role
	return store.Member{ProjectID: projectID, UserID: userID, Role: role, AddedAt: testNow}, nil
}

func (m *memStore) SetMemberRole(_ context.Context, projectID, userID int64, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{projectID, userID}
	if _, ok := m.members[key]; !ok {
		return oops.Code("MEMBER_NOT_FOUND").Wrap(store.ErrNotFound)
	}
	m.members[key] = role
	return nil
}

func (m *memStore) MemberRole(_ context.Context, projectID, userID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.members[[2]int64{projectID, userID}]
	if !ok {
		return "", oops.Code("MEMBER_NOT_FOUND").Wrap(store.ErrNotFound)
	}
	return role, nil
}

func (m *memStore) CreateBoard(_ context.Context, projectID int64, name string) (store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[projectID]; !ok {
		return store.Board{}, oops.Code("PROJECT_NOT_FOUND").Wrap(store.ErrNotFound)
	}
	b := store.Board{ID: m.id(), Name: name, ProjectID: projectID, CreatedAt: testNow}
	m.boards[b.ID] = b
	return b, nil
}

func (m *memStore) ListBoards(_ context.Context, projectID int64) ([]store.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Board{}
	for _, b := range m.boards {
		if b.ProjectID == projectID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) CreateTask(_ context.Context, in store.TaskInput) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.Priority == "" {
		in.Priority = store.PriorityMedium
	}
	t := store.Task{ID: m.id(), TaskInput: in, CreatedAt: testNow}
	m.tasks[t.ID] = t
	return t, nil
}

func (m *memStore) GetTask(_ context.Context, id int64) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.task(id)
}

func (m *memStore) task(id int64) (store.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return store.Task{}, oops.Code("TASK_NOT_FOUND").With("task_id", id).Wrap(store.ErrNotFound)
	}
	return t, nil
}

func (m *memStore) ListTasks(_ context.Context, f store.TaskFilter) ([]store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Task{}
	for _, t := range m.tasks {
		if f.ProjectID != 0 && t.ProjectID != f.ProjectID {
			continue
		}
		if f.Completed != nil && t.Completed != *f.Completed {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) PatchTask(_ context.Context, id int64, p store.TaskPatch) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.task(id)
	if err != nil {
		return t, err
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	m.tasks[id] = t
	return t, nil
}

func (m *memStore) ReplaceTask(_ context.Context, id int64, in store.TaskInput) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.task(id)
	if err != nil {
		return t, err
	}
	t.TaskInput = in
	m.tasks[id] = t
	return t, nil
}

func (m *memStore) ToggleTask(_ context.Context, id int64) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.task(id)
	if err != nil {
		return t, err
	}
	t.Completed = !t.Completed
	m.tasks[id] = t
	return t, nil
}

func (m *memStore) DeleteTask(_ context.Context, id int64) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.task(id)
	if err != nil {
		return t, err
	}
	delete(m.tasks, id)
	return t, nil
}

func (m *memStore) TasksDueOn(_ context.Context, userID int64, day time.Time) ([]store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Task{}
	y, mo, d := day.UTC().Date()
	for _, t := range m.tasks {
		ty, tmo, td := t.DueDate.UTC().Date()
		if t.AssignedUserID != nil && *t.AssignedUserID == userID && !t.Completed && ty == y && tmo == mo && td == d {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) AddComment(_ context.Context, taskID, userID int64, content string) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := store.Comment{ID: m.id(), TaskID: taskID, UserID: userID, Content: content, CreatedAt: testNow}
	m.comments[taskID] = append(m.comments[taskID], c)
	return c, nil
}

func (m *memStore) ListComments(_ context.Context, taskID int64) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Comment{}, m.comments[taskID]...), nil
}

// env is a server wired to an in-memory broker.
type env struct {
	store   *memStore
	broker  *memory.Broker
	hub     *realtime.Hub
	metrics *observability.Metrics
	server  *api.Server
	http    *httptest.Server
	issuer  *auth.Issuer

	alice store.User
	bob   store.User
	admin store.User
}

func newEnv(t *testing.T) *env {
	t.Helper()

	broker := memory.NewBroker()
	link := bus.NewLink(broker.Driver(), bus.WithReconnectConfig(5*time.Millisecond, 20*time.Millisecond))
	require.NoError(t, link.Start(context.Background()))

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	dispatcher := realtime.NewDispatcher(link, realtime.NewRegistry())
	producer := realtime.NewBusProducer(link)
	hub := realtime.NewHub(dispatcher, producer)

	verifier, err := auth.NewVerifier(testSecret)
	require.NoError(t, err)
	issuer, err := auth.NewIssuer(testSecret, time.Hour)
	require.NoError(t, err)

	throttle := auth.NewThrottle()

	st := newMemStore()
	svc := task.NewService(st, producer, task.WithClock(func() time.Time { return testNow }))

	srv := api.NewServer(api.Config{Addr: "127.0.0.1:0"}, api.Deps{
		Tasks:    svc,
		Users:    st,
		Auth:     verifier,
		Throttle: throttle,
		Sessions: hub,
		Metrics:  metrics,
	})
	ts := httptest.NewServer(srv.Handler())

	e := &env{
		store:   st,
		broker:  broker,
		hub:     hub,
		metrics: metrics,
		server:  srv,
		http:    ts,
		issuer:  issuer,
		alice:   st.addUser("alice", auth.RoleMember),
		bob:     st.addUser("bob", auth.RoleMember),
		admin:   st.addUser("root", auth.RoleAdmin),
	}

	t.Cleanup(func() {
		ts.Close()
		hub.Close()
		_ = link.Close()
		verifier.Close()
		throttle.Stop()
	})
	return e
}

func (e *env) token(t *testing.T, u store.User) string {
	t.Helper()
	token, err := e.issuer.Issue(auth.Principal{UserID: u.ID, Username: u.Username, Role: u.Role})
	require.NoError(t, err)
	return token
}

// do sends a request as u and returns the response. A nil user sends no
// token.
func (e *env) do(t *testing.T, u *store.User, method, path string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(t, *u))
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *env) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + path
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
