package meili

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/meilidash/internal/errors"
)

// fakeMeili serves the subset of the Meilisearch API the client uses.
type fakeMeili struct {
	mu       sync.Mutex
	settings map[string]map[string]any
	tasks    map[int64]*Task
	nextUID  int64
	// pollsUntilDone is how many GETs of a task return "processing" first.
	pollsUntilDone int
	polls          map[int64]int
	failTasks      bool
	apiKey         string
	lastAuth       string
	lastBody       map[string]any
}

func newFakeMeili() *fakeMeili {
	return &fakeMeili{
		settings: map[string]map[string]any{
			"movies": {"rankingRules": []any{"words", "typo"}, "searchableAttributes": []any{"*"}},
		},
		tasks: make(map[int64]*Task),
		polls: make(map[int64]int),
	}
}

func (f *fakeMeili) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeMeili) writeError(w http.ResponseWriter, status int, msg, code string) {
	f.writeJSON(w, status, map[string]string{
		"message": msg,
		"code":    code,
		"type":    "invalid_request",
		"link":    "https://docs.meilisearch.com/errors#" + code,
	})
}

func (f *fakeMeili) enqueue(index, typ string) TaskInfo {
	f.nextUID++
	status := TaskSucceeded
	if f.failTasks {
		status = TaskFailed
	}
	task := &Task{UID: f.nextUID, IndexUID: index, Status: status, Type: typ, EnqueuedAt: time.Now().UTC()}
	if f.failTasks {
		task.Error = &TaskError{Message: "Invalid ranking rule", Code: "invalid_settings_ranking_rules"}
	}
	f.tasks[task.UID] = task
	return TaskInfo{TaskUID: task.UID, IndexUID: index, Status: TaskEnqueued, Type: typ, EnqueuedAt: task.EnqueuedAt}
}

func (f *fakeMeili) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastAuth = r.Header.Get("Authorization")
	if f.apiKey != "" && f.lastAuth != "Bearer "+f.apiKey {
		f.writeError(w, http.StatusUnauthorized, "The provided API key is invalid.", "invalid_api_key")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/health":
		f.writeJSON(w, http.StatusOK, map[string]string{"status": "available"})

	case r.URL.Path == "/stats":
		f.writeJSON(w, http.StatusOK, map[string]any{
			"databaseSize": 4096,
			"lastUpdate":   "2024-05-01T10:00:00Z",
			"indexes": map[string]any{
				"movies": map[string]any{
					"numberOfDocuments": 3,
					"isIndexing":        false,
					"fieldDistribution": map[string]int{"title": 3, "overview": 2},
				},
			},
		})

	case r.URL.Path == "/indexes":
		// two per page regardless of the requested limit, to exercise paging
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		all := []Index{{UID: "movies", PrimaryKey: "id"}, {UID: "books", PrimaryKey: "isbn"}, {UID: "authors"}}
		end := min(offset+2, len(all))
		f.writeJSON(w, http.StatusOK, map[string]any{
			"results": all[offset:end],
			"offset":  offset,
			"limit":   2,
			"total":   len(all),
		})

	case len(parts) == 2 && parts[0] == "tasks":
		uid, _ := strconv.ParseInt(parts[1], 10, 64)
		task, ok := f.tasks[uid]
		if !ok {
			f.writeError(w, http.StatusNotFound, "Task `"+parts[1]+"` not found.", "task_not_found")
			return
		}
		f.polls[uid]++
		out := *task
		if f.polls[uid] <= f.pollsUntilDone {
			out.Status = TaskProcessing
			out.Error = nil
		}
		f.writeJSON(w, http.StatusOK, out)

	case len(parts) == 2 && parts[0] == "indexes":
		if _, ok := f.settings[parts[1]]; !ok {
			f.writeError(w, http.StatusNotFound, "Index `"+parts[1]+"` not found.", "index_not_found")
			return
		}
		f.writeJSON(w, http.StatusOK, Index{UID: parts[1], PrimaryKey: "id"})

	case len(parts) == 3 && parts[0] == "indexes" && parts[2] == "stats":
		f.writeJSON(w, http.StatusOK, IndexStats{NumberOfDocuments: 3, FieldDistribution: map[string]int64{"title": 3}})

	case len(parts) == 3 && parts[0] == "indexes" && parts[2] == "settings":
		index := parts[1]
		current, ok := f.settings[index]
		if !ok {
			f.writeError(w, http.StatusNotFound, "Index `"+index+"` not found.", "index_not_found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			f.writeJSON(w, http.StatusOK, current)
		case http.MethodPatch:
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				f.writeError(w, http.StatusBadRequest, "malformed payload", "bad_request")
				return
			}
			f.lastBody = body
			for k, v := range body {
				current[k] = v
			}
			f.writeJSON(w, http.StatusAccepted, f.enqueue(index, "settingsUpdate"))
		case http.MethodDelete:
			f.settings[index] = map[string]any{}
			f.writeJSON(w, http.StatusAccepted, f.enqueue(index, "settingsUpdate"))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeMeili) auth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

func (f *fakeMeili) body() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody
}

func (f *fakeMeili) pollCount(uid int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[uid]
}

func newTestClient(t *testing.T, fake *fakeMeili, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return c
}

func TestNewValidatesHost(t *testing.T) {
	tests := []struct {
		host    string
		wantErr bool
	}{
		{"http://localhost:7700", false},
		{"https://ms.example.com/", false},
		{"localhost:7700", true},
		{"", true},
		{"ftp://example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			c, err := New(tt.host)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q) err = %v, wantErr %v", tt.host, err, tt.wantErr)
			}
			if err == nil && strings.HasSuffix(c.Host(), "/") {
				t.Errorf("Host() = %q, want no trailing slash", c.Host())
			}
		})
	}
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, newFakeMeili())
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health() = %v", err)
	}
}

func TestAuthorization(t *testing.T) {
	fake := newFakeMeili()
	fake.apiKey = "masterKey"

	t.Run("key sent as bearer token", func(t *testing.T) {
		c := newTestClient(t, fake, WithAPIKey("masterKey"))
		if _, err := c.GetSettings(context.Background(), "movies"); err != nil {
			t.Fatalf("GetSettings() = %v", err)
		}
		if got := fake.auth(); got != "Bearer masterKey" {
			t.Errorf("Authorization = %q", got)
		}
	})

	t.Run("wrong key is unauthorized", func(t *testing.T) {
		c := newTestClient(t, fake, WithAPIKey("nope"))
		_, err := c.GetSettings(context.Background(), "movies")
		if !errors.Is(err, errors.ErrUnauthorized) {
			t.Errorf("GetSettings() = %v, want ErrUnauthorized", err)
		}
	})
}

func TestGetSettings(t *testing.T) {
	c := newTestClient(t, newFakeMeili())

	settings, err := c.GetSettings(context.Background(), "movies")
	if err != nil {
		t.Fatalf("GetSettings() = %v", err)
	}
	rules, ok := settings["rankingRules"].([]any)
	if !ok || len(rules) != 2 || rules[0] != "words" {
		t.Errorf("rankingRules = %v", settings["rankingRules"])
	}
}

func TestGetSettingsIndexNotFound(t *testing.T) {
	c := newTestClient(t, newFakeMeili())

	_, err := c.GetSettings(context.Background(), "missing")
	if !errors.Is(err, errors.ErrIndexNotFound) {
		t.Fatalf("GetSettings() = %v, want ErrIndexNotFound", err)
	}

	var apiErr *errors.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if apiErr.Method != http.MethodGet || apiErr.Path != "/indexes/missing/settings" {
		t.Errorf("request = %s %s", apiErr.Method, apiErr.Path)
	}
	if !strings.Contains(apiErr.Link, "index_not_found") {
		t.Errorf("Link = %q", apiErr.Link)
	}
	if errors.IsRetryable(err) {
		t.Error("404 should not be retryable")
	}

	var notFound *errors.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error type = %T, want *NotFoundError", err)
	}
	if notFound.ResourceType != "index" || notFound.ResourceID != "missing" {
		t.Errorf("NotFoundError = %s %s, want index missing", notFound.ResourceType, notFound.ResourceID)
	}
}

func TestUpdateSettings(t *testing.T) {
	fake := newFakeMeili()
	c := newTestClient(t, fake)

	info, err := c.UpdateSettings(context.Background(), "movies", map[string]any{"filterableAttributes": []any{"genre"}})
	if err != nil {
		t.Fatalf("UpdateSettings() = %v", err)
	}
	if info.TaskUID != 1 || info.IndexUID != "movies" || info.Status != TaskEnqueued || info.Type != "settingsUpdate" {
		t.Errorf("TaskInfo = %+v", info)
	}
	if info.EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt should be decoded")
	}
	if _, ok := fake.body()["filterableAttributes"]; !ok {
		t.Errorf("request body = %v", fake.body())
	}

	settings, err := c.GetSettings(context.Background(), "movies")
	if err != nil {
		t.Fatalf("GetSettings() = %v", err)
	}
	if _, ok := settings["filterableAttributes"]; !ok {
		t.Error("update not visible to the next read")
	}
}

func TestResetSettings(t *testing.T) {
	c := newTestClient(t, newFakeMeili())

	if _, err := c.ResetSettings(context.Background(), "movies"); err != nil {
		t.Fatalf("ResetSettings() = %v", err)
	}
	settings, err := c.GetSettings(context.Background(), "movies")
	if err != nil {
		t.Fatalf("GetSettings() = %v", err)
	}
	if len(settings) != 0 {
		t.Errorf("settings after reset = %v", settings)
	}
}

func TestWaitForTask(t *testing.T) {
	t.Run("polls until done", func(t *testing.T) {
		fake := newFakeMeili()
		fake.pollsUntilDone = 2
		c := newTestClient(t, fake, WithPollInterval(time.Millisecond))

		info, err := c.UpdateSettings(context.Background(), "movies", map[string]any{"distinctAttribute": "id"})
		if err != nil {
			t.Fatalf("UpdateSettings() = %v", err)
		}
		task, err := c.WaitForTask(context.Background(), info.TaskUID)
		if err != nil {
			t.Fatalf("WaitForTask() = %v", err)
		}
		if task.Status != TaskSucceeded {
			t.Errorf("Status = %q, want succeeded", task.Status)
		}
		if got := fake.pollCount(info.TaskUID); got != 3 {
			t.Errorf("polled %d times, want 3", got)
		}
	})

	t.Run("failed task", func(t *testing.T) {
		fake := newFakeMeili()
		fake.failTasks = true
		c := newTestClient(t, fake, WithPollInterval(time.Millisecond))

		info, err := c.UpdateSettings(context.Background(), "movies", map[string]any{"rankingRules": []any{"bogus"}})
		if err != nil {
			t.Fatalf("UpdateSettings() = %v", err)
		}
		task, err := c.WaitForTask(context.Background(), info.TaskUID)
		if !errors.Is(err, errors.ErrTaskFailed) {
			t.Fatalf("WaitForTask() = %v, want ErrTaskFailed", err)
		}
		if !strings.Contains(err.Error(), "Invalid ranking rule") {
			t.Errorf("error = %q, want the task's message", err)
		}
		if task.Error == nil || task.Error.Code != "invalid_settings_ranking_rules" {
			t.Errorf("task.Error = %+v", task.Error)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		fake := newFakeMeili()
		fake.pollsUntilDone = 1000
		c := newTestClient(t, fake, WithPollInterval(5*time.Millisecond))
		info, err := c.UpdateSettings(context.Background(), "movies", map[string]any{"a": 1})
		if err != nil {
			t.Fatalf("UpdateSettings() = %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		if _, err := c.WaitForTask(ctx, info.TaskUID); err == nil {
			t.Error("WaitForTask() should fail when the context expires")
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		c := newTestClient(t, newFakeMeili())
		if _, err := c.GetTask(context.Background(), 99); !errors.Is(err, errors.ErrTaskNotFound) {
			t.Errorf("GetTask() = %v, want ErrTaskNotFound", err)
		}
	})
}

func TestListIndexesPages(t *testing.T) {
	c := newTestClient(t, newFakeMeili())

	indexes, err := c.ListIndexes(context.Background())
	if err != nil {
		t.Fatalf("ListIndexes() = %v", err)
	}
	var uids []string
	for _, idx := range indexes {
		uids = append(uids, idx.UID)
	}
	if strings.Join(uids, ",") != "authors,books,movies" {
		t.Errorf("uids = %v, want sorted across pages", uids)
	}
}

func TestGetIndex(t *testing.T) {
	c := newTestClient(t, newFakeMeili())

	idx, err := c.GetIndex(context.Background(), "movies")
	if err != nil {
		t.Fatalf("GetIndex() = %v", err)
	}
	if idx.PrimaryKey != "id" {
		t.Errorf("PrimaryKey = %q", idx.PrimaryKey)
	}
	_, err = c.GetIndex(context.Background(), "nope")
	var notFound *errors.NotFoundError
	if !errors.Is(err, errors.ErrIndexNotFound) || !errors.As(err, &notFound) || notFound.ResourceID != "nope" {
		t.Errorf("GetIndex(nope) = %v, want a NotFoundError for nope", err)
	}
}

func TestStats(t *testing.T) {
	c := newTestClient(t, newFakeMeili())

	stats, err := c.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats() = %v", err)
	}
	if stats.DatabaseSize != 4096 {
		t.Errorf("DatabaseSize = %d", stats.DatabaseSize)
	}
	if stats.LastUpdate == nil {
		t.Error("LastUpdate should be decoded")
	}
	movies := stats.Indexes["movies"]
	if movies.NumberOfDocuments != 3 {
		t.Errorf("NumberOfDocuments = %d", movies.NumberOfDocuments)
	}

	fields := movies.SortedFields()
	if len(fields) != 2 || fields[0].Field != "title" || fields[1].Count != 2 {
		t.Errorf("SortedFields() = %v", fields)
	}

	idxStats, err := c.GetIndexStats(context.Background(), "movies")
	if err != nil {
		t.Fatalf("GetIndexStats() = %v", err)
	}
	if idxStats.FieldDistribution["title"] != 3 {
		t.Errorf("FieldDistribution = %v", idxStats.FieldDistribution)
	}
}

func TestNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.GetSettings(context.Background(), "movies")

	var apiErr *errors.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetSettings() = %v, want APIError", err)
	}
	if !strings.Contains(apiErr.Error(), "bad gateway") {
		t.Errorf("Error() = %q", apiErr.Error())
	}
	if !errors.IsRetryable(err) {
		t.Error("502 should be retryable")
	}
}

func TestTaskErr(t *testing.T) {
	tests := []struct {
		status  string
		wantErr bool
		done    bool
	}{
		{TaskEnqueued, false, false},
		{TaskProcessing, false, false},
		{TaskSucceeded, false, true},
		{TaskFailed, true, true},
		{TaskCanceled, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			task := Task{UID: 1, Status: tt.status}
			if got := task.Done(); got != tt.done {
				t.Errorf("Done() = %v, want %v", got, tt.done)
			}
			if err := task.Err(); (err != nil) != tt.wantErr {
				t.Errorf("Err() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// flakyTasks answers the first failures task reads with status, then reports
// the task as succeeded.
type flakyTasks struct {
	mu       sync.Mutex
	status   int
	failures int
	reads    int
}

func (f *flakyTasks) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.reads++
	fail := f.reads <= f.failures
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail {
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "unavailable", "code": "unavailable"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"uid": 1, "status": TaskSucceeded, "type": "settingsUpdate"})
}

func (f *flakyTasks) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func TestWaitForTaskRetries(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		failures  int
		wantErr   bool
		wantReads int
	}{
		{name: "recovers from transient errors", status: http.StatusServiceUnavailable, failures: 2, wantReads: 3},
		{name: "gives up after repeated errors", status: http.StatusServiceUnavailable, failures: 10, wantErr: true, wantReads: maxPollFailures + 1},
		{name: "client errors are not retried", status: http.StatusBadRequest, failures: 1, wantErr: true, wantReads: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &flakyTasks{status: tt.status, failures: tt.failures}
			srv := httptest.NewServer(fake)
			defer srv.Close()
			c, err := New(srv.URL, WithPollInterval(time.Millisecond))
			if err != nil {
				t.Fatalf("New() = %v", err)
			}

			task, err := c.WaitForTask(context.Background(), 1)
			if tt.wantErr {
				var apiErr *errors.APIError
				if !errors.As(err, &apiErr) || apiErr.StatusCode != tt.status {
					t.Errorf("WaitForTask() = %v, want a %d APIError", err, tt.status)
				}
			} else if err != nil || task.Status != TaskSucceeded {
				t.Errorf("WaitForTask() = %+v, %v, want succeeded", task, err)
			}
			if got := fake.readCount(); got != tt.wantReads {
				t.Errorf("task reads = %d, want %d", got, tt.wantReads)
			}
		})
	}
}

func TestGetSettingsKeepsLargeIntegers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pagination": {"maxTotalHits": 9007199254740993}}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	settings, err := c.GetSettings(context.Background(), "movies")
	if err != nil {
		t.Fatalf("GetSettings() = %v", err)
	}
	pagination, _ := settings["pagination"].(map[string]any)
	if got, ok := pagination["maxTotalHits"].(json.Number); !ok || got.String() != "9007199254740993" {
		t.Errorf("maxTotalHits = %v (%T), want json.Number 9007199254740993", pagination["maxTotalHits"], pagination["maxTotalHits"])
	}
}
