package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"

	"github.com/ssau-fiit/cloudocs-sync/changes"
	"github.com/ssau-fiit/cloudocs-sync/client"
	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/ops"
	"github.com/ssau-fiit/cloudocs-sync/session"
	"github.com/ssau-fiit/cloudocs-sync/streams"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func ins(offset int, s string) changes.Splice {
	return changes.Splice{Offset: offset, Before: changes.Text(""), After: changes.Text(s)}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newServer(database.NewMemory()).router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func createDoc(t *testing.T, srv *httptest.Server, text string) database.Document {
	t.Helper()
	var doc database.Document
	status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/documents/create", CreateDocRequest{Name: "notes", Text: text}, &doc)
	assert.Equal(t, http.StatusOK, status)
	return doc
}

func TestCreateDocRequestInitial(t *testing.T) {
	for _, body := range []string{
		`{"name":"n","text":"hello"}`,
		`{"name":"n","text":"hello","value":null}`,
		`{"name":"n","text":"hello","value": null }`,
	} {
		var r CreateDocRequest
		assert.Equal(t, nil, json.Unmarshal([]byte(body), &r))
		v, err := r.Initial()
		assert.Equal(t, nil, err)
		assert.Equal(t, changes.Value(changes.Text("hello")), v)
	}

	r := CreateDocRequest{Text: "ignored", Value: json.RawMessage(`{"List":[{"Text":"a"}]}`)}
	v, err := r.Initial()
	assert.Equal(t, nil, err)
	assert.Equal(t, changes.Value(changes.List{changes.Text("a")}), v)

	r = CreateDocRequest{Value: json.RawMessage(`{"Blob":1}`)}
	_, err = r.Initial()
	if !errors.Is(err, changes.ErrUnknownType) {
		t.Fatalf("want ErrUnknownType, got %v", err)
	}
}

func TestCreateDocumentValue(t *testing.T) {
	srv := newTestServer(t)
	var doc database.Document
	body := CreateDocRequest{Name: "list", Value: json.RawMessage(`{"List":[{"Text":"a"}]}`)}
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/v1/documents/create", body, &doc))

	var got DocumentResponse
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/v1/documents/"+doc.ID, nil, &got))
	v, err := changes.UnmarshalValue(got.Snapshot)
	assert.Equal(t, nil, err)
	assert.Equal(t, changes.Value(changes.List{changes.Text("a")}), v)

	bad := CreateDocRequest{Name: "bad", Value: json.RawMessage(`{"Blob":1}`)}
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, srv.URL+"/api/v1/documents/create", bad, nil))
}

func TestDocumentLifecycle(t *testing.T) {
	srv := newTestServer(t)
	doc := createDoc(t, srv, "hello")
	assert.Equal(t, "Автор", doc.Author)

	var docs []database.Document
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/v1/documents", nil, &docs))
	assert.Equal(t, []database.Document{doc}, docs)

	var got DocumentResponse
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/v1/documents/"+doc.ID, nil, &got))
	assert.Equal(t, -1, got.Version)
	v, err := changes.UnmarshalValue(got.Snapshot)
	assert.Equal(t, nil, err)
	assert.Equal(t, changes.Value(changes.Text("hello")), v)

	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodDelete, srv.URL+"/api/v1/documents/"+doc.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodDelete, srv.URL+"/api/v1/documents/"+doc.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/api/v1/documents/"+doc.ID+"/ops", nil, nil))
}

func TestOpsOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	doc := createDoc(t, srv, "hello")
	opsURL := srv.URL + "/api/v1/documents/" + doc.ID + "/ops"

	write := WriteOpsRequest{Ops: []ops.Operation{
		{ID: "a", Version: ops.Unacknowledged, Basis: -1, Change: ins(5, " world")},
		{ID: "b", Version: ops.Unacknowledged, Basis: -1, Change: ins(0, "OK, ")},
	}}
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, opsURL, write, nil))

	var got []ops.Operation
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, opsURL+"?version=1", nil, &got))
	assert.Equal(t, 1, len(got))
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, 1, got[0].Version)

	desync := WriteOpsRequest{Ops: []ops.Operation{{ID: "c", Basis: 7, Change: ins(0, "x")}}}
	assert.Equal(t, http.StatusConflict, doJSON(t, http.MethodPost, opsURL, desync, nil))

	invalid := WriteOpsRequest{Ops: []ops.Operation{{ID: "d", Basis: 1, Change: changes.Splice{Offset: 99, Before: changes.Text("x"), After: changes.Text("")}}}}
	assert.Equal(t, http.StatusUnprocessableEntity, doJSON(t, http.MethodPost, opsURL, invalid, nil))

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, opsURL+"?version=x", nil, nil))
}

func dial(t *testing.T, srv *httptest.Server, id string) *client.Conn {
	t.Helper()
	u, err := socketURL(srv.URL, id)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := client.Dial(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSocketSessions(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	id := createDoc(t, srv, "hello").ID

	open := func(name string) (*session.Session, *streams.Doc) {
		conn := dial(t, srv, id)
		v, version, err := conn.Snapshot(ctx)
		if err != nil {
			t.Fatal(err)
		}
		doc := streams.NewDoc(v)
		return session.New(ops.NewTransformer(conn), doc.Stream, version, session.WithIDs(ops.Sequential(name))), &doc
	}
	edit := func(doc *streams.Doc, c changes.Change) {
		d, err := doc.Edit(c)
		if err != nil {
			t.Fatal(err)
		}
		*doc = d
	}
	value := func(doc *streams.Doc) changes.Value {
		d, err := doc.Catchup()
		if err != nil {
			t.Fatal(err)
		}
		*doc = d
		return d.Value
	}

	a, aDoc := open("a")
	b, bDoc := open("b")

	edit(bDoc, ins(0, "OK, "))
	assert.Equal(t, nil, b.Push(ctx))

	edit(aDoc, ins(5, " world"))
	assert.Equal(t, nil, a.Pull(ctx))
	assert.Equal(t, nil, a.Push(ctx))
	assert.Equal(t, nil, b.Sync(ctx))
	assert.Equal(t, nil, a.Sync(ctx))

	want := changes.Value(changes.Text("OK, hello world"))
	assert.Equal(t, want, value(aDoc))
	assert.Equal(t, want, value(bDoc))
	assert.Equal(t, 0, a.Pending())
	assert.Equal(t, 0, b.Pending())

	snap, version, err := dial(t, srv, id).Snapshot(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, want, snap)
}

func TestSocketDesync(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	conn := dial(t, srv, createDoc(t, srv, "").ID)

	err := conn.Write(ctx, []ops.Operation{{ID: "x", Basis: 4, Change: ins(0, "x")}})
	var d *ops.ProtocolDesyncError
	if !errors.As(err, &d) {
		t.Fatalf("want desync, got %v", err)
	}
	assert.Equal(t, "x", d.ID)
}

func TestSocketRejectsMixedSplice(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	conn := dial(t, srv, createDoc(t, srv, "hello").ID)

	assert.Equal(t, nil, conn.Write(ctx, []ops.Operation{
		{ID: "a", Basis: -1, Change: changes.Splice{Offset: 0, Before: changes.Text("he"), After: changes.Text("")}},
	}))
	err := conn.Write(ctx, []ops.Operation{
		{ID: "b", Basis: -1, Change: changes.Splice{Offset: 1, Before: changes.List{}, After: changes.Text("x")}},
	})
	if err == nil || ops.IsDesync(err) {
		t.Fatalf("want a plain error, got %v", err)
	}

	// The connection and the server survive.
	snap, version, err := conn.Snapshot(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, version)
	assert.Equal(t, changes.Value(changes.Text("llo")), snap)
}

func TestReadWaitsForVersion(t *testing.T) {
	srv := newTestServer(t)
	id := createDoc(t, srv, "hello").ID
	opsURL := srv.URL + "/api/v1/documents/" + id + "/ops"

	got := make(chan []ops.Operation, 1)
	go func() {
		var result []ops.Operation
		if resp, err := http.Get(opsURL + "?version=0&wait=5s"); err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&result)
			resp.Body.Close()
		}
		got <- result
	}()

	time.Sleep(50 * time.Millisecond)
	write := WriteOpsRequest{Ops: []ops.Operation{{ID: "a", Basis: -1, Change: ins(5, "!")}}}
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, opsURL, write, nil))

	select {
	case result := <-got:
		assert.Equal(t, 1, len(result))
		assert.Equal(t, "a", result[0].ID)
	case <-time.After(3 * time.Second):
		t.Fatal("read did not wake up")
	}

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, opsURL+"?wait=2h", nil, nil))
}

func TestSocketPoll(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	conn := dial(t, srv, createDoc(t, srv, "hello").ID)

	start := time.Now()
	result, err := conn.Poll(ctx, 0, 0, 100*time.Millisecond)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(result))
	if time.Since(start) < 100*time.Millisecond {
		t.Fatal("poll returned before its wait")
	}
}

func TestFollow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := newTestServer(t)
	id := createDoc(t, srv, "hello").ID

	watcher := dial(t, srv, id)
	v, version, err := watcher.Snapshot(ctx)
	assert.Equal(t, nil, err)

	seen := make(chan changes.Value, 4)
	done := make(chan error, 1)
	go func() {
		done <- follow(ctx, watcher, v, version, func(v changes.Value) error {
			seen <- v
			return nil
		})
	}()

	writer := dial(t, srv, id)
	assert.Equal(t, nil, writer.Write(ctx, []ops.Operation{{ID: "a", Basis: -1, Change: ins(5, "!")}}))

	select {
	case v := <-seen:
		assert.Equal(t, changes.Value(changes.Text("hello!")), v)
	case <-time.After(3 * time.Second):
		t.Fatal("follow did not see the write")
	}

	cancel()
	select {
	case err := <-done:
		assert.Equal(t, nil, err)
	case <-time.After(3 * time.Second):
		t.Fatal("follow did not stop")
	}
}

func TestPut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := newTestServer(t)
	id := createDoc(t, srv, "the quick brown fox").ID
	conn := dial(t, srv, id)

	version, err := put(ctx, conn, "the slow brown fox jumps")
	assert.Equal(t, nil, err)

	snap, head, err := conn.Snapshot(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, version, head)
	assert.Equal(t, changes.Value(changes.Text("the slow brown fox jumps")), snap)

	version, err = put(ctx, conn, "the slow brown fox jumps")
	assert.Equal(t, nil, err)
	assert.Equal(t, head, version)
}

func TestSocketURL(t *testing.T) {
	u, err := socketURL("http://localhost:8080", "abc")
	assert.Equal(t, nil, err)
	assert.Equal(t, "ws://localhost:8080/api/v1/documents/abc/socket", u)

	u, err = socketURL("https://docs.example.com/sync/", "a b")
	assert.Equal(t, nil, err)
	assert.Equal(t, "wss://docs.example.com/sync/api/v1/documents/a%20b/socket", u)

	u, err = socketURL("http://localhost:8080", "x/y")
	assert.Equal(t, nil, err)
	assert.Equal(t, "ws://localhost:8080/api/v1/documents/x%2Fy/socket", u)
}

func TestYAMLConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	config := "log-level: debug\naddr: 127.0.0.1:9999\nbackend: memory\nredis:\n  db: 3\n"
	if err := os.WriteFile(path, []byte(config), 0o600); err != nil {
		t.Fatal(err)
	}

	cli := CLI
	parser, err := kong.New(&cli, kong.Configuration(yamlConfig, path))
	if err != nil {
		t.Fatal(err)
	}
	_, err = parser.Parse([]string{"serve"})
	assert.Equal(t, nil, err)
	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, "127.0.0.1:9999", cli.Serve.Addr)
	assert.Equal(t, "memory", cli.Serve.Backend)
	assert.Equal(t, 3, cli.Serve.RedisDB)
	assert.Equal(t, "localhost:6379", cli.Serve.RedisAddr)
}
