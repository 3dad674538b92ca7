package ipc_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trackrelay/internal/daemon"
	"trackrelay/internal/ipc"
	"trackrelay/internal/logging"
	"trackrelay/internal/testsupport"
)

func newClient(t *testing.T) (*ipc.Client, *testsupport.Stack) {
	t.Helper()
	st := testsupport.NewStack(t, nil, testsupport.WithWrapperAccount("listener@example.com"))
	st.Config.Paths.APIBind = ""
	logger := logging.NewNop()
	d, err := daemon.New(st.Config, daemon.Components{
		Store:      st.Store,
		Hub:        st.Hub,
		Scheduler:  st.Scheduler,
		Supervisor: st.Supervisor,
		Files:      st.Files,
	}, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// Unix socket paths are length limited, so keep it short.
	socket := filepath.Join(t.TempDir(), "tr.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, st
}

func waitTerminal(t *testing.T, client *ipc.Client, id string) ipc.TaskResponse {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Task(id)
		if err != nil {
			t.Fatalf("Task RPC failed: %v", err)
		}
		switch resp.Task.Status {
		case "succeeded", "failed", "cancelled":
			return *resp
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish", id)
	return ipc.TaskResponse{}
}

func TestIPCServerClient(t *testing.T) {
	client, _ := newClient(t)

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Status.Running || status.Status.Wrapper.Mode != "remote" {
		t.Fatalf("unexpected status %+v", status.Status)
	}

	submitted, err := client.Submit(ipc.SubmitRequest{RequesterID: "alice", URL: testsupport.TestTrackURL})
	if err != nil {
		t.Fatalf("Submit RPC failed: %v", err)
	}
	if submitted.Rejected || submitted.Task == nil {
		t.Fatalf("unexpected submit response %+v", submitted)
	}
	done := waitTerminal(t, client, submitted.Task.ID)
	if !done.Found || done.Task.Status != "succeeded" || done.Task.ArtifactID == "" {
		t.Fatalf("unexpected task %+v", done.Task)
	}

	tasks, err := client.Tasks(ipc.TasksRequest{RequesterID: "alice", History: 5})
	if err != nil || len(tasks.Tasks) != 1 {
		t.Fatalf("expected one task in history, got %+v (%v)", tasks, err)
	}

	evts, err := client.Events(ipc.EventsRequest{TaskID: submitted.Task.ID})
	if err != nil {
		t.Fatalf("Events RPC failed: %v", err)
	}
	if len(evts.Events) == 0 || evts.Events[len(evts.Events)-1].Type != "task_succeeded" {
		t.Fatalf("unexpected events %+v", evts.Events)
	}

	files, err := client.Files()
	if err != nil || len(files.Artifacts) != 1 {
		t.Fatalf("expected one artifact, got %+v (%v)", files, err)
	}
	cleaned, err := client.FilesClean(ipc.FilesCleanRequest{TaskIDs: []string{submitted.Task.ID}})
	if err != nil || len(cleaned.Removed) != 1 {
		t.Fatalf("expected one artifact removed, got %+v (%v)", cleaned, err)
	}
	if _, err := client.FilesClean(ipc.FilesCleanRequest{}); err == nil {
		t.Fatal("expected empty clean filter to be rejected")
	}

	health, err := client.DatabaseHealth()
	if err != nil || !health.IntegrityCheck || health.TaskCount != 1 {
		t.Fatalf("unexpected database health %+v (%v)", health, err)
	}

	stopResp, err := client.Stop()
	if err != nil || !stopResp.Stopped {
		t.Fatalf("expected Stop to report stopped, got %+v (%v)", stopResp, err)
	}
	status, err = client.Status()
	if err != nil || status.Status.Running {
		t.Fatalf("expected daemon to be stopped, got %+v (%v)", status, err)
	}
}

func TestIPCRejectionsAndCancel(t *testing.T) {
	client, _ := newClient(t)

	rejected, err := client.Submit(ipc.SubmitRequest{RequesterID: "alice", URL: "https://music.apple.com/us/playlist/mix/pl.u-123"})
	if err != nil {
		t.Fatalf("Submit RPC failed: %v", err)
	}
	if !rejected.Rejected || rejected.RejectionCode != "not-a-single-track" {
		t.Fatalf("unexpected rejection %+v", rejected)
	}
	if _, err := client.Submit(ipc.SubmitRequest{URL: testsupport.TestTrackURL}); err == nil {
		t.Fatal("expected missing requester to be an RPC error")
	}

	// Not started, so the task stays queued.
	queued, err := client.Submit(ipc.SubmitRequest{RequesterID: "bob", URL: testsupport.TestTrackURL})
	if err != nil || queued.Task == nil || queued.Task.Position != 1 {
		t.Fatalf("unexpected submit response %+v (%v)", queued, err)
	}
	if resp, err := client.Cancel(queued.Task.ID, "alice"); err != nil || resp.Cancelled {
		t.Fatalf("foreign cancel should be refused, got %+v (%v)", resp, err)
	}
	if resp, err := client.CancelAll("bob"); err != nil || resp.Cancelled != 1 {
		t.Fatalf("expected one cancellation, got %+v (%v)", resp, err)
	}
	task, err := client.Task(queued.Task.ID)
	if err != nil || task.Task.Status != "cancelled" {
		t.Fatalf("unexpected task %+v (%v)", task, err)
	}
	missing, err := client.Task("nope")
	if err != nil || missing.Found {
		t.Fatalf("unknown task should not be found, got %+v (%v)", missing, err)
	}
}

func TestIPCWrapperSessions(t *testing.T) {
	client, _ := newClient(t)

	login, err := client.Login(ipc.LoginRequest{Account: "listener@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Login RPC failed: %v", err)
	}
	if login.Code != 0 || login.Need2FA {
		t.Fatalf("unexpected login response %+v", login)
	}
	wrapperResp, err := client.Wrapper()
	if err != nil {
		t.Fatalf("Wrapper RPC failed: %v", err)
	}
	if len(wrapperResp.Wrapper.Accounts) == 0 || !wrapperResp.Wrapper.SessionValid {
		t.Fatalf("expected an authenticated account, got %+v", wrapperResp.Wrapper)
	}
	if _, err := client.Logout(""); err == nil {
		t.Fatal("expected logout without account to fail")
	}
	if _, err := client.WrapperBuild(); err == nil {
		t.Fatal("expected build to be unsupported for a remote wrapper")
	}
	notify, err := client.TestNotification()
	if err != nil || notify.Sent {
		t.Fatalf("expected notification test to be skipped, got %+v (%v)", notify, err)
	}
}
