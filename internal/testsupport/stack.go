package testsupport

import (
	"context"
	"testing"
	"time"

	"trackrelay/internal/artifacts"
	"trackrelay/internal/catalog"
	"trackrelay/internal/config"
	"trackrelay/internal/events"
	"trackrelay/internal/logging"
	"trackrelay/internal/pipeline"
	"trackrelay/internal/queue"
	"trackrelay/internal/scheduler"
	"trackrelay/internal/supervisor"
	"trackrelay/internal/wrapper"
)

// Stack is a fully wired set of daemon components backed by in-process
// media and wrapper servers.
type Stack struct {
	Config     *config.Config
	Store      *queue.Store
	Hub        *events.Hub
	Scheduler  *scheduler.Scheduler
	Supervisor *supervisor.Supervisor
	Files      *artifacts.Manager
	Media      *MediaServer
	Wrapper    *WrapperServer
	Muxer      *FakeMuxer
}

// NewStack builds components for daemon-level tests. mutate may adjust the
// config before anything is constructed. Nothing is started.
func NewStack(t testing.TB, mutate func(*config.Config), opts ...WrapperOption) *Stack {
	t.Helper()
	server := NewWrapperServer(t, opts...)
	cfg := NewConfig(t, WithRemoteWrapper(server.Address()))
	if mutate != nil {
		mutate(cfg)
	}
	media := NewMediaServer(t)
	media.Configure(cfg)
	server.SetPlaylistURL(media.MasterURL())

	client := wrapper.NewClient(wrapper.EndpointFromConfig(cfg))
	t.Cleanup(client.Close)
	hub := events.NewHub(1024)
	sup := supervisor.New(cfg, client, logging.NewNop(),
		supervisor.WithEvents(hub),
		supervisor.WithReadyPoll(20*time.Millisecond),
	)
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })

	store := MustOpenStore(t, cfg)
	files := artifacts.NewManager(cfg, store, logging.NewNop(), artifacts.WithEvents(hub))
	muxer := &FakeMuxer{}
	engine, err := pipeline.NewEngine(cfg, pipeline.Dependencies{
		Catalog:   catalog.NewClient(cfg, nil),
		Backend:   client,
		Artifacts: files,
		Muxer:     muxer,
		Probe:     AudioProbe(40 * time.Second),
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	sched := scheduler.New(cfg, store, engine, sup, logging.NewNop(), scheduler.WithEvents(hub))
	t.Cleanup(sched.Stop)

	return &Stack{
		Config:     cfg,
		Store:      store,
		Hub:        hub,
		Scheduler:  sched,
		Supervisor: sup,
		Files:      files,
		Media:      media,
		Wrapper:    server,
		Muxer:      muxer,
	}
}
