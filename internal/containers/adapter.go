package containers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fleetctl/fleetctl/internal/catalog"
	"github.com/fleetctl/fleetctl/internal/ferrors"
)

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

// RunningService is what ContainerAdapter.ListRunning reports per container.
type RunningService struct {
	ServiceID         catalog.ServiceID
	ContainerName     string
	State             string
	StartedAt         time.Time
	Image             string
	HealthFromRuntime string
}

// UsageSample is the per-container resource usage ContainerAdapter.UsageFor reports.
type UsageSample struct {
	CPUPct       float64
	MemBytes     uint64
	MemLimitBytes uint64
}

// RuntimeInfo describes the container engine itself.
type RuntimeInfo struct {
	EngineVersion   string
	ComposeVersion  string
	Running         bool
	ContainerCount  int
	ImageCount      int
	MemoryLimitGb   float64
}

// Adapter is the capability boundary between fleet logic and the runtime.
// It holds no business logic: callers (ServiceMonitor, UpdatePipeline) decide
// what to start/stop and in what order; Adapter only executes it, serializing
// mutating calls per service so two concurrent operations never race on the
// same container.
type Adapter struct {
	docker *DockerClient

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
}

// New wraps a connected DockerClient as a ContainerAdapter.
func New(docker *DockerClient) *Adapter {
	return &Adapter{docker: docker, locks: make(map[string]*sync.Mutex)}
}

func (a *Adapter) serviceLock(name string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[name]
	if !ok {
		l = &sync.Mutex{}
		a.locks[name] = l
	}
	return l
}

// ListRunning returns all containers, running or not, mapped to the
// catalog's ServiceID where known via container name.
func (a *Adapter) ListRunning(ctx context.Context, cat *catalog.Catalog) ([]RunningService, error) {
	all, err := a.docker.ListAll(ctx)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindRuntimeUnavailable, "list containers", err)
	}
	out := make([]RunningService, 0, len(all))
	for _, c := range all {
		name := primaryName(c.Names)
		svc, ok := cat.FindByContainer(name)
		var sid catalog.ServiceID
		if ok {
			sid = svc.ServiceID
		}
		out = append(out, RunningService{
			ServiceID:     sid,
			ContainerName: name,
			State:         string(c.State),
			StartedAt:     time.Unix(c.Created, 0),
			Image:         c.Image,
		})
	}
	return out, nil
}

func primaryName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	n := names[0]
	if len(n) > 0 && n[0] == '/' {
		n = n[1:]
	}
	return n
}

// UsageFor reports instantaneous CPU/memory usage for a running container,
// computing the Docker CLI's CPU-percentage formula over one stats sample.
func (a *Adapter) UsageFor(ctx context.Context, containerID string) (UsageSample, error) {
	reader, err := a.docker.Stats(ctx, containerID)
	if err != nil {
		return UsageSample{}, ferrors.Wrap(ferrors.KindRuntimeUnavailable, "container stats", err)
	}
	defer reader.Body.Close()

	var stats struct {
		CPUStats struct {
			CPUUsage struct {
				TotalUsage uint64 `json:"total_usage"`
			} `json:"cpu_usage"`
			SystemCPUUsage uint64 `json:"system_cpu_usage"`
			OnlineCPUs     uint64 `json:"online_cpus"`
		} `json:"cpu_stats"`
		PreCPUStats struct {
			CPUUsage struct {
				TotalUsage uint64 `json:"total_usage"`
			} `json:"cpu_usage"`
			SystemCPUUsage uint64 `json:"system_cpu_usage"`
		} `json:"precpu_stats"`
		MemoryStats struct {
			Usage uint64 `json:"usage"`
			Limit uint64 `json:"limit"`
		} `json:"memory_stats"`
	}
	if err := decodeJSON(reader.Body, &stats); err != nil {
		return UsageSample{}, ferrors.Wrap(ferrors.KindRuntimeUnavailable, "decode stats", err)
	}

	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemCPUUsage) - float64(stats.PreCPUStats.SystemCPUUsage)
	onlineCPUs := stats.CPUStats.OnlineCPUs
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}
	var cpuPct float64
	if systemDelta > 0 && cpuDelta > 0 {
		cpuPct = (cpuDelta / systemDelta) * float64(onlineCPUs) * 100.0
	}

	return UsageSample{
		CPUPct:        cpuPct,
		MemBytes:      stats.MemoryStats.Usage,
		MemLimitBytes: stats.MemoryStats.Limit,
	}, nil
}

// Up starts the named containers in the order given by the caller (the
// caller — ServiceMonitor — has already computed dependency order).
func (a *Adapter) Up(ctx context.Context, containerIDsInOrder []string) error {
	for _, id := range containerIDsInOrder {
		lock := a.serviceLock(id)
		lock.Lock()
		err := a.docker.Start(ctx, id)
		lock.Unlock()
		if err != nil {
			return ferrors.Wrap(ferrors.KindRuntimeUnavailable, fmt.Sprintf("start %s", id), err)
		}
	}
	return nil
}

// Down stops the named containers in the order given by the caller.
func (a *Adapter) Down(ctx context.Context, containerIDsInOrder []string, timeoutSec int) error {
	for _, id := range containerIDsInOrder {
		lock := a.serviceLock(id)
		lock.Lock()
		err := a.docker.Stop(ctx, id, timeoutSec)
		lock.Unlock()
		if err != nil {
			return ferrors.Wrap(ferrors.KindRuntimeUnavailable, fmt.Sprintf("stop %s", id), err)
		}
	}
	return nil
}

// Restart restarts the given containers.
func (a *Adapter) Restart(ctx context.Context, containerIDs []string) error {
	for _, id := range containerIDs {
		lock := a.serviceLock(id)
		lock.Lock()
		err := a.docker.Restart(ctx, id)
		lock.Unlock()
		if err != nil {
			return ferrors.Wrap(ferrors.KindRuntimeUnavailable, fmt.Sprintf("restart %s", id), err)
		}
	}
	return nil
}

// Logs streams up to tailLines of a container's combined stdout/stderr.
// The caller must Close() the returned stream.
func (a *Adapter) Logs(ctx context.Context, containerID string, tailLines int, follow bool) (io.ReadCloser, error) {
	stream, err := a.docker.Logs(ctx, containerID, tailLines, follow)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindRuntimeUnavailable, "container logs", err)
	}
	return stream, nil
}

// RuntimeInfo reports engine-level facts used by DependencyValidator's
// DockerMemoryBelowRequired warning and the wizard's pre-flight checks.
func (a *Adapter) RuntimeInfo(ctx context.Context) (RuntimeInfo, error) {
	info, err := a.docker.Info(ctx)
	if err != nil {
		return RuntimeInfo{}, ferrors.Wrap(ferrors.KindRuntimeUnavailable, "docker info", err)
	}
	ver, err := a.docker.Version(ctx)
	if err != nil {
		return RuntimeInfo{}, ferrors.Wrap(ferrors.KindRuntimeUnavailable, "docker version", err)
	}
	return RuntimeInfo{
		EngineVersion:  ver.Version,
		Running:        true,
		ContainerCount: info.Info.Containers,
		ImageCount:     info.Info.Images,
		MemoryLimitGb:  float64(info.Info.MemTotal) / (1024 * 1024 * 1024),
	}, nil
}
