// Package storageservice defines the external storage-service collaborator
// (§1: "out of scope... the core invokes their documented operations but
// does not implement them") as a narrow interface, plus a minimal in-memory
// implementation sufficient to drive executor and data-movement tests
// without a real storage backend.
package storageservice

import (
	"context"
	"sync"

	"github.com/wrenchsim/wrenchsim/pkg/failure"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
	"github.com/wrenchsim/wrenchsim/pkg/workflow"
)

// Service is the documented operation set the executor and data-movement
// manager invoke: read, write, copy, and lookup (StorageService.h's public
// surface, trimmed to what this core actually calls).
type Service interface {
	Name() string
	MountPoints() []string

	// ReadFile blocks for the simulated transfer time to stage file into
	// the caller's task, from mountPoint.
	ReadFile(ctx context.Context, file *workflow.File, mountPoint string) error

	// WriteFile blocks for the simulated transfer time to persist file to
	// mountPoint, failing with StorageFull if capacity is exceeded.
	WriteFile(ctx context.Context, file *workflow.File, mountPoint string) error

	// CopyFile moves file from src's mountPoint into dst's mountPoint; used
	// by pre-/post-copies and the data-movement manager.
	CopyFile(ctx context.Context, file *workflow.File, src Service, srcMountPoint, dstMountPoint string) error

	// LookupFile reports whether file is currently present at mountPoint.
	LookupFile(file *workflow.File, mountPoint string) bool

	// DeleteFile removes file from mountPoint (used for post-task cleanup).
	DeleteFile(file *workflow.File, mountPoint string) error

	// FreeSpace returns bytes free per mount point.
	FreeSpace() map[string]int64
}

// InMemory is a capacity-tracking storage service backed by Go maps,
// grounded on StorageService.h's mount-point/capacity/occupied-space model
// but collapsed to in-process bookkeeping instead of real byte storage.
type InMemory struct {
	name  string
	clock *simclock.Clock

	bandwidthBps float64 // bytes/sec for read/write/copy delay, 0 = instantaneous

	mu        sync.Mutex
	capacity  map[string]int64
	occupied  map[string]int64
	stored    map[string]map[string]bool // mountPoint -> fileID -> present
}

// NewInMemory constructs an in-memory storage service with the given
// per-mount-point capacities (bytes). bandwidthBps models I/O throughput;
// 0 means reads/writes/copies take no simulated time.
func NewInMemory(name string, clock *simclock.Clock, capacities map[string]int64, bandwidthBps float64) *InMemory {
	occupied := make(map[string]int64, len(capacities))
	stored := make(map[string]map[string]bool, len(capacities))
	for mp := range capacities {
		occupied[mp] = 0
		stored[mp] = make(map[string]bool)
	}
	return &InMemory{
		name:         name,
		clock:        clock,
		bandwidthBps: bandwidthBps,
		capacity:     capacities,
		occupied:     occupied,
		stored:       stored,
	}
}

func (s *InMemory) Name() string { return s.name }

func (s *InMemory) MountPoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.capacity))
	for mp := range s.capacity {
		out = append(out, mp)
	}
	return out
}

func (s *InMemory) ioDelay(size int64) simclock.Time {
	if s.bandwidthBps <= 0 {
		return 0
	}
	return simclock.Time(float64(size) / s.bandwidthBps)
}

func (s *InMemory) ReadFile(ctx context.Context, file *workflow.File, mountPoint string) error {
	s.mu.Lock()
	present := s.stored[mountPoint][file.ID]
	s.mu.Unlock()
	if !present {
		return failure.New(failure.FileNotFound, "file %s not found at %s:%s", file.ID, s.name, mountPoint)
	}
	return s.clock.Sleep(ctx, s.ioDelay(file.Size))
}

func (s *InMemory) WriteFile(ctx context.Context, file *workflow.File, mountPoint string) error {
	s.mu.Lock()
	if s.occupied[mountPoint]+file.Size > s.capacity[mountPoint] {
		s.mu.Unlock()
		return failure.New(failure.StorageFull, "not enough space at %s:%s for file %s", s.name, mountPoint, file.ID)
	}
	if !s.stored[mountPoint][file.ID] {
		s.occupied[mountPoint] += file.Size
		s.stored[mountPoint][file.ID] = true
	}
	s.mu.Unlock()
	return s.clock.Sleep(ctx, s.ioDelay(file.Size))
}

func (s *InMemory) CopyFile(ctx context.Context, file *workflow.File, src Service, srcMountPoint, dstMountPoint string) error {
	if !src.LookupFile(file, srcMountPoint) {
		return failure.New(failure.FileNotFound, "file %s not found at source %s:%s", file.ID, src.Name(), srcMountPoint)
	}
	if err := s.clock.Sleep(ctx, s.ioDelay(file.Size)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.occupied[dstMountPoint]+file.Size > s.capacity[dstMountPoint] {
		return failure.New(failure.StorageFull, "not enough space at %s:%s for file %s", s.name, dstMountPoint, file.ID)
	}
	if !s.stored[dstMountPoint][file.ID] {
		s.occupied[dstMountPoint] += file.Size
		s.stored[dstMountPoint][file.ID] = true
	}
	return nil
}

func (s *InMemory) LookupFile(file *workflow.File, mountPoint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored[mountPoint][file.ID]
}

func (s *InMemory) DeleteFile(file *workflow.File, mountPoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stored[mountPoint][file.ID] {
		return failure.New(failure.FileNotFound, "file %s not found at %s:%s", file.ID, s.name, mountPoint)
	}
	delete(s.stored[mountPoint], file.ID)
	s.occupied[mountPoint] -= file.Size
	return nil
}

func (s *InMemory) FreeSpace() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.capacity))
	for mp, cap := range s.capacity {
		out[mp] = cap - s.occupied[mp]
	}
	return out
}
