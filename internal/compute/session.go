// Package compute is the host-side dispatch harness: it selects one device,
// builds kernel programs for it, moves data in and out of device buffers,
// launches kernels after validating their work geometry and releases every
// handle in dependency order.
//
// All calls block until the driver reports completion. A Session is owned by
// one goroutine.
package compute

import (
	"fmt"
	"log/slog"

	"github.com/cwbudde/clpipe/internal/compute/driver"
)

// Re-exported driver types used throughout the harness API.
type (
	AccessMode   = driver.AccessMode
	DeviceClass  = driver.DeviceClass
	DeviceInfo   = driver.DeviceInfo
	PlatformInfo = driver.PlatformInfo
)

const (
	ReadWrite = driver.ReadWrite
	ReadOnly  = driver.ReadOnly
	WriteOnly = driver.WriteOnly
)

// Session owns the selected device, its context and its single in-order
// command queue, plus every handle created through it.
type Session struct {
	drv      driver.Driver
	platform driver.PlatformInfo
	device   driver.Device
	info     driver.DeviceInfo
	context  driver.Context
	queue    driver.Queue

	contextRes *resource
	life       *Lifecycle
	logger     *slog.Logger
}

type options struct {
	class    driver.DeviceClass
	platform int
	fallback bool
	logger   *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithDeviceClass selects the requested device class (GPU by default).
func WithDeviceClass(class driver.DeviceClass) Option {
	return func(o *options) { o.class = class }
}

// WithPlatform restricts selection to the platform at index.
func WithPlatform(index int) Option {
	return func(o *options) { o.platform = index }
}

// WithFallback lets selection fall back to a CPU and then to any device when
// the requested class is missing.
func WithFallback(enabled bool) Option {
	return func(o *options) { o.fallback = enabled }
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

type candidate struct {
	platform driver.Platform
	devices  []driver.Device
}

// Open selects a device and creates its context and command queue.
func Open(drv driver.Driver, opts ...Option) (*Session, error) {
	o := options{class: driver.ClassGPU, platform: -1, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	candidates, err := discover(drv, o.platform)
	if err != nil {
		return nil, err
	}

	platform, device, err := selectDevice(candidates, selectionOrder(o.class, o.fallback))
	if err != nil {
		return nil, err
	}
	info := device.Info()

	s := &Session{
		drv:      drv,
		platform: platform.Info(),
		device:   device,
		info:     info,
		life:     newLifecycle(o.logger),
		logger:   o.logger,
	}

	ctx, err := device.NewContext()
	if err != nil {
		return nil, wrap(KindContext, "create context", err)
	}
	s.context = ctx
	s.contextRes = s.life.acquire("context", "", nil, ctx.Release)

	queue, err := ctx.NewQueue()
	if err != nil {
		qerr := wrap(KindQueue, "create command queue", err)
		if terr := s.life.Teardown(); terr != nil {
			s.logger.Warn("Cleanup after queue failure", "error", terr)
		}
		return nil, qerr
	}
	s.queue = queue
	s.life.acquire("queue", "", s.contextRes, queue.Release)

	s.logger.Info("Compute session opened",
		"driver", drv.Name(),
		"platform", s.platform.Name,
		"device", info.Name,
		"class", info.Class,
		"max_work_group_size", info.MaxWorkGroupSize,
		"local_mem_size", info.LocalMemSize,
	)
	return s, nil
}

func discover(drv driver.Driver, pin int) ([]candidate, error) {
	platforms, err := drv.Platforms()
	if err != nil {
		return nil, wrap(KindPlatform, "enumerate platforms", err)
	}
	if len(platforms) == 0 {
		return nil, failf(KindPlatform, "enumerate platforms", "no compute platform found")
	}
	if pin >= 0 {
		if pin >= len(platforms) {
			return nil, failf(KindPlatform, "enumerate platforms", "platform index %d out of range (%d available)", pin, len(platforms))
		}
		platforms = platforms[pin : pin+1]
	}

	out := make([]candidate, 0, len(platforms))
	for _, p := range platforms {
		devices, err := p.Devices()
		if err != nil {
			if isDeviceNotFound(err) {
				continue
			}
			return nil, wrap(KindDevice, "enumerate devices", err)
		}
		out = append(out, candidate{platform: p, devices: devices})
	}
	return out, nil
}

func selectionOrder(class driver.DeviceClass, fallback bool) []driver.DeviceClass {
	order := []driver.DeviceClass{class}
	if !fallback {
		return order
	}
	for _, c := range []driver.DeviceClass{driver.ClassCPU, driver.ClassAny} {
		if c != class {
			order = append(order, c)
		}
	}
	return order
}

func selectDevice(candidates []candidate, order []driver.DeviceClass) (driver.Platform, driver.Device, error) {
	for _, class := range order {
		for _, c := range candidates {
			for _, d := range c.devices {
				if d.Info().Class.Matches(class) {
					return c.platform, d, nil
				}
			}
		}
	}
	return nil, nil, failf(KindDevice, "select device", "no %s device found", order[0])
}

// Enumerate lists every platform with its devices without opening a session.
func Enumerate(drv driver.Driver) ([]driver.PlatformInfo, error) {
	platforms, err := drv.Platforms()
	if err != nil {
		return nil, wrap(KindPlatform, "enumerate platforms", err)
	}
	out := make([]driver.PlatformInfo, len(platforms))
	for i, p := range platforms {
		info := p.Info()
		devices, err := p.Devices()
		if err != nil && !isDeviceNotFound(err) {
			return nil, wrap(KindDevice, "enumerate devices", err)
		}
		info.Devices = make([]driver.DeviceInfo, len(devices))
		for j, d := range devices {
			info.Devices[j] = d.Info()
		}
		out[i] = info
	}
	return out, nil
}

func isDeviceNotFound(err error) bool {
	status, ok := driver.StatusOf(err)
	return ok && status == driver.StatusDeviceNotFound
}

// Device returns the selected device's metadata and limits.
func (s *Session) Device() driver.DeviceInfo { return s.info }

// Platform returns the platform of the selected device.
func (s *Session) Platform() driver.PlatformInfo { return s.platform }

// DriverName names the driver backing the session.
func (s *Session) DriverName() string { return s.drv.Name() }

// Lifecycle exposes the handle registry of the session.
func (s *Session) Lifecycle() *Lifecycle { return s.life }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Close tears the session down. It is safe to call more than once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	err := s.life.Teardown()
	if err != nil {
		s.logger.Warn("Teardown reported errors", "error", err)
	} else {
		s.logger.Debug("Compute session closed")
	}
	return err
}

// String describes the session for log lines.
func (s *Session) String() string {
	return fmt.Sprintf("%s/%s (%s)", s.platform.Name, s.info.Name, s.info.Class)
}
