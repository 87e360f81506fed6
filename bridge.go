// Package bridge is spec.md §4.9's exports boundary: the small, typed
// ABI surface a host links against. Construction follows the teacher's
// own shape (github.com/go-interpreter/wagon's exec.NewVM(module,
// opts ...VMOption)): a functional-options constructor over a private
// config struct, named Option constructors for every knob the runtime
// exposes.
package bridge

import (
	"github.com/jackc/pgx"
	uuid "github.com/satori/go.uuid"

	"github.com/extio/luabridge/internal/allocator"
	"github.com/extio/luabridge/internal/bigint"
	"github.com/extio/luabridge/internal/bridgeerr"
	"github.com/extio/luabridge/internal/dispatch"
	"github.com/extio/luabridge/internal/exttable"
	"github.com/extio/luabridge/internal/funccodec"
	"github.com/extio/luabridge/internal/globals"
	"github.com/extio/luabridge/internal/hoststore"
	"github.com/extio/luabridge/internal/iobuf"
	"github.com/extio/luabridge/internal/lifecycle"
	"github.com/extio/luabridge/internal/luavm"
	"github.com/extio/luabridge/internal/oplog"
	"github.com/extio/luabridge/internal/wire"
)

// config mirrors the teacher's private VM config struct: every knob
// lives here, every Option mutates one field.
type config struct {
	bufferSize          int
	allocatorSize       int
	hostStore           exttable.HostStore
	memoryAliasEnabled  bool
	opLogPool           *pgx.ConnPool
	sessionID           uuid.UUID
}

// Option configures a Runtime at construction, the same VMOption shape
// the teacher uses for EnableAOT/PGConnPool/PGDBRun.
type Option func(*config)

// WithBufferSize records a buffer size in the runtime's config. spec.md
// §4.2 fixes the I/O buffer at 64 KiB: New always builds it with
// iobuf.New(), which is iobuf.Size bytes, so this value does not change
// the buffer's size.
func WithBufferSize(n int) Option { return func(c *config) { c.bufferSize = n } }

// WithAllocatorSize overrides the allocator shim's backing region size
// (§4.1 default >= 512 KiB).
func WithAllocatorSize(n int) Option { return func(c *config) { c.allocatorSize = n } }

// WithHostStore supplies the five-callback host backing store (§4.9
// imports). Defaults to hoststore.NewMemstore() when omitted.
func WithHostStore(s exttable.HostStore) Option { return func(c *config) { c.hostStore = s } }

// WithMemoryAliasEnabled sets the initial state of the legacy `Memory`
// global alias (§4.6 step 3 / set_memory_alias_enabled).
func WithMemoryAliasEnabled(enabled bool) Option {
	return func(c *config) { c.memoryAliasEnabled = enabled }
}

// WithOperationLog wires a pgx connection pool into internal/oplog so
// every host round trip is journaled (SPEC_FULL.md's AMBIENT STACK).
func WithOperationLog(pool *pgx.ConnPool) Option { return func(c *config) { c.opLogPool = pool } }

// WithSessionID tags the runtime with an explicit session id instead of
// an auto-generated one.
func WithSessionID(id uuid.UUID) Option { return func(c *config) { c.sessionID = id } }

// Runtime is one embedded VM instance: allocator, I/O buffer, proxy
// manager, globals, dispatcher, all wired together. It implements
// spec.md §4.9's exports as methods instead of free functions, since a
// real WASM build exports these from package main via //go:wasmexport
// thunks that simply forward to a package-level *Runtime.
type Runtime struct {
	cfg config

	alloc   *allocator.Allocator
	buf     *iobuf.Buffer
	state   *luavm.State
	registry *funccodec.Registry
	manager *exttable.Manager
	codec   *wire.Codec
	counter *lifecycle.Counter
	globals *globals.Globals
	dispatcher *dispatch.Dispatcher
	log     *oplog.Log
}

// New builds and initializes a Runtime: equivalent to a C embedding's
// lua_newstate + luaL_openlibs + the export-boundary `init` call, all
// in one step, since Go has no separate "module instantiation" phase
// the way a WASM host does.
func New(opts ...Option) (*Runtime, error) {
	cfg := config{
		bufferSize:    iobuf.Size,
		allocatorSize: 512 * 1024,
		sessionID:     uuid.NewV4(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.hostStore == nil {
		cfg.hostStore = hoststore.NewMemstore()
	}

	alloc, err := allocator.New(cfg.allocatorSize)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindOOM, err, "bridge: allocator init")
	}
	buf, err := iobuf.New()
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindOOM, err, "bridge: I/O buffer init")
	}

	log, err := oplog.New(cfg.opLogPool, cfg.sessionID)
	if err != nil {
		return nil, err
	}
	store := hoststore.NewLoggingStore(toLoggingHostStore(cfg.hostStore), log)

	state := luavm.NewState()
	bigint.Register(state.Interp)

	counter := lifecycle.New()
	manager := exttable.NewManager(store, counter.Next)
	registry := funccodec.Build(state.Interp)
	codec := wire.New(registry, manager, state.Global)
	manager.SetCodec(codec)

	g := globals.New(state.Interp, manager)
	g.SetMemoryAliasEnabled(cfg.memoryAliasEnabled)
	g.Init(0)

	d := dispatch.New(state, codec, buf)

	r := &Runtime{
		cfg:        cfg,
		alloc:      alloc,
		buf:        buf,
		state:      state,
		registry:   registry,
		manager:    manager,
		codec:      codec,
		counter:    counter,
		globals:    g,
		dispatcher: d,
		log:        log,
	}
	return r, nil
}

func toLoggingHostStore(s exttable.HostStore) hoststore.HostStore {
	return s
}

// Close releases the allocator and I/O buffer's backing linear memory
// and flushes the operation log, if any.
func (r *Runtime) Close() error {
	if err := r.log.Close(); err != nil {
		return err
	}
	if err := r.buf.Close(); err != nil {
		return err
	}
	return r.alloc.Close()
}

// Compute implements the `compute(ptr, len) -> i32` export. ptr/len
// name an offset and length into GetBufferPtr()'s region, matching the
// real ABI; this Go-level Runtime simply slices its own buffer rather
// than trusting a raw pointer from outside the process.
func (r *Runtime) Compute(ptr, length int32) int32 {
	if length < 0 || int(ptr)+int(length) > len(r.buf.Bytes()) {
		return int32(-1)
	}
	script := make([]byte, length)
	copy(script, r.buf.ReadAt(int(ptr), int(length)))
	return int32(r.dispatcher.Compute(script))
}

// GetBufferPtr implements get_buffer_ptr. There is no real linear
// memory address to export from a non-WASM Go process, so this
// returns 0 as a sentinel "the buffer is BufferBytes(), not an
// address" — a host driving this Runtime in-process (cmd/luabridgehost)
// calls BufferBytes directly instead of dereferencing a pointer.
func (r *Runtime) GetBufferPtr() int32 { return 0 }

// GetBufferSize implements get_buffer_size.
func (r *Runtime) GetBufferSize() int32 { return int32(len(r.buf.Bytes())) }

// BufferBytes exposes the shared I/O buffer directly, the in-process
// equivalent of a host reading/writing through GetBufferPtr's address.
func (r *Runtime) BufferBytes() []byte { return r.buf.Bytes() }

// GetMemoryTableID implements get_memory_table_id.
func (r *Runtime) GetMemoryTableID() uint32 { return r.globals.MemoryTableID() }

// AttachMemoryTable implements attach_memory_table(id). Per §4.8's
// required ordering, the host must have already called
// SyncExternalTableCounter with a next_id at least covering id.
func (r *Runtime) AttachMemoryTable(id uint32) { r.globals.AttachMemoryTable(id) }

// GetIOTableID implements get_io_table_id.
func (r *Runtime) GetIOTableID() uint32 { return r.globals.IOTableID() }

// ClearIOTable implements clear_io_table.
func (r *Runtime) ClearIOTable() error { return r.globals.ClearIOTable() }

// SyncExternalTableCounter implements sync_external_table_counter(next_id).
func (r *Runtime) SyncExternalTableCounter(nextID uint32) { r.counter.Sync(nextID) }

// SetMemoryAliasEnabled implements set_memory_alias_enabled(bool).
func (r *Runtime) SetMemoryAliasEnabled(enabled bool) { r.globals.SetMemoryAliasEnabled(enabled) }

// RunGC implements run_gc. The tree-walking interpreter has no
// separate GC cycle to trigger (Go's own GC reclaims everything this
// module allocates); this is a deliberate no-op kept for ABI parity,
// the same way a host expecting twelve stable exports gets twelve.
func (r *Runtime) RunGC() {}

// MemoryStats is get_memory_stats's out-param struct.
type MemoryStats struct {
	AllocatorBytes     uint32
	AllocatorUsedBytes uint32
	AllocatorFreeRuns  int
	BufferBytes        uint32
	NextTableID        uint32
}

// GetMemoryStats implements get_memory_stats(*out_struct).
func (r *Runtime) GetMemoryStats() MemoryStats {
	st := r.alloc.Stats()
	return MemoryStats{
		AllocatorBytes:     st.RegionBytes,
		AllocatorUsedBytes: st.UsedBytes,
		AllocatorFreeRuns:  st.FreeRuns,
		BufferBytes:        uint32(len(r.buf.Bytes())),
		NextTableID:        r.counter.Peek(),
	}
}

// SetInput and SetMeta are host-side convenience wrappers around
// _io.input/_io.meta (§4.6), letting a Go host hand in an already
// luavm-shaped value without writing a script to do it. Scripts
// themselves write _io.output via plain assignment.
func (r *Runtime) SetInput(v luavm.Value) error { return r.globals.SetInput(v) }
func (r *Runtime) SetMeta(v luavm.Value) error  { return r.globals.SetMeta(v) }
func (r *Runtime) Output() (luavm.Value, error) { return r.globals.Output() }

// NewTable is the Go-host equivalent of the script-visible ext.new_table()
// (internal/globals registers the latter as a global during Init), for a
// host building input structures before a compute call without writing a
// script to do it.
func (r *Runtime) NewTable() *luavm.Table { return r.manager.NewTable() }

// SessionID returns the uuid tag attached to every operation-log row.
func (r *Runtime) SessionID() uuid.UUID { return r.cfg.sessionID }
