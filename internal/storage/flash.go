package storage

// Submitter queues completion callbacks onto the caller's scheduler.
type Submitter interface {
	Submit(fn func())
}

// Flash is the asynchronous storage channel used by the metadata coordinator.
// Every call returns immediately; done runs later on the Submitter, never
// inline.
type Flash interface {
	CreateShard(shard uint64, done func(error))
	Get(shard uint64, key string, done func([]byte, error))
	Put(shard uint64, key string, value []byte, done func(error))
	Delete(shard uint64, key string, done func(error))
}

// AsyncFlash adapts a synchronous Store into a Flash whose completions are
// delivered through a Submitter.
type AsyncFlash struct {
	store Store
	exec  Submitter
}

// NewAsyncFlash wraps store, delivering completions on exec.
func NewAsyncFlash(store Store, exec Submitter) *AsyncFlash {
	return &AsyncFlash{store: store, exec: exec}
}

// Store returns the wrapped store.
func (f *AsyncFlash) Store() Store { return f.store }

func (f *AsyncFlash) CreateShard(shard uint64, done func(error)) {
	err := f.store.CreateShard(shard)
	f.exec.Submit(func() { done(err) })
}

func (f *AsyncFlash) Get(shard uint64, key string, done func([]byte, error)) {
	value, err := f.store.Get(shard, key)
	f.exec.Submit(func() { done(value, err) })
}

func (f *AsyncFlash) Put(shard uint64, key string, value []byte, done func(error)) {
	err := f.store.Put(shard, key, value)
	f.exec.Submit(func() { done(err) })
}

func (f *AsyncFlash) Delete(shard uint64, key string, done func(error)) {
	err := f.store.Delete(shard, key)
	f.exec.Submit(func() { done(err) })
}
