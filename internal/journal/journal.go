package journal

/*
Журнал резолвов: асинхронная пакетная запись исходов резолва.

- Record не блокирует hot path: событие кладется в буферизованный канал,
  при переполнении сбрасывается (load shedding) с записью в лог.
- Воркер копит пачку и пишет ее в Sink по таймеру или при достижении размера пачки.
- Stop закрывает вход и дожидается, пока воркер вычитает буфер и сделает финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-scope-resolver/internal/metrics"
	"go.uber.org/zap"
)

// Sink определяет, куда физически пишутся записи.
type Sink interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, entries []Entry) error
}

// Recorder — то, что нужно движку резолва.
type Recorder interface {
	Record(e Entry)
}

// Discard — Sink без хранилища (локальный запуск, CLI).
type Discard struct{}

func (Discard) WriteBatch(context.Context, []Entry) error { return nil }

type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		BufferSize:    10000,
		BatchSize:     100,
		FlushInterval: 500 * time.Millisecond,
		WriteTimeout:  5 * time.Second,
	}
}

type Journal struct {
	cfg     Config
	ch      chan Entry
	sink    Sink
	metrics *metrics.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup

	// closed под mu: Record держит RLock на время отправки, Stop берет Lock перед close(ch)
	mu     sync.RWMutex
	closed bool
}

func New(sink Sink, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Journal {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if sink == nil {
		sink = Discard{}
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Journal{
		cfg:     cfg,
		ch:      make(chan Entry, cfg.BufferSize),
		sink:    sink,
		metrics: m,
		logger:  logger.Named("journal"),
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop запирает вход и ждет, пока воркер все допишет.
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	j.logger.Info("stopping journal: flushing buffer...")
	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

func (j *Journal) Record(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		j.logger.Warn("journal entry dropped: journal is stopping", zap.String("id", e.ID))
		return
	}

	select {
	case j.ch <- e:
		j.metrics.JournalBufferFill.Set(float64(len(j.ch)))
	default:
		j.logger.Error("journal_buffer_overflow",
			zap.String("id", e.ID),
			zap.String("user_id", e.UserID),
			zap.String("outcome", e.Outcome))
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]Entry, 0, j.cfg.BatchSize)
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Отдельный контекст: на остановке контекст сервиса уже закрыт
		ctx, cancel := context.WithTimeout(context.Background(), j.cfg.WriteTimeout)
		if err := j.sink.WriteBatch(ctx, batch); err != nil {
			j.logger.Error("journal flush failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		cancel()
		batch = make([]Entry, 0, j.cfg.BatchSize)
		j.metrics.JournalBufferFill.Set(float64(len(j.ch)))
	}

	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, e)
			if len(batch) >= j.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
