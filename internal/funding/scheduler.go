package funding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"alphawave/pkg/utils"

	"go.uber.org/zap"
)

// ErrSymbolNotFound - символа нет в последнем прогоне
var ErrSymbolNotFound = errors.New("symbol not found in funding data")

// Сообщения для чата
const (
	msgFetchError = "Error while receiving funding rate!"
	msgScheduled  = "Next funding rate update scheduled at %s (KST)"
)

// Source - источник прогонов (Aggregator)
type Source interface {
	Run(ctx context.Context) (*Result, error)
}

// Publisher доставляет текст в чат
type Publisher interface {
	Send(ctx context.Context, text string) error
}

// Snapshot - последний успешный прогон и готовый отчёт
type Snapshot struct {
	Report string
	Result *Result
	At     time.Time
}

// Scheduler публикует отчёт на каждой границе получаса по KST и хранит
// последний успешный результат. Чтение кэша никогда не запускает прогон.
type Scheduler struct {
	src    Source
	pub    Publisher
	logger *zap.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	refreshMu sync.Mutex // один прогон за раз

	mu   sync.RWMutex
	snap *Snapshot
}

func NewScheduler(src Source, pub Publisher, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		src:    src,
		pub:    pub,
		logger: logger.Named("scheduler"),
		now:    time.Now,
		after:  time.After,
	}
}

// Refresh выполняет прогон и обновляет кэш; при ошибке кэш не меняется
func (s *Scheduler) Refresh(ctx context.Context) (*Snapshot, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.logger.Info("получение ставок фандинга")
	res, err := s.src.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("funding run: %w", err)
	}

	snap := &Snapshot{
		Report: Report(res.Top),
		Result: res,
		At:     s.now(),
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return snap, nil
}

// Publish обновляет данные и отправляет отчёт; при ошибке отправляет сообщение об ошибке
func (s *Scheduler) Publish(ctx context.Context) error {
	snap, err := s.Refresh(ctx)
	if err != nil {
		s.logger.Error("ошибка получения ставок", zap.Error(err))
		s.send(ctx, msgFetchError)
		return err
	}
	s.send(ctx, snap.Report)
	return nil
}

// Latest возвращает кэш без запросов к биржам
func (s *Scheduler) Latest() (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, s.snap != nil
}

// SymbolDetail - отчёт по одному символу из последнего прогона (до дедупликации)
func (s *Scheduler) SymbolDetail(symbol string) (string, error) {
	snap, ok := s.Latest()
	if !ok {
		return "", ErrNoData
	}
	records := snap.Result.BySymbol(symbol)
	if len(records) == 0 {
		return "", fmt.Errorf("%s: %w", symbol, ErrSymbolNotFound)
	}
	return DetailReport(records), nil
}

// SymbolList - пары "биржа: символ" из последнего отчёта
func (s *Scheduler) SymbolList() (string, error) {
	snap, ok := s.Latest()
	if !ok {
		return "", ErrNoData
	}
	return SymbolList(snap.Report), nil
}

// Run публикует отчёт на каждой границе :00/:30 KST до отмены ctx.
// Перед ожиданием анонсирует время следующего обновления.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.now()
		next := utils.NextHalfHour(now)
		wait := next.Sub(now)

		s.send(ctx, fmt.Sprintf(msgScheduled, next.Format(utils.ScheduleLayout)))
		s.logger.Info("следующее обновление фандинга",
			zap.Time("at", next),
			zap.String("wait", utils.FormatDuration(wait)),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(wait):
		}

		if err := s.Publish(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Scheduler) send(ctx context.Context, text string) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Send(ctx, text); err != nil {
		s.logger.Warn("сообщение не доставлено", zap.Error(err))
	}
}
