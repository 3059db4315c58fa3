package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Uploader stores a finished archive and returns where it went.
type Uploader interface {
	Upload(ctx context.Context, data []byte) (string, error)
}

// Result describes one backup run.
type Result struct {
	Key      string    `json:"key"`
	Manifest Manifest  `json:"manifest"`
	Size     int       `json:"size"`
	Started  time.Time `json:"startedAt"`
	Duration string    `json:"duration"`
}

// ErrBackupRunning is returned by RunOnce while another run is in progress.
var ErrBackupRunning = errors.New("backup already running")

// Scheduler runs backups on a cron spec. Runs never overlap; a tick that
// fires during a run is skipped.
type Scheduler struct {
	archiver *Archiver
	uploader Uploader
	logger   *zap.Logger
	timeout  time.Duration
	cron     *cron.Cron

	running sync.Mutex
	mu      sync.Mutex
	last    *Result
	lastErr error
}

func NewScheduler(spec string, archiver *Archiver, uploader Uploader, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		archiver: archiver,
		uploader: uploader,
		logger:   logger,
		timeout:  5 * time.Minute,
		cron:     cron.New(cron.WithLogger(cronLogger{logger.Sugar()})),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("backup scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop stops scheduling and waits for a running backup to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("backup scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); errors.Is(err, ErrBackupRunning) {
		s.logger.Info("backup skipped, previous run still in progress")
	}
}

// RunOnce archives the store and uploads it now.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	if !s.running.TryLock() {
		return Result{}, ErrBackupRunning
	}
	defer s.running.Unlock()

	start := time.Now()
	res, err := s.run(ctx, start)
	s.mu.Lock()
	s.lastErr = err
	if err == nil {
		s.last = &res
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("backup failed", zap.Error(err))
		return Result{}, err
	}
	s.logger.Info("backup complete",
		zap.String("key", res.Key),
		zap.Int("records", res.Manifest.Records),
		zap.Int("bytes", res.Size),
		zap.String("duration", res.Duration))
	return res, nil
}

func (s *Scheduler) run(ctx context.Context, start time.Time) (Result, error) {
	data, m, err := s.archiver.CreateBytes(ctx)
	if err != nil {
		return Result{}, err
	}
	key, err := s.uploader.Upload(ctx, data)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Key:      key,
		Manifest: m,
		Size:     len(data),
		Started:  start,
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}, nil
}

// Last returns the most recent successful run and the error of the most
// recent run, if any.
func (s *Scheduler) Last() (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastErr
}

// cronLogger routes cron's own logging into zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
