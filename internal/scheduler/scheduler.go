package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/gig-escrow/internal/logger"
	"github.com/ignatzorin/gig-escrow/internal/metrics"
)

// Job - периодическая задача. Run возвращает число обработанных записей.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Scheduler запускает фоновые задачи по одному расписанию. Если прошлый
// запуск задачи ещё идёт, новый пропускается.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	jobs    []Job
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(spec string, timeout time.Duration, jobs ...Job) *Scheduler {
	cronLog := cron.PrintfLogger(logger.Component("scheduler"))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLog),
			cron.SkipIfStillRunning(cronLog),
		)),
		spec:    spec,
		jobs:    jobs,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scheduler) Start() error {
	for _, job := range s.jobs {
		job := job
		if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(job) }); err != nil {
			return err
		}
	}
	s.cron.Start()
	logger.Log.WithFields(logrus.Fields{"schedule": s.spec, "jobs": len(s.jobs)}).Info("планировщик запущен")
	return nil
}

// RunOnce выполняет задачу с таймаутом и пишет результат в лог и метрики.
func (s *Scheduler) RunOnce(job Job) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	n, err := job.Run(ctx)
	duration := time.Since(start)

	log := logger.Log.WithFields(logrus.Fields{"job": job.Name, "duration": duration})
	if err != nil {
		metrics.RecordSweep(job.Name, "error", duration)
		log.WithError(err).Error("фоновая задача завершилась с ошибкой")
		return
	}
	metrics.RecordSweep(job.Name, "ok", duration)
	if n > 0 {
		log.WithField("processed", n).Info("фоновая задача выполнена")
	}
}

func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
}
