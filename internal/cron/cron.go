package cron

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	cronv3 "github.com/robfig/cron/v3"

	"github.com/glidemail/mailcore/config"
	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/logger"
	"github.com/glidemail/mailcore/internal/tracing"
)

const syncJobTimeout = 10 * time.Minute

// Manager schedules the periodic sync pass over every configured account.
// A pass that is still running when the next tick fires is skipped, and a
// second layer of locking keeps two passes from ever overlapping.
type Manager struct {
	cfg      *config.AppConfig
	log      logger.Logger
	accounts interfaces.AccountRepository
	syncer   interfaces.SyncService

	cron    *cronv3.Cron
	syncJob sync.Mutex
	jobIDs  map[string]cronv3.EntryID
}

func NewManager(cfg *config.AppConfig, log logger.Logger, accounts interfaces.AccountRepository, syncer interfaces.SyncService) *Manager {
	return &Manager{
		cfg:      cfg,
		log:      log,
		accounts: accounts,
		syncer:   syncer,
		jobIDs:   make(map[string]cronv3.EntryID),
	}
}

func (m *Manager) Start() error {
	c := cronv3.New(cronv3.WithChain(
		cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
		cronv3.Recover(cronv3.DefaultLogger),
	))

	id, err := c.AddFunc(m.cfg.CronSchedule, func() {
		defer tracing.RecoverAndLogToJaeger("cron.syncAllAccounts")
		m.syncJob.Lock()
		defer m.syncJob.Unlock()
		m.syncAllAccounts()
	})
	if err != nil {
		return err
	}
	m.jobIDs["sync_all"] = id
	m.log.Infof("Registered account sync job with schedule: %s", m.cfg.CronSchedule)

	m.cron = c
	c.Start()
	return nil
}

// Stop waits for a running pass to finish before returning.
func (m *Manager) Stop() {
	if m.cron != nil {
		m.log.Info("Stopping cron manager")
		ctx := m.cron.Stop()
		<-ctx.Done()
	}
}

func (m *Manager) syncAllAccounts() {
	ctx, cancel := context.WithTimeout(context.Background(), syncJobTimeout)
	defer cancel()

	span, ctx := opentracing.StartSpanFromContext(ctx, "cron.syncAllAccounts")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	accounts, err := m.accounts.List(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		m.log.Errorf("Failed to list accounts for sync: %v", err)
		return
	}
	span.SetTag("accounts.total", len(accounts))

	for _, account := range accounts {
		if ctx.Err() != nil {
			m.log.Warnf("Sync pass timed out with accounts remaining")
			return
		}
		if err := m.syncer.SyncAll(ctx, account.ID); err != nil {
			m.log.Errorf("Sync failed for account %s: %v", account.ID, err)
		}
	}
}
