package services

import (
	"log/slog"

	"github.com/orgboard/orgsync/internal/adapters/calendar"
	"github.com/orgboard/orgsync/internal/adapters/ledger"
	"github.com/orgboard/orgsync/internal/adapters/ratelimit"
	"github.com/orgboard/orgsync/internal/config"
	"github.com/orgboard/orgsync/internal/credentials"
	"github.com/orgboard/orgsync/internal/db"
	"github.com/orgboard/orgsync/internal/services/audit"
	"github.com/orgboard/orgsync/internal/services/capability"
	"github.com/orgboard/orgsync/internal/services/event"
	"github.com/orgboard/orgsync/internal/services/review"
	"github.com/orgboard/orgsync/internal/services/syncstate"
	"github.com/orgboard/orgsync/internal/services/transaction"
	"github.com/orgboard/orgsync/internal/services/user"
	"github.com/orgboard/orgsync/internal/sync"
	"github.com/redis/go-redis/v9"
)

type Services struct {
	Gate        *capability.Gate
	User        *user.UserService
	Event       *event.EventService
	Transaction *transaction.TransactionService
	Review      *review.ReviewService
	Audit       *audit.AuditService

	CalendarSync *sync.Orchestrator[*event.Event]
	LedgerSync   *sync.Orchestrator[*transaction.Transaction]
}

func NewServices(conf *config.Config) *Services {
	dbconn := db.NewConn(conf)

	gate := capability.NewGate()

	eventRepo := event.NewEventRepo(dbconn)
	transactionRepo := transaction.NewTransactionRepo(dbconn)
	reviewRepo := review.NewReviewRepo(dbconn)
	cursorRepo := syncstate.NewCursorRepo(dbconn)

	reviewSvc := review.NewReviewService(reviewRepo, gate)
	reviewSvc.RegisterApplier(sync.SourceCalendar, event.NewReviewApplier(eventRepo))
	reviewSvc.RegisterApplier(sync.SourceLedger, transaction.NewReviewApplier(transactionRepo))

	var auditSvc *audit.AuditService
	var recorder sync.Recorder
	if conf.CLICKHOUSE_HOST != "" {
		chConn, err := audit.NewClickHouseConn(&audit.ClickHouseConfig{
			Host:     conf.CLICKHOUSE_HOST,
			Port:     conf.CLICKHOUSE_PORT,
			Database: conf.CLICKHOUSE_DATABASE,
			Username: conf.CLICKHOUSE_USERNAME,
			Password: conf.CLICKHOUSE_PASSWORD,
			UseTLS:   conf.CLICKHOUSE_USE_TLS,
		})
		if err != nil {
			slog.Warn("Failed to connect to ClickHouse for the sync audit trail", slog.Any("error", err))
		} else {
			auditSvc, err = audit.NewAuditService(chConn)
			if err != nil {
				slog.Warn("Failed to prepare sync audit trail", slog.Any("error", err))
			} else {
				recorder = auditSvc
				slog.Info("Connected to ClickHouse for the sync audit trail")
			}
		}
	}

	// Replicas share one outbound budget when Redis is configured.
	var limiter ratelimit.Storage
	if conf.REDIS_ADDR != "" {
		limiter = ratelimit.NewRedisStorage(redis.NewClient(&redis.Options{
			Addr:     conf.REDIS_ADDR,
			Password: conf.REDIS_PASSWORD,
		}), "")
		slog.Info("Using Redis-backed outbound rate limiting", slog.String("addr", conf.REDIS_ADDR))
	} else {
		limiter = ratelimit.NewInMemoryStorage()
	}

	calendarCreds := credentials.NewManager("calendar",
		conf.CALENDAR_TOKEN_URL, conf.CALENDAR_CLIENT_ID, conf.CALENDAR_CLIENT_SECRET)
	ledgerCreds := credentials.NewManager("ledger",
		conf.LEDGER_TOKEN_URL, conf.LEDGER_CLIENT_ID, conf.LEDGER_CLIENT_SECRET)

	calendarAdapter := calendar.NewAdapter(calendar.NewClient(
		conf.CALENDAR_BASE_URL, conf.CALENDAR_ID, calendarCreds, limiter, conf.CALENDAR_RATE_PER_MIN))
	ledgerAdapter := ledger.NewAdapter(ledger.NewClient(
		conf.LEDGER_BASE_URL, conf.LEDGER_SPREADSHEET_ID, ledgerCreds, limiter, conf.LEDGER_RATE_PER_100S),
		conf.LEDGER_SHEET, conf.LEDGER_BATCH_ROWS)

	calendarSync := sync.NewOrchestrator(sync.SourceCalendar,
		calendarAdapter, eventRepo, event.NewResolver(), cursorRepo, reviewRepo,
		sync.Options{
			Interval:       conf.SYNC_INTERVAL,
			Debounce:       conf.SYNC_DEBOUNCE,
			BackoffCeiling: conf.SYNC_BACKOFF_CEILING,
			Credentials:    calendarCreds,
			Recorder:       recorder,
		})

	ledgerSync := sync.NewOrchestrator(sync.SourceLedger,
		ledgerAdapter, transactionRepo, transaction.NewResolver(), cursorRepo, reviewRepo,
		sync.Options{
			Interval:       conf.SYNC_INTERVAL,
			Debounce:       conf.SYNC_DEBOUNCE,
			BackoffCeiling: conf.SYNC_BACKOFF_CEILING,
			Credentials:    ledgerCreds,
			Recorder:       recorder,
		})

	return &Services{
		Gate:         gate,
		User:         user.NewUserService(user.NewUserRepo(dbconn), gate),
		Event:        event.NewEventService(eventRepo, gate, reviewRepo),
		Transaction:  transaction.NewTransactionService(transactionRepo, gate, reviewRepo),
		Review:       reviewSvc,
		Audit:        auditSvc,
		CalendarSync: calendarSync,
		LedgerSync:   ledgerSync,
	}
}
