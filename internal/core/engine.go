// engine.go provides the central Engine that wires together all unity subsystems.
package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/unity-portal/unity/internal/audit"
	"github.com/unity-portal/unity/internal/config"
	"github.com/unity-portal/unity/internal/db"
	"github.com/unity-portal/unity/internal/firecloud"
	"github.com/unity-portal/unity/internal/gcs"
	"github.com/unity-portal/unity/internal/identity"
	"github.com/unity-portal/unity/internal/logging"
	"github.com/unity-portal/unity/internal/scope"
	"github.com/unity-portal/unity/internal/vault"
)

// ErrNoSecretKeyBase is returned by user operations when no secret key base
// is configured to unseal refresh tokens.
var ErrNoSecretKeyBase = errors.New("SECRET_KEY_BASE is not set; user credentials are unavailable")

// Engine is the central coordinator for all unity subsystems.
type Engine struct {
	Config      *config.Config
	MetadataDB  *sql.DB
	AuditDB     *sql.DB
	Sealer      *vault.Sealer
	AuditLogger *audit.Logger
	Users       *identity.Store
	Scope       *scope.Checker
	Metrics     *firecloud.Metrics
	Registry    *prometheus.Registry
	Logger      zerolog.Logger

	httpClient firecloud.Doer
	minter     firecloud.TokenMinter
	driver     gcs.Driver
	loggerSet  bool

	portalMu sync.Mutex
	portal   *firecloud.Client

	storageMu sync.Mutex
	storage   *gcs.Store
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithHTTPClient sets the transport used by every API client.
func WithHTTPClient(d firecloud.Doer) EngineOption {
	return func(e *Engine) { e.httpClient = d }
}

// WithServiceMinter replaces the service-account key as the portal token
// source.
func WithServiceMinter(m firecloud.TokenMinter) EngineOption {
	return func(e *Engine) { e.minter = m }
}

// WithStorageDriver replaces the Cloud Storage driver.
func WithStorageDriver(d gcs.Driver) EngineOption {
	return func(e *Engine) { e.driver = d }
}

// WithLogger replaces the configured logger.
func WithLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.Logger = l
		e.loggerSet = true
	}
}

// Open prepares the data directory and opens every local subsystem. Remote
// clients are created lazily.
func Open(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{Config: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if !e.loggerSet {
		e.Logger = logging.New(cfg.LogFormat, cfg.LogLevel)
	}

	if err := db.EnsureDataDir(cfg.DataDir); err != nil {
		return nil, err
	}

	// Open metadata database
	metaDB, err := db.OpenMetadataDB(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening metadata database: %w", err)
	}
	e.MetadataDB = metaDB

	// Open audit database
	auditDB, err := db.OpenAuditDB(cfg.DataDir)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	e.AuditDB = auditDB

	al, err := audit.NewLogger(auditDB, e.Logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("creating audit logger: %w", err)
	}
	e.AuditLogger = al

	if cfg.SecretKeyBase != "" {
		sealer, err := vault.Open(filepath.Join(cfg.DataDir, vault.KeyFileName), cfg.SecretKeyBase)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("opening vault: %w", err)
		}
		e.Sealer = sealer
		e.Users = identity.NewStore(metaDB, sealer, al)
	}

	e.Scope = scope.NewChecker(scope.Scope{
		Namespaces:       cfg.Namespaces,
		ComputeBlocklist: firecloud.ComputeBlocklist,
	})

	e.Registry = prometheus.NewRegistry()
	e.Metrics = firecloud.NewMetrics(e.Registry)

	if e.httpClient == nil {
		e.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	return e, nil
}

func (e *Engine) clientOptions(project string) []firecloud.Option {
	if project == "" {
		project = e.Config.Project
	}
	return []firecloud.Option{
		firecloud.WithAPIRoot(e.Config.APIRoot),
		firecloud.WithHTTPClient(e.httpClient),
		firecloud.WithRetryPolicy(e.Config.RetryPolicy()),
		firecloud.WithLogger(e.Logger),
		firecloud.WithRecorder(e.AuditLogger),
		firecloud.WithMetrics(e.Metrics),
		firecloud.WithProject(project),
	}
}

func (e *Engine) refreshObserver(issuer string) firecloud.CredentialOption {
	record := e.AuditLogger.RefreshObserver(issuer)
	return firecloud.WithRefreshObserver(func(kind firecloud.IdentityKind, err error) {
		e.Metrics.ObserveRefresh(kind, err)
		record(kind, err)
		if err != nil {
			e.Logger.Error().Err(err).Str("issuer", issuer).Msg("token refresh failed")
		}
	})
}

// Portal returns the process-wide client acting as the portal service
// account. Only a successful build is cached; the token inside it is
// refreshed as needed.
func (e *Engine) Portal(ctx context.Context) (*firecloud.Client, error) {
	e.portalMu.Lock()
	defer e.portalMu.Unlock()
	if e.portal != nil {
		return e.portal, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	minter := e.minter
	if minter == nil {
		key, err := e.Config.ReadServiceAccountKey()
		if err != nil {
			return nil, err
		}
		// The minter outlives this call.
		m, err := firecloud.NewServiceMinter(context.Background(), key)
		if err != nil {
			return nil, err
		}
		minter = m
	}

	creds := firecloud.NewCredentials(firecloud.IdentityService, minter,
		firecloud.WithCredentialLogger(e.Logger),
		e.refreshObserver(minter.Issuer()),
	)
	e.portal = firecloud.New(creds, e.clientOptions("")...)
	e.Logger.Debug().Str("issuer", minter.Issuer()).Msg("portal service client ready")
	return e.portal, nil
}

// UserClient returns a client acting as a stored user. The user's last
// access token is reused until it expires; refreshed tokens are written back.
func (e *Engine) UserClient(ctx context.Context, email, project string) (*firecloud.Client, error) {
	if e.Users == nil {
		return nil, ErrNoSecretKeyBase
	}
	u, err := e.Users.GetUser(email)
	if err != nil {
		return nil, err
	}
	refresh, err := e.Users.RefreshToken(u.Email)
	if err != nil {
		return nil, err
	}

	oauthCfg := firecloud.OAuthConfig(e.Config.OAuthClientID, e.Config.OAuthClientSecret, e.Config.TokenURL)
	creds := firecloud.NewCredentials(firecloud.IdentityUser,
		firecloud.NewUserMinter(oauthCfg, u.Email, refresh),
		firecloud.WithTokenStore(e.Users.TokenSink(u.Email)),
		firecloud.WithInitialToken(u.Token),
		firecloud.WithCredentialLogger(e.Logger),
		e.refreshObserver(u.Email),
	)
	return firecloud.New(creds, e.clientOptions(project)...), nil
}

// scopedResolver refuses bucket lookups for out-of-scope namespaces.
type scopedResolver struct {
	portal *firecloud.Client
	scope  *scope.Checker
}

func (r scopedResolver) WorkspaceBucket(ctx context.Context, namespace, name string) (string, error) {
	if err := r.scope.CheckNamespace(namespace); err != nil {
		return "", err
	}
	return r.portal.WorkspaceBucket(ctx, namespace, name)
}

// Storage returns the workspace storage layer. Storage runs as the portal
// service account.
func (e *Engine) Storage(ctx context.Context) (*gcs.Store, error) {
	e.storageMu.Lock()
	defer e.storageMu.Unlock()
	if e.storage != nil {
		return e.storage, nil
	}

	portal, err := e.Portal(ctx)
	if err != nil {
		return nil, err
	}

	driver := e.driver
	if driver == nil {
		key, err := e.Config.ReadServiceAccountKey()
		if err != nil {
			return nil, err
		}
		d, err := gcs.NewGCSDriver(ctx, key)
		if err != nil {
			return nil, err
		}
		driver = d
	}

	e.storage = gcs.NewStore(driver, scopedResolver{portal: portal, scope: e.Scope},
		gcs.WithRetryPolicy(e.Config.RetryPolicy()),
		gcs.WithLogger(e.Logger),
		gcs.WithRecorder(e.AuditLogger),
	)
	return e.storage, nil
}

// EnsureRegistered reports whether a user has registered with FireCloud,
// asking the API only while the cached flag is unset.
func (e *Engine) EnsureRegistered(ctx context.Context, email string) (bool, error) {
	if e.Users == nil {
		return false, ErrNoSecretKeyBase
	}
	u, err := e.Users.GetUser(email)
	if err != nil {
		return false, err
	}
	if u.RegisteredForFireCloud {
		return true, nil
	}

	client, err := e.UserClient(ctx, u.Email, "")
	if err != nil {
		return false, err
	}
	registered, err := client.Registered(ctx)
	if err != nil {
		return false, fmt.Errorf("checking registration of %s: %w", u.Email, err)
	}
	if registered {
		if err := e.Users.MarkRegistered(u.Email, true); err != nil {
			return true, err
		}
	}
	return registered, nil
}

// CheckAPIHealth asks the platform for its status, records the outcome and
// logs an alert when a required subsystem is down.
func (e *Engine) CheckAPIHealth(ctx context.Context) (*HealthReport, error) {
	portal, err := e.Portal(ctx)
	if err != nil {
		return nil, err
	}

	report := HealthReport{
		CheckedAt: time.Now().UTC(),
		State:     HealthOK,
		Systems:   map[string]bool{},
	}

	st, err := portal.Status(ctx)
	if err != nil {
		report.State = HealthDown
		report.Error = err.Error()
	} else {
		for name, sub := range st.Systems {
			report.Systems[name] = sub.OK
		}
		if !st.OK {
			report.State = HealthDegraded
		}
		for _, name := range e.Config.HealthServices {
			if !report.Systems[name] {
				report.State = HealthDown
			}
		}
	}

	if err := e.recordHealth(report); err != nil {
		return &report, err
	}

	switch report.State {
	case HealthDown:
		e.Logger.Error().Str("state", string(report.State)).Str("error", report.Error).
			Msg("orchestration API is unavailable")
	case HealthDegraded:
		e.Logger.Warn().Msg("orchestration API reports degraded subsystems")
	}
	return &report, nil
}

func (e *Engine) recordHealth(r HealthReport) error {
	systems, err := json.Marshal(r.Systems)
	if err != nil {
		return err
	}
	ok := 0
	if r.OK() {
		ok = 1
	}
	_, err = e.MetadataDB.Exec(
		"INSERT INTO health_checks (checked_at, ok, systems) VALUES (?, ?, ?)",
		r.CheckedAt.Format(time.RFC3339Nano), ok, string(systems),
	)
	if err != nil {
		return fmt.Errorf("recording health check: %w", err)
	}
	e.AuditLogger.Log(audit.EventHealthCheck, string(firecloud.IdentityService), "", r)
	return nil
}

// HealthHistory returns up to limit recorded health checks, newest first.
func (e *Engine) HealthHistory(limit int) ([]HealthReport, error) {
	rows, err := e.MetadataDB.Query(
		"SELECT checked_at, ok, systems FROM health_checks ORDER BY id DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying health checks: %w", err)
	}
	defer rows.Close()

	var out []HealthReport
	for rows.Next() {
		var checkedAt, systems string
		var ok int
		if err := rows.Scan(&checkedAt, &ok, &systems); err != nil {
			return nil, fmt.Errorf("scanning health check: %w", err)
		}
		r := HealthReport{State: HealthOK, Systems: map[string]bool{}}
		var err error
		if r.CheckedAt, err = time.Parse(time.RFC3339Nano, checkedAt); err != nil {
			return nil, fmt.Errorf("scanning health check: checked_at: %w", err)
		}
		if err := json.Unmarshal([]byte(systems), &r.Systems); err != nil {
			return nil, fmt.Errorf("scanning health check from %s: systems: %w", checkedAt, err)
		}
		if ok == 0 {
			r.State = HealthDown
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ProjectWorkspaceComputes reports the grant user holds on every workspace
// of the portal billing project.
func (e *Engine) ProjectWorkspaceComputes(ctx context.Context, user string) ([]firecloud.WorkspaceCompute, error) {
	project := e.Config.Project
	if err := e.Scope.CheckNamespace(project); err != nil {
		return nil, err
	}
	portal, err := e.Portal(ctx)
	if err != nil {
		return nil, err
	}
	computes, err := firecloud.WorkspaceComputes(ctx, portal, project, user, e.Config.ACLWorkers)
	if err != nil {
		return nil, err
	}
	for i := range computes {
		computes[i].CanCompute = computes[i].CanCompute && e.Scope.CanCompute(project)
	}
	return computes, nil
}

// RefreshExpiringTokens refreshes every user token that expires within
// window. It returns the number refreshed and the joined failures.
func (e *Engine) RefreshExpiringTokens(ctx context.Context, window time.Duration) (int, error) {
	if e.Users == nil {
		return 0, ErrNoSecretKeyBase
	}
	users, err := e.Users.ExpiringTokens(window)
	if err != nil {
		return 0, err
	}

	var errs []error
	refreshed := 0
	for _, u := range users {
		client, err := e.UserClient(ctx, u.Email, "")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := client.Credentials().Refresh(ctx); err != nil {
			errs = append(errs, fmt.Errorf("refreshing %s: %w", u.Email, err))
			continue
		}
		refreshed++
	}
	return refreshed, errors.Join(errs...)
}

// Close cleanly shuts down all engine resources.
func (e *Engine) Close() error {
	var firstErr error
	e.storageMu.Lock()
	if e.storage != nil {
		if err := e.storage.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.storage = nil
	}
	e.storageMu.Unlock()
	if e.Sealer != nil {
		e.Sealer.Close()
	}
	if e.AuditDB != nil {
		if err := e.AuditDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.MetadataDB != nil {
		if err := e.MetadataDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
