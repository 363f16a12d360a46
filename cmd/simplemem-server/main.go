// Command simplemem-server runs the SimpleMem memory service: the REST auth
// surface, the MCP Streamable HTTP transport, and the background
// consolidation ticker, all over one shared store.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/simplemem/simplemem/internal/api/mcp"
	"github.com/simplemem/simplemem/internal/auth"
	"github.com/simplemem/simplemem/internal/config"
	"github.com/simplemem/simplemem/internal/engine"
	"github.com/simplemem/simplemem/internal/provider"
	"github.com/simplemem/simplemem/internal/server"
	"github.com/simplemem/simplemem/internal/session"
	"github.com/simplemem/simplemem/internal/store"
)

const version = "1.0.0"

func main() {
	log.SetPrefix("simplemem: ")
	log.SetFlags(log.LstdFlags)

	if err := run(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return err
	}
	vault, err := auth.NewVault(key)
	if err != nil {
		return err
	}
	issuer := auth.NewTokenIssuer(cfg.Auth.JWTSecretKey, cfg.Auth.JWTExpirationDays)
	authSvc := auth.NewService(st.Meta(), vault, issuer)

	factory, err := provider.NewFactory(cfg)
	if err != nil {
		return err
	}

	redactor, err := session.NewRedactor(cfg.Redaction.Patterns, cfg.Redaction.MaxPayloadLen)
	if err != nil {
		return err
	}
	manager := session.NewManager(st.Meta(), redactor, cfg.Memory.ContextTokenBudget)

	mcpServer := mcp.NewServer(cfg, authSvc, st, factory, manager, mcp.WithVersion(version))
	transport := mcp.NewHTTPTransport(mcpServer)
	srv := server.New(cfg, authSvc, transport, version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Consolidation.Interval > 0 {
		go consolidationLoop(ctx, cfg, st, authSvc, factory)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s:%d (provider %s, dim %d)",
			cfg.Server.Host, cfg.Server.Port, cfg.LLM.Provider, cfg.LLM.EmbeddingDimension)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// consolidationLoop runs the maintenance pass over every open tenant on the
// configured interval.
func consolidationLoop(ctx context.Context, cfg *config.Config, st *store.Store, authSvc *auth.Service, factory *provider.Factory) {
	consolidator := session.NewConsolidator(cfg)
	ticker := time.NewTicker(cfg.Consolidation.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, userID := range st.TenantIDs() {
			rt, err := tenantRuntime(ctx, cfg, st, authSvc, factory, userID)
			if err != nil {
				log.Printf("consolidate: tenant %s: %v", userID, err)
				continue
			}
			report, err := consolidator.Run(ctx, rt)
			if err != nil {
				log.Printf("consolidate: tenant %s: %v", userID, err)
				continue
			}
			if report.Decayed+report.Merged+report.Pruned+report.Collected > 0 {
				log.Printf("consolidate: tenant %s: decayed=%d merged=%d pruned=%d collected=%d",
					userID, report.Decayed, report.Merged, report.Pruned, report.Collected)
			}
		}
	}
}

func tenantRuntime(ctx context.Context, cfg *config.Config, st *store.Store, authSvc *auth.Service, factory *provider.Factory, userID string) (*session.Runtime, error) {
	apiKey, err := authSvc.Credential(ctx, auth.TenantContext{UserID: userID})
	if err != nil {
		return nil, err
	}
	tenant, err := st.Tenant(userID)
	if err != nil {
		return nil, err
	}
	gw := factory.ForTenant(apiKey)
	return &session.Runtime{
		Tenant:  tenant,
		Engine:  engine.New(gw, cfg),
		Gateway: gw,
	}, nil
}
