package main

import (
	"context"
	"fmt"

	"github.com/PabloGalante/instaflow/internal/adapters/identity"
	"github.com/PabloGalante/instaflow/internal/adapters/llm"
	firestorestore "github.com/PabloGalante/instaflow/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/instaflow/internal/adapters/storage/memory"
	sqlitestore "github.com/PabloGalante/instaflow/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/instaflow/internal/config"
	"github.com/PabloGalante/instaflow/internal/domain"
	"github.com/PabloGalante/instaflow/internal/observability"
)

type stores struct {
	posts   domain.PostStore
	users   domain.UserStore
	follows domain.FollowStore
	close   func() error
}

func buildModel(ctx context.Context, cfg *config.Config) (domain.CaptionModel, error) {
	log := observability.Logger()

	if cfg.LLM.Backend == "mock" {
		log.Info("using mock caption model")
		return llm.NewMockLLM(), nil
	}

	client, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		Backend:     cfg.LLM.Backend,
		ProjectID:   cfg.GCP.ProjectID,
		Location:    cfg.GCP.Location,
		APIKey:      cfg.LLM.APIKey,
		ModelName:   cfg.LLM.ModelName,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("init caption model: %w", err)
	}
	log.Info("using gemini caption model", "backend", cfg.LLM.Backend, "model", client.ModelName())
	return client, nil
}

func buildStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	log := observability.Logger()

	switch cfg.Storage.Backend {
	case "firestore":
		log.Info("using firestore storage", "project", cfg.GCP.ProjectID)
		fs, err := firestorestore.NewStore(ctx, cfg.GCP.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init firestore store: %w", err)
		}
		// 1 store, implements 3 interfaces
		return &stores{posts: fs, users: fs, follows: fs, close: fs.Close}, nil

	case "sqlite":
		log.Info("using sqlite storage", "path", cfg.Storage.SQLitePath)
		db, err := sqlitestore.NewStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return &stores{posts: db, users: db, follows: db, close: db.Close}, nil

	default:
		log.Info("using in-memory storage")
		return &stores{
			posts:   memstore.NewPostStore(),
			users:   memstore.NewUserStore(),
			follows: memstore.NewFollowStore(),
			close:   func() error { return nil },
		}, nil
	}
}

// identityProvider is what the session store observes and the HTTP API
// signs users in through.
type identityProvider interface {
	domain.IdentityProvider
	SignIn(user domain.UserID)
	SignOut()
}

func buildIdentity(ctx context.Context, cfg *config.Config) (identityProvider, error) {
	if cfg.Auth.Provider == "firebase" {
		fb, err := identity.NewFirebase(ctx, cfg.GCP.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init firebase auth: %w", err)
		}
		return fb, nil
	}
	// signed out until the first sign-in request
	return identity.NewStaticSignedIn(""), nil
}
