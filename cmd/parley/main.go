package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ChamsBouzaiene/parley/internal/chat"
	"github.com/ChamsBouzaiene/parley/internal/config"
	"github.com/ChamsBouzaiene/parley/internal/session"
	"github.com/ChamsBouzaiene/parley/internal/transport"
	"github.com/ChamsBouzaiene/parley/internal/uploads"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := run(context.Background(), os.Args[1:]); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("parley", flag.ExitOnError)
	employeeFlag := fs.String("employee", "", "Employee assistant to talk to (default: from config)")
	userFlag := fs.String("user", "", "User id (default: from config)")
	baseURLFlag := fs.String("base-url", "", "Chat backend base URL (default: from config)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := prepareRuntimeEnv(ctx, *employeeFlag, *userFlag, *baseURLFlag)
	if err != nil {
		return err
	}
	defer env.Close()

	return runREPL(ctx, env)
}

// runtimeEnv bundles the wired components a REPL session needs.
type runtimeEnv struct {
	Controller *chat.Controller
	Uploads    *uploads.Loader
	Store      *session.Store
	Watcher    *config.Watcher
	Client     *transport.Client
}

func (e *runtimeEnv) Close() {
	e.Controller.Close()
	if e.Watcher != nil {
		if err := e.Watcher.Stop(); err != nil {
			log.Printf("WARNING: failed to stop config watcher: %v", err)
		}
	}
	if err := e.Store.Close(); err != nil {
		log.Printf("WARNING: failed to close session store: %v", err)
	}
}

func prepareRuntimeEnv(ctx context.Context, employee, user, baseURL string) (*runtimeEnv, error) {
	manager, err := config.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to locate config: %w", err)
	}
	cfg, err := manager.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()

	// Flags beat env beats file.
	if employee != "" {
		cfg.EmployeeSlug = employee
	}
	if user != "" {
		cfg.UserID = user
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("no backend URL configured: set base_url in %s or PARLEY_BASE_URL", manager.GetConfigPath())
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("no user id configured: set user_id in %s or PARLEY_USER_ID", manager.GetConfigPath())
	}
	if cfg.EmployeeSlug == "" {
		return nil, fmt.Errorf("no employee configured: set employee_slug in %s or pass -employee", manager.GetConfigPath())
	}

	store, err := session.Open(ctx, manager.GetDataDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	client := transport.NewClient(cfg.BaseURL, cfg.APIKey)

	loader := uploads.NewLoader()
	if cfg.MaxUploadSize != "" {
		if err := loader.SetMaxSize(cfg.MaxUploadSize); err != nil {
			log.Printf("WARNING: %v, keeping default attachment limit", err)
		}
	}

	opts := []func(*chat.Controller){
		chat.WithHistory(store),
		chat.WithHooks(&printerHook{}),
	}
	if cfg.DedupWindowSeconds > 0 {
		opts = append(opts, chat.WithDedupWindow(time.Duration(cfg.DedupWindowSeconds)*time.Second))
	}

	controller, err := chat.New(cfg.UserID, cfg.EmployeeSlug, client, store, opts...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create session controller: %w", err)
	}

	env := &runtimeEnv{
		Controller: controller,
		Uploads:    loader,
		Store:      store,
		Client:     client,
	}

	// Live-reload backend settings while the REPL runs. A missing config
	// file just means there is nothing to watch.
	if manager.Exists() {
		watcher, err := config.NewWatcher(manager)
		if err != nil {
			log.Printf("WARNING: config watcher unavailable: %v", err)
		} else {
			watcher.OnReload(func(fresh *config.Config) {
				if fresh.BaseURL != "" {
					client.SetBaseURL(fresh.BaseURL)
				}
				if fresh.MaxUploadSize != "" {
					if err := loader.SetMaxSize(fresh.MaxUploadSize); err != nil {
						log.Printf("WARNING: %v", err)
					}
				}
				if fresh.EmployeeSlug != "" && fresh.EmployeeSlug != controller.EmployeeSlug() {
					if err := controller.SwitchEmployee(fresh.EmployeeSlug); err != nil {
						log.Printf("WARNING: %v", err)
					}
				}
				log.Printf("config reloaded")
			})
			if err := watcher.Start(); err != nil {
				log.Printf("WARNING: config watcher failed to start: %v", err)
			} else {
				env.Watcher = watcher
			}
		}
	}

	return env, nil
}
