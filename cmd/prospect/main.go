package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prospect/internal/config"
	server "prospect/internal/http"
	"prospect/internal/llm"
	"prospect/internal/migrate"
	"prospect/internal/normalize"
	"prospect/internal/notify"
	"prospect/internal/pipeline"
	"prospect/internal/scheduler"
	"prospect/internal/score"
	"prospect/internal/scraper"
	"prospect/internal/seenset"
	"prospect/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.toml", "path to config file")
	mode := flag.String("mode", "scan", "run mode: scan|once|report|serve")
	reportTop := flag.Int("top", 10, "report mode: number of records to print")
	reportMinScore := flag.Int("min-score", -1, "report mode: minimum score (default: score_threshold)")
	flag.Parse()

	cfg := config.Load(*configPath)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open store failed: %v", err)
	}
	defer st.Close()

	db := st.(interface{ DB() *sql.DB }).DB()
	if err := migrate.Run(db, cfg.Database.Driver, migrate.DirFor(cfg.Database.Driver)); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "scan":
		p := buildPipeline(rootCtx, cfg, st, logger)
		sched := scheduler.New(p, cfg.ScanInterval(), logger)
		sched.Start(rootCtx)

		srv := server.NewServer(st, logger)
		go func() {
			<-rootCtx.Done()
			sched.Stop(30 * time.Second)
			srv.Shutdown()
		}()
		if err := srv.Listen(listenAddr(cfg)); err != nil {
			log.Fatalf("server failed: %v", err)
		}

	case "once":
		p := buildPipeline(rootCtx, cfg, st, logger)
		if err := p.Run(rootCtx); err != nil {
			log.Fatalf("tick failed: %v", err)
		}

	case "report":
		minScore := *reportMinScore
		if minScore < 0 {
			minScore = cfg.Scoring.ScoreThreshold
		}
		if err := report(rootCtx, st, *reportTop, minScore); err != nil {
			log.Fatalf("report failed: %v", err)
		}

	case "serve":
		srv := server.NewServer(st, logger)
		go func() {
			<-rootCtx.Done()
			srv.Shutdown()
		}()
		if err := srv.Listen(listenAddr(cfg)); err != nil {
			log.Fatalf("server failed: %v", err)
		}

	default:
		log.Fatalf("invalid mode: %s (expected scan|once|report|serve)", *mode)
	}
}

func listenAddr(cfg *config.Config) string {
	host := cfg.Server.Host
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func buildPipeline(ctx context.Context, cfg *config.Config, st store.Store, logger *slog.Logger) *pipeline.Pipeline {
	vocabulary := cfg.Scoring.Skills

	scrapers, err := scraper.BuildAll(cfg.Sites, scraper.Options{
		UserAgent:     cfg.Scraper.UserAgent,
		Vocabulary:    vocabulary,
		BrowserURL:    cfg.Scraper.BrowserURL,
		RespectRobots: cfg.Scraper.RespectRobots,
	})
	if err != nil {
		log.Fatalf("build scrapers failed: %v", err)
	}
	if len(scrapers) == 0 {
		logger.Warn("no sites enabled, ticks will fetch nothing")
	}

	var seen seenset.Set
	if cfg.SeenSet.RedisURL != "" {
		rs, err := seenset.NewRedisSet(ctx, cfg.SeenSet.RedisURL)
		if err != nil {
			log.Fatalf("redis seen set failed: %v", err)
		}
		seen = rs
	} else {
		fs, err := seenset.NewFileSet(cfg.SeenSet.Path)
		if err != nil {
			log.Fatalf("file seen set failed: %v", err)
		}
		seen = fs
	}

	chat := llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout())
	analyzer := score.New(chat, cfg.Scoring.Skills, cfg.Scoring.MinBudget,
		cfg.Scoring.ScoreThreshold, cfg.Scoring.MaxConcurrent, logger)

	notifier := notify.NewTelegram(cfg.Telegram.APIBase, cfg.Telegram.Token, cfg.Telegram.ChatID,
		cfg.MaxPerMessage, cfg.Telegram.Timeout(), logger)

	filter := normalize.Filter{
		Required: cfg.Filters.RequiredKeywords,
		Level:    cfg.Filters.LevelKeywords,
		Exclude:  cfg.Filters.ExcludeKeywords,
	}

	return pipeline.New(scrapers, filter, seen, analyzer, st, notifier, logger)
}

// report prints a plain-text digest of the store to stdout.
func report(ctx context.Context, st store.Store, limit, minScore int) error {
	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("opportunities: %d total, %d high scorers, avg score %.1f\n\n",
		stats.Total, stats.HighScoreCount, stats.AvgScore)
	fmt.Println("by status:")
	for status, n := range stats.ByStatus {
		fmt.Printf("  %-12s %d\n", status, n)
	}
	fmt.Println("by platform:")
	for platform, n := range stats.ByPlatform {
		fmt.Printf("  %-12s %d\n", platform, n)
	}

	top, err := st.Top(ctx, limit, minScore, nil)
	if err != nil {
		return err
	}
	if len(top) == 0 {
		return nil
	}

	fmt.Printf("\ntop %d with score >= %d:\n", len(top), minScore)
	for _, o := range top {
		score := 0
		if o.Score != nil {
			score = *o.Score
		}
		fmt.Printf("  [%3d] %-10s %-50s %s\n", score, o.Platform, truncate(o.Title, 50), o.SourceURL)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
