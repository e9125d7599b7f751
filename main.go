package main

import (
	"context"
	"crypto/tls"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-sync/api"
	"board-sync/board"
	"board-sync/commands"
	"board-sync/subscription"
	"board-sync/transport"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()
	logger.SetLevel(log.GetLevel())

	apiURL := os.Getenv("BOARD_API_URL")
	streamURL := os.Getenv("STREAM_URL")
	projectID := os.Getenv("PROJECT_ID")
	if apiURL == "" || streamURL == "" || projectID == "" {
		log.Fatal("missing board config")
	}
	streamURL, err := resolveStreamURL(streamURL, os.Getenv("STREAM_INSECURE") == "1")
	if err != nil {
		log.Fatalf("invalid STREAM_URL: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)

	mutator := commands.New(apiURL, os.Getenv("BOARD_API_TOKEN"), logger)
	overlay := board.NewOverlay(mutator, logger)
	defer overlay.Close()
	reorderer := board.NewReorderer(overlay, mutator, logger)
	graph := board.NewGraph(mutator, logger)

	sessions := api.NewSessionRegistry()
	stream := transport.New(transport.Config{
		URL:               streamURL,
		HeartbeatInterval: envDur("HEARTBEAT_INTERVAL", 30*time.Second),
		BackoffBase:       envDur("RECONNECT_BASE", time.Second),
		BackoffMax:        envDur("RECONNECT_MAX", 30*time.Second),
	}, sessions.Handle, logger)
	defer stream.Close()
	if err := stream.Connect(); err != nil {
		logger.WithError(err).Warn("initial stream connect failed, retrying in background")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := subscription.New(rc, os.Getenv("UPDATES_CHANNEL"), logger)
	snapshots := source.Subscribe(ctx, projectID)
	go func() {
		for snap := range snapshots {
			overlay.ApplySnapshot(snap)
			graph.Rebuild(snap)
		}
	}()

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	api.Register(e, overlay, reorderer, graph, stream, sessions, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("LISTEN_ADDR"); ok {
		listenAddr = val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

// resolveStreamURL maps http(s) endpoints to their websocket variant. Secure
// pages must address the stream through an encrypted endpoint; ws:// is only
// accepted when the insecure dev toggle is set.
func resolveStreamURL(raw string, insecureOK bool) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Scheme == "ws" && !insecureOK {
		u.Scheme = "wss"
	}
	return u.String(), nil
}

func envDur(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %v", name, err)
	}
	return d
}
