// llmnode is the per-server agent scraped by the llmdash fleet monitor.
// It exposes /health and /metrics in the shape the monitor expects.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"llmdash/internal/agent"
	"llmdash/internal/version"
)

func main() {
	port := flag.Int("port", 8080, "listen port")
	apiKey := flag.String("api-key", os.Getenv("LLMNODE_API_KEY"), "bearer key required on endpoints (empty disables)")
	gpuCount := flag.Int("gpu-count", 1, "advertised accelerator count")
	gpuMemory := flag.Float64("gpu-memory", 24, "advertised total VRAM in GB")
	flag.Parse()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	a := agent.New(agent.Options{
		APIKey:      *apiKey,
		GPUCount:    *gpuCount,
		GPUMemoryGB: *gpuMemory,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(a.TrackRequests())
	a.Register(r)

	srv := &http.Server{
		Addr:           ":" + strconv.Itoa(*port),
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("Starting llmnode %s on port %d", version.String(), *port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Agent failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down agent...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Agent forced to shutdown:", err)
	}
	log.Println("Agent exited")
}
