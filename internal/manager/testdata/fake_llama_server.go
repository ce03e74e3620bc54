package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	var model, host, port, lora string
	// Accept the llama-server flags the adapter passes
	flag.StringVar(&model, "m", "", "model path")
	flag.StringVar(&host, "host", "127.0.0.1", "host")
	flag.StringVar(&port, "port", "0", "port")
	flag.StringVar(&lora, "lora", "", "adapter path")
	flag.Int("c", 0, "context size")
	flag.Int("ngl", 0, "gpu layers")
	flag.Int("t", 0, "threads")
	flag.String("cache-type-k", "", "k cache type")
	flag.String("cache-type-v", "", "v cache type")
	exitEarly := flag.Bool("exit-early", false, "exit with status 1 before listening")
	flag.Parse()
	if *exitEarly {
		fmt.Fprintln(os.Stderr, "failed to load model")
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%s", host, port)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[{"id":"test","object":"model"}]}`))
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		reply := "Recommendation: rest"
		if lora != "" {
			reply += " with adapter"
		}
		for _, frag := range []string{reply[:15], reply[15:]} {
			b, _ := json.Marshal(map[string]any{"choices": []map[string]any{{"text": frag}}})
			_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Wait for SIGTERM then shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
