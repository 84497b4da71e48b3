package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"relayproxy/internal/proxy"
	"relayproxy/internal/relaysignal"
)

func main() {
	addrFlag := flag.String("addr", ":8080", "listen address, e.g. :80 or 0.0.0.0:8080")
	flag.Parse()

	addr := *addrFlag
	if env := os.Getenv("PORT"); env != "" {
		addr = ":" + env
	}
	if env := os.Getenv("HOST"); env != "" {
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			port = "8080"
		}
		addr = env + ":" + port
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	cfg := proxy.DefaultConfig()
	log.Printf("config: target=%s proxyHost=%s proxyRegion=%s sessionTTL=%s",
		cfg.Proxy.TargetSite, cfg.Proxy.ProxyHost, cfg.Proxy.ProxyRegion, cfg.Proxy.SessionTTL)

	srv := proxy.New(cfg)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          log.New(os.Stdout, "HTTPERR ", log.LstdFlags|log.Lmicroseconds),
		ConnState: func(c net.Conn, s http.ConnState) {
			log.Printf("CONN %s %s", s.String(), c.RemoteAddr())
		},
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen error on %s: %v", addr, err)
	}

	go func() {
		<-relaysignal.Notify()
		log.Println("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(ctx)
		srv.Close()
	}()

	log.Println("listening on", addr)
	if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
