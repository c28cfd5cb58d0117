// Command whip-server-go is a minimal WHIP ingestion endpoint for local
// end-to-end testing of the webrtcsink-whip sender.
//
// It accepts application/sdp offers on POST /whip, answers them with a pion
// PeerConnection, and exposes the allocated session as a WHIP resource that
// can be torn down with DELETE.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
)

func main() {
	bindHost := envOrDefault("BIND_HOST", "127.0.0.1")
	port := envIntOrDefault("PORT", 7080)

	listenAddr := net.JoinHostPort(bindHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen %s: %v\n", listenAddr, err)
		os.Exit(1)
	}

	srv := newWHIPServer()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /whip", srv.handleIngest)
	mux.HandleFunc("DELETE /whip/resource/{id}", srv.handleTeardown)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	actualPort := ln.Addr().(*net.TCPAddr).Port
	fmt.Printf("READY %d\n", actualPort)

	select {
	case <-ctx.Done():
		_ = httpSrv.Shutdown(context.Background())
		<-errCh
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "http server error: %v\n", err)
			os.Exit(1)
		}
	}

	srv.closeAll()
}

type whipServer struct {
	api *webrtc.API

	mu     sync.Mutex
	nextID int
	peers  map[string]*webrtc.PeerConnection
}

func newWHIPServer() *whipServer {
	return &whipServer{
		api:   webrtc.NewAPI(),
		peers: make(map[string]*webrtc.PeerConnection),
	}
}

func (s *whipServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "application/sdp" {
		http.Error(w, "expected application/sdp", http.StatusUnsupportedMediaType)
		return
	}

	offer, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		http.Error(w, "failed to read offer", http.StatusBadRequest)
		return
	}

	pc, err := s.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "failed to create peer connection", http.StatusInternalServerError)
		return
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		// Drain inbound media so RTCP keeps flowing.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  string(offer),
	}); err != nil {
		_ = pc.Close()
		http.Error(w, "failed to set remote description", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		http.Error(w, "failed to create answer", http.StatusInternalServerError)
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		http.Error(w, "failed to set local description", http.StatusInternalServerError)
		return
	}
	select {
	case <-gatherComplete:
	case <-r.Context().Done():
		_ = pc.Close()
		return
	}

	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		http.Error(w, "missing local description", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.nextID++
	id := strconv.Itoa(s.nextID)
	s.peers[id] = pc
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", "/whip/resource/"+id)
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, local.SDP)
}

func (s *whipServer) handleTeardown(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	pc := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()

	if pc == nil {
		http.NotFound(w, r)
		return
	}
	_ = pc.Close()
	w.WriteHeader(http.StatusOK)
}

func (s *whipServer) closeAll() {
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[string]*webrtc.PeerConnection)
	s.mu.Unlock()

	for _, pc := range peers {
		_ = pc.Close()
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s %q\n", key, raw)
		os.Exit(2)
	}
	return n
}
