package main

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"sync"
	"time"
)

type file struct {
	content string
	sha     string
}

type contents struct {
	mu    sync.Mutex
	files map[string]file
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	flag.Parse()

	store := &contents{files: map[string]file{}}
	store.put("config/app.yaml", "replicas: 1\nmaxConnections: 10\nlog_level: debug\n")
	store.put("infra/terraform/main.tf", "# managed by hand\n")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", store.get)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", store.write)

	logger := log.New(log.Writer(), "contenthost-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func (c *contents) put(path, content string) file {
	sum := sha1.Sum([]byte(content))
	f := file{content: content, sha: hex.EncodeToString(sum[:])}
	c.files[path] = f
	return f
}

func (c *contents) get(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	f, ok := c.files[r.PathValue("path")]
	c.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sha":      f.sha,
		"content":  base64.StdEncoding.EncodeToString([]byte(f.content)),
		"encoding": "base64",
	})
}

func (c *contents) write(w http.ResponseWriter, r *http.Request) {
	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "content is not valid Base64"})
		return
	}

	path := r.PathValue("path")
	c.mu.Lock()
	defer c.mu.Unlock()
	current, exists := c.files[path]
	if exists && req.SHA != current.sha {
		writeJSON(w, http.StatusConflict, map[string]string{"message": path + " does not match " + req.SHA})
		return
	}
	f := c.put(path, string(raw))
	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"content": map[string]string{"path": path, "sha": f.sha}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
