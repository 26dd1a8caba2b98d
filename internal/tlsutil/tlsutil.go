// Package tlsutil loads the chat server's TLS material from PEM files
// and keeps the served certificate current when the files are rotated.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Load builds a server TLS configuration from PEM files. TLS is optional:
// when either the key or certificate path is empty, Load returns a nil
// config and the caller serves plain TCP. The CA bundle, when given, is
// attached as the client CA pool; client certificates are not requested.
func Load(keyFile, crtFile, caFile string) (*tls.Config, error) {
	if keyFile == "" || crtFile == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(crtFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates found in CA bundle %s", caFile)
		}
		cfg.ClientCAs = pool
	}

	return cfg, nil
}

// Reloader watches a key/certificate pair and swaps in the new pair when
// the files change, so certificate rotation does not require a restart.
// Wire GetCertificate into tls.Config.GetCertificate and clear the static
// Certificates slice.
type Reloader struct {
	keyFile  string
	crtFile  string
	watcher  *fsnotify.Watcher
	stopChan chan struct{}

	mu   sync.RWMutex
	cert *tls.Certificate
}

// NewReloader loads the initial key pair and prepares a watcher for both
// files. Call Start to begin watching and Stop to release the watcher.
func NewReloader(keyFile, crtFile string) (*Reloader, error) {
	cert, err := tls.LoadX509KeyPair(crtFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Reloader{
		keyFile:  keyFile,
		crtFile:  crtFile,
		watcher:  watcher,
		stopChan: make(chan struct{}),
		cert:     &cert,
	}, nil
}

// GetCertificate returns the currently loaded certificate. Safe for
// concurrent use from TLS handshakes.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// Start begins watching the certificate files for changes.
func (r *Reloader) Start() error {
	// Watch the parent directories; editors and cert renewal tools
	// replace files rather than writing in place.
	dirs := map[string]struct{}{
		filepath.Dir(r.keyFile): {},
		filepath.Dir(r.crtFile): {},
	}
	for dir := range dirs {
		if err := r.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go r.watchForChanges()
	log.Info().
		Str("key", r.keyFile).
		Str("crt", r.crtFile).
		Msg("Started watching TLS certificate files for changes")
	return nil
}

// Stop stops the watcher.
func (r *Reloader) Stop() {
	select {
	case <-r.stopChan:
		// Already stopped
		return
	default:
		close(r.stopChan)
	}
	r.watcher.Close()
}

// watchForChanges handles fsnotify events
func (r *Reloader) watchForChanges() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}

			base := filepath.Base(event.Name)
			if base != filepath.Base(r.keyFile) && base != filepath.Base(r.crtFile) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// Debounce - wait a bit for both files to land
				time.Sleep(100 * time.Millisecond)
				log.Info().Str("event", event.Op.String()).Str("file", event.Name).Msg("Detected certificate file change")
				r.reload()
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Certificate watcher error")

		case <-r.stopChan:
			return
		}
	}
}

// reload reloads the key pair from disk. The old certificate stays in
// service when the new pair fails to load.
func (r *Reloader) reload() {
	cert, err := tls.LoadX509KeyPair(r.crtFile, r.keyFile)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reload key pair, keeping previous certificate")
		return
	}

	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	log.Info().Str("crt", r.crtFile).Msg("Reloaded TLS certificate")
}
