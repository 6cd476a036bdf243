package objectstore

import (
	"encoding/base64"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/centraldogma-project/centraldogma/internal/dogerrors"
	"github.com/centraldogma-project/centraldogma/internal/logging"
)

// keyFile is the on-disk shape of an EncryptedStore key-encryption-key
// (KEK) file: a set of named 32-byte keys plus which one is current.
// Old entries are kept around so DEKs wrapped under a retired KEK
// generation remain decryptable (spec §8 invariant 5: rotation rewraps
// metadata, it never touches already-wrapped material in place).
type keyFile struct {
	Current string            `yaml:"current"`
	Keys    map[string]string `yaml:"keys"` // name -> base64(32 bytes)
}

// KeyProvider resolves key-encryption-keys by generation id, and
// reports the generation that new wraps should use.
type KeyProvider interface {
	CurrentKEK() (id string, key [32]byte, err error)
	KEK(id string) ([32]byte, error)
}

// FileKeyProvider loads KEKs from a YAML file and reloads it whenever
// the file changes on disk, so an operator can add a new KEK
// generation and trigger rotation without restarting the process.
type FileKeyProvider struct {
	path string
	log  logging.Logger

	mu   sync.RWMutex
	cur  string
	keys map[string][32]byte

	watcher *fsnotify.Watcher
	closeCh chan struct{}
}

// NewFileKeyProvider loads path and begins watching it for changes.
func NewFileKeyProvider(path string) (*FileKeyProvider, error) {
	p := &FileKeyProvider{path: path, log: logging.For("objectstore.keys"), closeCh: make(chan struct{})}
	if err := p.reload(); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "watch key file %s", path)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "watch key file %s", path)
	}
	p.watcher = w
	go p.watchLoop()
	return p, nil
}

func (p *FileKeyProvider) watchLoop() {
	for {
		select {
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := p.reload(); err != nil {
					p.log.WithField("path", p.path).WithField("error", err).Warn("key file reload failed, keeping previous keys")
				} else {
					p.log.WithField("path", p.path).Info("key file reloaded")
				}
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.WithField("error", err).Warn("key file watcher error")
		case <-p.closeCh:
			return
		}
	}
}

func (p *FileKeyProvider) reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return dogerrors.Wrap(dogerrors.CodeStorageFailed, err, "read key file %s", p.path)
	}
	var kf keyFile
	if err := yaml.Unmarshal(raw, &kf); err != nil {
		return dogerrors.Wrap(dogerrors.CodeInvalidArgument, err, "parse key file %s", p.path)
	}
	if kf.Current == "" {
		return dogerrors.New(dogerrors.CodeInvalidArgument, "key file %s: no current key set", p.path)
	}
	keys := make(map[string][32]byte, len(kf.Keys))
	for name, b64 := range kf.Keys {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil || len(raw) != 32 {
			return dogerrors.New(dogerrors.CodeInvalidArgument, "key file %s: key %q is not 32 raw bytes", p.path, name)
		}
		var k [32]byte
		copy(k[:], raw)
		keys[name] = k
	}
	if _, ok := keys[kf.Current]; !ok {
		return dogerrors.New(dogerrors.CodeInvalidArgument, "key file %s: current key %q not present", p.path, kf.Current)
	}

	p.mu.Lock()
	p.cur = kf.Current
	p.keys = keys
	p.mu.Unlock()
	return nil
}

func (p *FileKeyProvider) CurrentKEK() (string, [32]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cur, p.keys[p.cur], nil
}

func (p *FileKeyProvider) KEK(id string) ([32]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	k, ok := p.keys[id]
	if !ok {
		return [32]byte{}, dogerrors.New(dogerrors.CodeStorageFailed, "KEK generation %q not loaded", id)
	}
	return k, nil
}

// Close stops the background file watcher.
func (p *FileKeyProvider) Close() error {
	close(p.closeCh)
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}
