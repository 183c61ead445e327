// Package frontend serves the signed-in user: sessions, uploads, history and
// the two push channels.
package frontend

import (
	"hash/fnv"
	"net/url"
	"strings"
	"sync"
	"time"

	"clipshare/pkg/config"
	"clipshare/pkg/hub"
	"clipshare/pkg/store"
)

// DiskMonitor reports whether uploads should be refused for lack of space.
type DiskMonitor interface {
	DiskAlert() bool
}

type Handlers struct {
	Store *store.Store
	Hub   *hub.Hub
	Disk  DiskMonitor

	SessionTTL   time.Duration
	MaxUpload    int64
	HistoryLimit int
	WriteTimeout time.Duration
	KeepAlive    time.Duration
	Origins      []string

	uploadLocks [64]sync.Mutex
}

const (
	defaultSessionTTL   = time.Hour
	defaultHistoryLimit = 50
	defaultKeepAlive    = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// NewHandlers takes the limits from cfg.
func NewHandlers(cfg *config.Config, st *store.Store, h *hub.Hub, disk DiskMonitor) *Handlers {
	return &Handlers{
		Store:        st,
		Hub:          h,
		Disk:         disk,
		SessionTTL:   cfg.Sessions.TTL.Duration(),
		MaxUpload:    cfg.Uploads.MaxSize.Int64(),
		HistoryLimit: cfg.Uploads.HistoryLimit,
		WriteTimeout: cfg.Push.WriteTimeout.Duration(),
		KeepAlive:    cfg.Push.KeepAlive.Duration(),
		Origins:      append([]string{}, cfg.Security.CORS.AllowedOrigins...),
	}
}

// uploadLock is the stripe serializing uploads of user.
func (h *Handlers) uploadLock(user string) *sync.Mutex {
	f := fnv.New32a()
	_, _ = f.Write([]byte(user))
	return &h.uploadLocks[f.Sum32()%uint32(len(h.uploadLocks))]
}

func (h *Handlers) sessionTTL() time.Duration {
	if h.SessionTTL <= 0 {
		return defaultSessionTTL
	}
	return h.SessionTTL
}

func (h *Handlers) historyLimit() int {
	if h.HistoryLimit <= 0 {
		return defaultHistoryLimit
	}
	return h.HistoryLimit
}

func (h *Handlers) keepAlive() time.Duration {
	if h.KeepAlive <= 0 {
		return defaultKeepAlive
	}
	return h.KeepAlive
}

func (h *Handlers) writeTimeout() time.Duration {
	if h.WriteTimeout <= 0 {
		return defaultWriteTimeout
	}
	return h.WriteTimeout
}

func (h *Handlers) diskFull() bool {
	return h.Disk != nil && h.Disk.DiskAlert()
}

// originAllowed accepts requests without an Origin, same-host origins and
// the configured CORS origins.
func (h *Handlers) originAllowed(origin, host string) bool {
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, host) {
		return true
	}
	for _, o := range h.Origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
